// Package config loads YAML-tagged runtime settings for a Server or
// Client: a set of Default* constructors plus a best-effort Load* pair
// that falls back to defaults on any read or parse error rather than
// failing startup.
package config

import (
	"time"

	"github.com/sadopc/rpccore"
)

// ServerSettings externalizes the ServerConfig fields a host commonly
// wants to set from a file instead of code: keepalive-adjacent limits and
// the default per-method retry policy.
type ServerSettings struct {
	MaxConcurrentStreams  int64         `yaml:"max_concurrent_streams"`
	MaxReceiveMessageSize int           `yaml:"max_receive_message_size"`
	CompressionThreshold  int           `yaml:"compression_threshold"`
	DefaultTimeout        time.Duration `yaml:"default_timeout"`
	Retry                 RetrySettings `yaml:"retry"`
}

// ClientSettings externalizes the ClientConfig fields commonly set from a
// file: the default per-method retry policy and an optional send
// compressor name.
type ClientSettings struct {
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	SendCompressor       string        `yaml:"send_compressor"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	Retry                RetrySettings `yaml:"retry"`
}

// RetrySettings mirrors rpccore.RetryPolicy field-for-field so it can be
// YAML-unmarshaled directly and then copied into one.
type RetrySettings struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DefaultServerSettings returns the settings used absent a config file.
// MaxConcurrentStreams and CompressionThreshold equal ServerConfig's own
// fallbacks; ServerConfig.withDefaults sets no receive-size limit and no
// retry policy, so a zero ServerConfig differs from these on those fields.
func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		MaxConcurrentStreams:  1000,
		MaxReceiveMessageSize: 4 << 20,
		CompressionThreshold:  rpccore.DefaultCompressionThreshold,
		DefaultTimeout:        0,
		Retry:                 DefaultRetrySettings(),
	}
}

// DefaultClientSettings returns the defaults a Client runs with absent a
// config file.
func DefaultClientSettings() ClientSettings {
	return ClientSettings{
		DefaultTimeout:       0,
		CompressionThreshold: rpccore.DefaultCompressionThreshold,
		Retry:                DefaultRetrySettings(),
	}
}

// DefaultRetrySettings mirrors upstream gRPC's commonly recommended retry
// defaults: up to 5 attempts, 100ms initial backoff doubling up to 1s.
func DefaultRetrySettings() RetrySettings {
	return RetrySettings{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	}
}

// ToRetryPolicy copies r into an rpccore.RetryPolicy using
// rpccore.DefaultRetryableCodes for the retryable-codes set, since that is
// not something a config file can safely widen without risking
// non-idempotent methods being retried.
func (r RetrySettings) ToRetryPolicy() *rpccore.RetryPolicy {
	if r.MaxAttempts <= 1 {
		return nil
	}
	return &rpccore.RetryPolicy{
		MaxAttempts:       r.MaxAttempts,
		InitialBackoff:    r.InitialBackoff,
		MaxBackoff:        r.MaxBackoff,
		BackoffMultiplier: r.BackoffMultiplier,
		RetryableCodes:    rpccore.DefaultRetryableCodes(),
	}
}

// ToServerConfig builds an rpccore.ServerConfig from s, ready to pass to
// rpccore.NewServer.
func (s ServerSettings) ToServerConfig() rpccore.ServerConfig {
	return rpccore.ServerConfig{
		MaxConcurrentStreams:  s.MaxConcurrentStreams,
		MaxReceiveMessageSize: s.MaxReceiveMessageSize,
		CompressionThreshold:  s.CompressionThreshold,
		DefaultMethodConfig: rpccore.MethodConfig{
			Timeout: s.DefaultTimeout,
			Retry:   s.Retry.ToRetryPolicy(),
		},
	}
}

// ToClientConfig builds an rpccore.ClientConfig from c. The caller still
// supplies a *retrythrottle.Throttle separately: throttle state is
// process-lifetime, not something a config file reload should reset.
func (c ClientSettings) ToClientConfig() rpccore.ClientConfig {
	return rpccore.ClientConfig{
		DefaultMethodConfig: rpccore.MethodConfig{
			Timeout: c.DefaultTimeout,
			Retry:   c.Retry.ToRetryPolicy(),
		},
		SendCompressor:       c.SendCompressor,
		CompressionThreshold: c.CompressionThreshold,
	}
}
