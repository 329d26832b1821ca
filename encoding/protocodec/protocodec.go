// Package protocodec furnishes the message-serialization-boundary plugs a
// MethodDescriptor is parameterised over. The core itself never parses
// .proto files; this package only adapts whatever proto.Message the
// caller already has.
package protocodec

import (
	"fmt"

	legacyproto "github.com/golang/protobuf/proto"
	"google.golang.org/protobuf/proto"
)

// Serializer is the generic serializer-pair contract a MethodDescriptor is
// parameterised over.
type Serializer[M any] interface {
	Serialize(m M) ([]byte, error)
	Deserialize(data []byte, m M) error
}

// Codec implements Serializer for any type satisfying the modern
// google.golang.org/protobuf Message interface. It also accepts values
// that only implement the legacy github.com/golang/protobuf/proto.Message
// shape via LegacySerialize/LegacyDeserialize below, for callers still
// carrying older generated message types.
type Codec[M proto.Message] struct{}

// Serialize marshals m to its protobuf wire form.
func (Codec[M]) Serialize(m M) ([]byte, error) {
	data, err := proto.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocodec: marshal %T: %w", m, err)
	}
	return data, nil
}

// Deserialize unmarshals data into m in place.
func (Codec[M]) Deserialize(data []byte, m M) error {
	if err := proto.Unmarshal(data, m); err != nil {
		return fmt.Errorf("protocodec: unmarshal %T: %w", m, err)
	}
	return nil
}

// LegacySerialize marshals a message that only implements the legacy v1
// proto.Message interface (no type parameter, since that interface predates
// generics-friendly usage in most call sites).
func LegacySerialize(m legacyproto.Message) ([]byte, error) {
	data, err := legacyproto.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocodec: legacy marshal %T: %w", m, err)
	}
	return data, nil
}

// LegacyDeserialize unmarshals into a legacy v1 proto.Message in place.
func LegacyDeserialize(data []byte, m legacyproto.Message) error {
	if err := legacyproto.Unmarshal(data, m); err != nil {
		return fmt.Errorf("protocodec: legacy unmarshal %T: %w", m, err)
	}
	return nil
}
