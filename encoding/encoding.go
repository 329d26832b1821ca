// Package encoding defines the compression plug negotiated per call via
// grpc-encoding/grpc-accept-encoding, and a registry of named algorithms,
// mirroring how this module's protocol clients elsewhere register
// pluggable behaviors by name.
package encoding

import "io"

// Compressor is a named, registrable compression algorithm.
type Compressor interface {
	Name() string
	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.Reader, error)
}

var registry = map[string]Compressor{}

// RegisterCompressor makes c available by name for negotiation. Not safe
// to call concurrently with GetCompressor; call during init/construction
// only.
func RegisterCompressor(c Compressor) {
	registry[c.Name()] = c
}

// GetCompressor looks up a previously registered algorithm by name.
func GetCompressor(name string) (Compressor, bool) {
	c, ok := registry[name]
	return c, ok
}

// Negotiate picks the compression algorithm to use for an outbound
// message: the first entry in senderCandidates that also appears in
// peerAccepted. A call retains a single negotiated algorithm for its
// lifetime once chosen. Returns ("", false) if none match, meaning the
// call falls back to no compression.
func Negotiate(senderCandidates, peerAccepted []string) (string, bool) {
	accepted := make(map[string]struct{}, len(peerAccepted))
	for _, a := range peerAccepted {
		accepted[a] = struct{}{}
	}
	for _, c := range senderCandidates {
		if _, ok := accepted[c]; ok {
			return c, true
		}
	}
	return "", false
}
