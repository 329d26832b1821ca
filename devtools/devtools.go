// Package devtools packages the ad hoc, dynamic-invocation helpers a
// conformance harness or a CLI needs around a Client: a JSON-passthrough
// Serializer for callers with no generated message type, and pretty-
// printing of the bytes that cross the wire.
package devtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/pretty"

	"github.com/sadopc/rpccore"
)

// Pretty renders JSON-encoded bytes with indentation, for displaying a
// response body read back off the wire.
func Pretty(b []byte) []byte {
	return pretty.Pretty(b)
}

// JSONMessage is a dynamic stand-in for a generated proto message: its
// wire form is whatever JSON the caller hands it, round-tripped verbatim.
// It exists for callers (a CLI, a conformance harness) invoking a method
// without a compiled .proto type, mirroring grpcurl's JSON-driven
// dynamic-invocation model without requiring a descriptor source.
type JSONMessage struct {
	Raw json.RawMessage
}

// JSONCodec is a Serializer[JSONMessage, JSONMessage] that passes the raw
// JSON bytes straight through; it never parses a .proto descriptor and
// never validates field shape, trading type safety for the ability to
// invoke any method dynamically.
type JSONCodec struct{}

func (JSONCodec) SerializeReq(m JSONMessage) ([]byte, error)   { return m.Raw, nil }
func (JSONCodec) DeserializeReq(b []byte) (JSONMessage, error) { return JSONMessage{Raw: append(json.RawMessage(nil), b...)}, nil }
func (JSONCodec) SerializeResp(m JSONMessage) ([]byte, error)  { return m.Raw, nil }
func (JSONCodec) DeserializeResp(b []byte) (JSONMessage, error) {
	return JSONMessage{Raw: append(json.RawMessage(nil), b...)}, nil
}

// InvokeUnaryJSON drives one unary call through c using JSONCodec,
// accepting and returning a raw JSON document, the way grpcurl lets a
// caller invoke any method by name with a JSON request body and no
// generated stub.
func InvokeUnaryJSON(ctx context.Context, c *rpccore.Client, service, methodName string, requestJSON []byte) ([]byte, error) {
	req := JSONMessage{Raw: append(json.RawMessage(nil), requestJSON...)}
	resp, err := rpccore.CallUnary[JSONMessage, JSONMessage](ctx, c, service, methodName, JSONCodec{}, req)
	if err != nil {
		return nil, fmt.Errorf("devtools: invoking %s/%s: %w", service, methodName, err)
	}
	return resp.Raw, nil
}
