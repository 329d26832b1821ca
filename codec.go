package rpccore

import (
	"google.golang.org/protobuf/proto"

	"github.com/sadopc/rpccore/encoding/protocodec"
)

// Serializer is the generic serializer-pair contract every Register* and
// client Call entry point is parameterised over: a plain MethodDescriptor
// value plus generic unary/clientStream/serverStream/bidi entry points,
// in place of per-method generated glue.
type Serializer[Req, Resp any] interface {
	SerializeReq(Req) ([]byte, error)
	DeserializeReq([]byte) (Req, error)
	SerializeResp(Resp) ([]byte, error)
	DeserializeResp([]byte) (Resp, error)
}

// protoSerializer adapts protocodec.Codec, which serializes in place against
// an existing message value, to the by-value Serializer shape above. newReq
// and newResp construct a fresh zero message for each Deserialize call,
// since a type parameter alone gives no way to instantiate one.
type protoSerializer[Req, Resp proto.Message] struct {
	newReq  func() Req
	newResp func() Resp
}

// ProtoCodec builds a Serializer for a method whose request and response
// are google.golang.org/protobuf messages, given factories that allocate a
// fresh zero value of each (typically `func() *pb.FooRequest { return new(pb.FooRequest) }`).
func ProtoCodec[Req, Resp proto.Message](newReq func() Req, newResp func() Resp) Serializer[Req, Resp] {
	return protoSerializer[Req, Resp]{newReq: newReq, newResp: newResp}
}

func (c protoSerializer[Req, Resp]) SerializeReq(m Req) ([]byte, error) {
	return (protocodec.Codec[Req]{}).Serialize(m)
}

func (c protoSerializer[Req, Resp]) DeserializeReq(data []byte) (Req, error) {
	m := c.newReq()
	err := (protocodec.Codec[Req]{}).Deserialize(data, m)
	return m, err
}

func (c protoSerializer[Req, Resp]) SerializeResp(m Resp) ([]byte, error) {
	return (protocodec.Codec[Resp]{}).Serialize(m)
}

func (c protoSerializer[Req, Resp]) DeserializeResp(data []byte) (Resp, error) {
	m := c.newResp()
	err := (protocodec.Codec[Resp]{}).Deserialize(data, m)
	return m, err
}
