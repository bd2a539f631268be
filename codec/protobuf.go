package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf encodes proto messages. ctor returns an empty message to decode into,
// e.g. func() *structpb.Value { return new(structpb.Value) }.
type Protobuf[T proto.Message] struct {
	ctor func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.ctor()
	err := proto.Unmarshal(b, m)
	return m, err
}

// StructPB stores plain Go values as a google.protobuf.Value built from their
// JSON form, so JSON-tagged types without generated messages can use the
// protobuf wire format. Numbers travel as doubles; integers above 2^53 lose
// precision.
type StructPB[V any] struct{}

var structValue = NewProtobuf(func() *structpb.Value { return new(structpb.Value) })

func (StructPB[V]) Encode(v V) ([]byte, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	pv := new(structpb.Value)
	if err := pv.UnmarshalJSON(js); err != nil {
		return nil, fmt.Errorf("codec: structpb from json: %w", err)
	}
	return structValue.Encode(pv)
}

func (StructPB[V]) Decode(b []byte) (V, error) {
	var v V
	pv, err := structValue.Decode(b)
	if err != nil {
		return v, err
	}
	js, err := pv.MarshalJSON()
	if err != nil {
		return v, fmt.Errorf("codec: structpb to json: %w", err)
	}
	err = json.Unmarshal(js, &v)
	return v, err
}
