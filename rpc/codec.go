package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec marshals RPC messages as JSON rather than the protobuf wire
// format a real protoc run would produce. It registers itself under the
// name "proto" — grpc-go's default codec name, selected whenever a call
// sets no content-subtype — so the generated client and server stubs in
// kv_grpc.pb.go work unmodified. This is a deliberate stand-in for the
// real protobuf toolchain, recorded in DESIGN.md.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "proto"
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
