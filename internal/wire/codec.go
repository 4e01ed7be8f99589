package wire

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec replaces gRPC's default "proto" codec with one that marshals
// any Go value as JSON. Registering under the name "proto" is what makes
// grpc-go pick it up as the default codec when a call specifies no
// content-subtype, which is how every client and server in this repository
// dials: see DESIGN.md for why this project does not hand-maintain
// protoc-generated descriptor-backed messages.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
