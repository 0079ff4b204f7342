package rpcserver

import "encoding/json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec, encoding
// request/response messages as JSON instead of protobuf. fleetpulse's RPC
// surface defines its messages as plain Go structs (see internal/rpcapi)
// rather than protoc-generated types, since no.pb.go sources are
// available to generate against; this codec is what lets them travel
// over a standard grpc.Server/grpc.ClientConn unchanged.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }
