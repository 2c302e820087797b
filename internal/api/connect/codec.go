package connect

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec carries the plain Go message structs of this package as JSON.
// It replaces the built-in protojson codec, which only accepts proto messages.
type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// WithJSONCodec configures handlers and clients to use the JSON codec.
func WithJSONCodec() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
