// Package transport carries every RPC surface of the cluster over grpc:
// the master service, the tablet write service and the consensus message
// stream. Envelopes are plain structs marshaled by a registered JSON
// codec, so there is no generated code between the wire and the handlers.
package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName selects the JSON codec on every call.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
