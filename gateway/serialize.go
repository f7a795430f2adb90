package gateway

import "encoding/json"

// Codec serializes request/response bodies for one wire format.
// JSONCodec is the only Codec implemented; there is no CBOR codec
// (see DESIGN.md).
type Codec interface {
	ContentType() string
	Decode(body []byte) (map[string]any, error)
	Encode(v any) ([]byte, error)
}

// JSONCodec is the default Codec: plain encoding/json, matching the
// representation resource.Resource's own MarshalJSON/UnmarshalJSON
// produce.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Decode(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
