package statez

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Codec is the serialize/deserialize pair used by the persist and sync
// plugins. Implement this interface to use alternative formats like TOML,
// msgpack, or an encrypted envelope.
type Codec interface {
	// Marshal serializes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a value.
	Unmarshal(data []byte, v any) error

	// ContentType returns the MIME type, sent as Content-Type by sync.
	ContentType() string
}

// JSONCodec implements Codec using encoding/json. Values containing
// reference cycles are serialized with the cycle replaced by
// CircularSentinel instead of failing.
type JSONCodec struct{}

// Marshal serializes v as JSON.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(Acyclic(v))
}

// Unmarshal deserializes JSON bytes into v.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ContentType returns the JSON MIME type.
func (JSONCodec) ContentType() string {
	return "application/json"
}

// Ensure JSONCodec implements Codec.
var _ Codec = JSONCodec{}

// YAMLCodec implements Codec using gopkg.in/yaml.v3.
type YAMLCodec struct{}

// Marshal serializes v as YAML.
func (YAMLCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

// Unmarshal deserializes YAML bytes into v.
func (YAMLCodec) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// ContentType returns the YAML MIME type.
func (YAMLCodec) ContentType() string {
	return "application/x-yaml"
}

// Ensure YAMLCodec implements Codec.
var _ Codec = YAMLCodec{}

// encode marshals v with c, defaulting to JSON.
func encode(c Codec, v any) ([]byte, error) {
	if c == nil {
		c = JSONCodec{}
	}
	return c.Marshal(v)
}
