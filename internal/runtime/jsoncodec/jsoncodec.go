// Package jsoncodec is the JSON encoder shared by the body catalog and the
// introspection endpoint. It is backed by bytedance/sonic.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// Map keys are sorted so equal bodies encode to equal payloads. HTML escaping
// is off: payloads travel between services and are never embedded in pages.
var defaultConfig = sonic.Config{
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}
