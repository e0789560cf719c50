package metadata

import "maps"

// Metadata holds the string headers a delivery carries next to its envelope.
// The helpers never mutate the receiver.
type Metadata map[string]string

// New builds metadata from alternating key/value pairs. A trailing key without
// a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns an independent copy. A nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// With returns a copy of m with key set to value. An empty value leaves key
// out, so optional header fields never show up as blank entries.
func (m Metadata) With(key, value string) Metadata {
	md := make(Metadata, len(m)+1)
	maps.Copy(md, m)
	if value != "" {
		md[key] = value
	}
	return md
}
