// Package codec provides the serializers used for structured message bodies
// (announcements, directory entries, tooling fixtures). The envelope itself
// is hand-encoded in pkg/protocol; codecs only ever see body bytes.
package codec

// Codec marshals typed message bodies. Implementations must be deterministic
// so that signed bodies verify identically on every node.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct {
	byType map[string]Codec
}

// NewRegistry constructs a registry preloaded with the built-in codecs.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	return r, nil
}

// Register adds a codec, replacing any previous codec of the same type.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
