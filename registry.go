package flowchain

import "fmt"

// Registry resolves node types to the kinds that own them.
type Registry struct {
	kinds map[NodeType]ArtifactKind
}

// NewRegistry indexes kinds by type. Registering a type twice or a
// non-artifact type is an error.
func NewRegistry(kinds ...ArtifactKind) (*Registry, error) {
	r := &Registry{kinds: make(map[NodeType]ArtifactKind, len(kinds))}
	for _, k := range kinds {
		t := k.Type()
		if !t.IsArtifact() {
			return nil, fmt.Errorf("flowchain: cannot register kind for %q", t)
		}
		if _, dup := r.kinds[t]; dup {
			return nil, fmt.Errorf("flowchain: kind %q registered twice", t)
		}
		r.kinds[t] = k
	}
	if _, ok := r.kinds[NodeWorkRequest]; !ok {
		return nil, fmt.Errorf("flowchain: %s kind is required", NodeWorkRequest)
	}
	return r, nil
}

// Kind returns the kind registered for t.
func (r *Registry) Kind(t NodeType) (ArtifactKind, bool) {
	k, ok := r.kinds[t]
	return k, ok
}

func (r *Registry) mustKind(t NodeType) (ArtifactKind, error) {
	k, ok := r.kinds[t]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported artifact type %q", ErrBadRequest, t)
	}
	return k, nil
}
