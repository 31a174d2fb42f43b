package provider

import "fmt"

// Registry holds the configured identity verifiers and allows lookup by
// name. It performs no auth logic itself.
type Registry struct {
	verifiers map[string]IdentityVerifier
	fallback  string
}

// NewRegistry registers the given verifiers by name. The first one is used
// when a caller names no provider. Nil entries are skipped so optional
// verifiers can be passed straight from configuration.
func NewRegistry(list ...IdentityVerifier) *Registry {
	r := &Registry{verifiers: make(map[string]IdentityVerifier)}
	for _, v := range list {
		if v == nil {
			continue
		}
		if r.fallback == "" {
			r.fallback = v.Name()
		}
		r.verifiers[v.Name()] = v
	}
	return r
}

// Get returns the verifier by name, or the default one for "".
func (r *Registry) Get(name string) (IdentityVerifier, error) {
	if name == "" {
		name = r.fallback
	}
	v, ok := r.verifiers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return v, nil
}

// Empty reports whether no verifier is configured.
func (r *Registry) Empty() bool {
	return r == nil || len(r.verifiers) == 0
}
