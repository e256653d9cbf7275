package currency

import (
	"fmt"

	"kelvin-core/pkg/errno"
)

// Registry maps currency names to shared implementations. It is populated
// once at start-up and read-only afterwards.
type Registry struct {
	names []string
	impls map[string]Currency
}

func NewRegistry() *Registry {
	return &Registry{impls: make(map[string]Currency)}
}

func (r *Registry) Register(name string, c Currency) error {
	if name == "" || c == nil {
		return fmt.Errorf("register currency: empty name or nil implementation")
	}
	if _, ok := r.impls[name]; ok {
		return fmt.Errorf("currency %q already registered", name)
	}
	r.names = append(r.names, name)
	r.impls[name] = c
	return nil
}

// Names returns the registered currencies in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Resolve(name string) (Currency, error) {
	c, ok := r.impls[name]
	if !ok {
		return nil, errno.ErrUnknownCurrency.New("%q", name)
	}
	return c, nil
}
