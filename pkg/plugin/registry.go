package plugin

import (
	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
	"go.uber.org/multierr"
)

// Registry is the static set of handler factories assembled at startup.
type Registry struct {
	factories []namedFactory
}

type namedFactory struct {
	name    string
	factory Factory
}

func CreateRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(name string, factory Factory) {
	r.factories = append(r.factories, namedFactory{name: name, factory: factory})
}

// Build instantiates every registered handler. Failures are aggregated; a
// non-nil error means the returned slice must not be used.
func (r *Registry) Build(deps Deps) ([]Handler, error) {
	handlers := make([]Handler, 0, len(r.factories))

	var errs error
	for _, nf := range r.factories {
		h, err := nf.factory(deps)
		if err != nil {
			errs = multierr.Append(errs, &kerrors.HandlerInit{Name: nf.name, Err: err})
			continue
		}
		handlers = append(handlers, h)
	}

	if errs != nil {
		return nil, errs
	}
	return handlers, nil
}
