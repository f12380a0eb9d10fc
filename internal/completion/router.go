package completion

import (
	"context"
	"sort"
	"strings"

	"github.com/bull/ragbot/internal/errs"
)

var defaultPrefixes = map[string]string{
	"gpt-":    "openai",
	"o1":      "openai",
	"o3":      "openai",
	"o4":      "openai",
	"gemini-": "gemini",
}

// Router is a Provider that dispatches by model name. Explicit routes win
// over prefixes; anything unmatched goes to the default provider.
type Router struct {
	providers      map[string]Provider
	routes         map[string]string
	prefixes       []string
	defaultBackend string
}

var _ Provider = (*Router)(nil)

// NewRouter creates a Router over providers keyed by name.
func NewRouter(providers map[string]Provider, routes map[string]string, defaultBackend string) *Router {
	prefixes := make([]string, 0, len(defaultPrefixes))
	for p := range defaultPrefixes {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})
	return &Router{
		providers:      providers,
		routes:         routes,
		prefixes:       prefixes,
		defaultBackend: defaultBackend,
	}
}

func (r *Router) Name() string { return "router" }

// Resolve returns the provider serving model.
func (r *Router) Resolve(model string) (Provider, error) {
	if model == "" {
		return nil, errs.Wrap(errs.ErrInvalidModel, "empty model name")
	}
	name := r.defaultBackend
	if backend, ok := r.routes[model]; ok {
		name = backend
	} else {
		for _, p := range r.prefixes {
			if strings.HasPrefix(model, p) {
				name = defaultPrefixes[p]
				break
			}
		}
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, errs.Wrap(errs.ErrInvalidModel, "model %q needs the %q completion provider, which is not configured", model, name)
	}
	return p, nil
}

func (r *Router) Complete(ctx context.Context, req Request) (*Result, error) {
	p, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	return p.Complete(ctx, req)
}

func (r *Router) Stream(ctx context.Context, req Request) (Stream, error) {
	p, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	return p.Stream(ctx, req)
}
