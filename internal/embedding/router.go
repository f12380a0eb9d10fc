package embedding

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bull/ragbot/internal/errs"
)

// defaultPrefixes maps model-name prefixes to backend names.
var defaultPrefixes = map[string]string{
	"text-embedding-004": "gemini",
	"gemini-":            "gemini",
	"text-embedding-":    "openai",
	"all-":               "local",
	"paraphrase-":        "local",
	"multi-qa-":          "local",
	"mxbai-":             "compat",
	"nomic-":             "compat",
}

// Router is a Provider that dispatches each request to the backend serving
// the requested model.
type Router struct {
	providers      map[string]Provider
	routes         map[string]string
	prefixes       []string
	defaultBackend string
}

var _ Provider = (*Router)(nil)

// NewRouter creates a Router. providers is keyed by backend name. routes maps
// exact model names to backend names and wins over the prefix rules.
// Models matching nothing go to defaultBackend.
func NewRouter(providers map[string]Provider, routes map[string]string, defaultBackend string) *Router {
	prefixes := make([]string, 0, len(defaultPrefixes))
	for p := range defaultPrefixes {
		prefixes = append(prefixes, p)
	}
	// Longest prefix first so "text-embedding-004" beats "text-embedding-".
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

// Resolve returns the backend name that serves model.
func (r *Router) Resolve(model string) (string, error) {
	if model == "" {
		return "", errs.Wrap(errs.ErrInvalidModel, "empty model name")
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

	if _, ok := r.providers[name]; !ok {
		return "", errs.Wrap(errs.ErrInvalidModel, "model %q needs the %q embedding backend, which is not configured", model, name)
	}
	return name, nil
}

// Embed routes the request by model.
func (r *Router) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	name, err := r.Resolve(model)
	if err != nil {
		return nil, err
	}
	return r.providers[name].Embed(ctx, texts, model)
}

// Health probes every configured backend that supports it.
func (r *Router) Health(ctx context.Context) error {
	var all []error
	for _, p := range r.providers {
		if hc, ok := p.(HealthChecker); ok {
			if err := hc.Health(ctx); err != nil {
				all = append(all, err)
			}
		}
	}
	return errors.Join(all...)
}
