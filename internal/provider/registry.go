package provider

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-sync/internal/config"
	"github.com/sells-group/listing-sync/internal/model"
)

// Registry holds the configured providers in priority order.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry builds providers from config, preserving their order.
func NewRegistry(cfgs []config.ProviderConfig, getter Getter) (*Registry, error) {
	r := &Registry{byName: make(map[string]Provider, len(cfgs))}
	for _, cfg := range cfgs {
		var p Provider
		switch model.ProviderKind(cfg.Kind) {
		case model.KindSearchAPI:
			p = NewJSONProvider(cfg, getter)
		case model.KindHTMLCards:
			p = NewHTMLProvider(cfg, getter)
		default:
			return nil, eris.Errorf("provider: %q has unknown kind %q", cfg.Name, cfg.Kind)
		}
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends p at the lowest priority.
func (r *Registry) Add(p Provider) error {
	if _, dup := r.byName[p.Name()]; dup {
		return eris.Errorf("provider: duplicate provider %q", p.Name())
	}
	r.providers = append(r.providers, p)
	r.byName[p.Name()] = p
	return nil
}

// Providers returns the providers in priority order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Get returns the provider named name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Len returns the number of providers.
func (r *Registry) Len() int {
	return len(r.providers)
}
