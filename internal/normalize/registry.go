package normalize

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/resilience"
)

// Registry dispatches raw items to the normalizer for their provider kind.
type Registry struct {
	byKind map[model.ProviderKind]Normalizer
	log    *zap.Logger
}

// NewRegistry registers the given normalizers. Later entries replace earlier
// ones for the same kind.
func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{
		byKind: make(map[model.ProviderKind]Normalizer, len(normalizers)),
		log:    zap.L().With(zap.String("component", "normalize.registry")),
	}
	for _, n := range normalizers {
		r.byKind[n.Kind()] = n
	}
	return r
}

// DefaultRegistry wires the built-in search_api and html_cards normalizers.
func DefaultRegistry(opts Options) *Registry {
	return NewRegistry(NewSearchAPINormalizer(opts), NewHTMLCardNormalizer(opts))
}

// Normalize converts one raw item using the normalizer for its kind.
func (r *Registry) Normalize(item model.RawItem, nctx Context) (*model.Listing, error) {
	n, ok := r.byKind[item.Kind]
	if !ok {
		return nil, resilience.NewError(resilience.KindValidation,
			eris.Errorf("normalize: unknown provider kind %q", item.Kind))
	}
	return n.Normalize(item, nctx)
}

// Result is the outcome of normalizing a batch.
type Result struct {
	Listings []model.Listing
	// Dropped counts items without an identifying key.
	Dropped int
	// Invalid counts items that failed validation.
	Invalid int
	// Duplicates counts repeated keys within the batch; the last one wins.
	Duplicates int
}

// NormalizeAll normalizes a batch. Invalid items are logged and counted, never
// fatal. Repeated keys collapse to their last occurrence, kept at the position
// of that occurrence.
func (r *Registry) NormalizeAll(items []model.RawItem, nctx Context) Result {
	var res Result
	normalized := make([]model.Listing, 0, len(items))
	for _, item := range items {
		l, err := r.Normalize(item, nctx)
		if err != nil {
			res.Invalid++
			r.log.Debug("dropping invalid item",
				zap.String("unit", nctx.Unit.Name),
				zap.String("provider", item.Provider),
				zap.Error(err),
			)
			continue
		}
		if l == nil {
			res.Dropped++
			continue
		}
		normalized = append(normalized, *l)
	}

	last := make(map[string]int, len(normalized))
	for i, l := range normalized {
		if _, seen := last[l.ID]; seen {
			res.Duplicates++
		}
		last[l.ID] = i
	}
	res.Listings = make([]model.Listing, 0, len(last))
	for i, l := range normalized {
		if last[l.ID] == i {
			res.Listings = append(res.Listings, l)
		}
	}

	if res.Dropped > 0 || res.Invalid > 0 {
		r.log.Info("normalized with drops",
			zap.String("unit", nctx.Unit.Name),
			zap.Int("listings", len(res.Listings)),
			zap.Int("dropped", res.Dropped),
			zap.Int("invalid", res.Invalid),
		)
	}
	return res
}
