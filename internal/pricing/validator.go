package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
)

type Validator struct {
	catalog store.CatalogReader
}

func NewValidator(catalog store.CatalogReader) *Validator {
	return &Validator{catalog: catalog}
}

func (v *Validator) PriceExists(ctx context.Context, productID string, kind domain.PriceKind, asOf time.Time) (bool, error) {
	_, err := v.FindCurrentPrice(ctx, productID, kind, asOf)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindCurrentPrice returns the price row whose interval contains asOf. When
// two rows touch at asOf the later EffectiveFrom wins.
func (v *Validator) FindCurrentPrice(ctx context.Context, productID string, kind domain.PriceKind, asOf time.Time) (*domain.Price, error) {
	prices, err := v.catalog.ListPrices(ctx, productID, kind)
	if err != nil {
		return nil, err
	}

	var current *domain.Price
	for i := range prices {
		p := prices[i]
		if !p.EffectiveAt(asOf) {
			continue
		}
		if current == nil || p.EffectiveFrom.After(current.EffectiveFrom) ||
			(p.EffectiveFrom.Equal(current.EffectiveFrom) && p.ID > current.ID) {
			current = &p
		}
	}
	if current == nil {
		return nil, store.ErrNotFound
	}
	return current, nil
}

// ListProductsWithMissingPrices reports every active product lacking its
// regular price, or the price kind of any rule currently targeting it.
func (v *Validator) ListProductsWithMissingPrices(ctx context.Context, asOf time.Time) ([]domain.ProductMissingPrices, error) {
	products, err := v.catalog.ListActiveProducts(ctx)
	if err != nil {
		return nil, err
	}

	report := make([]domain.ProductMissingPrices, 0)
	for _, product := range products {
		rules, err := v.catalog.ListPricingRules(ctx, product.ID)
		if err != nil {
			return nil, err
		}
		required := []domain.PriceKind{domain.PriceKindRegular}
		for _, rule := range rules {
			if rule.ActiveAt(asOf) {
				required = appendKind(required, rule.PriceKind)
			}
		}

		missing := make([]domain.PriceKind, 0)
		for _, kind := range required {
			ok, err := v.PriceExists(ctx, product.ID, kind, asOf)
			if err != nil {
				return nil, err
			}
			if !ok {
				missing = append(missing, kind)
			}
		}
		if len(missing) > 0 {
			report = append(report, domain.ProductMissingPrices{Product: product, MissingKinds: missing})
		}
	}
	return report, nil
}

func appendKind(kinds []domain.PriceKind, kind domain.PriceKind) []domain.PriceKind {
	for _, k := range kinds {
		if k == kind {
			return kinds
		}
	}
	return append(kinds, kind)
}
