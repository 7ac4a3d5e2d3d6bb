package pricing

import (
	"context"
	"math"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
)

type RuleEngine struct {
	catalog store.CatalogReader
}

func NewRuleEngine(catalog store.CatalogReader) *RuleEngine {
	return &RuleEngine{catalog: catalog}
}

// ApplicableRules returns the rules targeting productID that are active at
// asOf and whose trigger category is present in the basket.
func (e *RuleEngine) ApplicableRules(ctx context.Context, productID string, basket domain.BasketSnapshot, asOf time.Time) ([]domain.PricingRule, error) {
	rules, err := e.catalog.ListPricingRules(ctx, productID)
	if err != nil {
		return nil, err
	}

	applicable := make([]domain.PricingRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.ActiveAt(asOf) {
			continue
		}
		if basket.QuantityOf(rule.TriggerCategory) > 0 {
			applicable = append(applicable, rule)
		}
	}
	return applicable, nil
}

// MaxApplicableQuantity counts trigger units, so two karaage and one salmon
// bento give three triggers. It saturates at math.MaxInt.
func MaxApplicableQuantity(rule domain.PricingRule, basket domain.BasketSnapshot) int {
	qty, ok := domain.MulAmount(int64(basket.QuantityOf(rule.TriggerCategory)), int64(rule.MaxPerTrigger))
	if !ok || qty > math.MaxInt {
		return math.MaxInt
	}
	return int(qty)
}

// SelectRule picks the rule with the largest MaxApplicableQuantity. Ties keep
// the earlier rule in the given order.
func SelectRule(rules []domain.PricingRule, basket domain.BasketSnapshot) (domain.PricingRule, bool) {
	var best domain.PricingRule
	bestQty := -1
	for _, rule := range rules {
		qty := MaxApplicableQuantity(rule, basket)
		if qty > bestQty {
			best = rule
			bestQty = qty
		}
	}
	return best, bestQty >= 0
}
