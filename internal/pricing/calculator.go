package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
)

// Calculator prices a basket against the catalog it was built with. It never
// writes, so a quote can be recomputed for live preview as often as needed.
type Calculator struct {
	catalog   store.CatalogReader
	validator *Validator
	rules     *RuleEngine
}

func NewCalculator(catalog store.CatalogReader) *Calculator {
	return &Calculator{
		catalog:   catalog,
		validator: NewValidator(catalog),
		rules:     NewRuleEngine(catalog),
	}
}

type linePlan struct {
	product domain.Product
	qty     int
	rule    *domain.PricingRule
	prices  map[domain.PriceKind]domain.Price
}

// errAmountOverflow is returned when a quantity or coupon count would push an
// amount past int64.
var errAmountOverflow = fmt.Errorf("%w: amount out of range", store.ErrInvalidArgument)

// Calculate prices lines as of asOf (now when zero). Every missing price is
// reported in one *store.MissingPriceError before anything is priced.
func (c *Calculator) Calculate(ctx context.Context, lines []domain.BasketLine, coupons domain.Coupons, asOf time.Time) (*domain.Quote, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}
	for id, count := range coupons {
		if id == "" || count < 1 {
			return nil, fmt.Errorf("%w: coupon %q needs a positive count", store.ErrInvalidArgument, id)
		}
	}

	ids := make([]string, 0, len(merged))
	for _, line := range merged {
		ids = append(ids, line.ProductID)
	}
	products, err := c.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	basket := make(domain.BasketSnapshot, 0, len(merged))
	for _, line := range merged {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		basket = append(basket, domain.SnapshotLine{ProductID: product.ID, Category: product.Category, Quantity: line.Quantity})
	}

	plans := make([]linePlan, 0, len(merged))
	missing := make([]store.MissingPrice, 0)
	for _, line := range merged {
		product := products[line.ProductID]
		applicable, err := c.rules.ApplicableRules(ctx, product.ID, basket, asOf)
		if err != nil {
			return nil, err
		}

		required := []domain.PriceKind{domain.PriceKindRegular}
		for _, rule := range applicable {
			required = appendKind(required, rule.PriceKind)
		}

		plan := linePlan{product: product, qty: line.Quantity, prices: make(map[domain.PriceKind]domain.Price, len(required))}
		for _, kind := range required {
			price, err := c.validator.FindCurrentPrice(ctx, product.ID, kind, asOf)
			if errors.Is(err, store.ErrNotFound) {
				missing = append(missing, store.MissingPrice{ProductID: product.ID, ProductName: product.Name, Kind: kind})
				continue
			}
			if err != nil {
				return nil, err
			}
			plan.prices[kind] = *price
		}
		if rule, ok := SelectRule(applicable, basket); ok {
			plan.rule = &rule
		}
		plans = append(plans, plan)
	}
	if len(missing) > 0 {
		return nil, &store.MissingPriceError{Missing: missing}
	}

	quote := &domain.Quote{
		Lines:     make([]domain.PricedLine, 0, len(plans)+1),
		Discounts: make([]domain.DiscountDetail, 0, len(coupons)),
		AsOf:      asOf,
	}
	for _, plan := range plans {
		remaining := plan.qty
		if plan.rule != nil {
			bundleQty := min(plan.qty, MaxApplicableQuantity(*plan.rule, basket))
			if bundleQty > 0 {
				line, err := pricedLine(plan.product, plan.prices[plan.rule.PriceKind], bundleQty)
				if err != nil {
					return nil, err
				}
				quote.Lines = append(quote.Lines, line)
				remaining -= bundleQty
			}
		}
		if remaining > 0 {
			line, err := pricedLine(plan.product, plan.prices[domain.PriceKindRegular], remaining)
			if err != nil {
				return nil, err
			}
			quote.Lines = append(quote.Lines, line)
		}
	}
	for _, line := range quote.Lines {
		subtotal, ok := domain.AddAmount(quote.Subtotal, line.LineTotal)
		if !ok {
			return nil, errAmountOverflow
		}
		quote.Subtotal = subtotal
	}

	details, err := c.discounts(ctx, coupons, basket, asOf)
	if err != nil {
		return nil, err
	}
	quote.Discounts = append(quote.Discounts, details...)
	for _, d := range details {
		total, ok := domain.AddAmount(quote.TotalDiscount, d.Amount)
		if !ok {
			return nil, errAmountOverflow
		}
		quote.TotalDiscount = total
	}

	quote.FinalTotal = max(quote.Subtotal-quote.TotalDiscount, 0)
	return quote, nil
}

// discounts evaluates the requested coupons in id order. Coupons outside their
// validity window are left out.
func (c *Calculator) discounts(ctx context.Context, coupons domain.Coupons, basket domain.BasketSnapshot, asOf time.Time) ([]domain.DiscountDetail, error) {
	if len(coupons) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(coupons))
	for id := range coupons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	found, err := c.catalog.GetDiscounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	details := make([]domain.DiscountDetail, 0, len(ids))
	for _, id := range ids {
		discount, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: discount %s", store.ErrNotFound, id)
		}
		if !discount.ActiveAt(asOf) {
			continue
		}
		count := coupons[id]
		perCoupon, ok := discount.CalculateDiscount(basket)
		if !ok {
			return nil, errAmountOverflow
		}
		amount, ok := domain.MulAmount(perCoupon, int64(count))
		if !ok {
			return nil, errAmountOverflow
		}
		details = append(details, domain.DiscountDetail{
			DiscountID:  discount.ID,
			Name:        discount.Name,
			CouponCount: count,
			Amount:      amount,
			Applicable:  amount > 0,
		})
	}
	return details, nil
}

// mergeLines folds repeated products into one line, keeping first-seen order.
// The basket's total unit count must fit in an int.
func mergeLines(lines []domain.BasketLine) ([]domain.BasketLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: basket is empty", store.ErrInvalidArgument)
	}

	merged := make([]domain.BasketLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	units := 0
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: basket line without product", store.ErrInvalidArgument)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", store.ErrInvalidArgument, line.ProductID)
		}
		if line.Quantity > math.MaxInt-units {
			return nil, errAmountOverflow
		}
		units += line.Quantity
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

func pricedLine(product domain.Product, price domain.Price, qty int) (domain.PricedLine, error) {
	total, ok := domain.MulAmount(price.Amount, int64(qty))
	if !ok {
		return domain.PricedLine{}, fmt.Errorf("%w: line total for %s", errAmountOverflow, product.ID)
	}
	return domain.PricedLine{
		ProductID:   product.ID,
		ProductName: product.Name,
		PriceID:     price.ID,
		Kind:        price.Kind,
		Quantity:    qty,
		UnitPrice:   price.Amount,
		LineTotal:   total,
	}, nil
}
