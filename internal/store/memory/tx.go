package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
)

// memTx applies the same constraint checks the SQL schema enforces so both
// stores fail the same way.
type memTx struct {
	state *state
}

func (t *memTx) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	return t.state.getProducts(ids), nil
}

func (t *memTx) ListActiveProducts(_ context.Context) ([]domain.Product, error) {
	return t.state.listActiveProducts(), nil
}

func (t *memTx) ListPrices(_ context.Context, productID string, kind domain.PriceKind) ([]domain.Price, error) {
	return t.state.listPrices(productID, kind), nil
}

func (t *memTx) ListPricingRules(_ context.Context, targetProductID string) ([]domain.PricingRule, error) {
	return t.state.listPricingRules(targetProductID), nil
}

func (t *memTx) GetDiscounts(_ context.Context, ids []string) (map[string]domain.Discount, error) {
	return t.state.getDiscounts(ids), nil
}

func (t *memTx) LockInventoryRecord(_ context.Context, id string) (*domain.InventoryRecord, error) {
	record, ok := t.state.inventory[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &record, nil
}

func (t *memTx) FindInventoryRecord(_ context.Context, locationID string, productID string, date time.Time) (*domain.InventoryRecord, error) {
	id, ok := t.state.inventoryKeys[inventoryKey(locationID, productID, date)]
	if !ok {
		return nil, store.ErrNotFound
	}
	record := t.state.inventory[id]
	return &record, nil
}

func (t *memTx) LockInventoryDay(_ context.Context, locationID string, date time.Time) ([]domain.InventoryRecord, error) {
	return t.state.inventoryDay(locationID, date), nil
}

func (t *memTx) UpdateInventoryStock(_ context.Context, id string, stock int, version int) error {
	record, ok := t.state.inventory[id]
	if !ok {
		return store.ErrNotFound
	}
	if stock < 0 || stock-record.ReservedStock < 0 || version < 0 {
		return store.ErrValidationFailed
	}
	record.Stock = stock
	record.Version = version
	record.UpdatedAt = time.Now().UTC()
	t.state.inventory[id] = record
	return nil
}

func (t *memTx) InsertInventoryRecord(_ context.Context, record domain.InventoryRecord) error {
	if record.ID == "" || record.Stock < 0 || record.ReservedStock < 0 || record.Stock-record.ReservedStock < 0 {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.locations[record.LocationID]; !ok {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.products[record.ProductID]; !ok {
		return store.ErrValidationFailed
	}
	key := inventoryKey(record.LocationID, record.ProductID, record.InventoryDate)
	if _, exists := t.state.inventoryKeys[key]; exists {
		return store.ErrValidationFailed
	}
	if _, exists := t.state.inventory[record.ID]; exists {
		return store.ErrValidationFailed
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	t.state.inventory[record.ID] = record
	t.state.inventoryKeys[key] = record.ID
	return nil
}

func (t *memTx) DeleteInventoryDay(_ context.Context, locationID string, date time.Time) (int, error) {
	deleted := 0
	for id, record := range t.state.inventory {
		if record.LocationID != locationID || !record.InventoryDate.Equal(date) {
			continue
		}
		delete(t.state.inventory, id)
		delete(t.state.inventoryKeys, inventoryKey(record.LocationID, record.ProductID, record.InventoryDate))
		deleted++
	}
	return deleted, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" || sale.TotalAmount < 0 || sale.FinalAmount < 0 {
		return store.ErrValidationFailed
	}
	if _, exists := t.state.sales[sale.ID]; exists {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.locations[sale.LocationID]; !ok {
		return store.ErrValidationFailed
	}
	if sale.EmployeeID != nil && !t.state.employeeExists(*sale.EmployeeID) {
		return store.ErrValidationFailed
	}
	if sale.CorrectedFromSaleID != nil {
		if _, ok := t.state.sales[*sale.CorrectedFromSaleID]; !ok {
			return store.ErrValidationFailed
		}
	}
	if !voidFieldsConsistent(sale) {
		return store.ErrValidationFailed
	}
	sale.Items = nil
	sale.Discounts = nil
	t.state.sales[sale.ID] = sale
	return nil
}

func (t *memTx) InsertSaleItem(_ context.Context, item domain.SaleItem) error {
	sale, ok := t.state.sales[item.SaleID]
	if !ok {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.products[item.ProductID]; !ok {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.prices[item.PriceID]; !ok {
		return store.ErrValidationFailed
	}
	if item.ID == "" || item.Quantity < 1 || item.UnitPrice < 0 || item.LineTotal != item.UnitPrice*int64(item.Quantity) {
		return store.ErrValidationFailed
	}
	sale.Items = append(slices.Clone(sale.Items), item)
	t.state.sales[sale.ID] = sale
	return nil
}

func (t *memTx) InsertSaleDiscount(_ context.Context, discount domain.SaleDiscount) error {
	sale, ok := t.state.sales[discount.SaleID]
	if !ok {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.discounts[discount.DiscountID]; !ok {
		return store.ErrValidationFailed
	}
	if discount.Amount < 0 || discount.CouponCount < 1 {
		return store.ErrValidationFailed
	}
	for _, existing := range sale.Discounts {
		if existing.DiscountID == discount.DiscountID {
			return store.ErrValidationFailed
		}
	}
	sale.Discounts = append(slices.Clone(sale.Discounts), discount)
	t.state.sales[sale.ID] = sale
	return nil
}

func (t *memTx) LockSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.state.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneSale(sale)
	return &dup, nil
}

func (t *memTx) MarkSaleVoided(_ context.Context, id string, voidedBy string, reason string, at time.Time) error {
	sale, ok := t.state.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusVoided {
		return store.ErrAlreadyVoided
	}
	if strings.TrimSpace(reason) == "" || at.IsZero() || !t.state.employeeExists(voidedBy) {
		return store.ErrValidationFailed
	}
	sale.Status = domain.SaleStatusVoided
	sale.VoidedAt = &at
	sale.VoidedBy = &voidedBy
	sale.VoidReason = &reason
	t.state.sales[id] = sale
	return nil
}

func (t *memTx) InsertRefund(_ context.Context, refund domain.Refund) error {
	if refund.ID == "" || strings.TrimSpace(refund.Reason) == "" || !t.state.employeeExists(refund.EmployeeID) {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.sales[refund.OriginalSaleID]; !ok {
		return store.ErrValidationFailed
	}
	if refund.CorrectedSaleID != nil {
		if _, ok := t.state.sales[*refund.CorrectedSaleID]; !ok {
			return store.ErrValidationFailed
		}
	}
	for _, existing := range t.state.refunds {
		if existing.OriginalSaleID == refund.OriginalSaleID {
			return store.ErrValidationFailed
		}
	}
	t.state.refunds[refund.ID] = refund
	return nil
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" || !product.Category.Valid() {
		return store.ErrValidationFailed
	}
	if _, exists := t.state.products[product.ID]; exists {
		return store.ErrValidationFailed
	}
	product.Discontinued = false
	product.DiscontinuedAt = nil
	t.state.products[product.ID] = product
	return nil
}

func (t *memTx) InsertDiscontinuation(_ context.Context, record domain.ProductDiscontinuation) error {
	product, ok := t.state.products[record.ProductID]
	if !ok || strings.TrimSpace(record.Reason) == "" {
		return store.ErrValidationFailed
	}
	if _, exists := t.state.discontinuations[record.ProductID]; exists {
		return store.ErrValidationFailed
	}
	at := record.DiscontinuedAt
	product.Discontinued = true
	product.DiscontinuedAt = &at
	t.state.products[product.ID] = product
	t.state.discontinuations[record.ProductID] = record
	return nil
}

func (t *memTx) LockOpenPrice(_ context.Context, productID string, kind domain.PriceKind) (*domain.Price, error) {
	for _, p := range t.state.prices {
		if p.ProductID == productID && p.Kind == kind && p.EffectiveUntil == nil {
			dup := p
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) ClosePrice(_ context.Context, id string, until time.Time) error {
	price, ok := t.state.prices[id]
	if !ok {
		return store.ErrNotFound
	}
	if !until.After(price.EffectiveFrom) {
		return store.ErrValidationFailed
	}
	price.EffectiveUntil = &until
	t.state.prices[id] = price
	return nil
}

func (t *memTx) InsertPrice(_ context.Context, price domain.Price) error {
	if price.ID == "" || price.Amount < 1 || !price.Kind.Valid() || price.EffectiveFrom.IsZero() {
		return store.ErrValidationFailed
	}
	if price.EffectiveUntil != nil && !price.EffectiveUntil.After(price.EffectiveFrom) {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.products[price.ProductID]; !ok {
		return store.ErrValidationFailed
	}
	if _, exists := t.state.prices[price.ID]; exists {
		return store.ErrValidationFailed
	}
	if price.EffectiveUntil == nil {
		for _, p := range t.state.prices {
			if p.ProductID == price.ProductID && p.Kind == price.Kind && p.EffectiveUntil == nil {
				return store.ErrValidationFailed
			}
		}
	}
	t.state.prices[price.ID] = price
	return nil
}

func (t *memTx) InsertPricingRule(_ context.Context, rule domain.PricingRule) error {
	if rule.ID == "" || rule.MaxPerTrigger < 0 || !rule.PriceKind.Valid() || !rule.TriggerCategory.Valid() || rule.ValidFrom.IsZero() {
		return store.ErrValidationFailed
	}
	if rule.ValidUntil != nil && !rule.ValidUntil.After(rule.ValidFrom) {
		return store.ErrValidationFailed
	}
	if _, ok := t.state.products[rule.TargetProductID]; !ok {
		return store.ErrValidationFailed
	}
	if _, exists := t.state.rules[rule.ID]; exists {
		return store.ErrValidationFailed
	}
	t.state.rules[rule.ID] = rule
	return nil
}

func (t *memTx) InsertDiscount(_ context.Context, discount domain.Discount) error {
	if discount.ID == "" || strings.TrimSpace(discount.Name) == "" || discount.AmountPerUnit < 1 || discount.MaxPerTriggerQuantity < 0 {
		return store.ErrValidationFailed
	}
	if !discount.TriggerCategory.Valid() || discount.ValidFrom.IsZero() {
		return store.ErrValidationFailed
	}
	if discount.ValidUntil != nil && !discount.ValidUntil.After(discount.ValidFrom) {
		return store.ErrValidationFailed
	}
	if _, exists := t.state.discounts[discount.ID]; exists {
		return store.ErrValidationFailed
	}
	t.state.discounts[discount.ID] = discount
	return nil
}

func voidFieldsConsistent(sale domain.Sale) bool {
	switch sale.Status {
	case domain.SaleStatusCompleted:
		return sale.VoidedAt == nil && sale.VoidedBy == nil && sale.VoidReason == nil
	case domain.SaleStatusVoided:
		return sale.VoidedAt != nil && sale.VoidedBy != nil && sale.VoidReason != nil
	default:
		return false
	}
}
