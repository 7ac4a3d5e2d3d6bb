package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
)

type pgTx struct {
	catalog
	tx *sqlx.Tx
}

func (t *pgTx) LockInventoryRecord(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	return getInventoryRecord(ctx, t.tx, `
		SELECT `+inventoryColumns+`
		FROM daily_inventories
		WHERE id = $1
		FOR UPDATE
	`, id)
}

func (t *pgTx) FindInventoryRecord(ctx context.Context, locationID string, productID string, date time.Time) (*domain.InventoryRecord, error) {
	return getInventoryRecord(ctx, t.tx, `
		SELECT `+inventoryColumns+`
		FROM daily_inventories
		WHERE location_id = $1 AND product_id = $2 AND inventory_date = $3
	`, locationID, productID, date)
}

func (t *pgTx) LockInventoryDay(ctx context.Context, locationID string, date time.Time) ([]domain.InventoryRecord, error) {
	return selectInventoryRecords(ctx, t.tx, `
		SELECT `+inventoryColumns+`
		FROM daily_inventories
		WHERE location_id = $1 AND inventory_date = $2
		ORDER BY product_id
		FOR UPDATE
	`, locationID, date)
}

func (t *pgTx) UpdateInventoryStock(ctx context.Context, id string, stock int, version int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE daily_inventories
		SET stock = $2, version = $3, updated_at = now()
		WHERE id = $1
	`, id, stock, version)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) InsertInventoryRecord(ctx context.Context, record domain.InventoryRecord) error {
	if record.ID == "" {
		return store.ErrValidationFailed
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO daily_inventories (id, location_id, product_id, inventory_date, stock, reserved_stock, version, updated_at)
		VALUES (:id, :location_id, :product_id, :inventory_date, :stock, :reserved_stock, :version, :updated_at)
	`, record)
	return mapError(err)
}

func (t *pgTx) DeleteInventoryDay(ctx context.Context, locationID string, date time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM daily_inventories
		WHERE location_id = $1 AND inventory_date = $2
	`, locationID, date)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(affected), nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" {
		return store.ErrValidationFailed
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sales (
			id, location_id, sale_datetime, customer_type, total_amount, final_amount, status,
			employee_id, voided_at, voided_by, void_reason, corrected_from_sale_id, created_at
		)
		VALUES (
			:id, :location_id, :sale_datetime, :customer_type, :total_amount, :final_amount, :status,
			:employee_id, :voided_at, :voided_by, :void_reason, :corrected_from_sale_id, :created_at
		)
	`, sale)
	return mapError(err)
}

func (t *pgTx) InsertSaleItem(ctx context.Context, item domain.SaleItem) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sale_items (id, sale_id, product_id, price_id, kind, quantity, unit_price, line_total)
		VALUES (:id, :sale_id, :product_id, :price_id, :kind, :quantity, :unit_price, :line_total)
	`, item)
	return mapError(err)
}

func (t *pgTx) InsertSaleDiscount(ctx context.Context, discount domain.SaleDiscount) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sale_discounts (sale_id, discount_id, amount, coupon_count)
		VALUES (:sale_id, :discount_id, :amount, :coupon_count)
	`, discount)
	return mapError(err)
}

func (t *pgTx) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, t.tx, id, true)
}

func (t *pgTx) MarkSaleVoided(ctx context.Context, id string, voidedBy string, reason string, at time.Time) error {
	if strings.TrimSpace(reason) == "" || at.IsZero() {
		return store.ErrValidationFailed
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET status = 'voided', voided_at = $2, voided_by = $3, void_reason = $4
		WHERE id = $1 AND status = 'completed'
	`, id, at, voidedBy, reason)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected > 0 {
		return nil
	}

	var status domain.SaleStatus
	if err := t.tx.GetContext(ctx, &status, `SELECT status FROM sales WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return errors.Wrap(err, "get sale status")
	}
	return store.ErrAlreadyVoided
}

func (t *pgTx) InsertRefund(ctx context.Context, refund domain.Refund) error {
	if refund.ID == "" || strings.TrimSpace(refund.Reason) == "" {
		return store.ErrValidationFailed
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO refunds (id, original_sale_id, corrected_sale_id, amount, reason, employee_id, created_at)
		VALUES (:id, :original_sale_id, :corrected_sale_id, :amount, :reason, :employee_id, :created_at)
	`, refund)
	return mapError(err)
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" || !product.Category.Valid() {
		return store.ErrValidationFailed
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO products (id, name, category, discontinued, discontinued_at, created_at)
		VALUES (:id, :name, :category, false, NULL, :created_at)
	`, product)
	return mapError(err)
}

func (t *pgTx) InsertDiscontinuation(ctx context.Context, record domain.ProductDiscontinuation) error {
	if strings.TrimSpace(record.Reason) == "" {
		return store.ErrValidationFailed
	}
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO product_discontinuations (product_id, reason, discontinued_at)
		VALUES (:product_id, :reason, :discontinued_at)
	`, record); err != nil {
		return mapError(err)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET discontinued = true, discontinued_at = $2
		WHERE id = $1
	`, record.ProductID, record.DiscontinuedAt)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) LockOpenPrice(ctx context.Context, productID string, kind domain.PriceKind) (*domain.Price, error) {
	var price domain.Price
	err := t.tx.GetContext(ctx, &price, `
		SELECT id, product_id, kind, amount, effective_from, effective_until
		FROM prices
		WHERE product_id = $1 AND kind = $2 AND effective_until IS NULL
		FOR UPDATE
	`, productID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "lock open price")
	}
	price.EffectiveFrom = price.EffectiveFrom.UTC()
	return &price, nil
}

func (t *pgTx) ClosePrice(ctx context.Context, id string, until time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE prices
		SET effective_until = $2
		WHERE id = $1
	`, id, until)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) InsertPrice(ctx context.Context, price domain.Price) error {
	if price.ID == "" || price.EffectiveFrom.IsZero() {
		return store.ErrValidationFailed
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO prices (id, product_id, kind, amount, effective_from, effective_until)
		VALUES (:id, :product_id, :kind, :amount, :effective_from, :effective_until)
	`, price)
	return mapError(err)
}

func (t *pgTx) InsertPricingRule(ctx context.Context, rule domain.PricingRule) error {
	if rule.ID == "" || rule.ValidFrom.IsZero() {
		return store.ErrValidationFailed
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO pricing_rules (id, target_product_id, price_kind, trigger_category, max_per_trigger, valid_from, valid_until)
		VALUES (:id, :target_product_id, :price_kind, :trigger_category, :max_per_trigger, :valid_from, :valid_until)
	`, rule)
	return mapError(err)
}

func (t *pgTx) InsertDiscount(ctx context.Context, discount domain.Discount) error {
	if discount.ID == "" || discount.ValidFrom.IsZero() {
		return store.ErrValidationFailed
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO discounts (id, name, trigger_category, amount_per_unit, max_per_trigger_quantity, valid_from, valid_until)
		VALUES (:id, :name, :trigger_category, :amount_per_unit, :max_per_trigger_quantity, :valid_from, :valid_until)
	`, discount)
	return mapError(err)
}
