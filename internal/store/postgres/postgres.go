package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
)

type Store struct {
	catalog
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{catalog: catalog{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn at READ COMMITTED. Writers serialize on the FOR UPDATE
// locks the Tx methods take, not on the isolation level.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{catalog: catalog{q: tx}, tx: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

// catalog serves the read side for both the pool and an open transaction.
type catalog struct {
	q sqlx.QueryerContext
}

const productColumns = `id, name, category, discontinued, discontinued_at, created_at`

func (c catalog) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	found := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var products []domain.Product
	if err := sqlx.SelectContext(ctx, c.q, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, ids); err != nil {
		return nil, errors.Wrap(err, "select products")
	}
	for _, p := range products {
		found[p.ID] = normalizeProduct(p)
	}
	return found, nil
}

func (c catalog) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 32)
	if err := sqlx.SelectContext(ctx, c.q, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE discontinued = false
		ORDER BY category, name
	`); err != nil {
		return nil, errors.Wrap(err, "list active products")
	}
	for i := range products {
		products[i] = normalizeProduct(products[i])
	}
	return products, nil
}

func (c catalog) ListPrices(ctx context.Context, productID string, kind domain.PriceKind) ([]domain.Price, error) {
	prices := make([]domain.Price, 0, 4)
	if err := sqlx.SelectContext(ctx, c.q, &prices, `
		SELECT id, product_id, kind, amount, effective_from, effective_until
		FROM prices
		WHERE product_id = $1 AND kind = $2
		ORDER BY effective_from, id
	`, productID, kind); err != nil {
		return nil, errors.Wrap(err, "list prices")
	}
	for i := range prices {
		prices[i].EffectiveFrom = prices[i].EffectiveFrom.UTC()
		prices[i].EffectiveUntil = utcPtr(prices[i].EffectiveUntil)
	}
	return prices, nil
}

func (c catalog) ListPricingRules(ctx context.Context, targetProductID string) ([]domain.PricingRule, error) {
	rules := make([]domain.PricingRule, 0, 2)
	if err := sqlx.SelectContext(ctx, c.q, &rules, `
		SELECT id, target_product_id, price_kind, trigger_category, max_per_trigger, valid_from, valid_until
		FROM pricing_rules
		WHERE target_product_id = $1
		ORDER BY id
	`, targetProductID); err != nil {
		return nil, errors.Wrap(err, "list pricing rules")
	}
	for i := range rules {
		rules[i].ValidFrom = rules[i].ValidFrom.UTC()
		rules[i].ValidUntil = utcPtr(rules[i].ValidUntil)
	}
	return rules, nil
}

func (c catalog) GetDiscounts(ctx context.Context, ids []string) (map[string]domain.Discount, error) {
	found := make(map[string]domain.Discount, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var discounts []domain.Discount
	if err := sqlx.SelectContext(ctx, c.q, &discounts, `
		SELECT id, name, trigger_category, amount_per_unit, max_per_trigger_quantity, valid_from, valid_until
		FROM discounts
		WHERE id = ANY($1)
	`, ids); err != nil {
		return nil, errors.Wrap(err, "select discounts")
	}
	for _, d := range discounts {
		d.ValidFrom = d.ValidFrom.UTC()
		d.ValidUntil = utcPtr(d.ValidUntil)
		found[d.ID] = d
	}
	return found, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id, false)
}

func (s *Store) GetRefundBySale(ctx context.Context, saleID string) (*domain.Refund, error) {
	var refund domain.Refund
	err := s.db.GetContext(ctx, &refund, `
		SELECT id, original_sale_id, corrected_sale_id, amount, reason, employee_id, created_at
		FROM refunds
		WHERE original_sale_id = $1
	`, saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get refund")
	}
	refund.CreatedAt = refund.CreatedAt.UTC()
	return &refund, nil
}

const inventoryColumns = `id, location_id, product_id, inventory_date, stock, reserved_stock, version, updated_at`

func (s *Store) GetInventoryRecord(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	return getInventoryRecord(ctx, s.db, `
		SELECT `+inventoryColumns+`
		FROM daily_inventories
		WHERE id = $1
	`, id)
}

func (s *Store) ListInventoryRecords(ctx context.Context, locationID string, date time.Time) ([]domain.InventoryRecord, error) {
	return selectInventoryRecords(ctx, s.db, `
		SELECT `+inventoryColumns+`
		FROM daily_inventories
		WHERE location_id = $1 AND inventory_date = $2
		ORDER BY product_id
	`, locationID, date)
}

func (s *Store) CreateLocation(ctx context.Context, location domain.Location) error {
	if location.ID == "" || strings.TrimSpace(location.Name) == "" {
		return store.ErrValidationFailed
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO locations (id, name, active, created_at)
		VALUES (:id, :name, :active, :created_at)
	`, location)
	return mapError(err)
}

func (s *Store) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var location domain.Location
	err := s.db.GetContext(ctx, &location, `
		SELECT id, name, active, created_at
		FROM locations
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get location")
	}
	location.CreatedAt = location.CreatedAt.UTC()
	return &location, nil
}

func (s *Store) CreateEmployee(ctx context.Context, employee domain.Employee) error {
	employee.Username = strings.ToLower(strings.TrimSpace(employee.Username))
	if employee.ID == "" || employee.Username == "" || strings.TrimSpace(employee.Password) == "" {
		return store.ErrValidationFailed
	}
	if employee.Role == "" {
		employee.Role = domain.RoleStaff
	}
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = time.Now().UTC()
	}
	employee.Active = true

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO employees (id, username, password, role, active, created_at, updated_at)
		VALUES (:id, :username, :password, :role, :active, :created_at, now())
	`, employee)
	return mapError(err)
}

func (s *Store) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	employees := make([]domain.Employee, 0, 16)
	if err := s.db.SelectContext(ctx, &employees, `
		SELECT id, username, password, role, active, created_at
		FROM employees
		ORDER BY username ASC
	`); err != nil {
		return nil, errors.Wrap(err, "list employees")
	}
	for i := range employees {
		employees[i].CreatedAt = employees[i].CreatedAt.UTC()
	}
	return employees, nil
}

func (s *Store) UpdateEmployeePassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidationFailed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE employees
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func loadSale(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*domain.Sale, error) {
	query := `
		SELECT id, location_id, sale_datetime, customer_type, total_amount, final_amount, status,
			employee_id, voided_at, voided_by, void_reason, corrected_from_sale_id, created_at
		FROM sales
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var sale domain.Sale
	if err := sqlx.GetContext(ctx, q, &sale, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get sale")
	}
	sale.SaleDatetime = sale.SaleDatetime.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.VoidedAt = utcPtr(sale.VoidedAt)

	sale.Items = make([]domain.SaleItem, 0, 4)
	if err := sqlx.SelectContext(ctx, q, &sale.Items, `
		SELECT id, sale_id, product_id, price_id, kind, quantity, unit_price, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, id); err != nil {
		return nil, errors.Wrap(err, "select sale items")
	}

	sale.Discounts = make([]domain.SaleDiscount, 0, 1)
	if err := sqlx.SelectContext(ctx, q, &sale.Discounts, `
		SELECT sale_id, discount_id, amount, coupon_count
		FROM sale_discounts
		WHERE sale_id = $1
		ORDER BY discount_id
	`, id); err != nil {
		return nil, errors.Wrap(err, "select sale discounts")
	}
	return &sale, nil
}

func getInventoryRecord(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*domain.InventoryRecord, error) {
	var record domain.InventoryRecord
	if err := sqlx.GetContext(ctx, q, &record, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "get inventory record")
	}
	record = normalizeRecord(record)
	return &record, nil
}

func selectInventoryRecords(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]domain.InventoryRecord, error) {
	records := make([]domain.InventoryRecord, 0, 16)
	if err := sqlx.SelectContext(ctx, q, &records, query, args...); err != nil {
		return nil, errors.Wrap(err, "select inventory records")
	}
	for i := range records {
		records[i] = normalizeRecord(records[i])
	}
	return records, nil
}

// mapError turns constraint violations into store.ErrValidationFailed so
// callers see the same sentinel the in-memory store returns.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "23514", "23P01":
			detail := pgErr.ConstraintName
			if detail == "" {
				detail = pgErr.Message
			}
			return errors.Wrap(store.ErrValidationFailed, detail)
		}
	}
	return errors.WithStack(err)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func normalizeProduct(p domain.Product) domain.Product {
	p.CreatedAt = p.CreatedAt.UTC()
	p.DiscontinuedAt = utcPtr(p.DiscontinuedAt)
	return p
}

func normalizeRecord(r domain.InventoryRecord) domain.InventoryRecord {
	d := r.InventoryDate
	r.InventoryDate = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
