package memory

import (
	"cmp"
	"context"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
)

// Store keeps the whole dataset in process. A transaction works on a private
// copy of the state under the exclusive lock and swaps it in on commit, so
// writers are fully serialized and a failed transaction leaves no trace.
// WithinTx must not be called again from inside fn.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	locations        map[string]domain.Location
	products         map[string]domain.Product
	prices           map[string]domain.Price
	rules            map[string]domain.PricingRule
	discounts        map[string]domain.Discount
	discontinuations map[string]domain.ProductDiscontinuation
	inventory        map[string]domain.InventoryRecord
	inventoryKeys    map[string]string
	sales            map[string]domain.Sale
	refunds          map[string]domain.Refund
	employees        map[string]domain.Employee
}

func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		locations:        make(map[string]domain.Location),
		products:         make(map[string]domain.Product),
		prices:           make(map[string]domain.Price),
		rules:            make(map[string]domain.PricingRule),
		discounts:        make(map[string]domain.Discount),
		discontinuations: make(map[string]domain.ProductDiscontinuation),
		inventory:        make(map[string]domain.InventoryRecord),
		inventoryKeys:    make(map[string]string),
		sales:            make(map[string]domain.Sale),
		refunds:          make(map[string]domain.Refund),
		employees:        make(map[string]domain.Employee),
	}
}

// seedEmployees builds the initial accounts for dev/demo mode. Credentials are
// read from SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD; dev defaults are
// used with a warning when unset. Production runs on PostgreSQL.
func seedEmployees(now time.Time) map[string]domain.Employee {
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Warn("memory store: using default dev credentials, set SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	employees := make(map[string]domain.Employee)
	for _, e := range []struct {
		id       string
		username string
		password string
		role     string
	}{
		{"emp-manager", "manager", managerPwd, domain.RoleManager},
		{"emp-staff", "staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(e.password), bcrypt.DefaultCost)
		if err != nil {
			log.WithError(err).Fatalf("memory store: failed to hash seed password for %s", e.username)
		}
		employees[e.username] = domain.Employee{
			ID:        e.id,
			Username:  e.username,
			Password:  string(hash),
			Role:      e.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return employees
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small bento catalog: two bentos, two side
// menus with bundle prices for bento buyers, and a 50 yen coupon.
func NewSeeded() *Store {
	now := time.Now().UTC()
	since := now.AddDate(0, -1, 0)

	st := newState()
	st.employees = seedEmployees(now)
	st.locations["loc-main"] = domain.Location{ID: "loc-main", Name: "Main Kitchen", Active: true, CreatedAt: now}

	for _, p := range []domain.Product{
		{ID: "prod-karaage", Name: "Karaage Bento", Category: domain.CategoryBento},
		{ID: "prod-salmon", Name: "Salmon Bento", Category: domain.CategoryBento},
		{ID: "prod-salad", Name: "Side Salad", Category: domain.CategorySideMenu},
		{ID: "prod-miso", Name: "Miso Soup", Category: domain.CategorySideMenu},
	} {
		p.CreatedAt = since
		st.products[p.ID] = p
	}

	for _, p := range []domain.Price{
		{ID: "price-karaage-regular", ProductID: "prod-karaage", Kind: domain.PriceKindRegular, Amount: 550},
		{ID: "price-salmon-regular", ProductID: "prod-salmon", Kind: domain.PriceKindRegular, Amount: 650},
		{ID: "price-salad-regular", ProductID: "prod-salad", Kind: domain.PriceKindRegular, Amount: 250},
		{ID: "price-salad-bundle", ProductID: "prod-salad", Kind: domain.PriceKindBundle, Amount: 150},
		{ID: "price-miso-regular", ProductID: "prod-miso", Kind: domain.PriceKindRegular, Amount: 150},
		{ID: "price-miso-bundle", ProductID: "prod-miso", Kind: domain.PriceKindBundle, Amount: 100},
	} {
		p.EffectiveFrom = since
		st.prices[p.ID] = p
	}

	for _, r := range []domain.PricingRule{
		{ID: "rule-salad-bundle", TargetProductID: "prod-salad", PriceKind: domain.PriceKindBundle, TriggerCategory: domain.CategoryBento, MaxPerTrigger: 1},
		{ID: "rule-miso-bundle", TargetProductID: "prod-miso", PriceKind: domain.PriceKindBundle, TriggerCategory: domain.CategoryBento, MaxPerTrigger: 1},
	} {
		r.ValidFrom = since
		st.rules[r.ID] = r
	}

	st.discounts["coupon-50"] = domain.Discount{
		ID:                    "coupon-50",
		Name:                  "50 yen off per bento",
		TriggerCategory:       domain.CategoryBento,
		AmountPerUnit:         50,
		MaxPerTriggerQuantity: 1,
		ValidFrom:             since,
	}

	return &Store{state: st}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getProducts(ids), nil
}

func (s *Store) ListActiveProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listActiveProducts(), nil
}

func (s *Store) ListPrices(_ context.Context, productID string, kind domain.PriceKind) ([]domain.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listPrices(productID, kind), nil
}

func (s *Store) ListPricingRules(_ context.Context, targetProductID string) ([]domain.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listPricingRules(targetProductID), nil
}

func (s *Store) GetDiscounts(_ context.Context, ids []string) (map[string]domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getDiscounts(ids), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.state.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneSale(sale)
	return &dup, nil
}

func (s *Store) GetRefundBySale(_ context.Context, saleID string) (*domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, refund := range s.state.refunds {
		if refund.OriginalSaleID == saleID {
			dup := refund
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetInventoryRecord(_ context.Context, id string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.state.inventory[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &record, nil
}

func (s *Store) ListInventoryRecords(_ context.Context, locationID string, date time.Time) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.inventoryDay(locationID, date), nil
}

func (s *Store) CreateLocation(_ context.Context, location domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if location.ID == "" || strings.TrimSpace(location.Name) == "" {
		return store.ErrValidationFailed
	}
	if _, exists := s.state.locations[location.ID]; exists {
		return store.ErrValidationFailed
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}
	s.state.locations[location.ID] = location
	return nil
}

func (s *Store) GetLocation(_ context.Context, id string) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	location, ok := s.state.locations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &location, nil
}

func (s *Store) CreateEmployee(_ context.Context, employee domain.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(employee.Username))
	if employee.ID == "" || username == "" || strings.TrimSpace(employee.Password) == "" {
		return store.ErrValidationFailed
	}
	if _, exists := s.state.employees[username]; exists {
		return store.ErrValidationFailed
	}
	employee.Username = username
	if employee.Role == "" {
		employee.Role = domain.RoleStaff
	}
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = time.Now().UTC()
	}
	employee.Active = true
	s.state.employees[username] = employee
	return nil
}

func (s *Store) ListEmployees(_ context.Context) ([]domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	employees := make([]domain.Employee, 0, len(s.state.employees))
	for _, e := range s.state.employees {
		employees = append(employees, e)
	}
	slices.SortFunc(employees, func(a, b domain.Employee) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return employees, nil
}

func (s *Store) UpdateEmployeePassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidationFailed
	}
	employee, exists := s.state.employees[username]
	if !exists {
		return store.ErrNotFound
	}
	employee.Password = password
	s.state.employees[username] = employee
	return nil
}

func (st *state) clone() *state {
	dup := &state{
		locations:        maps.Clone(st.locations),
		products:         maps.Clone(st.products),
		prices:           maps.Clone(st.prices),
		rules:            maps.Clone(st.rules),
		discounts:        maps.Clone(st.discounts),
		discontinuations: maps.Clone(st.discontinuations),
		inventory:        maps.Clone(st.inventory),
		inventoryKeys:    maps.Clone(st.inventoryKeys),
		sales:            make(map[string]domain.Sale, len(st.sales)),
		refunds:          maps.Clone(st.refunds),
		employees:        maps.Clone(st.employees),
	}
	for id, sale := range st.sales {
		dup.sales[id] = cloneSale(sale)
	}
	return dup
}

func (st *state) getProducts(ids []string) map[string]domain.Product {
	found := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			found[id] = p
		}
	}
	return found
}

func (st *state) listActiveProducts() []domain.Product {
	products := make([]domain.Product, 0, len(st.products))
	for _, p := range st.products {
		if p.Discontinued {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmp.Compare(a.Name, b.Name)
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return products
}

func (st *state) listPrices(productID string, kind domain.PriceKind) []domain.Price {
	prices := make([]domain.Price, 0, 4)
	for _, p := range st.prices {
		if p.ProductID == productID && p.Kind == kind {
			prices = append(prices, p)
		}
	}
	slices.SortFunc(prices, func(a, b domain.Price) int {
		if c := a.EffectiveFrom.Compare(b.EffectiveFrom); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return prices
}

func (st *state) listPricingRules(targetProductID string) []domain.PricingRule {
	rules := make([]domain.PricingRule, 0, 2)
	for _, r := range st.rules {
		if r.TargetProductID == targetProductID {
			rules = append(rules, r)
		}
	}
	slices.SortFunc(rules, func(a, b domain.PricingRule) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return rules
}

func (st *state) getDiscounts(ids []string) map[string]domain.Discount {
	found := make(map[string]domain.Discount, len(ids))
	for _, id := range ids {
		if d, ok := st.discounts[id]; ok {
			found[id] = d
		}
	}
	return found
}

func (st *state) inventoryDay(locationID string, date time.Time) []domain.InventoryRecord {
	records := make([]domain.InventoryRecord, 0, 16)
	for _, r := range st.inventory {
		if r.LocationID == locationID && r.InventoryDate.Equal(date) {
			records = append(records, r)
		}
	}
	slices.SortFunc(records, func(a, b domain.InventoryRecord) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return records
}

func (st *state) employeeExists(id string) bool {
	for _, e := range st.employees {
		if e.ID == id {
			return true
		}
	}
	return false
}

func inventoryKey(locationID string, productID string, date time.Time) string {
	return locationID + "|" + productID + "|" + date.UTC().Format(time.DateOnly)
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.Discounts = slices.Clone(src.Discounts)
	return dup
}
