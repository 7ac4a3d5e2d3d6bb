package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidationFailed  = errors.New("validation failed")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyVoided     = errors.New("sale already voided")
	ErrMissingPrice      = errors.New("missing price")
)

type InsufficientStockError struct {
	RecordID  string
	ProductID string
	Have      int
	Need      int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: have %d, need %d", e.ProductID, e.Have, e.Need)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type MissingPrice struct {
	ProductID   string           `json:"product_id"`
	ProductName string           `json:"product_name"`
	Kind        domain.PriceKind `json:"kind"`
}

// MissingPriceError lists every required price absent at the requested
// instant, not just the first one found.
type MissingPriceError struct {
	Missing []MissingPrice
}

func (e *MissingPriceError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s (%s)", m.ProductName, m.Kind))
	}
	return "missing price: " + strings.Join(parts, ", ")
}

func (e *MissingPriceError) Is(target error) bool {
	return target == ErrMissingPrice
}

// CatalogReader is the read side of the catalog. Both Repository and Tx
// implement it so pricing can run inside or outside a transaction.
type CatalogReader interface {
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListActiveProducts(ctx context.Context) ([]domain.Product, error)
	ListPrices(ctx context.Context, productID string, kind domain.PriceKind) ([]domain.Price, error)
	ListPricingRules(ctx context.Context, targetProductID string) ([]domain.PricingRule, error)
	GetDiscounts(ctx context.Context, ids []string) (map[string]domain.Discount, error)
}

// Tx is one unit of work. Every write made through it commits or rolls back
// together when the enclosing WithinTx returns.
type Tx interface {
	CatalogReader

	// LockInventoryRecord takes an exclusive lock on the record until the
	// transaction ends.
	LockInventoryRecord(ctx context.Context, id string) (*domain.InventoryRecord, error)
	FindInventoryRecord(ctx context.Context, locationID string, productID string, date time.Time) (*domain.InventoryRecord, error)
	// LockInventoryDay locks every record of the day so no decrement can slip
	// between a sales-started check and a destructive rewrite.
	LockInventoryDay(ctx context.Context, locationID string, date time.Time) ([]domain.InventoryRecord, error)
	UpdateInventoryStock(ctx context.Context, id string, stock int, version int) error
	InsertInventoryRecord(ctx context.Context, record domain.InventoryRecord) error
	DeleteInventoryDay(ctx context.Context, locationID string, date time.Time) (int, error)

	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertSaleItem(ctx context.Context, item domain.SaleItem) error
	InsertSaleDiscount(ctx context.Context, discount domain.SaleDiscount) error
	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	MarkSaleVoided(ctx context.Context, id string, voidedBy string, reason string, at time.Time) error
	InsertRefund(ctx context.Context, refund domain.Refund) error

	InsertProduct(ctx context.Context, product domain.Product) error
	InsertDiscontinuation(ctx context.Context, record domain.ProductDiscontinuation) error
	LockOpenPrice(ctx context.Context, productID string, kind domain.PriceKind) (*domain.Price, error)
	ClosePrice(ctx context.Context, id string, until time.Time) error
	InsertPrice(ctx context.Context, price domain.Price) error
	InsertPricingRule(ctx context.Context, rule domain.PricingRule) error
	InsertDiscount(ctx context.Context, discount domain.Discount) error
}

type Repository interface {
	CatalogReader

	// WithinTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	GetRefundBySale(ctx context.Context, saleID string) (*domain.Refund, error)
	GetInventoryRecord(ctx context.Context, id string) (*domain.InventoryRecord, error)
	ListInventoryRecords(ctx context.Context, locationID string, date time.Time) ([]domain.InventoryRecord, error)

	CreateLocation(ctx context.Context, location domain.Location) error
	GetLocation(ctx context.Context, id string) (*domain.Location, error)

	CreateEmployee(ctx context.Context, employee domain.Employee) error
	ListEmployees(ctx context.Context) ([]domain.Employee, error)
	UpdateEmployeePassword(ctx context.Context, username string, password string) error
}
