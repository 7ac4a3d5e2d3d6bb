package domain

import (
	"time"
)

type Category string

const (
	CategoryBento    Category = "bento"
	CategorySideMenu Category = "side_menu"
)

func (c Category) Valid() bool {
	return c == CategoryBento || c == CategorySideMenu
}

type PriceKind string

const (
	PriceKindRegular PriceKind = "regular"
	PriceKindBundle  PriceKind = "bundle"
)

func (k PriceKind) Valid() bool {
	return k == PriceKindRegular || k == PriceKindBundle
}

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusVoided    SaleStatus = "voided"
)

const (
	CustomerTypeWalkIn    = "walk_in"
	CustomerTypeCorporate = "corporate"
)

const (
	RoleStaff   = "staff"
	RoleManager = "manager"
)

type Location struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Product struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	Category       Category   `json:"category" db:"category"`
	Discontinued   bool       `json:"discontinued" db:"discontinued"`
	DiscontinuedAt *time.Time `json:"discontinued_at,omitempty" db:"discontinued_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// ProductDiscontinuation is the linked record that retires a product. Products
// themselves are never deleted because historical sale lines reference them.
type ProductDiscontinuation struct {
	ProductID      string    `json:"product_id" db:"product_id"`
	Reason         string    `json:"reason" db:"reason"`
	DiscontinuedAt time.Time `json:"discontinued_at" db:"discontinued_at"`
}

type Price struct {
	ID             string     `json:"id" db:"id"`
	ProductID      string     `json:"product_id" db:"product_id"`
	Kind           PriceKind  `json:"kind" db:"kind"`
	Amount         int64      `json:"amount" db:"amount"`
	EffectiveFrom  time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty" db:"effective_until"`
}

// EffectiveAt reports whether the price interval contains t. Both ends are
// inclusive; when a closed row and its successor share the boundary instant
// the caller picks the row with the latest EffectiveFrom.
func (p Price) EffectiveAt(t time.Time) bool {
	return withinInterval(p.EffectiveFrom, p.EffectiveUntil, t)
}

type PricingRule struct {
	ID              string     `json:"id" db:"id"`
	TargetProductID string     `json:"target_product_id" db:"target_product_id"`
	PriceKind       PriceKind  `json:"price_kind" db:"price_kind"`
	TriggerCategory Category   `json:"trigger_category" db:"trigger_category"`
	MaxPerTrigger   int        `json:"max_per_trigger" db:"max_per_trigger"`
	ValidFrom       time.Time  `json:"valid_from" db:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until,omitempty" db:"valid_until"`
}

func (r PricingRule) ActiveAt(t time.Time) bool {
	return withinInterval(r.ValidFrom, r.ValidUntil, t)
}

// Discount is a coupon: every redeemed coupon takes AmountPerUnit off for up to
// MaxPerTriggerQuantity units per trigger-category item in the basket.
type Discount struct {
	ID                    string     `json:"id" db:"id"`
	Name                  string     `json:"name" db:"name"`
	TriggerCategory       Category   `json:"trigger_category" db:"trigger_category"`
	AmountPerUnit         int64      `json:"amount_per_unit" db:"amount_per_unit"`
	MaxPerTriggerQuantity int        `json:"max_per_trigger_quantity" db:"max_per_trigger_quantity"`
	ValidFrom             time.Time  `json:"valid_from" db:"valid_from"`
	ValidUntil            *time.Time `json:"valid_until,omitempty" db:"valid_until"`
}

func (d Discount) ActiveAt(t time.Time) bool {
	return withinInterval(d.ValidFrom, d.ValidUntil, t)
}

// CalculateDiscount returns the per-coupon discount for the basket. The cap is
// keyed off the summed quantity of trigger-category units, not the number of
// distinct products. ok is false when the amount overflows.
func (d Discount) CalculateDiscount(basket BasketSnapshot) (amount int64, ok bool) {
	units, ok := MulAmount(int64(basket.QuantityOf(d.TriggerCategory)), int64(d.MaxPerTriggerQuantity))
	if !ok {
		return 0, false
	}
	return MulAmount(units, d.AmountPerUnit)
}

type InventoryRecord struct {
	ID            string    `json:"id" db:"id"`
	LocationID    string    `json:"location_id" db:"location_id"`
	ProductID     string    `json:"product_id" db:"product_id"`
	InventoryDate time.Time `json:"inventory_date" db:"inventory_date"`
	Stock         int       `json:"stock" db:"stock"`
	ReservedStock int       `json:"reserved_stock" db:"reserved_stock"`
	Version       int       `json:"version" db:"version"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

func (r InventoryRecord) Available() int {
	return r.Stock - r.ReservedStock
}

type InventoryItem struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

type Sale struct {
	ID                  string         `json:"id" db:"id"`
	LocationID          string         `json:"location_id" db:"location_id"`
	SaleDatetime        time.Time      `json:"sale_datetime" db:"sale_datetime"`
	CustomerType        string         `json:"customer_type" db:"customer_type"`
	TotalAmount         int64          `json:"total_amount" db:"total_amount"`
	FinalAmount         int64          `json:"final_amount" db:"final_amount"`
	Status              SaleStatus     `json:"status" db:"status"`
	EmployeeID          *string        `json:"employee_id,omitempty" db:"employee_id"`
	VoidedAt            *time.Time     `json:"voided_at,omitempty" db:"voided_at"`
	VoidedBy            *string        `json:"voided_by,omitempty" db:"voided_by"`
	VoidReason          *string        `json:"void_reason,omitempty" db:"void_reason"`
	CorrectedFromSaleID *string        `json:"corrected_from_sale_id,omitempty" db:"corrected_from_sale_id"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	Items               []SaleItem     `json:"items" db:"-"`
	Discounts           []SaleDiscount `json:"discounts" db:"-"`
}

// SaleHeader carries the caller-supplied part of a sale before pricing.
type SaleHeader struct {
	LocationID          string
	SaleDatetime        time.Time
	CustomerType        string
	EmployeeID          string
	CorrectedFromSaleID string
}

type SaleItem struct {
	ID        string    `json:"id" db:"id"`
	SaleID    string    `json:"sale_id" db:"sale_id"`
	ProductID string    `json:"product_id" db:"product_id"`
	PriceID   string    `json:"price_id" db:"price_id"`
	Kind      PriceKind `json:"kind" db:"kind"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UnitPrice int64     `json:"unit_price" db:"unit_price"`
	LineTotal int64     `json:"line_total" db:"line_total"`
}

type SaleDiscount struct {
	SaleID      string `json:"sale_id" db:"sale_id"`
	DiscountID  string `json:"discount_id" db:"discount_id"`
	Amount      int64  `json:"amount" db:"amount"`
	CouponCount int    `json:"coupon_count" db:"coupon_count"`
}

// Refund amount is signed: positive is owed back to the customer, negative is
// owed by the customer after a correction added items.
type Refund struct {
	ID              string    `json:"id" db:"id"`
	OriginalSaleID  string    `json:"original_sale_id" db:"original_sale_id"`
	CorrectedSaleID *string   `json:"corrected_sale_id,omitempty" db:"corrected_sale_id"`
	Amount          int64     `json:"amount" db:"amount"`
	Reason          string    `json:"reason" db:"reason"`
	EmployeeID      string    `json:"employee_id" db:"employee_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type BasketLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Coupons maps a discount id to the number of coupons redeemed against it.
type Coupons map[string]int

type SnapshotLine struct {
	ProductID string
	Category  Category
	Quantity  int
}

// BasketSnapshot is the category-resolved view of a basket used by rule and
// discount evaluation.
type BasketSnapshot []SnapshotLine

func (b BasketSnapshot) QuantityOf(category Category) int {
	total := 0
	for _, line := range b {
		if line.Category == category {
			total += line.Quantity
		}
	}
	return total
}

type PricedLine struct {
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	PriceID     string    `json:"price_id"`
	Kind        PriceKind `json:"kind"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unit_price"`
	LineTotal   int64     `json:"line_total"`
}

type DiscountDetail struct {
	DiscountID  string `json:"discount_id"`
	Name        string `json:"name"`
	CouponCount int    `json:"coupon_count"`
	Amount      int64  `json:"amount"`
	Applicable  bool   `json:"applicable"`
}

type Quote struct {
	Lines         []PricedLine     `json:"lines"`
	Subtotal      int64            `json:"subtotal"`
	Discounts     []DiscountDetail `json:"discounts"`
	TotalDiscount int64            `json:"total_discount"`
	FinalTotal    int64            `json:"final_total"`
	AsOf          time.Time        `json:"as_of"`
}

type ProductMissingPrices struct {
	Product      Product     `json:"product"`
	MissingKinds []PriceKind `json:"missing_kinds"`
}

type MissingPriceReport struct {
	Products  []ProductMissingPrices `json:"products"`
	CheckedAt time.Time              `json:"checked_at"`
}

// Employee is an internal persistence model for auth credentials.
type Employee struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type Actor struct {
	EmployeeID string
	Username   string
	Role       string
}

// BusinessDate maps an instant onto the inventory day it belongs to: the
// calendar date in loc, expressed as midnight UTC.
func BusinessDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseBusinessDate(raw string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, raw, time.UTC)
}

func withinInterval(from time.Time, until *time.Time, t time.Time) bool {
	if t.Before(from) {
		return false
	}
	return until == nil || !until.Before(t)
}
