package domain

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type EmployeeCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type EmployeeView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LocationCreateRequest struct {
	Name string `json:"name"`
}

type ProductCreateRequest struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
}

type ProductDiscontinueRequest struct {
	Reason string `json:"reason"`
}

type PriceCreateRequest struct {
	Kind          PriceKind  `json:"kind"`
	Amount        int64      `json:"amount"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
}

type PricingRuleCreateRequest struct {
	TargetProductID string     `json:"target_product_id"`
	PriceKind       PriceKind  `json:"price_kind"`
	TriggerCategory Category   `json:"trigger_category"`
	MaxPerTrigger   int        `json:"max_per_trigger"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
}

type DiscountCreateRequest struct {
	Name                  string     `json:"name"`
	TriggerCategory       Category   `json:"trigger_category"`
	AmountPerUnit         int64      `json:"amount_per_unit"`
	MaxPerTriggerQuantity int        `json:"max_per_trigger_quantity"`
	ValidFrom             *time.Time `json:"valid_from,omitempty"`
	ValidUntil            *time.Time `json:"valid_until,omitempty"`
}

type QuoteRequest struct {
	Items   []BasketLine `json:"items"`
	Coupons Coupons      `json:"coupons,omitempty"`
	AsOf    *time.Time   `json:"as_of,omitempty"`
}

type CheckoutRequest struct {
	LocationID   string       `json:"location_id"`
	CustomerType string       `json:"customer_type"`
	Items        []BasketLine `json:"items"`
	Coupons      Coupons      `json:"coupons,omitempty"`
}

type CheckoutResponse struct {
	Sale  Sale  `json:"sale"`
	Quote Quote `json:"quote"`
}

type RefundRequest struct {
	RetainedItems []BasketLine `json:"retained_items"`
	Reason        string       `json:"reason"`
	ManagerPIN    string       `json:"manager_pin"`
}

type RefundResponse struct {
	Refund        Refund `json:"refund"`
	VoidedSale    Sale   `json:"voided_sale"`
	CorrectedSale *Sale  `json:"corrected_sale,omitempty"`
	RefundAmount  int64  `json:"refund_amount"`
}

type InventoryDayRequest struct {
	Items []InventoryItem `json:"items"`
}

type InventoryDayResponse struct {
	LocationID    string            `json:"location_id"`
	InventoryDate string            `json:"inventory_date"`
	SalesStarted  bool              `json:"sales_started"`
	Records       []InventoryRecord `json:"records"`
}

type RecreateOutcome string

const (
	RecreateApplied             RecreateOutcome = "applied"
	RecreateRefusedSalesStarted RecreateOutcome = "refused_sales_started"
)

type InventoryRecreateResponse struct {
	Outcome RecreateOutcome   `json:"outcome"`
	Records []InventoryRecord `json:"records"`
}

type StockAdjustmentRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}
