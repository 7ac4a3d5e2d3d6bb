package events

import (
	"context"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/xid"
)

const (
	TypeSaleRecorded       = "sale.recorded"
	TypeSaleRefunded       = "sale.refunded"
	TypeInventoryRecreated = "inventory.recreated"
)

// Event is the envelope published after a transaction commits. Payload is
// serialized as JSON.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(eventType string, payload any) Event {
	return Event{
		ID:         xid.New("evt"),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ Event) error {
	return nil
}

type SaleRecorded struct {
	SaleID      string `json:"sale_id"`
	LocationID  string `json:"location_id"`
	FinalAmount int64  `json:"final_amount"`
	ItemCount   int    `json:"item_count"`
}

type SaleRefunded struct {
	RefundID        string  `json:"refund_id"`
	OriginalSaleID  string  `json:"original_sale_id"`
	CorrectedSaleID *string `json:"corrected_sale_id,omitempty"`
	Amount          int64   `json:"amount"`
}

type InventoryRecreated struct {
	LocationID    string `json:"location_id"`
	InventoryDate string `json:"inventory_date"`
	RecordCount   int    `json:"record_count"`
}
