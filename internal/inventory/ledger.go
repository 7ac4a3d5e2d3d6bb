package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
	"github.com/kazu-2020/bento-manager-sub000/internal/xid"
)

// Ledger owns every stock mutation of the daily inventory. Records move from
// created (version 0) to mutated (version >= 1); a day whose records have all
// stayed at version 0 may still be wiped and recreated.
type Ledger struct {
	repo store.Repository
}

func NewLedger(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// DecrementStock removes qty units under the record's row lock. It fails with
// *store.InsufficientStockError and leaves the record untouched when fewer
// than qty units are available.
func (l *Ledger) DecrementStock(ctx context.Context, tx store.Tx, recordID string, qty int) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: decrement quantity must be positive, got %d", store.ErrInvalidArgument, qty)
	}

	record, err := tx.LockInventoryRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Available() < qty {
		return nil, &store.InsufficientStockError{
			RecordID:  record.ID,
			ProductID: record.ProductID,
			Have:      record.Available(),
			Need:      qty,
		}
	}

	return l.write(ctx, tx, record, record.Stock-qty)
}

// IncrementStock adds qty units under the record's row lock. There is no upper
// bound.
func (l *Ledger) IncrementStock(ctx context.Context, tx store.Tx, recordID string, qty int) (*domain.InventoryRecord, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: increment quantity must be positive, got %d", store.ErrInvalidArgument, qty)
	}

	record, err := tx.LockInventoryRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return l.write(ctx, tx, record, record.Stock+qty)
}

func (l *Ledger) write(ctx context.Context, tx store.Tx, record *domain.InventoryRecord, stock int) (*domain.InventoryRecord, error) {
	version := record.Version + 1
	if err := tx.UpdateInventoryStock(ctx, record.ID, stock, version); err != nil {
		return nil, err
	}
	record.Stock = stock
	record.Version = version
	return record, nil
}

// BulkCreate inserts the day's records in one transaction. Any failing item
// rolls the whole batch back.
func (l *Ledger) BulkCreate(ctx context.Context, locationID string, date time.Time, items []domain.InventoryItem) ([]domain.InventoryRecord, error) {
	var created []domain.InventoryRecord
	err := l.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = l.bulkCreateTx(ctx, tx, locationID, date, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (l *Ledger) bulkCreateTx(ctx context.Context, tx store.Tx, locationID string, date time.Time, items []domain.InventoryItem) ([]domain.InventoryRecord, error) {
	if locationID == "" || date.IsZero() {
		return nil, fmt.Errorf("%w: location and date are required", store.ErrInvalidArgument)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no inventory items", store.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	created := make([]domain.InventoryRecord, 0, len(items))
	for _, item := range items {
		record := domain.InventoryRecord{
			ID:            xid.New("inv"),
			LocationID:    locationID,
			ProductID:     item.ProductID,
			InventoryDate: date,
			Stock:         item.Stock,
			ReservedStock: 0,
			Version:       0,
			UpdatedAt:     now,
		}
		if err := tx.InsertInventoryRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("inventory for product %s: %w", item.ProductID, err)
		}
		created = append(created, record)
	}
	return created, nil
}

// Day returns the day's records and whether selling has started on them.
func (l *Ledger) Day(ctx context.Context, locationID string, date time.Time) ([]domain.InventoryRecord, bool, error) {
	records, err := l.repo.ListInventoryRecords(ctx, locationID, date)
	if err != nil {
		return nil, false, err
	}
	return records, anyMutated(records), nil
}

// SalesStarted reports whether any record of the day has been mutated.
func (l *Ledger) SalesStarted(ctx context.Context, locationID string, date time.Time) (bool, error) {
	_, started, err := l.Day(ctx, locationID, date)
	return started, err
}

// BulkRecreate replaces the day's records. Once selling has started the day is
// live and the call reports domain.RecreateRefusedSalesStarted without
// touching anything.
func (l *Ledger) BulkRecreate(ctx context.Context, locationID string, date time.Time, items []domain.InventoryItem) (domain.RecreateOutcome, []domain.InventoryRecord, error) {
	outcome := domain.RecreateApplied
	var created []domain.InventoryRecord
	err := l.repo.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.LockInventoryDay(ctx, locationID, date)
		if err != nil {
			return err
		}
		if anyMutated(existing) {
			outcome = domain.RecreateRefusedSalesStarted
			return nil
		}
		if _, err := tx.DeleteInventoryDay(ctx, locationID, date); err != nil {
			return err
		}
		created, err = l.bulkCreateTx(ctx, tx, locationID, date, items)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return outcome, created, nil
}

// Adjust applies a supplemental order (delta > 0) or a loss (delta < 0) in its
// own transaction.
func (l *Ledger) Adjust(ctx context.Context, recordID string, delta int) (*domain.InventoryRecord, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: adjustment delta must not be zero", store.ErrInvalidArgument)
	}

	var updated *domain.InventoryRecord
	err := l.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		if delta > 0 {
			updated, err = l.IncrementStock(ctx, tx, recordID, delta)
		} else {
			updated, err = l.DecrementStock(ctx, tx, recordID, -delta)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func anyMutated(records []domain.InventoryRecord) bool {
	for _, r := range records {
		if r.Version > 0 {
			return true
		}
	}
	return false
}
