package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/inventory"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
	"github.com/kazu-2020/bento-manager-sub000/internal/xid"
)

type Recorder struct {
	repo     store.Repository
	ledger   *inventory.Ledger
	location *time.Location
}

// NewRecorder builds a recorder whose sales deplete the inventory day of their
// timestamp in businessTZ (UTC when nil).
func NewRecorder(repo store.Repository, ledger *inventory.Ledger, businessTZ *time.Location) *Recorder {
	if businessTZ == nil {
		businessTZ = time.UTC
	}
	return &Recorder{repo: repo, ledger: ledger, location: businessTZ}
}

func (r *Recorder) BusinessTZ() *time.Location {
	return r.location
}

// Record commits the sale in its own transaction.
func (r *Recorder) Record(ctx context.Context, header domain.SaleHeader, quote *domain.Quote) (*domain.Sale, error) {
	var sale *domain.Sale
	err := r.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		sale, err = r.RecordTx(ctx, tx, header, quote)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// RecordTx inserts the sale header, one item per priced line and the applied
// coupons, then depletes stock for every item. Line prices are taken from the
// quote as given. Any failure leaves tx to be rolled back by its owner.
func (r *Recorder) RecordTx(ctx context.Context, tx store.Tx, header domain.SaleHeader, quote *domain.Quote) (*domain.Sale, error) {
	if header.LocationID == "" {
		return nil, fmt.Errorf("%w: sale location is required", store.ErrInvalidArgument)
	}
	if quote == nil || len(quote.Lines) == 0 {
		return nil, fmt.Errorf("%w: sale has no lines", store.ErrInvalidArgument)
	}
	if header.SaleDatetime.IsZero() {
		header.SaleDatetime = time.Now().UTC()
	}
	if header.CustomerType == "" {
		header.CustomerType = domain.CustomerTypeWalkIn
	}

	sale := domain.Sale{
		ID:                  xid.New("sale"),
		LocationID:          header.LocationID,
		SaleDatetime:        header.SaleDatetime,
		CustomerType:        header.CustomerType,
		TotalAmount:         quote.Subtotal,
		FinalAmount:         quote.FinalTotal,
		Status:              domain.SaleStatusCompleted,
		EmployeeID:          optional(header.EmployeeID),
		CorrectedFromSaleID: optional(header.CorrectedFromSaleID),
		CreatedAt:           time.Now().UTC(),
	}
	if err := tx.InsertSale(ctx, sale); err != nil {
		return nil, err
	}

	businessDate := domain.BusinessDate(sale.SaleDatetime, r.location)
	sale.Items = make([]domain.SaleItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		item := domain.SaleItem{
			ID:        xid.New("item"),
			SaleID:    sale.ID,
			ProductID: line.ProductID,
			PriceID:   line.PriceID,
			Kind:      line.Kind,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.UnitPrice * int64(line.Quantity),
		}
		if err := tx.InsertSaleItem(ctx, item); err != nil {
			return nil, err
		}

		record, err := tx.FindInventoryRecord(ctx, sale.LocationID, item.ProductID, businessDate)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no inventory for product %s on %s", store.ErrNotFound, item.ProductID, businessDate.Format(time.DateOnly))
		}
		if err != nil {
			return nil, err
		}
		if _, err := r.ledger.DecrementStock(ctx, tx, record.ID, item.Quantity); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}

	sale.Discounts = make([]domain.SaleDiscount, 0, len(quote.Discounts))
	for _, detail := range quote.Discounts {
		if !detail.Applicable {
			continue
		}
		applied := domain.SaleDiscount{
			SaleID:      sale.ID,
			DiscountID:  detail.DiscountID,
			Amount:      detail.Amount,
			CouponCount: detail.CouponCount,
		}
		if err := tx.InsertSaleDiscount(ctx, applied); err != nil {
			return nil, err
		}
		sale.Discounts = append(sale.Discounts, applied)
	}

	return &sale, nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
