package refund

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/inventory"
	"github.com/kazu-2020/bento-manager-sub000/internal/pricing"
	"github.com/kazu-2020/bento-manager-sub000/internal/sales"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
	"github.com/kazu-2020/bento-manager-sub000/internal/xid"
)

type Request struct {
	SaleID     string
	Retained   []domain.BasketLine
	Reason     string
	EmployeeID string
}

type Result struct {
	Refund        domain.Refund
	VoidedSale    domain.Sale
	CorrectedSale *domain.Sale
	RefundAmount  int64
}

// Processor voids a sale and optionally re-sells the retained part of it.
type Processor struct {
	repo     store.Repository
	ledger   *inventory.Ledger
	recorder *sales.Recorder
}

func NewProcessor(repo store.Repository, ledger *inventory.Ledger, recorder *sales.Recorder) *Processor {
	return &Processor{repo: repo, ledger: ledger, recorder: recorder}
}

// Process runs the whole correction in one transaction: void, restore every
// original line, re-record the retained basket, then write the refund row.
// Restoring everything before re-selling is what lets bundle prices be
// re-evaluated against the smaller basket.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.SaleID == "" {
		return nil, fmt.Errorf("%w: sale id is required", store.ErrInvalidArgument)
	}
	if req.Reason == "" {
		return nil, fmt.Errorf("%w: refund reason is required", store.ErrInvalidArgument)
	}
	if req.EmployeeID == "" {
		return nil, fmt.Errorf("%w: processing employee is required", store.ErrInvalidArgument)
	}

	var result *Result
	err := p.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		result, err = p.processTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Processor) processTx(ctx context.Context, tx store.Tx, req Request) (*Result, error) {
	original, err := tx.LockSale(ctx, req.SaleID)
	if err != nil {
		return nil, err
	}
	if original.Status == domain.SaleStatusVoided {
		return nil, store.ErrAlreadyVoided
	}

	now := time.Now().UTC()
	if err := tx.MarkSaleVoided(ctx, original.ID, req.EmployeeID, req.Reason, now); err != nil {
		return nil, err
	}
	original.Status = domain.SaleStatusVoided
	original.VoidedAt = &now
	original.VoidedBy = &req.EmployeeID
	original.VoidReason = &req.Reason

	businessDate := domain.BusinessDate(original.SaleDatetime, p.recorder.BusinessTZ())
	for _, item := range original.Items {
		record, err := tx.FindInventoryRecord(ctx, original.LocationID, item.ProductID, businessDate)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no inventory for product %s on %s", store.ErrNotFound, item.ProductID, businessDate.Format(time.DateOnly))
		}
		if err != nil {
			return nil, err
		}
		if _, err := p.ledger.IncrementStock(ctx, tx, record.ID, item.Quantity); err != nil {
			return nil, err
		}
	}

	var corrected *domain.Sale
	if len(req.Retained) > 0 {
		coupons := make(domain.Coupons, len(original.Discounts))
		for _, d := range original.Discounts {
			coupons[d.DiscountID] = d.CouponCount
		}
		quote, err := pricing.NewCalculator(tx).Calculate(ctx, req.Retained, coupons, original.SaleDatetime)
		if err != nil {
			return nil, err
		}
		corrected, err = p.recorder.RecordTx(ctx, tx, domain.SaleHeader{
			LocationID:          original.LocationID,
			SaleDatetime:        original.SaleDatetime,
			CustomerType:        original.CustomerType,
			EmployeeID:          req.EmployeeID,
			CorrectedFromSaleID: original.ID,
		}, quote)
		if err != nil {
			return nil, err
		}
	}

	amount := original.FinalAmount
	refund := domain.Refund{
		ID:             xid.New("refund"),
		OriginalSaleID: original.ID,
		Reason:         req.Reason,
		EmployeeID:     req.EmployeeID,
		CreatedAt:      now,
	}
	if corrected != nil {
		amount -= corrected.FinalAmount
		refund.CorrectedSaleID = &corrected.ID
	}
	refund.Amount = amount
	if err := tx.InsertRefund(ctx, refund); err != nil {
		return nil, err
	}

	return &Result{
		Refund:        refund,
		VoidedSale:    *original,
		CorrectedSale: corrected,
		RefundAmount:  amount,
	}, nil
}
