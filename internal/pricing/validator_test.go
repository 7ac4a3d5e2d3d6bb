package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/pricing"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
)

func TestFindCurrentPricePicksVersionCoveringInstant(t *testing.T) {
	switchAt := t0.Add(24 * time.Hour)
	repo := newCatalog(t, func(ctx context.Context, tx store.Tx) error {
		if err := tx.ClosePrice(ctx, "p-soup", switchAt); err != nil {
			return err
		}
		return tx.InsertPrice(ctx, domain.Price{ID: "p-soup-v2", ProductID: "soup", Kind: domain.PriceKindRegular, Amount: 220, EffectiveFrom: switchAt})
	})
	v := pricing.NewValidator(repo)

	before, err := v.FindCurrentPrice(context.Background(), "soup", domain.PriceKindRegular, switchAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, "p-soup", before.ID)

	at, err := v.FindCurrentPrice(context.Background(), "soup", domain.PriceKindRegular, switchAt)
	require.NoError(t, err)
	assert.Equal(t, "p-soup-v2", at.ID)

	after, err := v.FindCurrentPrice(context.Background(), "soup", domain.PriceKindRegular, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(220), after.Amount)
}

func TestPriceExistsHonoursEffectiveWindow(t *testing.T) {
	until := t0.Add(2 * time.Hour)
	repo := newCatalog(t, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertProduct(ctx, domain.Product{ID: "seasonal", Name: "Seasonal Bento", Category: domain.CategoryBento}); err != nil {
			return err
		}
		return tx.InsertPrice(ctx, domain.Price{ID: "p-seasonal", ProductID: "seasonal", Kind: domain.PriceKindRegular, Amount: 800, EffectiveFrom: t0, EffectiveUntil: &until})
	})
	v := pricing.NewValidator(repo)
	ctx := context.Background()

	cases := []struct {
		at   time.Time
		want bool
	}{
		{at: t0.Add(-time.Minute), want: false},
		{at: t0, want: true},
		{at: until, want: true},
		{at: until.Add(time.Second), want: false},
	}
	for _, tc := range cases {
		ok, err := v.PriceExists(ctx, "seasonal", domain.PriceKindRegular, tc.at)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "at %s", tc.at)
	}

	_, err := v.FindCurrentPrice(ctx, "seasonal", domain.PriceKindBundle, t0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListProductsWithMissingPrices(t *testing.T) {
	repo := newCatalog(t, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertPricingRule(ctx, domain.PricingRule{
			ID:              "rule-soup",
			TargetProductID: "soup",
			PriceKind:       domain.PriceKindBundle,
			TriggerCategory: domain.CategoryBento,
			MaxPerTrigger:   1,
			ValidFrom:       t0,
		}); err != nil {
			return err
		}
		if err := tx.InsertProduct(ctx, domain.Product{ID: "unpriced", Name: "Unpriced Bento", Category: domain.CategoryBento}); err != nil {
			return err
		}
		if err := tx.InsertProduct(ctx, domain.Product{ID: "retired", Name: "Retired Bento", Category: domain.CategoryBento}); err != nil {
			return err
		}
		return tx.InsertDiscontinuation(ctx, domain.ProductDiscontinuation{ProductID: "retired", Reason: "menu change", DiscontinuedAt: t0})
	})

	report, err := pricing.NewValidator(repo).ListProductsWithMissingPrices(context.Background(), asOf)
	require.NoError(t, err)

	got := make(map[string][]domain.PriceKind, len(report))
	for _, entry := range report {
		got[entry.Product.ID] = entry.MissingKinds
	}
	assert.Equal(t, map[string][]domain.PriceKind{
		"soup":     {domain.PriceKindBundle},
		"unpriced": {domain.PriceKindRegular},
	}, got)
}

func TestListProductsWithMissingPricesIgnoresExpiredRules(t *testing.T) {
	until := t0.Add(time.Hour)
	repo := newCatalog(t, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPricingRule(ctx, domain.PricingRule{
			ID:              "rule-soup-old",
			TargetProductID: "soup",
			PriceKind:       domain.PriceKindBundle,
			TriggerCategory: domain.CategoryBento,
			MaxPerTrigger:   1,
			ValidFrom:       t0,
			ValidUntil:      &until,
		})
	})

	report, err := pricing.NewValidator(repo).ListProductsWithMissingPrices(context.Background(), asOf)
	require.NoError(t, err)
	assert.Empty(t, report)
}
