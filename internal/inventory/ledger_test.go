package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/inventory"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
	"github.com/kazu-2020/bento-manager-sub000/internal/store/memory"
)

var day = time.Date(2026, time.April, 3, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) (*inventory.Ledger, *memory.Store) {
	t.Helper()

	repo := memory.New()
	require.NoError(t, repo.CreateLocation(context.Background(), domain.Location{ID: "loc-1", Name: "Shop", Active: true}))
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		for _, p := range []domain.Product{
			{ID: "bento", Name: "Bento", Category: domain.CategoryBento},
			{ID: "salad", Name: "Salad", Category: domain.CategorySideMenu},
		} {
			if err := tx.InsertProduct(context.Background(), p); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return inventory.NewLedger(repo), repo
}

func openDay(t *testing.T, ledger *inventory.Ledger, stock int) domain.InventoryRecord {
	t.Helper()

	records, err := ledger.BulkCreate(context.Background(), "loc-1", day, []domain.InventoryItem{
		{ProductID: "bento", Stock: stock},
		{ProductID: "salad", Stock: stock},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	return records[0]
}

func TestDecrementStockReducesAndBumpsVersion(t *testing.T) {
	ledger, repo := newLedger(t)
	record := openDay(t, ledger, 10)

	updated, err := ledger.Adjust(context.Background(), record.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, 7, updated.Stock)
	assert.Equal(t, 1, updated.Version)

	stored, err := repo.GetInventoryRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Stock)
	assert.Equal(t, 1, stored.Version)
}

func TestDecrementStockInsufficientLeavesRecordUnchanged(t *testing.T) {
	ledger, repo := newLedger(t)
	record := openDay(t, ledger, 2)

	_, err := ledger.Adjust(context.Background(), record.ID, -3)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	var short *store.InsufficientStockError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, 2, short.Have)
	assert.Equal(t, 3, short.Need)

	stored, err := repo.GetInventoryRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Stock)
	assert.Equal(t, 0, stored.Version)
}

func TestStockMutationsRejectNonPositiveQuantity(t *testing.T) {
	ledger, repo := newLedger(t)
	record := openDay(t, ledger, 5)

	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		if _, err := ledger.DecrementStock(context.Background(), tx, record.ID, 0); !errors.Is(err, store.ErrInvalidArgument) {
			t.Errorf("decrement 0: expected invalid argument, got %v", err)
		}
		if _, err := ledger.IncrementStock(context.Background(), tx, record.ID, -2); !errors.Is(err, store.ErrInvalidArgument) {
			t.Errorf("increment -2: expected invalid argument, got %v", err)
		}
		return nil
	})
	require.NoError(t, err)

	_, err = ledger.Adjust(context.Background(), record.ID, 0)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestIncrementStockHasNoUpperBound(t *testing.T) {
	ledger, _ := newLedger(t)
	record := openDay(t, ledger, 5)

	updated, err := ledger.Adjust(context.Background(), record.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1005, updated.Stock)
	assert.Equal(t, 1, updated.Version)
}

func TestUnknownRecordIsNotFound(t *testing.T) {
	ledger, _ := newLedger(t)

	_, err := ledger.Adjust(context.Background(), "inv-ghost", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	ledger, repo := newLedger(t)
	record := openDay(t, ledger, 10)

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Adjust(context.Background(), record.ID, -1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrInsufficientStock):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, workers-10, refused)

	stored, err := repo.GetInventoryRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Stock)
	assert.Equal(t, 10, stored.Version)
}

func TestStockInvariantHoldsAcrossSequence(t *testing.T) {
	ledger, repo := newLedger(t)
	record := openDay(t, ledger, 3)

	for _, delta := range []int{-2, -2, 4, -5, -1, 1, -1, -1} {
		_, _ = ledger.Adjust(context.Background(), record.ID, delta)

		stored, err := repo.GetInventoryRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stored.Stock, 0)
		assert.GreaterOrEqual(t, stored.Available(), 0)
	}
}

func TestBulkCreateIsAllOrNothing(t *testing.T) {
	ledger, repo := newLedger(t)

	cases := []struct {
		name  string
		items []domain.InventoryItem
	}{
		{name: "duplicate product", items: []domain.InventoryItem{{ProductID: "bento", Stock: 5}, {ProductID: "salad", Stock: 5}, {ProductID: "bento", Stock: 1}}},
		{name: "negative stock", items: []domain.InventoryItem{{ProductID: "bento", Stock: 5}, {ProductID: "salad", Stock: -1}}},
		{name: "unknown product", items: []domain.InventoryItem{{ProductID: "bento", Stock: 5}, {ProductID: "ghost", Stock: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.BulkCreate(context.Background(), "loc-1", day, tc.items)
			require.Error(t, err)
			assert.ErrorIs(t, err, store.ErrValidationFailed)

			records, err := repo.ListInventoryRecords(context.Background(), "loc-1", day)
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestBulkCreateRejectsExistingDay(t *testing.T) {
	ledger, _ := newLedger(t)
	openDay(t, ledger, 5)

	_, err := ledger.BulkCreate(context.Background(), "loc-1", day, []domain.InventoryItem{{ProductID: "bento", Stock: 1}})
	assert.ErrorIs(t, err, store.ErrValidationFailed)
}

func TestSalesStartedGate(t *testing.T) {
	ledger, repo := newLedger(t)
	ctx := context.Background()
	openDay(t, ledger, 10)

	started, err := ledger.SalesStarted(ctx, "loc-1", day)
	require.NoError(t, err)
	assert.False(t, started)

	outcome, records, err := ledger.BulkRecreate(ctx, "loc-1", day, []domain.InventoryItem{
		{ProductID: "bento", Stock: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RecreateApplied, outcome)
	require.Len(t, records, 1)

	day1, err := repo.ListInventoryRecords(ctx, "loc-1", day)
	require.NoError(t, err)
	require.Len(t, day1, 1)
	assert.Equal(t, 20, day1[0].Stock)

	_, err = ledger.Adjust(ctx, day1[0].ID, -1)
	require.NoError(t, err)

	started, err = ledger.SalesStarted(ctx, "loc-1", day)
	require.NoError(t, err)
	assert.True(t, started)

	records, started, err = ledger.Day(ctx, "loc-1", day)
	require.NoError(t, err)
	assert.True(t, started)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Version)

	outcome, records, err = ledger.BulkRecreate(ctx, "loc-1", day, []domain.InventoryItem{
		{ProductID: "bento", Stock: 50},
		{ProductID: "salad", Stock: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RecreateRefusedSalesStarted, outcome)
	assert.Empty(t, records)

	after, err := repo.ListInventoryRecords(ctx, "loc-1", day)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 19, after[0].Stock)
}

func TestBulkRecreateFailureKeepsOldDay(t *testing.T) {
	ledger, repo := newLedger(t)
	openDay(t, ledger, 10)

	_, _, err := ledger.BulkRecreate(context.Background(), "loc-1", day, []domain.InventoryItem{
		{ProductID: "bento", Stock: 3},
		{ProductID: "salad", Stock: -3},
	})
	require.ErrorIs(t, err, store.ErrValidationFailed)

	records, err := repo.ListInventoryRecords(context.Background(), "loc-1", day)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 10, records[0].Stock)
}
