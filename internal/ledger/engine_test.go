package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
	"github.com/sitsl/material-tracker/internal/ledger"
	"github.com/sitsl/material-tracker/internal/ledger/memstore"
)

const (
	flange = "mat-flange"
	pipe   = "mat-pipe"
	actor  = "storekeeper@example.com"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newEngine(store ledger.Store) *ledger.Engine {
	return ledger.NewEngine(store, ledger.Config{MaxRetries: 5, RetryBase: time.Millisecond})
}

func seed(t *testing.T, delivered, issued string) *memstore.Store {
	t.Helper()
	s := memstore.New()
	s.PutMaterial(materials.Material{
		ID:          flange,
		Description: "Weld neck flange",
		Category:    "Flanges",
		Supplier:    "Acme Steel",
		Grade:       "A105",
		BoreSize1:   "4\"",
		ExpectedQty: 40,
		Delivered:   d(delivered),
		Issued:      d(issued),
	})
	s.PutMaterial(materials.Material{
		ID:          pipe,
		Description: "Carbon steel pipe",
		Category:    "Pipes",
		Supplier:    "Delta Tubes",
		Grade:       "API 5L X52",
		BoreSize1:   "6\"",
		ExpectedQty: 500,
	})
	return s
}

// putLog commits a log through the engine so counters stay consistent with it.
func putLog(t *testing.T, e *ledger.Engine, typ logs.Type, materialID, qty string) logs.Entry {
	t.Helper()
	res, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindCreate, Type: typ, MaterialID: materialID,
		NewQuantity: d(qty), Actor: actor,
	})
	require.NoError(t, err)
	return res.Log
}

func aggregate(t *testing.T, s *memstore.Store, id string) (string, string) {
	t.Helper()
	m, ok := s.GetMaterial(id)
	require.True(t, ok)
	return m.Delivered.String(), m.Issued.String()
}

func TestCreateIssuanceWithinStock(t *testing.T) {
	s := seed(t, "10", "2")
	e := newEngine(s)

	res, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindCreate, Type: logs.TypeIssuance, MaterialID: flange,
		NewQuantity: d("5"), PreviousQuantity: decimal.Zero, Actor: actor, Remarks: "Spool 14",
	})
	require.NoError(t, err)

	del, iss := aggregate(t, s, flange)
	assert.Equal(t, "10", del)
	assert.Equal(t, "7", iss)
	assert.Equal(t, "3", res.Material.Balance().String())
	assert.Equal(t, 1, res.Attempts)

	assert.Equal(t, "Weld neck flange", res.Log.Snapshot.Description)
	assert.Equal(t, "Acme Steel", res.Log.Snapshot.Supplier)
	assert.Equal(t, actor, res.Log.CreatedBy)
	assert.Equal(t, actor, res.Log.LastEditedBy)
	assert.NotEmpty(t, res.Log.ID)
	assert.False(t, res.Log.Date.IsZero())
	require.Len(t, s.Logs(logs.TypeIssuance, flange), 1)
}

func TestCreateIssuanceBeyondStock(t *testing.T) {
	s := seed(t, "10", "2")
	e := newEngine(s)

	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindCreate, Type: logs.TypeIssuance, MaterialID: flange,
		NewQuantity: d("9"), Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	var stockErr *ledger.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "8", stockErr.Available.String())
	assert.Contains(t, err.Error(), "only 8 items are in stock")

	del, iss := aggregate(t, s, flange)
	assert.Equal(t, "10", del)
	assert.Equal(t, "2", iss)
	assert.Empty(t, s.Logs(logs.TypeIssuance, flange))
}

func TestDeleteDeliveryBelowIssued(t *testing.T) {
	s := seed(t, "6", "0")
	e := newEngine(s)
	l := putLog(t, e, logs.TypeDelivery, flange, "4")
	putLog(t, e, logs.TypeIssuance, flange, "8")

	before, _ := s.GetMaterial(flange)
	require.Equal(t, "10", before.Delivered.String())
	require.Equal(t, "8", before.Issued.String())

	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindDelete, Type: logs.TypeDelivery, MaterialID: flange,
		PreviousQuantity: d("4"), LogID: l.ID, Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrNegativeBalance)
	assert.Contains(t, err.Error(), "deletion failed")

	after, _ := s.GetMaterial(flange)
	assert.Equal(t, before, after)
	assert.Len(t, s.Logs(logs.TypeDelivery, flange), 1)
}

func TestUpdateIssuanceDown(t *testing.T) {
	s := seed(t, "10", "5")
	e := newEngine(s)
	l := putLog(t, e, logs.TypeIssuance, flange, "3")

	res, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindUpdate, Type: logs.TypeIssuance, MaterialID: flange,
		NewQuantity: d("1"), PreviousQuantity: d("3"), LogID: l.ID, Actor: "editor@example.com",
	})
	require.NoError(t, err)

	del, iss := aggregate(t, s, flange)
	assert.Equal(t, "10", del)
	assert.Equal(t, "6", iss)
	assert.Equal(t, "1", res.Log.Quantity.String())
	assert.Equal(t, actor, res.Log.CreatedBy)
	assert.Equal(t, "editor@example.com", res.Log.LastEditedBy)
	assert.Equal(t, l.Snapshot, res.Log.Snapshot)
}

func TestCreateForUnknownMaterial(t *testing.T) {
	s := seed(t, "0", "0")
	e := newEngine(s)

	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindCreate, Type: logs.TypeDelivery, MaterialID: "nonexistent",
		NewQuantity: d("5"), Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrMaterialNotFound)
	assert.Empty(t, s.Logs(logs.TypeDelivery, "nonexistent"))

	del, iss := aggregate(t, s, flange)
	assert.Equal(t, "0", del)
	assert.Equal(t, "0", iss)
}

func TestUpdateIssuanceUpUsesBalanceBeforeMutation(t *testing.T) {
	s := seed(t, "10", "0")
	e := newEngine(s)
	l := putLog(t, e, logs.TypeIssuance, flange, "6")

	// balance is 4: growing 6 -> 10 is fine, 6 -> 11 is not
	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindUpdate, Type: logs.TypeIssuance, MaterialID: flange,
		NewQuantity: d("11"), LogID: l.ID, Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	_, err = e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindUpdate, Type: logs.TypeIssuance, MaterialID: flange,
		NewQuantity: d("10"), LogID: l.ID, Actor: actor,
	})
	require.NoError(t, err)
	_, iss := aggregate(t, s, flange)
	assert.Equal(t, "10", iss)
}

func TestUpdateDeliveryDownBelowIssued(t *testing.T) {
	s := seed(t, "0", "0")
	e := newEngine(s)
	l := putLog(t, e, logs.TypeDelivery, flange, "10")
	putLog(t, e, logs.TypeIssuance, flange, "7")

	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindUpdate, Type: logs.TypeDelivery, MaterialID: flange,
		NewQuantity: d("6"), LogID: l.ID, Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrNegativeBalance)

	var balErr *ledger.BalanceError
	require.True(t, errors.As(err, &balErr))
	assert.Equal(t, "6", balErr.Delivered.String())
	assert.Equal(t, "7", balErr.Issued.String())
}

func TestDeleteIssuanceRestoresStock(t *testing.T) {
	s := seed(t, "10", "0")
	e := newEngine(s)
	l := putLog(t, e, logs.TypeIssuance, flange, "4")

	res, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindDelete, Type: logs.TypeIssuance, MaterialID: flange,
		LogID: l.ID, Actor: actor,
	})
	require.NoError(t, err)
	assert.Equal(t, logs.Entry{}, res.Log)
	assert.Equal(t, "0", res.Material.Issued.String())
	assert.Empty(t, s.Logs(logs.TypeIssuance, flange))
}

func TestStalePreviousQuantity(t *testing.T) {
	s := seed(t, "10", "0")
	e := newEngine(s)
	l := putLog(t, e, logs.TypeIssuance, flange, "4")
	before, _ := s.GetMaterial(flange)

	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindUpdate, Type: logs.TypeIssuance, MaterialID: flange,
		NewQuantity: d("2"), PreviousQuantity: d("3"), LogID: l.ID, Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrStaleLog)

	after, _ := s.GetMaterial(flange)
	assert.Equal(t, before, after)
}

func TestMissingLog(t *testing.T) {
	s := seed(t, "10", "0")
	e := newEngine(s)

	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindDelete, Type: logs.TypeDelivery, MaterialID: flange,
		LogID: "gone", Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrLogNotFound)
}

func TestLogOfAnotherMaterial(t *testing.T) {
	s := seed(t, "10", "0")
	e := newEngine(s)
	l := putLog(t, e, logs.TypeDelivery, pipe, "12.5")

	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindDelete, Type: logs.TypeDelivery, MaterialID: flange,
		LogID: l.ID, Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidMutation)
}

func TestQuantityGranularity(t *testing.T) {
	tests := []struct {
		name     string
		material string
		qty      string
		ok       bool
	}{
		{"whole pieces", flange, "3", true},
		{"fractional pieces", flange, "2.5", false},
		{"zero", flange, "0", false},
		{"negative", flange, "-1", false},
		{"pipe centimetres", pipe, "12.34", true},
		{"pipe millimetres", pipe, "12.345", false},
		{"pipe whole metres", pipe, "6", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seed(t, "0", "0")
			e := newEngine(s)
			_, err := e.Apply(context.Background(), ledger.Mutation{
				Kind: ledger.KindCreate, Type: logs.TypeDelivery, MaterialID: tt.material,
				NewQuantity: d(tt.qty), Actor: actor,
			})
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
			assert.Empty(t, s.Logs(logs.TypeDelivery, tt.material))
		})
	}
}

func TestMalformedMutations(t *testing.T) {
	e := newEngine(seed(t, "0", "0"))
	bad := []ledger.Mutation{
		{Kind: "upsert", Type: logs.TypeDelivery, MaterialID: flange, NewQuantity: d("1"), Actor: actor},
		{Kind: ledger.KindCreate, Type: "return", MaterialID: flange, NewQuantity: d("1"), Actor: actor},
		{Kind: ledger.KindCreate, Type: logs.TypeDelivery, NewQuantity: d("1"), Actor: actor},
		{Kind: ledger.KindUpdate, Type: logs.TypeDelivery, MaterialID: flange, NewQuantity: d("1"), Actor: actor},
		{Kind: ledger.KindCreate, Type: logs.TypeDelivery, MaterialID: flange, NewQuantity: d("1")},
	}
	for _, m := range bad {
		_, err := e.Apply(context.Background(), m)
		assert.ErrorIs(t, err, ledger.ErrInvalidMutation, "%+v", m)
	}
}

func TestFractionalPipeLengthsConserve(t *testing.T) {
	s := seed(t, "0", "0")
	e := newEngine(s)
	for _, q := range []string{"0.1", "0.2", "5.75", "11.95"} {
		putLog(t, e, logs.TypeDelivery, pipe, q)
	}
	putLog(t, e, logs.TypeIssuance, pipe, "18")

	del, iss := aggregate(t, s, pipe)
	assert.Equal(t, "18", del)
	assert.Equal(t, "18", iss)
}

// Random walk of mutations; after every call the invariant and the
// counter-equals-sum-of-logs property must hold.
func TestInvariantAndConservation(t *testing.T) {
	s := seed(t, "0", "0")
	e := newEngine(s)
	ctx := context.Background()

	steps := []ledger.Mutation{
		{Kind: ledger.KindCreate, Type: logs.TypeDelivery, NewQuantity: d("20")},
		{Kind: ledger.KindCreate, Type: logs.TypeIssuance, NewQuantity: d("8")},
		{Kind: ledger.KindCreate, Type: logs.TypeIssuance, NewQuantity: d("15")},
		{Kind: ledger.KindCreate, Type: logs.TypeDelivery, NewQuantity: d("5")},
		{Kind: ledger.KindCreate, Type: logs.TypeIssuance, NewQuantity: d("15")},
		{Kind: ledger.KindCreate, Type: logs.TypeIssuance, NewQuantity: d("3")},
	}
	for _, m := range steps {
		m.MaterialID, m.Actor = flange, actor
		_, _ = e.Apply(ctx, m)
		assertConsistent(t, s, flange)
	}

	for _, typ := range []logs.Type{logs.TypeDelivery, logs.TypeIssuance} {
		for _, l := range s.Logs(typ, flange) {
			_, _ = e.Apply(ctx, ledger.Mutation{
				Kind: ledger.KindUpdate, Type: typ, MaterialID: flange, LogID: l.ID,
				NewQuantity: l.Quantity.Add(d("2")), Actor: actor,
			})
			assertConsistent(t, s, flange)
			_, _ = e.Apply(ctx, ledger.Mutation{
				Kind: ledger.KindDelete, Type: typ, MaterialID: flange, LogID: l.ID, Actor: actor,
			})
			assertConsistent(t, s, flange)
		}
	}
}

func assertConsistent(t *testing.T, s *memstore.Store, id string) {
	t.Helper()
	m, _ := s.GetMaterial(id)
	require.False(t, m.Delivered.LessThan(m.Issued), "delivered %s < issued %s", m.Delivered, m.Issued)

	sum := func(typ logs.Type) decimal.Decimal {
		total := decimal.Zero
		for _, l := range s.Logs(typ, id) {
			total = total.Add(l.Quantity)
		}
		return total
	}
	require.True(t, m.Delivered.Equal(sum(logs.TypeDelivery)), "delivered %s != logs %s", m.Delivered, sum(logs.TypeDelivery))
	require.True(t, m.Issued.Equal(sum(logs.TypeIssuance)), "issued %s != logs %s", m.Issued, sum(logs.TypeIssuance))
}

// barrierStore holds every transaction of the first round until all of them
// have read the material, so they are guaranteed to race on the same version.
type barrierStore struct {
	*memstore.Store
	wg   sync.WaitGroup
	mu   sync.Mutex
	left int
}

func (b *barrierStore) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	return b.Store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		err := fn(ctx, tx)
		b.mu.Lock()
		wait := b.left > 0
		if wait {
			b.left--
			b.wg.Done()
		}
		b.mu.Unlock()
		if wait {
			b.wg.Wait()
		}
		return err
	})
}

func TestConcurrentIssuancesOnlyOneFits(t *testing.T) {
	s := seed(t, "10", "0")
	bs := &barrierStore{Store: s, left: 2}
	bs.wg.Add(2)
	e := newEngine(bs)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Apply(context.Background(), ledger.Mutation{
				Kind: ledger.KindCreate, Type: logs.TypeIssuance, MaterialID: flange,
				NewQuantity: d("6"), Actor: actor,
			})
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientStock), errors.Is(err, ledger.ErrNegativeBalance):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	_, iss := aggregate(t, s, flange)
	assert.Equal(t, "6", iss)
	assert.Len(t, s.Logs(logs.TypeIssuance, flange), 1)
}

func TestConcurrentDeliveriesAllLand(t *testing.T) {
	s := seed(t, "0", "0")
	e := ledger.NewEngine(s, ledger.Config{MaxRetries: 100, RetryBase: time.Microsecond})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Apply(context.Background(), ledger.Mutation{
				Kind: ledger.KindCreate, Type: logs.TypeDelivery, MaterialID: flange,
				NewQuantity: d("1"), Actor: actor,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	del, _ := aggregate(t, s, flange)
	assert.Equal(t, "20", del)
	assert.Len(t, s.Logs(logs.TypeDelivery, flange), 20)
}

type conflictStore struct{ calls int }

func (c *conflictStore) WithTx(context.Context, func(context.Context, ledger.Tx) error) error {
	c.calls++
	return ledger.ErrConflict
}

func TestRetriesExhausted(t *testing.T) {
	cs := &conflictStore{}
	e := ledger.NewEngine(cs, ledger.Config{MaxRetries: 3, RetryBase: time.Millisecond})

	res, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindCreate, Type: logs.TypeDelivery, MaterialID: flange,
		NewQuantity: d("1"), Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrTransactionFailed)
	require.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, 4, cs.calls)
	assert.Equal(t, 4, res.Attempts)
}

type brokenStore struct{}

func (brokenStore) WithTx(context.Context, func(context.Context, ledger.Tx) error) error {
	return errors.New("connection reset by peer")
}

func TestBackendFailureIsTransactionFailed(t *testing.T) {
	e := newEngine(brokenStore{})
	_, err := e.Apply(context.Background(), ledger.Mutation{
		Kind: ledger.KindCreate, Type: logs.TypeDelivery, MaterialID: flange,
		NewQuantity: d("1"), Actor: actor,
	})
	require.ErrorIs(t, err, ledger.ErrTransactionFailed)
	assert.Contains(t, err.Error(), "connection reset")
}
