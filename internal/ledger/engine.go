// Package ledger keeps delivery and issuance logs consistent with the running
// delivered/issued counters on their material.
//
// Every log create, edit or delete is applied together with the matching
// counter change in one store transaction. The aggregate is always re-read
// inside that transaction, so two operators logging against the same material
// at once are serialised by the store and never both succeed against the same
// stale total. A material must never end up with issued > delivered.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Mutation is one log change. PreviousQuantity is optional for update and
// delete: the stored log is authoritative, and a non-zero value that
// disagrees with it fails with ErrStaleLog.
type Mutation struct {
	Kind             Kind
	Type             logs.Type
	MaterialID       string
	NewQuantity      decimal.Decimal
	PreviousQuantity decimal.Decimal
	LogID            string // required for update/delete, generated for create when empty
	Date             time.Time
	Remarks          string
	Actor            string
}

// Result is what the transaction committed. Log is zero after a delete.
// On error only Attempts is set.
type Result struct {
	Log      logs.Entry
	Material materials.Material
	Attempts int
}

type Config struct {
	MaxRetries uint64
	RetryBase  time.Duration
}

type Engine struct {
	store      Store
	maxRetries uint64
	retryBase  time.Duration
	now        func() time.Time
}

func NewEngine(store Store, cfg Config) *Engine {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 20 * time.Millisecond
	}
	return &Engine{
		store:      store,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		now:        time.Now,
	}
}

// Apply validates m and commits it with the counter update, retrying the whole
// transaction on ErrConflict. Domain rejections are returned as is; anything
// else, including exhausted retries, is wrapped in ErrTransactionFailed.
func (e *Engine) Apply(ctx context.Context, m Mutation) (Result, error) {
	if err := m.check(); err != nil {
		return Result{}, err
	}
	if m.Kind == KindCreate && m.LogID == "" {
		m.LogID = uuid.NewString()
	}

	backoff := retry.WithMaxRetries(e.maxRetries,
		retry.WithCappedDuration(time.Second, retry.NewExponential(e.retryBase)))

	var (
		res      Result
		attempts int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		r, err := e.attempt(ctx, m)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		if isRejection(err) {
			return Result{Attempts: attempts}, err
		}
		return Result{Attempts: attempts}, fmt.Errorf("%w after %d attempt(s): %w", ErrTransactionFailed, attempts, err)
	}
	res.Attempts = attempts
	return res, nil
}

func (e *Engine) attempt(ctx context.Context, m Mutation) (Result, error) {
	var res Result
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		mat, err := tx.Material(ctx, m.MaterialID)
		if err != nil {
			if errors.Is(err, ErrMaterialNotFound) {
				return fmt.Errorf("%w: %s", ErrMaterialNotFound, m.MaterialID)
			}
			return err
		}

		next := decimal.Zero
		if m.Kind != KindDelete {
			if next, err = quantityFor(mat, m.NewQuantity); err != nil {
				return err
			}
		}

		var existing logs.Entry
		previous := decimal.Zero
		if m.Kind != KindCreate {
			existing, err = tx.Log(ctx, m.Type, m.LogID)
			if err != nil {
				if errors.Is(err, ErrLogNotFound) {
					return logNotFound(m.Type, m.LogID)
				}
				return err
			}
			if existing.MaterialID != mat.ID {
				return invalidMutation("log %s belongs to material %s", existing.ID, existing.MaterialID)
			}
			if !m.PreviousQuantity.IsZero() && !m.PreviousQuantity.Equal(existing.Quantity) {
				return fmt.Errorf("%w: expected quantity %s, stored %s", ErrStaleLog, m.PreviousQuantity, existing.Quantity)
			}
			previous = existing.Quantity
		}

		delivered, issued, err := project(mat, m.Kind, m.Type, previous, next)
		if err != nil {
			return err
		}

		now := e.now()
		switch m.Kind {
		case KindCreate:
			date := m.Date
			if date.IsZero() {
				date = now
			}
			res.Log = logs.Entry{
				ID:           m.LogID,
				Type:         m.Type,
				MaterialID:   mat.ID,
				Quantity:     next,
				Date:         date,
				Remarks:      m.Remarks,
				Snapshot:     logs.SnapshotOf(mat),
				CreatedBy:    m.Actor,
				CreatedAt:    now,
				LastEditedBy: m.Actor,
				LastEditedAt: now,
			}
			err = tx.InsertLog(ctx, res.Log)
		case KindUpdate:
			res.Log = existing
			res.Log.Quantity = next
			res.Log.Remarks = m.Remarks
			if !m.Date.IsZero() {
				res.Log.Date = m.Date
			}
			res.Log.LastEditedBy = m.Actor
			res.Log.LastEditedAt = now
			err = tx.UpdateLog(ctx, res.Log)
		case KindDelete:
			err = tx.DeleteLog(ctx, m.Type, m.LogID)
		}
		if err != nil {
			return err
		}

		if err := tx.SetAggregate(ctx, mat.ID, mat.Version, delivered, issued); err != nil {
			return err
		}
		mat.Delivered, mat.Issued = delivered, issued
		mat.Version++
		res.Material = mat
		return nil
	})
	return res, err
}

// project computes the counters after replacing previous with next on the
// counter selected by t.
//
// An issuance increase may not exceed the balance on hand before the
// mutation; that check runs first so the caller learns how much is left.
// The terminal delivered >= issued check then covers every other path,
// notably shrinking or deleting a delivery that stock was already issued from.
func project(mat materials.Material, kind Kind, t logs.Type, previous, next decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	delta := next.Sub(previous)
	delivered, issued := mat.Delivered, mat.Issued
	switch t {
	case logs.TypeDelivery:
		delivered = delivered.Add(delta)
	case logs.TypeIssuance:
		issued = issued.Add(delta)
	}

	if t == logs.TypeIssuance && delta.IsPositive() {
		available := mat.Balance()
		if delta.GreaterThan(available) {
			return decimal.Zero, decimal.Zero, &InsufficientStockError{
				MaterialID: mat.ID,
				Available:  available,
				Requested:  delta,
			}
		}
	}
	if delivered.LessThan(issued) {
		return decimal.Zero, decimal.Zero, &BalanceError{
			MaterialID: mat.ID,
			Delivered:  delivered,
			Issued:     issued,
			Kind:       kind,
		}
	}
	return delivered, issued, nil
}

// quantityFor checks q against the material's unit: two decimals for pipe
// lengths, whole numbers for everything else.
func quantityFor(mat materials.Material, q decimal.Decimal) (decimal.Decimal, error) {
	if !q.IsPositive() {
		return decimal.Zero, &InvalidQuantityError{Quantity: q, Reason: "must be greater than zero"}
	}
	places := int32(0)
	if mat.AllowsFraction() {
		places = 2
	}
	if !q.Equal(q.Truncate(places)) {
		if places == 0 {
			return decimal.Zero, &InvalidQuantityError{Quantity: q, Reason: fmt.Sprintf("must be a whole number of %s", mat.Unit())}
		}
		return decimal.Zero, &InvalidQuantityError{Quantity: q, Reason: "at most two decimal places allowed"}
	}
	return q.Truncate(places), nil
}

func (m Mutation) check() error {
	switch m.Kind {
	case KindCreate, KindUpdate, KindDelete:
	default:
		return invalidMutation("unknown kind %q", m.Kind)
	}
	if _, err := logs.ParseType(string(m.Type)); err != nil {
		return invalidMutation("unknown log type %q", m.Type)
	}
	if strings.TrimSpace(m.MaterialID) == "" {
		return invalidMutation("material id is required")
	}
	if m.Kind != KindCreate && strings.TrimSpace(m.LogID) == "" {
		return invalidMutation("log id is required for %s", m.Kind)
	}
	if strings.TrimSpace(m.Actor) == "" {
		return invalidMutation("actor is required")
	}
	if m.Kind != KindDelete && !m.NewQuantity.IsPositive() {
		return &InvalidQuantityError{Quantity: m.NewQuantity, Reason: "must be greater than zero"}
	}
	return nil
}

func isRejection(err error) bool {
	for _, target := range []error{
		ErrMaterialNotFound,
		ErrLogNotFound,
		ErrNegativeBalance,
		ErrInsufficientStock,
		ErrInvalidQuantity,
		ErrInvalidMutation,
		ErrStaleLog,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
