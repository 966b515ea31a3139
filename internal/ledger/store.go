package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
)

// Store runs fn inside one atomic transaction. If fn returns an error nothing
// it did is visible afterwards. Stores report contention as ErrConflict
// (possibly wrapped) so the engine can retry the whole attempt.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx is the view of the backing store inside one transaction.
type Tx interface {
	// Material reads the authoritative aggregate and pins it for the rest of
	// the transaction. Missing materials yield ErrMaterialNotFound.
	Material(ctx context.Context, id string) (materials.Material, error)
	// Log yields ErrLogNotFound when absent.
	Log(ctx context.Context, t logs.Type, id string) (logs.Entry, error)
	InsertLog(ctx context.Context, e logs.Entry) error
	UpdateLog(ctx context.Context, e logs.Entry) error
	DeleteLog(ctx context.Context, t logs.Type, id string) error
	// SetAggregate writes both counters if the material is still at version;
	// otherwise it returns ErrConflict.
	SetAggregate(ctx context.Context, materialID string, version int64, delivered, issued decimal.Decimal) error
}
