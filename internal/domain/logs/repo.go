package logs

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo serves read paths over both log tables. Writes go through the ledger,
// which keeps them paired with the material counters.
type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// Columns is the select list shared with the ledger's postgres store.
const Columns = `id, material_id, quantity, log_date, remarks,
	description, category, grade, bore_size1, bore_size2, supplier,
	created_by, created_at, last_edited_by, last_edited_at`

// Scan reads one row selected with Columns.
func Scan(row pgx.Row, t Type) (Entry, error) {
	e := Entry{Type: t}
	err := row.Scan(
		&e.ID,
		&e.MaterialID,
		&e.Quantity,
		&e.Date,
		&e.Remarks,
		&e.Snapshot.Description,
		&e.Snapshot.Category,
		&e.Snapshot.Grade,
		&e.Snapshot.BoreSize1,
		&e.Snapshot.BoreSize2,
		&e.Snapshot.Supplier,
		&e.CreatedBy,
		&e.CreatedAt,
		&e.LastEditedBy,
		&e.LastEditedAt,
	)
	return e, err
}

func (r *Repo) collect(ctx context.Context, t Type, q string, args ...any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := Scan(rows, t)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListByType returns the newest logs of one type; limit <= 0 means 200.
func (r *Repo) ListByType(ctx context.Context, t Type, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 200
	}
	return r.collect(ctx, t,
		`SELECT `+Columns+` FROM `+t.Table()+` ORDER BY log_date DESC, created_at DESC LIMIT $1`, limit)
}

// ListByMaterial returns an empty list for an id that is not a uuid.
func (r *Repo) ListByMaterial(ctx context.Context, t Type, materialID string) ([]Entry, error) {
	out, err := r.collect(ctx, t,
		`SELECT `+Columns+` FROM `+t.Table()+` WHERE material_id = $1 ORDER BY log_date, created_at`, materialID)
	if isInvalidID(err) {
		return []Entry{}, nil
	}
	return out, err
}

// isInvalidID reports invalid_text_representation, raised when an id is not a uuid.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

// ListBetween returns deliveries then issuances dated in [from, to].
func (r *Repo) ListBetween(ctx context.Context, from, to time.Time) ([]Entry, error) {
	var out []Entry
	for _, t := range []Type{TypeDelivery, TypeIssuance} {
		part, err := r.collect(ctx, t,
			`SELECT `+Columns+` FROM `+t.Table()+` WHERE log_date >= $1 AND log_date <= $2 ORDER BY log_date, created_at`,
			from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}
