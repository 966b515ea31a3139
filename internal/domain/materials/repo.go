package materials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("materials: not found")

// notFound folds a missing row and a malformed id into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return ErrNotFound
	}
	return err
}

// isInvalidID reports invalid_text_representation, raised when an id is not a uuid.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const selectColumns = `
	SELECT id, description, category, supplier, grade, bore_size1, bore_size2,
	       expected_qty, delivered, issued, version, created_at, updated_at
	FROM materials`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(
		&m.ID,
		&m.Description,
		&m.Category,
		&m.Supplier,
		&m.Grade,
		&m.BoreSize1,
		&m.BoreSize2,
		&m.ExpectedQty,
		&m.Delivered,
		&m.Issued,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

/* Catalog CRUD. Counters start at zero and are only moved by the ledger. */

func (r *Repo) Create(ctx context.Context, d Details) (*Material, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO materials (id, description, category, supplier, grade, bore_size1, bore_size2, expected_qty)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, description, category, supplier, grade, bore_size1, bore_size2,
		          expected_qty, delivered, issued, version, created_at, updated_at
	`, uuid.NewString(), strings.TrimSpace(d.Description), d.Category, d.Supplier, d.Grade, d.BoreSize1, d.BoreSize2, d.ExpectedQty)

	m, err := scanMaterial(row)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// UpdateDetails rewrites catalog fields only; delivered/issued/version stay untouched.
// Moving a pipe to a piece-counted category fails with ErrFractionalStock
// while any of its quantities has a fractional part.
func (r *Repo) UpdateDetails(ctx context.Context, id string, d Details) (*Material, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanMaterial(tx.QueryRow(ctx, selectColumns+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if cur.AllowsFraction() && !IsContinuous(d.Category) {
		var fractional bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM delivery_logs WHERE material_id = $1 AND quantity <> trunc(quantity))
			    OR EXISTS (SELECT 1 FROM issuance_logs WHERE material_id = $1 AND quantity <> trunc(quantity))
		`, id).Scan(&fractional)
		if err != nil {
			return nil, err
		}
		if err := cur.CheckCategoryChange(d.Category, fractional); err != nil {
			return nil, err
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE materials
		SET description=$2, category=$3, supplier=$4, grade=$5,
		    bore_size1=$6, bore_size2=$7, expected_qty=$8, updated_at=now()
		WHERE id=$1
		RETURNING id, description, category, supplier, grade, bore_size1, bore_size2,
		          expected_qty, delivered, issued, version, created_at, updated_at
	`, id, strings.TrimSpace(d.Description), d.Category, d.Supplier, d.Grade, d.BoreSize1, d.BoreSize2, d.ExpectedQty)
	m, err := scanMaterial(row)
	if err != nil {
		return nil, notFound(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &m, nil
}

// Delete removes the material; its logs go with it (ON DELETE CASCADE).
func (r *Repo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM materials WHERE id=$1`, id)
	if err != nil {
		return notFound(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// statusClause is keyed by the fixed DeliveryStatus constants.
var statusClause = map[DeliveryStatus]string{
	StatusSurplus: `delivered > expected_qty`,
	StatusDeficit: `delivered > 0 AND delivered < expected_qty`,
	StatusExact:   `delivered > 0 AND delivered = expected_qty`,
}

// List returns the catalog ordered by description, narrowed by f.
func (r *Repo) List(ctx context.Context, f Filter) ([]Material, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, `LOWER(category) = LOWER($1)`)
	}
	if f.Status != "" {
		clause, ok := statusClause[f.Status]
		if !ok {
			return nil, fmt.Errorf("materials: unknown delivery status %q", f.Status)
		}
		where = append(where, clause)
	}
	q := selectColumns
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	rows, err := r.pool.Query(ctx, q+` ORDER BY description`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Options collects the distinct values used to fill catalog pickers.
func (r *Repo) Options(ctx context.Context) (Options, error) {
	var o Options
	targets := []struct {
		column string
		dst    *[]string
	}{
		{"category", &o.Categories},
		{"supplier", &o.Suppliers},
		{"grade", &o.Grades},
		{"bore_size1", &o.BoreSizes1},
		{"bore_size2", &o.BoreSizes2},
	}
	for _, t := range targets {
		// column names come from the fixed list above
		rows, err := r.pool.Query(ctx, `SELECT DISTINCT `+t.column+` FROM materials WHERE `+t.column+` <> '' ORDER BY 1`)
		if err != nil {
			return Options{}, err
		}
		values, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return Options{}, err
		}
		*t.dst = values
	}
	return o, nil
}

func (r *Repo) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(expected_qty),0), COALESCE(SUM(delivered),0), COALESCE(SUM(issued),0)
		FROM materials
	`).Scan(&t.Materials, &t.ExpectedQty, &t.Delivered, &t.Issued)
	return t, err
}
