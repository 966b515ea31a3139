// Package pgstore implements ledger.Store on PostgreSQL.
//
// Each attempt runs at REPEATABLE READ and locks the material row with
// SELECT ... FOR UPDATE, so mutations on one material queue behind each other
// while different materials proceed in parallel. A writer that loses the race
// gets a serialization failure, which is reported as ledger.ErrConflict and
// retried by the engine.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
	"github.com/sitsl/material-tracker/internal/ledger"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Store struct{ pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit tx: %w", classify(err))
	}
	return nil
}

// classify turns lost serialization races into ledger.ErrConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", ledger.ErrConflict, pgErr.Message)
		}
	}
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Material(ctx context.Context, id string) (materials.Material, error) {
	var m materials.Material
	err := t.tx.QueryRow(ctx, `
		SELECT id, description, category, supplier, grade, bore_size1, bore_size2,
		       expected_qty, delivered, issued, version, created_at, updated_at
		FROM materials
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
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
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return materials.Material{}, ledger.ErrMaterialNotFound
		}
		var pgErr *pgconn.PgError
		// invalid_text_representation: the id is not a uuid, so no such material
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return materials.Material{}, ledger.ErrMaterialNotFound
		}
		return materials.Material{}, err
	}
	return m, nil
}

func (t *pgTx) Log(ctx context.Context, lt logs.Type, id string) (logs.Entry, error) {
	e, err := logs.Scan(t.tx.QueryRow(ctx,
		`SELECT `+logs.Columns+` FROM `+lt.Table()+` WHERE id = $1`, id), lt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return logs.Entry{}, ledger.ErrLogNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return logs.Entry{}, ledger.ErrLogNotFound
		}
		return logs.Entry{}, err
	}
	return e, nil
}

func (t *pgTx) InsertLog(ctx context.Context, e logs.Entry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO `+e.Type.Table()+` (`+logs.Columns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		e.ID, e.MaterialID, e.Quantity, e.Date, e.Remarks,
		e.Snapshot.Description, e.Snapshot.Category, e.Snapshot.Grade,
		e.Snapshot.BoreSize1, e.Snapshot.BoreSize2, e.Snapshot.Supplier,
		e.CreatedBy, e.CreatedAt, e.LastEditedBy, e.LastEditedAt,
	)
	return err
}

// UpdateLog rewrites the mutable fields; the snapshot and creator stay.
func (t *pgTx) UpdateLog(ctx context.Context, e logs.Entry) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE `+e.Type.Table()+`
		SET quantity=$2, log_date=$3, remarks=$4, last_edited_by=$5, last_edited_at=$6
		WHERE id=$1
	`, e.ID, e.Quantity, e.Date, e.Remarks, e.LastEditedBy, e.LastEditedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrLogNotFound
	}
	return nil
}

func (t *pgTx) DeleteLog(ctx context.Context, lt logs.Type, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM `+lt.Table()+` WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrLogNotFound
	}
	return nil
}

func (t *pgTx) SetAggregate(ctx context.Context, materialID string, version int64, delivered, issued decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE materials
		SET delivered=$3, issued=$4, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2
	`, materialID, version, delivered, issued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrConflict
	}
	return nil
}
