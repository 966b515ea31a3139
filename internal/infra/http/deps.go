package http

import (
	"context"
	"time"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
	"github.com/sitsl/material-tracker/internal/domain/users"
	"github.com/sitsl/material-tracker/internal/ledger"
	"github.com/sitsl/material-tracker/internal/report"
)

type MaterialStore interface {
	List(ctx context.Context, f materials.Filter) ([]materials.Material, error)
	GetByID(ctx context.Context, id string) (*materials.Material, error)
	Create(ctx context.Context, d materials.Details) (*materials.Material, error)
	UpdateDetails(ctx context.Context, id string, d materials.Details) (*materials.Material, error)
	Delete(ctx context.Context, id string) error
	Options(ctx context.Context) (materials.Options, error)
	Totals(ctx context.Context) (materials.Totals, error)
}

type LogReader interface {
	ListByType(ctx context.Context, t logs.Type, limit int) ([]logs.Entry, error)
	ListByMaterial(ctx context.Context, t logs.Type, materialID string) ([]logs.Entry, error)
}

type Recorder interface {
	Record(ctx context.Context, caller users.Caller, m ledger.Mutation) (ledger.Result, error)
}

type Reports interface {
	ParseDate(v string) (time.Time, error)
	Preview(ctx context.Context, day time.Time) ([]report.Row, error)
	Workbook(ctx context.Context, day time.Time, by report.Signatory) ([]byte, error)
}

type RoleResolver interface {
	RoleByEmail(ctx context.Context, email string) (users.Role, error)
}

// SignatoryFunc names who receives the goods on a report; nil leaves the
// footer blank.
type SignatoryFunc func(caller users.Caller) report.Signatory
