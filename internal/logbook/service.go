// Package logbook is the entry point for recording deliveries and issuances.
// It checks the caller may edit, runs the ledger engine and reports the
// outcome to metrics, logs and the stock alert channel.
package logbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/users"
	"github.com/sitsl/material-tracker/internal/infra/metrics"
	"github.com/sitsl/material-tracker/internal/infra/notify"
	"github.com/sitsl/material-tracker/internal/ledger"
)

var ErrForbidden = errors.New("logbook: caller may not edit logs")

type Applier interface {
	Apply(ctx context.Context, m ledger.Mutation) (ledger.Result, error)
}

type Service struct {
	log          *slog.Logger
	engine       Applier
	metrics      *metrics.Ledger
	notifier     notify.Notifier
	lowThreshold decimal.Decimal
}

func NewService(log *slog.Logger, engine Applier, m *metrics.Ledger, n notify.Notifier, lowThreshold float64) *Service {
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{
		log:          log,
		engine:       engine,
		metrics:      m,
		notifier:     n,
		lowThreshold: decimal.NewFromFloat(lowThreshold),
	}
}

// Record applies m on behalf of caller. The actor on the log is always the
// caller, whatever m carries.
func (s *Service) Record(ctx context.Context, caller users.Caller, m ledger.Mutation) (ledger.Result, error) {
	if !caller.CanEdit() {
		return ledger.Result{}, fmt.Errorf("%w (%s is %s)", ErrForbidden, caller.Email, caller.Role)
	}
	m.Actor = caller.Email

	start := time.Now()
	res, err := s.engine.Apply(ctx, m)
	s.observe(m, res, err, time.Since(start))
	if err != nil {
		level := slog.LevelWarn
		if outcome(err) == "failed" {
			level = slog.LevelError
		}
		s.log.Log(ctx, level, "log mutation rejected",
			"kind", m.Kind, "type", m.Type, "material_id", m.MaterialID, "log_id", m.LogID,
			"actor", caller.Email, "err", err)
		return ledger.Result{Attempts: res.Attempts}, err
	}

	s.log.Info("log mutation committed",
		"kind", m.Kind, "type", m.Type, "material_id", m.MaterialID, "log_id", m.LogID,
		"actor", caller.Email, "delivered", res.Material.Delivered, "issued", res.Material.Issued,
		"attempts", res.Attempts)

	if m.Type == logs.TypeIssuance && m.Kind != ledger.KindDelete {
		s.alertLowStock(ctx, res)
	}
	return res, nil
}

func (s *Service) observe(m ledger.Mutation, res ledger.Result, err error, took time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.Mutations.WithLabelValues(string(m.Kind), string(m.Type), outcome(err)).Inc()
	s.metrics.Duration.WithLabelValues(string(m.Kind)).Observe(took.Seconds())
	if res.Attempts > 1 {
		s.metrics.Retries.Add(float64(res.Attempts - 1))
	}
}

func (s *Service) alertLowStock(ctx context.Context, res ledger.Result) {
	mat := res.Material
	if mat.Balance().GreaterThan(s.lowThreshold) {
		return
	}
	text := fmt.Sprintf("Low stock: %s (%s), %s %s left (delivered %s, issued %s)",
		mat.Description, mat.Category, mat.Balance(), mat.Unit(), mat.Delivered, mat.Issued)
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.log.Error("low stock notification failed", "material_id", mat.ID, "err", err)
		return
	}
	if s.metrics != nil {
		s.metrics.LowStockAlerts.Inc()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ledger.ErrNegativeBalance):
		return "negative_balance"
	case errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidMutation):
		return "invalid"
	case errors.Is(err, ledger.ErrMaterialNotFound), errors.Is(err, ledger.ErrLogNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrStaleLog):
		return "stale"
	default:
		return "failed"
	}
}
