package materials

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Unit string

const (
	UnitPcs    Unit = "pcs"
	UnitMetres Unit = "metres"
)

// CategoryPipes is the only category measured by length.
const CategoryPipes = "pipes"

type Material struct {
	ID          string
	Description string
	Category    string
	Supplier    string
	Grade       string
	BoreSize1   string
	BoreSize2   string // optional
	ExpectedQty int64
	Delivered   decimal.Decimal
	Issued      decimal.Decimal
	Version     int64 // bumped on every aggregate write
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Balance delivered - issued.
func (m Material) Balance() decimal.Decimal {
	return m.Delivered.Sub(m.Issued)
}

// AllowsFraction reports whether quantities for this material may carry a
// fractional part (pipe lengths in metres, step 0.01).
func (m Material) AllowsFraction() bool {
	return IsContinuous(m.Category)
}

func (m Material) Unit() Unit {
	return UnitFor(m.Category)
}

func IsContinuous(category string) bool {
	return strings.EqualFold(strings.TrimSpace(category), CategoryPipes)
}

func UnitFor(category string) Unit {
	if IsContinuous(category) {
		return UnitMetres
	}
	return UnitPcs
}

// Details are the catalog fields editable outside the ledger.
type Details struct {
	Description string
	Category    string
	Supplier    string
	Grade       string
	BoreSize1   string
	BoreSize2   string
	ExpectedQty int64
}

type Options struct {
	Categories []string
	Suppliers  []string
	Grades     []string
	BoreSizes1 []string
	BoreSizes2 []string
}

type Totals struct {
	Materials   int64
	ExpectedQty int64
	Delivered   decimal.Decimal
	Issued      decimal.Decimal
}

// DeliveryStatus classifies delivered against expected. Materials with
// nothing delivered yet belong to no class.
type DeliveryStatus string

const (
	StatusSurplus DeliveryStatus = "surplus"
	StatusDeficit DeliveryStatus = "deficit"
	StatusExact   DeliveryStatus = "exact"
)

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	switch st := DeliveryStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StatusSurplus, StatusDeficit, StatusExact:
		return st, nil
	}
	return "", fmt.Errorf("materials: unknown delivery status %q", s)
}

// Matches reports whether m is in class s. The empty status matches all.
func (s DeliveryStatus) Matches(m Material) bool {
	if s == "" {
		return true
	}
	return m.DeliveryStatus() == s
}

func (m Material) DeliveryStatus() DeliveryStatus {
	expected := decimal.NewFromInt(m.ExpectedQty)
	switch {
	case !m.Delivered.IsPositive():
		return ""
	case m.Delivered.GreaterThan(expected):
		return StatusSurplus
	case m.Delivered.LessThan(expected):
		return StatusDeficit
	default:
		return StatusExact
	}
}

// Variance is delivered - expected.
func (m Material) Variance() decimal.Decimal {
	return m.Delivered.Sub(decimal.NewFromInt(m.ExpectedQty))
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	Category string
	Status   DeliveryStatus
}

var ErrFractionalStock = errors.New("materials: fractional quantities recorded, category must stay measured in metres")

// CheckCategoryChange refuses to move a material from metres to pieces while
// it carries fractional quantities, either on its counters or on any log
// (fractionalLogs).
func (m Material) CheckCategoryChange(category string, fractionalLogs bool) error {
	if !m.AllowsFraction() || IsContinuous(category) {
		return nil
	}
	if fractionalLogs || !isWhole(m.Delivered) || !isWhole(m.Issued) {
		return ErrFractionalStock
	}
	return nil
}

func isWhole(d decimal.Decimal) bool { return d.Equal(d.Truncate(0)) }
