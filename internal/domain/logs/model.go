package logs

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/materials"
)

type Type string

const (
	TypeDelivery Type = "delivery"
	TypeIssuance Type = "issuance"
)

func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeDelivery, TypeIssuance:
		return t, nil
	}
	return "", fmt.Errorf("logs: unknown log type %q", s)
}

// Table is the collection the type is stored in.
func (t Type) Table() string {
	if t == TypeIssuance {
		return "issuance_logs"
	}
	return "delivery_logs"
}

// ReportLabel is the wording used on inspection reports.
func (t Type) ReportLabel() string {
	if t == TypeIssuance {
		return "ISSUED"
	}
	return "DELIVERED"
}

// Snapshot is the part of the material copied onto a log when it is created.
// It is never refreshed, so history still reads correctly after the catalog
// entry changes.
type Snapshot struct {
	Description string
	Category    string
	Grade       string
	BoreSize1   string
	BoreSize2   string
	Supplier    string
}

func SnapshotOf(m materials.Material) Snapshot {
	return Snapshot{
		Description: m.Description,
		Category:    m.Category,
		Grade:       m.Grade,
		BoreSize1:   m.BoreSize1,
		BoreSize2:   m.BoreSize2,
		Supplier:    m.Supplier,
	}
}

type Entry struct {
	ID           string
	Type         Type
	MaterialID   string
	Quantity     decimal.Decimal
	Date         time.Time
	Remarks      string
	Snapshot     Snapshot
	CreatedBy    string
	CreatedAt    time.Time
	LastEditedBy string
	LastEditedAt time.Time
}
