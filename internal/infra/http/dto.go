package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
)

type MaterialRequest struct {
	Description string `json:"description" validate:"required,max=500"`
	Category    string `json:"category" validate:"required,max=100"`
	Supplier    string `json:"supplier" validate:"required,max=200"`
	Grade       string `json:"grade" validate:"max=100"`
	BoreSize1   string `json:"boreSize1" validate:"max=50"`
	BoreSize2   string `json:"boreSize2" validate:"max=50"`
	ExpectedQty int64  `json:"expectedQty" validate:"gte=0"`
}

func (m MaterialRequest) details() materials.Details {
	return materials.Details{
		Description: m.Description,
		Category:    m.Category,
		Supplier:    m.Supplier,
		Grade:       m.Grade,
		BoreSize1:   m.BoreSize1,
		BoreSize2:   m.BoreSize2,
		ExpectedQty: m.ExpectedQty,
	}
}

type MaterialDTO struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Supplier    string          `json:"supplier"`
	Grade       string          `json:"grade"`
	BoreSize1   string          `json:"boreSize1"`
	BoreSize2   string          `json:"boreSize2,omitempty"`
	Unit        string          `json:"unit"`
	ExpectedQty int64           `json:"expectedQty"`
	Delivered   decimal.Decimal `json:"delivered"`
	Issued      decimal.Decimal `json:"issued"`
	Balance     decimal.Decimal `json:"balance"`
	Variance    decimal.Decimal `json:"variance"`         // delivered - expected
	Status      string          `json:"status,omitempty"` // surplus, deficit or exact
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func toMaterialDTO(m materials.Material) MaterialDTO {
	return MaterialDTO{
		ID:          m.ID,
		Description: m.Description,
		Category:    m.Category,
		Supplier:    m.Supplier,
		Grade:       m.Grade,
		BoreSize1:   m.BoreSize1,
		BoreSize2:   m.BoreSize2,
		Unit:        string(m.Unit()),
		ExpectedQty: m.ExpectedQty,
		Delivered:   m.Delivered,
		Issued:      m.Issued,
		Balance:     m.Balance(),
		Variance:    m.Variance(),
		Status:      string(m.DeliveryStatus()),
		UpdatedAt:   m.UpdatedAt,
	}
}

type OptionsDTO struct {
	Categories []string `json:"categories"`
	Suppliers  []string `json:"suppliers"`
	Grades     []string `json:"grades"`
	BoreSizes1 []string `json:"boreSizes1"`
	BoreSizes2 []string `json:"boreSizes2"`
}

type StatsDTO struct {
	Materials   int64           `json:"materials"`
	ExpectedQty int64           `json:"expectedQty"`
	Delivered   decimal.Decimal `json:"delivered"`
	Issued      decimal.Decimal `json:"issued"`
	Balance     decimal.Decimal `json:"balance"`
}

// LogRequest is the body of log create and edit calls. PreviousQuantity is
// the quantity the client last saw; when sent it must still match.
type LogRequest struct {
	MaterialID       string           `json:"materialId" validate:"required,max=64"`
	Quantity         decimal.Decimal  `json:"quantity"`
	PreviousQuantity *decimal.Decimal `json:"previousQuantity,omitempty"`
	Date             string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Remarks          string           `json:"remarks" validate:"max=500"`
}

type LogDTO struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	MaterialID   string          `json:"materialId"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	Date         string          `json:"date"`
	Remarks      string          `json:"remarks,omitempty"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Grade        string          `json:"grade"`
	BoreSize1    string          `json:"boreSize1"`
	BoreSize2    string          `json:"boreSize2,omitempty"`
	Supplier     string          `json:"supplier"`
	CreatedBy    string          `json:"createdBy"`
	LastEditedBy string          `json:"lastEditedBy"`
	LastEditedAt time.Time       `json:"lastEditedAt"`
}

func toLogDTO(e logs.Entry, loc *time.Location) LogDTO {
	return LogDTO{
		ID:           e.ID,
		Type:         string(e.Type),
		MaterialID:   e.MaterialID,
		Quantity:     e.Quantity,
		Unit:         string(materials.UnitFor(e.Snapshot.Category)),
		Date:         e.Date.In(loc).Format(dateLayout),
		Remarks:      e.Remarks,
		Description:  e.Snapshot.Description,
		Category:     e.Snapshot.Category,
		Grade:        e.Snapshot.Grade,
		BoreSize1:    e.Snapshot.BoreSize1,
		BoreSize2:    e.Snapshot.BoreSize2,
		Supplier:     e.Snapshot.Supplier,
		CreatedBy:    e.CreatedBy,
		LastEditedBy: e.LastEditedBy,
		LastEditedAt: e.LastEditedAt,
	}
}

// MutationDTO is returned by every log write: the log (absent after delete)
// and the material counters it left behind.
type MutationDTO struct {
	Log      *LogDTO     `json:"log,omitempty"`
	Material MaterialDTO `json:"material"`
}

const dateLayout = "2006-01-02"
