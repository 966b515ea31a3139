// Package report builds the daily material inspection report from the
// delivery and issuance logs of one calendar day.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
)

const (
	notApplicable = "N/A"
	dateLayout    = "2006-01-02"
	headerRow     = 5
)

var ErrNoData = errors.New("report: no logs on that day")

type LogSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]logs.Entry, error)
}

type Row struct {
	SN          int    `json:"sn"`
	Description string `json:"description"`
	UOM         string `json:"uom"`
	Qty         string `json:"qty"`
	MatSAPNo    string `json:"matSapNo"`
	Type        string `json:"type"`
	Remarks     string `json:"remarks"`
	Supplier    string `json:"supplier"`
}

// Signatory fills the "received by" column of the footer.
type Signatory struct {
	Name     string
	Position string
}

type Service struct {
	src   LogSource
	title string
	loc   *time.Location
}

func NewService(src LogSource, title string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{src: src, title: title, loc: loc}
}

// ParseDate reads a YYYY-MM-DD day in the report time zone.
func (s *Service) ParseDate(v string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("report: bad date %q: %w", v, err)
	}
	return d, nil
}

// Preview lists the day's logs, deliveries first. A quiet day is an empty list.
func (s *Service) Preview(ctx context.Context, day time.Time) ([]Row, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 0, 1).Add(-time.Nanosecond)

	entries, err := s.src.ListBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("report: load logs: %w", err)
	}
	rows := make([]Row, 0, len(entries))
	for i, e := range entries {
		remarks := strings.TrimSpace(e.Remarks)
		if remarks == "" {
			remarks = notApplicable
		}
		rows = append(rows, Row{
			SN:          i + 1,
			Description: e.Snapshot.Description,
			UOM:         string(materials.UnitFor(e.Snapshot.Category)),
			Qty:         e.Quantity.String(),
			MatSAPNo:    notApplicable,
			Type:        e.Type.ReportLabel(),
			Remarks:     remarks,
			Supplier:    e.Snapshot.Supplier,
		})
	}
	return rows, nil
}

// Workbook renders the day's report as xlsx bytes.
func (s *Service) Workbook(ctx context.Context, day time.Time, by Signatory) ([]byte, error) {
	rows, err := s.Preview(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "MIR"
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		return nil, fmt.Errorf("report: sheet: %w", err)
	}

	if err := f.SetCellValue(sheet, "A1", s.title); err != nil {
		return nil, fmt.Errorf("report: title: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A3", &[]interface{}{"DATE:", day.Format(dateLayout)}); err != nil {
		return nil, fmt.Errorf("report: date: %w", err)
	}

	header := []interface{}{"S/N", "Description", "UOM", "Qty", "Mat. SAP No", "Type", "Remarks", "Supplier"}
	if err := setRow(f, sheet, headerRow, header); err != nil {
		return nil, fmt.Errorf("report: header: %w", err)
	}

	row := headerRow + 1
	for _, r := range rows {
		excelRow := []interface{}{r.SN, r.Description, r.UOM, r.Qty, r.MatSAPNo, r.Type, r.Remarks, r.Supplier}
		if err := setRow(f, sheet, row, excelRow); err != nil {
			return nil, fmt.Errorf("report: row %d: %w", r.SN, err)
		}
		row++
	}

	// one blank line, then the signature block
	row++
	footer := [][]interface{}{
		{"", "RECEIVED BY", fmt.Sprintf("WITNESSED BY (%s)", strings.ToUpper(topSupplier(rows))), "APPROVED BY"},
		{"NAME:", by.Name, "", ""},
		{"POSITION:", by.Position, "", ""},
		{"SIGNATURE:", "", "", ""},
		{"DATE:", day.Format(dateLayout), "", ""},
	}
	for _, line := range footer {
		if err := setRow(f, sheet, row, line); err != nil {
			return nil, fmt.Errorf("report: footer: %w", err)
		}
		row++
	}

	for col, width := range map[string]float64{"A": 10, "B": 48, "G": 28, "H": 24} {
		_ = f.SetColWidth(sheet, col, col, width)
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("report: write: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName is the attachment name for the day's workbook.
func FileName(day time.Time) string {
	return fmt.Sprintf("MIR_%s.xlsx", day.Format("20060102"))
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// topSupplier is the supplier named on most rows; ties go to the
// alphabetically first.
func topSupplier(rows []Row) string {
	counts := map[string]int{}
	for _, r := range rows {
		if s := strings.TrimSpace(r.Supplier); s != "" {
			counts[s]++
		}
	}
	if len(counts) == 0 {
		return notApplicable
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names[0]
}
