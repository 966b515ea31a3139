package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitsl/material-tracker/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) PreviewReport(w http.ResponseWriter, r *http.Request) {
	day, err := h.reports.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	rows, err := h.reports.Preview(r.Context(), day)
	if err != nil {
		h.writeFailure(w, r, "No report for that day", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	day, err := h.reports.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	var by report.Signatory
	if h.signatory != nil {
		by = h.signatory(callerFrom(r.Context()))
	}
	data, err := h.reports.Workbook(r.Context(), day, by)
	if err != nil {
		h.writeFailure(w, r, "No report for that day", err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(day)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
