package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/ledger"
)

func (h *Handler) logType(w http.ResponseWriter, r *http.Request) (logs.Type, bool) {
	t, err := logs.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown log type (use delivery or issuance)", err)
		return "", false
	}
	return t, true
}

// ListLogs returns the newest logs of a type, or every log of one material
// when ?materialId is given.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	t, ok := h.logType(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var (
		entries []logs.Entry
		err     error
	)
	if id := q.Get("materialId"); id != "" {
		entries, err = h.logs.ListByMaterial(r.Context(), t, id)
	} else {
		limit := 0
		if v := q.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, "Invalid limit", err)
				return
			}
		}
		entries, err = h.logs.ListByType(r.Context(), t, limit)
	}
	if err != nil {
		h.writeFailure(w, r, "Failed to list logs", err)
		return
	}

	dtos := make([]LogDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLogDTO(e, h.loc))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateLog(w http.ResponseWriter, r *http.Request) {
	h.writeLog(w, r, ledger.KindCreate, http.StatusCreated)
}

func (h *Handler) UpdateLog(w http.ResponseWriter, r *http.Request) {
	h.writeLog(w, r, ledger.KindUpdate, http.StatusOK)
}

func (h *Handler) writeLog(w http.ResponseWriter, r *http.Request, kind ledger.Kind, status int) {
	t, ok := h.logType(w, r)
	if !ok {
		return
	}
	var req LogRequest
	if !h.decode(w, r, &req) {
		return
	}

	m := ledger.Mutation{
		Kind:        kind,
		Type:        t,
		MaterialID:  req.MaterialID,
		NewQuantity: req.Quantity,
		LogID:       chi.URLParam(r, "id"),
		Remarks:     req.Remarks,
	}
	if req.PreviousQuantity != nil {
		m.PreviousQuantity = *req.PreviousQuantity
	}
	if req.Date != "" {
		// validated by the datetime tag
		m.Date, _ = time.ParseInLocation(dateLayout, req.Date, h.loc)
	}

	h.record(w, r, m, status)
}

// DeleteLog takes the owning material as ?materialId and optionally the
// quantity the client saw as ?previousQuantity.
func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	t, ok := h.logType(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	m := ledger.Mutation{
		Kind:       ledger.KindDelete,
		Type:       t,
		MaterialID: q.Get("materialId"),
		LogID:      chi.URLParam(r, "id"),
	}
	if v := q.Get("previousQuantity"); v != "" {
		prev, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid previousQuantity", err)
			return
		}
		m.PreviousQuantity = prev
	}
	h.record(w, r, m, http.StatusOK)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request, m ledger.Mutation, status int) {
	res, err := h.recorder.Record(r.Context(), callerFrom(r.Context()), m)
	if err != nil {
		h.writeFailure(w, r, "Log was not saved", err)
		return
	}
	out := MutationDTO{Material: toMaterialDTO(res.Material)}
	if m.Kind != ledger.KindDelete {
		dto := toLogDTO(res.Log, h.loc)
		out.Log = &dto
	}
	writeJSON(w, status, out)
}
