package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sitsl/material-tracker/internal/domain/materials"
)

func (h *Handler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := materials.ParseDeliveryStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status filter", err)
		return
	}
	filter := materials.Filter{Category: strings.TrimSpace(q.Get("category")), Status: status}
	list, err := h.materials.List(r.Context(), filter)
	if err != nil {
		h.writeFailure(w, r, "Failed to list materials", err)
		return
	}
	dtos := make([]MaterialDTO, 0, len(list))
	for _, m := range list {
		dtos = append(dtos, toMaterialDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetMaterial(w http.ResponseWriter, r *http.Request) {
	m, err := h.materials.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, "Failed to get material", err)
		return
	}
	writeJSON(w, http.StatusOK, toMaterialDTO(*m))
}

func (h *Handler) CreateMaterial(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireEditor(w, r)
	if !ok {
		return
	}
	var req MaterialRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.materials.Create(r.Context(), req.details())
	if err != nil {
		h.writeFailure(w, r, "Failed to create material", err)
		return
	}
	h.log.Info("material created", "id", m.ID, "description", m.Description, "actor", caller.Email)
	writeJSON(w, http.StatusCreated, toMaterialDTO(*m))
}

// UpdateMaterial edits catalog fields. Logs keep the snapshot they were
// created with.
func (h *Handler) UpdateMaterial(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireEditor(w, r)
	if !ok {
		return
	}
	var req MaterialRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.materials.UpdateDetails(r.Context(), chi.URLParam(r, "id"), req.details())
	if err != nil {
		h.writeFailure(w, r, "Failed to update material", err)
		return
	}
	h.log.Info("material updated", "id", m.ID, "actor", caller.Email)
	writeJSON(w, http.StatusOK, toMaterialDTO(*m))
}

// DeleteMaterial removes the material together with all its logs.
func (h *Handler) DeleteMaterial(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireEditor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.materials.Delete(r.Context(), id); err != nil {
		h.writeFailure(w, r, "Failed to delete material", err)
		return
	}
	h.log.Info("material deleted", "id", id, "actor", caller.Email)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MaterialOptions(w http.ResponseWriter, r *http.Request) {
	o, err := h.materials.Options(r.Context())
	if err != nil {
		h.writeFailure(w, r, "Failed to load options", err)
		return
	}
	writeJSON(w, http.StatusOK, OptionsDTO{
		Categories: nonNil(o.Categories),
		Suppliers:  nonNil(o.Suppliers),
		Grades:     nonNil(o.Grades),
		BoreSizes1: nonNil(o.BoreSizes1),
		BoreSizes2: nonNil(o.BoreSizes2),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	t, err := h.materials.Totals(r.Context())
	if err != nil {
		h.writeFailure(w, r, "Failed to load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		Materials:   t.Materials,
		ExpectedQty: t.ExpectedQty,
		Delivered:   t.Delivered,
		Issued:      t.Issued,
		Balance:     t.Delivered.Sub(t.Issued),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
