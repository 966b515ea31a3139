package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sitsl/material-tracker/internal/domain/materials"
	"github.com/sitsl/material-tracker/internal/domain/users"
	"github.com/sitsl/material-tracker/internal/ledger"
	"github.com/sitsl/material-tracker/internal/logbook"
	"github.com/sitsl/material-tracker/internal/report"
)

const callerHeader = "X-User-Email"

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`

	// set for insufficient stock so the form can show what is left
	Available string `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeFailure maps domain and ledger errors onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500 without details.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		stock *ledger.InsufficientStockError
		qty   *ledger.InvalidQuantityError
	)
	switch {
	case errors.As(err, &stock):
		status, resp.Code = http.StatusUnprocessableEntity, "insufficient_stock"
		resp.Available = stock.Available.String()
	case errors.Is(err, ledger.ErrNegativeBalance):
		status, resp.Code = http.StatusUnprocessableEntity, "negative_balance"
	case errors.As(err, &qty):
		status, resp.Code = http.StatusUnprocessableEntity, "invalid_quantity"
	case errors.Is(err, materials.ErrFractionalStock):
		status, resp.Code = http.StatusUnprocessableEntity, "fractional_stock"
	case errors.Is(err, ledger.ErrInvalidMutation):
		status, resp.Code = http.StatusBadRequest, "invalid_mutation"
	case errors.Is(err, ledger.ErrMaterialNotFound), errors.Is(err, materials.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "material_not_found"
	case errors.Is(err, ledger.ErrLogNotFound):
		status, resp.Code = http.StatusNotFound, "log_not_found"
	case errors.Is(err, report.ErrNoData):
		status, resp.Code = http.StatusNotFound, "no_data"
	case errors.Is(err, ledger.ErrStaleLog):
		status, resp.Code = http.StatusConflict, "stale_log"
	case errors.Is(err, ledger.ErrTransactionFailed):
		status, resp.Code = http.StatusConflict, "transaction_failed"
	case errors.Is(err, logbook.ErrForbidden):
		status, resp.Code = http.StatusForbidden, "forbidden"
	}

	if status == http.StatusInternalServerError {
		h.log.Error(message, "method", r.Method, "path", r.URL.Path, "err", err)
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates its tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fmt.Sprintf("failed on %s", fe.Tag())
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
		return false
	}
	return true
}

type callerKey struct{}

// withCaller resolves the X-User-Email header into a users.Caller. The header
// is set by the authenticating proxy in front of the service.
func (h *Handler) withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.ToLower(strings.TrimSpace(r.Header.Get(callerHeader)))
		if email == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+callerHeader+" header", nil)
			return
		}
		role, err := h.roles.RoleByEmail(r.Context(), email)
		if err != nil {
			h.log.Error("resolve role", "email", email, "err", err)
			writeError(w, http.StatusInternalServerError, "Failed to resolve caller", nil)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, users.Caller{Email: email, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) users.Caller {
	c, _ := ctx.Value(callerKey{}).(users.Caller)
	return c
}

// requireEditor writes 403 and returns false for read-only callers.
func requireEditor(w http.ResponseWriter, r *http.Request) (users.Caller, bool) {
	c := callerFrom(r.Context())
	if !c.CanEdit() {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Only admins can change data", Code: "forbidden"})
		return c, false
	}
	return c, true
}
