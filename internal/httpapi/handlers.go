package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInactiveAccount) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns the token mutating requests must send in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.csrf.Issue()})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetSale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidSaleRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager PIN"))
		return
	}

	sale, err := a.service.VoidSale(r.Context(), chi.URLParam(r, "saleID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

// handleAvailability accepts product_id repeated or comma separated.
func (a *API) handleAvailability(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var productIDs []string
	for _, raw := range query["product_id"] {
		productIDs = append(productIDs, strings.Split(raw, ",")...)
	}

	resp, err := a.service.CheckAvailability(r.Context(), query.Get("store_id"), productIDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockReceiptRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	level, err := a.service.ReceiveStock(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": level})
}

func (a *API) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req domain.ClientCreateRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	client, err := a.service.CreateClient(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"client": client})
}

func (a *API) handleClientStatement(w http.ResponseWriter, r *http.Request) {
	statement, err := a.service.GetClientStatement(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (a *API) handlePaymentPreview(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := a.service.PreviewPayment(r.Context(), chi.URLParam(r, "clientID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := a.service.ApplyPayment(r.Context(), chi.URLParam(r, "clientID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetActiveShift(r.Context(), r.URL.Query().Get("store_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftCloseRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	req.ShiftID = chi.URLParam(r, "shiftID")

	resp, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req domain.ExpenseRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	req.ShiftID = chi.URLParam(r, "shiftID")

	expense, err := a.service.AddExpense(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("store_id"), query.Get("date"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleOverdueSweep(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.SweepOverdue(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreditDrift(w http.ResponseWriter, r *http.Request) {
	a.creditDrift(w, r, false)
}

func (a *API) handleCreditDriftRepair(w http.ResponseWriter, r *http.Request) {
	a.creditDrift(w, r, true)
}

func (a *API) creditDrift(w http.ResponseWriter, r *http.Request, repair bool) {
	drifts, err := a.service.CreditDrift(r.Context(), repair)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drift": drifts, "repair": repair})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := a.decode(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	user, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			writeServiceError(w, fmt.Errorf("%w: %w", store.ErrValidation, err))
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}
