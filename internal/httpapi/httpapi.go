package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/service"
	"kasirkredit/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	validate      *validator.Validate
	allowedOrigin string
	csrf          *csrfSigner
	router        http.Handler
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	var secret []byte
	if auth != nil {
		secret = auth.secret
	}
	a := &API{
		service:       svc,
		auth:          auth,
		validate:      validate,
		allowedOrigin: allowedOrigin,
		csrf:          newCSRFSigner(secret),
	}
	a.router = a.routes()
	return a
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders())
	r.Use(a.cors)
	r.Use(limitBody)
	r.Use(a.checkCSRF)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(rateLimit(5, time.Minute)).Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales/{saleID}", a.handleGetSale)
			r.Get("/stock", a.handleAvailability)

			r.Get("/clients/{clientID}/statement", a.handleClientStatement)
			r.Group(func(r chi.Router) {
				r.Use(rateLimit(30, time.Minute))
				r.Post("/clients/{clientID}/payments/preview", a.handlePaymentPreview)
				r.Post("/clients/{clientID}/payments", a.handleApplyPayment)
			})

			r.Post("/shifts/open", a.handleShiftOpen)
			r.Get("/shifts/active", a.handleShiftActive)
			r.Post("/shifts/{shiftID}/close", a.handleShiftClose)
			r.Post("/shifts/{shiftID}/expenses", a.handleAddExpense)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.With(rateLimit(8, time.Minute)).Post("/sales/{saleID}/void", a.handleVoidSale)
			r.Post("/stock/receipts", a.handleReceiveStock)
			r.Post("/clients", a.handleCreateClient)
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Post("/ledger/overdue-sweep", a.handleOverdueSweep)
			r.Get("/ledger/credit-drift", a.handleCreditDrift)
			r.Post("/ledger/credit-drift/repair", a.handleCreditDriftRepair)
			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(authorization) < len("bearer ") || !strings.EqualFold(authorization[:len("bearer ")], "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("bearer "):]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many requests, slow down"))
		}),
	)
}

// decode reads a JSON body into dest and runs its validate tags.
func (a *API) decode(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body too large", store.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", store.ErrValidation, err)
	}
	return a.check(dest)
}

func (a *API) check(value any) error {
	err := a.validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), rule))
	}
	return fmt.Errorf("%w: %s", store.ErrValidation, strings.Join(parts, "; "))
}

// errorKinds maps each domain error to its HTTP status and a stable code.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{store.ErrValidation, http.StatusBadRequest, "validation"},
	{store.ErrForbidden, http.StatusForbidden, "forbidden"},
	{store.ErrShiftNotFound, http.StatusNotFound, "shift_not_found"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{store.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{store.ErrCreditLimitExceeded, http.StatusConflict, "credit_limit_exceeded"},
	{store.ErrShiftAlreadyOpen, http.StatusConflict, "shift_already_open"},
	{store.ErrShiftClosed, http.StatusConflict, "shift_closed"},
}

func statusFor(err error) (int, string) {
	for _, kind := range errorKinds {
		if errors.Is(err, kind.err) {
			return kind.status, kind.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "persistence"
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	body := map[string]any{"error": err.Error(), "code": code}

	var stockErr *store.InsufficientStockError
	var creditErr *store.CreditLimitError
	switch {
	case status >= http.StatusInternalServerError:
		log.Error().Err(err).Int("status", status).Msg("http: request failed")
		body["error"] = store.ErrPersistence.Error()
	case errors.As(err, &stockErr):
		body["product_id"] = stockErr.ProductID
		body["available"] = stockErr.Available
		body["required"] = stockErr.Required
	case errors.As(err, &creditErr):
		body["client_id"] = creditErr.ClientID
		body["available_cents"] = creditErr.AvailableCents
		body["required_cents"] = creditErr.RequiredCents
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("http: internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
