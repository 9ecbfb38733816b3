package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"

	"cashclose/internal/domain"
	"cashclose/internal/service"
	"cashclose/internal/store"
)

const defaultLoginRate = "5-M"

type Options struct {
	AllowedOrigin string
	LoginRate     string // limiter format, e.g. "5-M" for five per minute
	Logger        zerolog.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *limiter.Limiter
	logger        zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) (*API, error) {
	formatted := strings.TrimSpace(opts.LoginRate)
	if formatted == "" {
		formatted = defaultLoginRate
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid login rate %q: %w", formatted, err)
	}

	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  limiter.New(limitermemory.NewStore(), rate),
		logger:        opts.Logger.With().Str("component", "httpapi").Logger(),
	}, nil
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/cash-register/closure", a.requireAuth(a.handleClosure, domain.RoleAdmin, domain.RoleSuperAdmin))
	mux.HandleFunc("/api/v1/cash-register/closures", a.requireAuth(a.handleClosures, domain.RoleAdmin, domain.RoleSuperAdmin))

	mux.HandleFunc("/api/v1/sessions/open", a.requireAuth(a.handleSessionOpen))
	mux.HandleFunc("/api/v1/sessions/active", a.requireAuth(a.handleSessionActive))
	mux.HandleFunc("/api/v1/sessions/{id}/reopen", a.requireAuth(a.handleSessionReopen, domain.RoleAdmin, domain.RoleSuperAdmin))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin, domain.RoleSuperAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
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

// branchContext derives the caller's branch context from the token claims.
// Only super admins may act without a branch of their own.
func branchContext(r *http.Request) (domain.BranchContext, error) {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		return domain.BranchContext{}, errors.New("missing actor")
	}
	bc := domain.BranchContext{
		BranchID:       strings.TrimSpace(actor.BranchID),
		IsSuperAdmin:   actor.IsSuperAdmin(),
		OrganizationID: actor.OrganizationID,
	}
	if !bc.IsSuperAdmin && bc.BranchID == "" {
		return bc, &service.FieldError{Field: "branch_id", Code: service.CodeBranchRequired}
	}
	return bc, nil
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	limit, err := a.loginLimiter.Get(r.Context(), clientKey(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(limit.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(limit.Reset, 10))
	if limit.Reached {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClosure(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleClosureSummary(w, r)
	case http.MethodPost:
		a.handleCloseDay(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleClosureSummary(w http.ResponseWriter, r *http.Request) {
	bc, err := branchContext(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	query := r.URL.Query()
	format := strings.ToLower(strings.TrimSpace(query.Get("format")))

	summary, err := a.service.ClosureSummary(r.Context(), bc, query.Get("branch_id"), query.Get("date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"closure-%s-%s.csv\"", summary.BranchID, summary.Date))
		_, _ = w.Write([]byte(closureSummaryToCSV(summary)))
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (a *API) handleCloseDay(w http.ResponseWriter, r *http.Request) {
	bc, err := branchContext(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	var req domain.ClosureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.CloseDay(r.Context(), bc, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleClosures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	bc, err := branchContext(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			a.writeServiceError(w, r, &service.FieldError{Field: "limit", Code: service.CodeLimitInvalid})
			return
		}
		limit = parsed
	}

	resp, err := a.service.ListClosures(r.Context(), bc, query.Get("branch_id"), query.Get("from"), query.Get("to"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	bc, err := branchContext(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	var req domain.SessionOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenSession(r.Context(), bc, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleSessionActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	bc, err := branchContext(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	resp, err := a.service.GetActiveSession(r.Context(), bc, r.URL.Query().Get("branch_id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionReopen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	bc, err := branchContext(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}

	resp, err := a.service.ReopenSession(r.Context(), bc, sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	bc, err := branchContext(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), bc, query.Get("branch_id"), query.Get("date"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

func closureSummaryToCSV(summary domain.ClosureSummary) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,date,%s", summary.Date),
		fmt.Sprintf("summary,branch_id,%s", summary.BranchID),
		fmt.Sprintf("summary,pos_session_id,%s", summary.PosSessionID),
		fmt.Sprintf("summary,payment_source,%s", summary.PaymentSource),
		fmt.Sprintf("summary,total_transactions,%d", summary.TotalTransactions),
		fmt.Sprintf("summary,total_sales,%s", summary.TotalSales),
		fmt.Sprintf("summary,total_subtotal,%s", summary.TotalSubtotal),
		fmt.Sprintf("summary,total_tax,%s", summary.TotalTax),
		fmt.Sprintf("summary,total_discounts,%s", summary.TotalDiscounts),
		fmt.Sprintf("cash,opening_cash_amount,%s", summary.OpeningCashAmount),
		fmt.Sprintf("cash,expected_cash,%s", summary.ExpectedCash),
		fmt.Sprintf("payment,%s,%s", domain.PaymentMethodCash, summary.CashSales),
		fmt.Sprintf("payment,%s,%s", domain.PaymentMethodDebit, summary.DebitCardSales),
		fmt.Sprintf("payment,%s,%s", domain.PaymentMethodCredit, summary.CreditCardSales),
		fmt.Sprintf("payment,%s,%s", domain.PaymentMethodTransfer, summary.TransferSales),
		fmt.Sprintf("payment,%s,%s", domain.PaymentMethodInstallments, summary.InstallmentsSales),
		fmt.Sprintf("payment,other,%s", summary.OtherPaymentSales),
	}
	for _, order := range summary.Orders {
		lines = append(lines, fmt.Sprintf("order,%s,%s", order.ID, order.TotalAmount))
	}
	return strings.Join(lines, "\n") + "\n"
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
	Code    string `json:"code,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// writeServiceError maps service and store errors onto HTTP statuses.
// Storage failures keep the driver's message, code and hint.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fieldErr *service.FieldError
	var queryErr *store.QueryError

	switch {
	case errors.As(err, &fieldErr):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   localize(r, fieldErr.Code),
			Details: err.Error(),
			Code:    fieldErr.Code,
		})
	case errors.Is(err, store.ErrClosureExists):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   localize(r, msgClosureExists),
			Details: err.Error(),
			Code:    msgClosureExists,
		})
	case errors.Is(err, store.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Details: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Details: err.Error()})
	case errors.As(err, &queryErr):
		a.logger.Error().Err(err).
			Str("op", queryErr.Op).
			Str("code", queryErr.Code).
			Str("path", r.URL.Path).
			Msg("storage error")
		message := strings.TrimSuffix(err.Error(), ": "+queryErr.Error())
		if message == err.Error() {
			message = localize(r, msgStorageError)
		}
		details := queryErr.Message
		if details == "" && queryErr.Err != nil {
			details = queryErr.Err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:   message,
			Details: details,
			Code:    queryErr.Code,
			Hint:    queryErr.Hint,
		})
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error: localize(r, msgInternalError),
		})
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError is for auth and transport failures that never carry internal
// details. Service errors go through writeServiceError.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
