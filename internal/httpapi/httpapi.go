package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/offer"
	"coursecart/backend/internal/service"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/tracing"
	"coursecart/backend/internal/upstream"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       http.Handler
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, metrics http.Handler, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		log.Fatal().Err(err).Msg("generate csrf secret")
	}
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &API{
		service:       svc,
		auth:          auth,
		metrics:       metrics,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour signs an hour bucket given as a truncated unix time.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens of the current and the previous hour.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
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

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", a.metrics)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, staffRoles...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, adminRoles...))

	mux.HandleFunc("POST /api/v1/baskets", a.requireAuth(a.handleCreateBasket, staffRoles...))
	mux.HandleFunc("GET /api/v1/baskets/{id}", a.requireAuth(a.handleGetBasket, staffRoles...))
	mux.HandleFunc("POST /api/v1/baskets/{id}/lines", a.requireAuth(a.handleAddBasketLine, staffRoles...))
	mux.HandleFunc("DELETE /api/v1/baskets/{id}/lines/{line}", a.requireAuth(a.handleRemoveBasketLine, staffRoles...))
	mux.HandleFunc("PATCH /api/v1/baskets/{id}/attributes", a.requireAuth(a.handleBasketAttributes, staffRoles...))
	mux.HandleFunc("POST /api/v1/baskets/{id}/vouchers", a.requireAuth(a.handleApplyVoucher, staffRoles...))
	mux.HandleFunc("DELETE /api/v1/baskets/{id}/vouchers/{code}", a.requireAuth(a.handleRemoveVoucher, staffRoles...))
	mux.HandleFunc("POST /api/v1/baskets/{id}/calculate", a.requireAuth(a.handleCalculateBasket, staffRoles...))
	mux.HandleFunc("POST /api/v1/baskets/{id}/order", a.requireAuth(a.handlePlaceOrder, staffRoles...))

	mux.HandleFunc("GET /api/v1/orders/{number}", a.requireAuth(a.handleGetOrder, staffRoles...))
	mux.HandleFunc("POST /api/v1/orders/{number}/fulfill", a.requireAuth(a.handleFulfillOrder, adminRoles...))

	mux.HandleFunc("GET /api/v1/refunds", a.requireAuth(a.handleListRefunds, adminRoles...))
	mux.HandleFunc("POST /api/v1/refunds", a.requireAuth(a.handleCreateRefund, adminRoles...))
	mux.HandleFunc("GET /api/v1/refunds/{id}", a.requireAuth(a.handleGetRefund, adminRoles...))
	mux.HandleFunc("POST /api/v1/refunds/{id}/approve", a.requireAuth(a.handleRefundDecision(true), adminRoles...))
	mux.HandleFunc("POST /api/v1/refunds/{id}/deny", a.requireAuth(a.handleRefundDecision(false), adminRoles...))

	mux.HandleFunc("GET /api/v1/offers", a.requireAuth(a.handleListOffers, adminRoles...))
	mux.HandleFunc("POST /api/v1/offers", a.requireAuth(a.handleCreateOffer, adminRoles...))
	mux.HandleFunc("GET /api/v1/offers/{id}", a.requireAuth(a.handleGetOffer, adminRoles...))
	mux.HandleFunc("PATCH /api/v1/offers/{id}/status", a.requireAuth(a.handleOfferStatus, adminRoles...))

	mux.HandleFunc("GET /api/v1/vouchers", a.requireAuth(a.handleListVouchers, adminRoles...))
	mux.HandleFunc("POST /api/v1/vouchers", a.requireAuth(a.handleCreateVoucher, adminRoles...))
	mux.HandleFunc("GET /api/v1/vouchers/{code}/assignments", a.requireAuth(a.handleListAssignments, adminRoles...))
	mux.HandleFunc("POST /api/v1/vouchers/{code}/assignments", a.requireAuth(a.handleAssignVoucher, adminRoles...))
	mux.HandleFunc("PATCH /api/v1/assignments/{id}", a.requireAuth(a.handleAssignmentStatus, adminRoles...))

	mux.HandleFunc("GET /api/v1/users/staff", a.requireAuth(a.handleListStaff, adminRoles...))
	mux.HandleFunc("POST /api/v1/users/staff", a.requireAuth(a.handleCreateStaff, adminRoles...))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, adminRoles...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.auth.Authorize(r.Header.Get("Authorization"), roles...)
		if errors.Is(err, errForbiddenRole) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
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

// handleCSRFToken hands out the token mutating requests must echo in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if slices.Contains(csrfExemptPaths, r.URL.Path) {
		return true
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleCreateBasket(w http.ResponseWriter, r *http.Request) {
	var req domain.BasketCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	basket, err := a.service.CreateBasket(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"basket": basket})
}

func (a *API) handleGetBasket(w http.ResponseWriter, r *http.Request) {
	id, ok := basketID(w, r)
	if !ok {
		return
	}
	basket, err := a.service.GetBasket(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"basket": basket})
}

func (a *API) handleAddBasketLine(w http.ResponseWriter, r *http.Request) {
	id, ok := basketID(w, r)
	if !ok {
		return
	}
	var req domain.BasketLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	basket, err := a.service.AddBasketLine(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"basket": basket})
}

func (a *API) handleRemoveBasketLine(w http.ResponseWriter, r *http.Request) {
	id, ok := basketID(w, r)
	if !ok {
		return
	}
	basket, err := a.service.RemoveBasketLine(r.Context(), id, r.PathValue("line"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"basket": basket})
}

func (a *API) handleBasketAttributes(w http.ResponseWriter, r *http.Request) {
	id, ok := basketID(w, r)
	if !ok {
		return
	}
	var req domain.BasketAttributeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	basket, err := a.service.SetBasketAttributes(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"basket": basket})
}

func (a *API) handleApplyVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := basketID(w, r)
	if !ok {
		return
	}
	var req domain.VoucherApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	basket, err := a.service.ApplyVoucher(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"basket": basket})
}

func (a *API) handleRemoveVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := basketID(w, r)
	if !ok {
		return
	}
	basket, err := a.service.RemoveVoucher(r.Context(), id, r.PathValue("code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"basket": basket})
}

func (a *API) handleCalculateBasket(w http.ResponseWriter, r *http.Request) {
	id, ok := basketID(w, r)
	if !ok {
		return
	}
	var req domain.BasketCalculateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if catalog := strings.TrimSpace(r.URL.Query().Get(offer.QueryParamCatalog)); catalog != "" {
		if req.QueryParams == nil {
			req.QueryParams = map[string]string{}
		}
		req.QueryParams[offer.QueryParamCatalog] = catalog
	}
	summary, err := a.service.CalculateBasket(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := basketID(w, r)
	if !ok {
		return
	}
	var req domain.OrderPlaceRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.PlaceOrder(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetOrder(r.Context(), r.PathValue("number"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleFulfillOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderFulfillRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.FulfillOrder(r.Context(), r.PathValue("number"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleListRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := a.service.ListRefunds(r.Context(), strings.TrimSpace(r.URL.Query().Get("order_number")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunds": refunds})
}

func (a *API) handleCreateRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	refund, err := a.service.CreateRefund(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"refund": refund})
}

func (a *API) handleGetRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := a.service.GetRefund(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refund": refund})
}

// handleRefundDecision approves or denies a refund. Both need the manager PIN.
func (a *API) handleRefundDecision(approve bool) http.HandlerFunc {
	action := "deny"
	if approve {
		action = "approve"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.RefundDecisionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !a.pinLimiter.Allow("pin:refund:" + clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		actor, _ := service.ActorFromContext(r.Context())
		if err := a.auth.AuthorizeRefundDecision(actor, req.ManagerPIN); err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}

		id := r.PathValue("id")
		var (
			resp domain.RefundDecisionResponse
			err  error
		)
		if approve {
			resp, err = a.service.ApproveRefund(r.Context(), id)
		} else {
			resp, err = a.service.DenyRefund(r.Context(), id)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !resp.Succeeded {
			log.Warn().Str("refund_id", id).Str("action", action).Str("status", resp.Refund.Status).Msg("refund decision incomplete")
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (a *API) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := a.service.ListOffers(r.Context(), strings.TrimSpace(r.URL.Query().Get("partner")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (a *API) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req domain.OfferCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := a.service.CreateOffer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"offer": created})
}

func (a *API) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	found, err := a.service.GetOffer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offer": found})
}

func (a *API) handleOfferStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.OfferStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := a.service.SetOfferStatus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offer": updated})
}

func (a *API) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := a.service.ListVouchers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vouchers": vouchers})
}

func (a *API) handleCreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req domain.VoucherCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	voucher, err := a.service.CreateVoucher(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"voucher": voucher})
}

func (a *API) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := a.service.ListAssignments(r.Context(), r.PathValue("code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (a *API) handleAssignVoucher(w http.ResponseWriter, r *http.Request) {
	var req domain.AssignmentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assignments, err := a.service.AssignVoucher(r.Context(), r.PathValue("code"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"assignments": assignments})
}

func (a *API) handleAssignmentStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.AssignmentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assignment, err := a.service.SetAssignmentStatus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignment": assignment})
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"staff": a.auth.ListStaff(r.Context())})
}

func (a *API) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateStaff(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrConflict) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("partner"), query.Get("date"), limit)
	if err != nil {
		writeServiceError(w, err)
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
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Body != nil && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !a.checkCSRF(w, r) {
			return
		}

		ctx, span := tracing.Tracer().Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).Msg("request")
	})
}

func basketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid basket id"))
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be left out.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
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

// statusFor maps service and store errors to HTTP statuses. Anything unrecognised is
// reported as unprocessable.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	case upstream.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internal detail.
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("request failed")
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
