package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"DeficitLedger/internal/core"
	"DeficitLedger/internal/event"
	"DeficitLedger/internal/observability"
	"DeficitLedger/internal/projection"
	"DeficitLedger/internal/query"
)

// EventSubmitter sends an event into the single-writer core and reports the
// outcome. The handler's rejection error surfaces here. Snapshot captures a
// consistent view of core state through the same command loop.
type EventSubmitter interface {
	Submit(ctx context.Context, evt event.Event) error
	Snapshot(ctx context.Context) (*core.SnapshotState, error)
}

// HTTPServer serves the controller API (liquidate, redeem, swap), the open
// reclaim endpoint, read-only queries over the projections, and health probes.
type HTTPServer struct {
	router          chi.Router
	httpServer      *http.Server
	addr            string
	submitter       EventSubmitter
	queryService    *query.QueryService
	db              *sql.DB
	controllerToken string
	healthChecker   *observability.HealthChecker
	metrics         *observability.Metrics
	logger          zerolog.Logger
}

// HTTPServerDeps holds the dependencies the HTTP surface needs.
type HTTPServerDeps struct {
	Submitter       EventSubmitter
	QueryService    *query.QueryService
	DB              *sql.DB
	ControllerToken string
	HealthChecker   *observability.HealthChecker
	Metrics         *observability.Metrics
	Logger          zerolog.Logger
}

// NewHTTPServer builds the router with all routes registered.
func NewHTTPServer(addr string, deps *HTTPServerDeps) *HTTPServer {
	s := &HTTPServer{
		addr:            addr,
		submitter:       deps.Submitter,
		queryService:    deps.QueryService,
		db:              deps.DB,
		controllerToken: deps.ControllerToken,
		healthChecker:   deps.HealthChecker,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if s.healthChecker != nil {
		r.Get("/healthz", s.healthChecker.LivenessHandler)
		r.Get("/readyz", s.healthChecker.ReadinessHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Controller-only operations
		r.Group(func(r chi.Router) {
			r.Use(s.requireController)
			r.Post("/liquidate", s.handleLiquidate)
			r.Post("/redeem", s.handleRedeem)
			r.Post("/swap", s.handleSwap)
			r.Post("/admin/rebuild-projections", s.handleRebuildProjections)
			r.Get("/admin/integrity", s.handleVerifyIntegrity)
		})

		// Reclaim is open to any claim holder; the core verifies the
		// holder's claim balance
		r.Post("/reclaim", s.handleReclaim)

		// Read-only queries
		r.Get("/treasury", s.handleGetTreasury)
		r.Get("/pools/{poolID}", s.handleGetPool)
		r.Get("/pools/{poolID}/claims", s.handleListPoolClaims)
		r.Get("/loans/{loanID}/claim", s.handleGetClaim)
		r.Get("/settlements", s.handleListSettlements)
		r.Get("/journals", s.handleListJournals)
	})

	s.router = r
	return s
}

// Router exposes the handler for tests.
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// requireController enforces the bearer token for control operations.
func (s *HTTPServer) requireController(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || s.controllerToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.controllerToken)) != 1 {
			s.writeError(w, r, core.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Control operations ---

type liquidateRequest struct {
	RequestID   string `json:"request_id"`
	LoanID      string `json:"loan_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (s *HTTPServer) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, r, "invalid request body")
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeBadRequest(w, r, "invalid request_id")
		return
	}
	loanID, err := uuid.Parse(req.LoanID)
	if err != nil {
		s.writeBadRequest(w, r, "invalid loan_id")
		return
	}

	s.submitControl(w, r, "liquidate", &event.LiquidateLoan{
		RequestID: requestID,
		Loan:      loanID,
		Sequence:  req.Sequence,
		Timestamp: time.UnixMicro(req.TimestampUs),
	})
}

type redeemRequest struct {
	RequestID   string `json:"request_id"`
	LoanID      string `json:"loan_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (s *HTTPServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, r, "invalid request body")
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeBadRequest(w, r, "invalid request_id")
		return
	}
	loanID, err := uuid.Parse(req.LoanID)
	if err != nil {
		s.writeBadRequest(w, r, "invalid loan_id")
		return
	}

	s.submitControl(w, r, "redeem", &event.RedeemLoan{
		RequestID: requestID,
		Loan:      loanID,
		Sequence:  req.Sequence,
		Timestamp: time.UnixMicro(req.TimestampUs),
	})
}

type reclaimRequest struct {
	RequestID   string `json:"request_id"`
	LoanID      string `json:"loan_id"`
	HolderID    string `json:"holder_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (s *HTTPServer) handleReclaim(w http.ResponseWriter, r *http.Request) {
	var req reclaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, r, "invalid request body")
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeBadRequest(w, r, "invalid request_id")
		return
	}
	loanID, err := uuid.Parse(req.LoanID)
	if err != nil {
		s.writeBadRequest(w, r, "invalid loan_id")
		return
	}
	holderID, err := uuid.Parse(req.HolderID)
	if err != nil {
		s.writeBadRequest(w, r, "invalid holder_id")
		return
	}
	if req.Amount <= 0 {
		s.writeBadRequest(w, r, "amount must be positive")
		return
	}

	s.submitControl(w, r, "reclaim", &event.ReclaimDeficit{
		RequestID: requestID,
		Loan:      loanID,
		Holder:    holderID,
		Amount:    req.Amount,
		Sequence:  req.Sequence,
		Timestamp: time.UnixMicro(req.TimestampUs),
	})
}

type swapRequest struct {
	SwapID      string `json:"swap_id"`
	RoutingData string `json:"routing_data"` // base64
	MinReturn   int64  `json:"min_return"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (s *HTTPServer) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, r, "invalid request body")
		return
	}

	swapID, err := uuid.Parse(req.SwapID)
	if err != nil {
		s.writeBadRequest(w, r, "invalid swap_id")
		return
	}
	routingData, err := base64.StdEncoding.DecodeString(req.RoutingData)
	if err != nil {
		s.writeBadRequest(w, r, "invalid routing_data")
		return
	}
	if req.MinReturn <= 0 {
		s.writeBadRequest(w, r, "min_return must be positive")
		return
	}

	s.submitControl(w, r, "swap", &event.SwapTreasury{
		SwapID:      swapID,
		RoutingData: routingData,
		MinReturn:   req.MinReturn,
		Sequence:    req.Sequence,
		Timestamp:   time.UnixMicro(req.TimestampUs),
	})
}

func (s *HTTPServer) submitControl(w http.ResponseWriter, r *http.Request, endpoint string, evt event.Event) {
	start := time.Now()
	err := s.submitter.Submit(r.Context(), evt)
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.Warn().
			Str("endpoint", endpoint).
			Str("idempotency_key", evt.IdempotencyKey()).
			Err(err).
			Msg("control operation rejected")
		s.writeError(w, r, err)
		return
	}

	s.recordRequest(endpoint, "ok")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted":        true,
		"idempotency_key": evt.IdempotencyKey(),
	})
}

// --- Queries ---

func (s *HTTPServer) handleGetTreasury(w http.ResponseWriter, r *http.Request) {
	balances, err := s.queryService.GetTreasuryBalances(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordRequest("treasury", "ok")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

func (s *HTTPServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		s.writeBadRequest(w, r, "invalid pool id")
		return
	}

	pool, err := s.queryService.GetPool(r.Context(), poolID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordRequest("pool", "ok")
	s.writeJSON(w, http.StatusOK, pool)
}

func (s *HTTPServer) handleListPoolClaims(w http.ResponseWriter, r *http.Request) {
	poolID, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		s.writeBadRequest(w, r, "invalid pool id")
		return
	}

	claims, err := s.queryService.ListClaims(r.Context(), &poolID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordRequest("pool_claims", "ok")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"claims": claims})
}

func (s *HTTPServer) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		s.writeBadRequest(w, r, "invalid loan id")
		return
	}

	claim, err := s.queryService.GetClaim(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if claim == nil {
		s.writeError(w, r, core.ErrUnknownInstrument)
		return
	}
	s.recordRequest("claim", "ok")
	s.writeJSON(w, http.StatusOK, claim)
}

func (s *HTTPServer) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	var kind *string
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = &k
	}

	var loanID *uuid.UUID
	if l := r.URL.Query().Get("loan_id"); l != "" {
		id, err := uuid.Parse(l)
		if err != nil {
			s.writeBadRequest(w, r, "invalid loan_id")
			return
		}
		loanID = &id
	}

	limit := parseLimit(r, 50, 500)
	after := parseAfterSequence(r)

	settlements, err := s.queryService.ListSettlements(r.Context(), kind, loanID, limit, after)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordRequest("settlements", "ok")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": settlements})
}

func (s *HTTPServer) handleListJournals(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		s.writeBadRequest(w, r, "account query parameter is required")
		return
	}

	limit := parseLimit(r, 100, 500)
	after := parseAfterSequence(r)

	entries, err := s.queryService.GetJournalHistory(r.Context(), account, limit, after)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordRequest("journals", "ok")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

// --- Admin ---

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.db); err != nil {
		s.writeError(w, r, err)
		return
	}

	// Claims and deficits cannot be reconstructed from journals; they come
	// from a consistent capture of core state
	state, err := s.submitter.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	seeds := make([]projection.ClaimSeed, 0, len(state.Claims))
	for _, c := range state.Claims {
		seeds = append(seeds, projection.ClaimSeed{
			LoanID:      c.LoanID.String(),
			PoolID:      c.PoolID.String(),
			Asset:       c.Asset,
			Outstanding: c.Outstanding,
			Supply:      c.Supply,
		})
	}
	deficits := make(map[string]int64, len(state.Deficits))
	for poolID, deficit := range state.Deficits {
		deficits[poolID.String()] = deficit
	}

	seq := state.Sequence
	if seq < 0 {
		seq = 0
	}
	if err := projection.ReseedSettlementState(r.Context(), s.db, seq, seeds, deficits); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordRequest("rebuild_projections", "ok")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordRequest("integrity", "ok")
	s.writeJSON(w, http.StatusOK, report)
}

// --- Response helpers ---

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *HTTPServer) writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	s.recordRequest(endpointLabel(r), "bad_request")
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps rejection reasons to HTTP statuses. Conflicts with the loan
// lifecycle are 409, fundability and swap-result rejections 422, unknown
// instruments 404.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrUnknownInstrument):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidStatus),
		errors.Is(err, core.ErrAlreadyLiquidated),
		errors.Is(err, core.ErrNotFullyRedeemed):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInsufficientClaimBalance),
		errors.Is(err, core.ErrInsufficientLedgerFunds),
		errors.Is(err, core.ErrSwapDestinationMismatch),
		errors.Is(err, core.ErrSlippageExceeded):
		status = http.StatusUnprocessableEntity
	}

	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpointLabel(r), strconv.Itoa(status)).Inc()
	}
	s.recordRequest(endpointLabel(r), "error")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *HTTPServer) recordRequest(endpoint, status string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	}
}

func endpointLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func parseAfterSequence(r *http.Request) *int64 {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}
