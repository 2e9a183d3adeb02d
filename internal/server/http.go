package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"OmniLedger/internal/currency"
	"OmniLedger/internal/exchange"
	"OmniLedger/internal/ingestion"
	"OmniLedger/internal/observability"
	"OmniLedger/internal/payment"
	"OmniLedger/internal/projection"
	"OmniLedger/internal/query"
	"OmniLedger/internal/runtime"
)

// Server is the JSON HTTP API: transaction submission, account and pool
// queries from the live executive, and history queries from the projections.
type Server struct {
	exec     *runtime.Executive
	dex      *exchange.Dex
	qs       *query.Service
	recent   *projection.RecentBuffer
	treasury currency.AccountID
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	log      zerolog.Logger

	httpServer *http.Server
}

// Deps holds everything the HTTP handlers reach into. QueryService may be
// nil when Postgres-backed history is disabled.
type Deps struct {
	Executive     *runtime.Executive
	Dex           *exchange.Dex
	QueryService  *query.Service
	Recent        *projection.RecentBuffer
	Treasury      currency.AccountID
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Log           zerolog.Logger
}

func New(addr string, deps *Deps) *Server {
	s := &Server{
		exec:     deps.Executive,
		dex:      deps.Dex,
		qs:       deps.QueryService,
		recent:   deps.Recent,
		treasury: deps.Treasury,
		health:   deps.HealthChecker,
		metrics:  deps.Metrics,
		log:      deps.Log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tx", s.handleSubmit)
	mux.HandleFunc("GET /v1/accounts/{id}", s.handleAccount)
	mux.HandleFunc("GET /v1/accounts/{id}/fees", s.handleFeeHistory)
	mux.HandleFunc("GET /v1/accounts/{id}/transactions", s.handleAccountTxs)
	mux.HandleFunc("GET /v1/transactions/recent", s.handleRecent)
	mux.HandleFunc("GET /v1/transactions/{tx_id}", s.handleTransaction)
	mux.HandleFunc("GET /v1/treasury", s.handleTreasury)
	mux.HandleFunc("GET /v1/pools/{a}/{b}", s.handlePool)
	mux.HandleFunc("GET /v1/integrity", s.handleIntegrity)
	mux.HandleFunc("GET /healthz", deps.HealthChecker.LivenessHandler)
	mux.HandleFunc("GET /readyz", deps.HealthChecker.ReadinessHandler)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP API listening")

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.count("submit")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.fail(w, "submit", http.StatusBadRequest, err)
		return
	}

	tx, err := ingestion.ParseSubmission(ingestion.RawSubmission{
		Subject:   "http",
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.fail(w, "submit", http.StatusBadRequest, err)
		return
	}

	if err := s.exec.ProcessTransaction(tx); err != nil {
		if errors.Is(err, runtime.ErrDuplicate) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "duplicate",
				"tx_id":  tx.ID,
			})
			return
		}
		status := http.StatusConflict
		if errors.Is(err, payment.ErrPayment) {
			status = http.StatusPaymentRequired
		}
		s.fail(w, "submit", status, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "applied",
		"tx_id":  tx.ID,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	s.count("account")
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, "account", http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.exec.QueryAccount(id))
}

func (s *Server) handleFeeHistory(w http.ResponseWriter, r *http.Request) {
	s.count("fee_history")
	if s.qs == nil {
		s.fail(w, "fee_history", http.StatusServiceUnavailable, errors.New("history queries disabled"))
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, "fee_history", http.StatusBadRequest, err)
		return
	}

	limit := intQuery(r, "limit", 50)
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.fail(w, "fee_history", http.StatusBadRequest, err)
			return
		}
		before = &n
	}

	history, err := s.qs.FeeHistory(r.Context(), id, limit, before)
	if err != nil {
		s.fail(w, "fee_history", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fees": history})
}

func (s *Server) handleAccountTxs(w http.ResponseWriter, r *http.Request) {
	s.count("account_txs")
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, "account_txs", http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": s.recent.BySigner(id, intQuery(r, "limit", 50)),
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	s.count("recent")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": s.recent.Latest(intQuery(r, "limit", 50)),
	})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	s.count("transaction")
	if s.qs == nil {
		s.fail(w, "transaction", http.StatusServiceUnavailable, errors.New("history queries disabled"))
		return
	}
	txID, err := uuid.Parse(r.PathValue("tx_id"))
	if err != nil {
		s.fail(w, "transaction", http.StatusBadRequest, err)
		return
	}

	detail, err := s.qs.Transaction(r.Context(), txID)
	if err != nil {
		s.fail(w, "transaction", http.StatusInternalServerError, err)
		return
	}
	if detail == nil {
		s.fail(w, "transaction", http.StatusNotFound, errors.New("transaction not found"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	s.count("treasury")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": s.treasury,
		"info":    s.exec.QueryAccount(s.treasury),
	})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	s.count("pool")
	a := currency.ID(r.PathValue("a"))
	b := currency.ID(r.PathValue("b"))

	reserveA, reserveB := s.dex.Reserves(a, b)
	if reserveA == 0 && reserveB == 0 {
		s.fail(w, "pool", http.StatusNotFound, errors.New("pool not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"currency_a": a,
		"currency_b": b,
		"reserve_a":  reserveA,
		"reserve_b":  reserveB,
	})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	s.count("integrity")
	if s.qs == nil {
		s.fail(w, "integrity", http.StatusServiceUnavailable, errors.New("history queries disabled"))
		return
	}
	report, err := s.qs.VerifyIntegrity(r.Context())
	if err != nil {
		s.fail(w, "integrity", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) count(method string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(method).Inc()
	}
}

func (s *Server) fail(w http.ResponseWriter, method string, status int, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(method).Inc()
	}
	if status >= 500 {
		s.log.Error().Err(err).Str("method", method).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
