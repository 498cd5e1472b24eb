package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
	"github.com/StrathCole/cfd-oracle/pkg/consensus"
	"github.com/StrathCole/cfd-oracle/pkg/feeds"
	"github.com/StrathCole/cfd-oracle/pkg/logging"
	"github.com/StrathCole/cfd-oracle/pkg/metrics"
	"github.com/StrathCole/cfd-oracle/pkg/oracle"
	"github.com/StrathCole/cfd-oracle/pkg/publisher"
	"github.com/StrathCole/cfd-oracle/pkg/quotes"
	"github.com/StrathCole/cfd-oracle/pkg/round"
)

const maxQuoteBody = 64 << 10

// PriceStore serves published prices.
type PriceStore interface {
	publisher.Store
	LatestAll() []attestation.ConsensusPrice
}

// Engine is the part of the oracle node the API calls into.
type Engine interface {
	feeds.Submitter
	Instruments() []string
	History(instrumentID string) ([]round.Outcome, error)
	Contributions() []consensus.Contribution
}

var _ Engine = (*oracle.Node)(nil)

// Config configures the HTTP server.
type Config struct {
	Addr        string
	TLSCert     string
	TLSKey      string
	IngestRate  float64 // per source, 0 disables limiting
	IngestBurst int
}

// Server represents the HTTP API server.
type Server struct {
	cfg     Config
	engine  Engine
	store   PriceStore
	hub     *Hub
	limiter *sourceLimiter
	server  *http.Server
	logger  *logging.Logger
}

// QuoteRequest is the body of POST /v1/quotes.
type QuoteRequest struct {
	InstrumentID string          `json:"instrument_id"`
	SourceID     string          `json:"source_id"`
	Price        decimal.Decimal `json:"price"`
	ObservedAt   time.Time       `json:"observed_at"`
	Sequence     uint64          `json:"sequence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a new HTTP API server. hub may be nil when streaming is disabled.
func NewServer(cfg Config, engine Engine, store PriceStore, hub *Hub, logger *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		hub:     hub,
		limiter: newSourceLimiter(cfg.IngestRate, cfg.IngestBurst),
		logger:  logger,
	}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.instrument("/health", s.handleHealth)).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/prices", s.instrument("/v1/prices", s.handlePrices)).Methods(http.MethodGet)
	v1.HandleFunc("/prices/{instrument}", s.instrument("/v1/prices/{instrument}", s.handlePrice)).Methods(http.MethodGet)
	v1.HandleFunc("/prices/{instrument}/rounds/{round:[0-9]+}", s.instrument("/v1/prices/{instrument}/rounds/{round}", s.handleRound)).Methods(http.MethodGet)
	v1.HandleFunc("/rounds/{instrument}", s.instrument("/v1/rounds/{instrument}", s.handleHistory)).Methods(http.MethodGet)
	v1.HandleFunc("/ledger", s.instrument("/v1/ledger", s.handleLedger)).Methods(http.MethodGet)
	v1.HandleFunc("/quotes", s.instrument("/v1/quotes", s.handleSubmitQuote)).Methods(http.MethodPost)

	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.ServeHTTP)
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.cfg.Addr, "tls", s.cfg.TLSCert != "")
	var err error
	if s.cfg.TLSCert != "" {
		err = s.server.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency under the route template.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.RecordHTTPRequest(endpoint, strconv.Itoa(rec.status), time.Since(start))
	}
}

// handleHealth handles /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.store.LatestAll())
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.store.Latest(r.Context(), mux.Vars(r)["instrument"])
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, price)
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roundID, err := strconv.ParseUint(vars["round"], 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	price, err := s.store.Get(r.Context(), vars["instrument"], roundID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, price)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.engine.History(mux.Vars(r)["instrument"])
	if err != nil {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit < len(outcomes) {
			outcomes = outcomes[len(outcomes)-limit:]
		}
	}
	s.sendJSON(w, http.StatusOK, outcomes)
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.engine.Contributions())
}

func (s *Server) handleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuoteBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid quote: "+err.Error())
		return
	}
	if req.ObservedAt.IsZero() {
		s.sendError(w, http.StatusBadRequest, "observed_at is required")
		return
	}
	if !s.limiter.Allow(req.SourceID) {
		s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	err := s.engine.SubmitQuote(req.InstrumentID, req.SourceID, req.Price, req.ObservedAt, req.Sequence)
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, quotes.ErrUnknownInstrument):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quotes.ErrStaleSequence):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, quotes.ErrInvalidPrice), errors.Is(err, quotes.ErrMissingSource):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Quote submission failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, publisher.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("Store lookup failed", "error", err)
	s.sendError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, errorResponse{Error: msg})
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}
