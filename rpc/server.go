package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carbonlink/native/common"
	"carbonlink/native/linkage"
	"carbonlink/observability"
	"carbonlink/storage/journal"
)

// BalanceReader exposes account balances for the bank_balance method.
type BalanceReader interface {
	BalanceOf(ctx context.Context, holder [20]byte) (*big.Int, error)
}

// EventLister serves journaled events for linkage_events.
type EventLister interface {
	ListByLinkage(ctx context.Context, key linkage.Key, limit int) ([]journal.Record, error)
	ListSince(ctx context.Context, after int64, limit int) ([]journal.Record, error)
}

// ServerConfig carries the request admission settings.
type ServerConfig struct {
	JWTSecret         []byte
	JWTIssuer         string
	RequestsPerSecond float64
	Burst             int
	Quota             common.Quota
	// QuotaStore persists quota counters; nil keeps them in memory.
	QuotaStore common.CounterStore
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

type Server struct {
	engine  *linkage.Engine
	bank    BalanceReader
	journal EventLister

	auth    *Authenticator
	limiter *sourceLimiter
	quota   *common.QuotaTracker
	logger  *slog.Logger
	tracer  trace.Tracer

	methods map[string]handlerFunc
}

func NewServer(engine *linkage.Engine, cfg ServerConfig) *Server {
	s := &Server{
		engine:  engine,
		auth:    NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		limiter: newSourceLimiter(cfg.RequestsPerSecond, cfg.Burst),
		quota:   common.NewQuotaTracker(cfg.Quota, nil),
		logger:  slog.Default(),
		tracer:  otel.Tracer("carbonlink/rpc"),
	}
	if cfg.QuotaStore != nil {
		s.quota.SetStore(cfg.QuotaStore)
	}
	s.methods = s.routes()
	return s
}

// SetBank wires the balance source behind bank_balance.
func (s *Server) SetBank(bank BalanceReader) { s.bank = bank }

// SetJournal wires the event journal behind linkage_events.
func (s *Server) SetJournal(j EventLister) { s.journal = j }

func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"linkage_create":            s.authenticated(s.handleLinkageCreate),
		"linkage_vote":              s.authenticated(s.handleLinkageVote),
		"linkage_openDispute":       s.authenticated(s.handleLinkageOpenDispute),
		"linkage_resolveDispute":    s.authenticated(s.handleLinkageResolveDispute),
		"linkage_setRevenueShare":   s.authenticated(s.handleLinkageSetRevenueShare),
		"linkage_updateMetadata":    s.authenticated(s.handleLinkageUpdateMetadata),
		"linkage_pause":             s.authenticated(s.handleLinkagePause),
		"linkage_unpause":           s.authenticated(s.handleLinkageUnpause),
		"linkage_transferAuthority": s.authenticated(s.handleLinkageTransferAuthority),
		"linkage_get":               s.handleLinkageGet,
		"linkage_getMetadata":       s.handleLinkageGetMetadata,
		"linkage_getVote":           s.handleLinkageGetVote,
		"linkage_listVotes":         s.handleLinkageListVotes,
		"linkage_getDispute":        s.handleLinkageGetDispute,
		"linkage_getRevenueShare":   s.handleLinkageGetRevenueShare,
		"linkage_listRevenueShares": s.handleLinkageListRevenueShares,
		"linkage_totalLinkages":     s.handleLinkageTotalLinkages,
		"linkage_escrowTotal":       s.handleLinkageEscrowTotal,
		"linkage_isPaused":          s.handleLinkageIsPaused,
		"linkage_authority":         s.handleLinkageAuthority,
		"linkage_events":            s.handleLinkageEvents,
		"bank_balance":              s.handleBankBalance,
	}
}

// Handler returns the HTTP surface: JSON-RPC on / and /rpc, plus health and
// Prometheus endpoints. Incoming trace context is extracted before dispatch.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	r.Post("/rpc", s.handle)
	return otelhttp.NewHandler(r, "linkaged.http")
}

type callerKey struct{}

func callerFrom(ctx context.Context) [20]byte {
	caller, _ := ctx.Value(callerKey{}).([20]byte)
	return caller
}

// authenticated resolves the bearer identity before running next.
func (s *Server) authenticated(next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
		caller, authErr := s.auth.Identify(r)
		if authErr != nil {
			writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		next(w, r.WithContext(ctx), req)
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	module := moduleOf(req.Method)
	if !s.limiter.allow(clientSource(r)) {
		observability.ModuleMetrics().RecordThrottle(module, "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	handler, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), "rpc."+req.Method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
	))
	rec := &codeRecorder{ResponseWriter: w}
	handler(rec, r.WithContext(ctx), req)
	if rec.code != 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("code %d", rec.code))
	}
	span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rec.code))
	span.End()

	duration := time.Since(start)
	observability.ModuleMetrics().Observe(module, req.Method, rec.code, duration)
	s.logger.Debug("rpc request",
		slog.String("method", req.Method),
		slog.Int("code", rec.code),
		slog.Duration("duration", duration))
}

func moduleOf(method string) string {
	if prefix, _, found := strings.Cut(method, "_"); found {
		return prefix
	}
	return method
}
