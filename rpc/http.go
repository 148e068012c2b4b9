package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"brokerchain/core"
	coreerrors "brokerchain/core/errors"
	"brokerchain/core/events"
	"brokerchain/crypto"
	"brokerchain/native/offers"
	"brokerchain/observability"
	"brokerchain/observability/logging"
	"brokerchain/storage"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20
	defaultEventPage       = 100
	limiterIdleTTL         = 10 * time.Minute
)

const (
	codeParseError       = -32700
	codeInvalidRequest   = -32600
	codeMethodNotFound   = -32601
	codeInvalidParams    = -32602
	codeUnauthorized     = -32001
	codeServerError      = -32000
	codeDuplicateRequest = -32010
	codeRateLimited      = -32020
	codeDeclined         = -32030
)

// Local methods served by the rpc layer rather than the dispatcher.
const (
	methodOperations = "broker_operations"
	methodEvents     = "broker_events"
)

// ServerConfig captures the listener limits and authentication settings.
type ServerConfig struct {
	RequestsPerMinute int
	Burst             int
	MaxRequestBytes   int64
	// JWTSecret enables bearer authentication of mutating calls.
	JWTSecret string
	JWTIssuer string
	// MaxAuthTTL bounds how far in the future a signed request may expire.
	MaxAuthTTL time.Duration
	// TrustProxyHeaders derives the client identity from X-Forwarded-For.
	TrustProxyHeaders bool
}

// EventLog is the persisted event history served by broker_events.
type EventLog interface {
	Range(from uint64, limit int) ([]storage.JournalEntry, error)
	Head() uint64
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server exposes the broker over JSON-RPC 2.0.
type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	metrics *observability.RPCMetrics
	hub     *events.Hub
	journal EventLog
	nowFn   func() time.Time

	mu       sync.Mutex
	seen     map[string]time.Time
	limiters map[string]*clientLimiter

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer constructs a server for node.
func NewServer(node *core.Node, cfg ServerConfig) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.MaxAuthTTL <= 0 {
		cfg.MaxAuthTTL = defaultMaxAuthTTL
	}
	return &Server{
		node:     node,
		cfg:      cfg,
		logger:   slog.Default(),
		metrics:  observability.ModuleMetrics(),
		nowFn:    time.Now,
		seen:     make(map[string]time.Time),
		limiters: make(map[string]*clientLimiter),
	}
}

// SetLogger overrides the request logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// SetEventHub enables the /ws/events stream.
func (s *Server) SetEventHub(hub *events.Hub) { s.hub = hub }

// SetJournal enables broker_events and websocket backlog replay.
func (s *Server) SetJournal(log EventLog) { s.journal = log }

// SetNowFunc overrides the clock used for request expiry checks.
func (s *Server) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	return otelhttp.NewHandler(r, "brokerd.rpc")
}

// Serve accepts connections on listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("json-rpc server listening", slog.String("address", listener.Addr().String()))
	return srv.Serve(listener)
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type ctxKey string

const requestIDKey ctxKey = "rpc.requestId"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	start := time.Now()

	source := s.clientSource(r)
	if !s.allowSource(source, start) {
		s.metrics.RecordThrottle("rpc", "rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"})
		return
	}

	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "method required"})
		return
	}

	result, status, rpcErr, signers := s.serve(r, req)
	module, label := methodModule(req.Method), req.Method
	if module == "unknown" {
		label = "unknown"
	}
	s.metrics.Observe(module, label, status, time.Since(start))
	s.logRequest(r, req, status, rpcErr, signers)
	if rpcErr != nil {
		writeError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) serve(r *http.Request, req *RPCRequest) (interface{}, int, *RPCError, crypto.SignerSet) {
	switch {
	case req.Method == methodOperations:
		return core.Operations(), http.StatusOK, nil, nil
	case req.Method == methodEvents:
		result, rpcErr := s.events(req.Params)
		if rpcErr != nil {
			return nil, http.StatusBadRequest, rpcErr, nil
		}
		return result, http.StatusOK, nil, nil
	case !core.Known(req.Method):
		return nil, http.StatusNotFound, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}, nil
	}

	call := core.Call{Operation: req.Method, Args: req.Params}
	if core.IsQuery(req.Method) {
		result, err := s.node.Dispatch(r.Context(), nil, call)
		if err != nil {
			status, rpcErr := mapError(err)
			return nil, status, rpcErr, nil
		}
		return result, http.StatusOK, nil, nil
	}

	if authErr := s.requireBearer(r); authErr != nil {
		return nil, http.StatusUnauthorized, authErr, nil
	}
	signers, authErr := s.authenticate(req)
	if authErr != nil {
		status := http.StatusUnauthorized
		if authErr.Code == codeDuplicateRequest {
			status = http.StatusConflict
		}
		return nil, status, authErr, nil
	}
	result, err := s.node.Dispatch(r.Context(), signers, call)
	if err != nil {
		status, rpcErr := mapError(err)
		return nil, status, rpcErr, signers
	}
	return result, http.StatusOK, nil, signers
}

func methodModule(method string) string {
	switch {
	case method == methodOperations || method == methodEvents:
		return "rpc"
	case !core.Known(method):
		return "unknown"
	case core.IsQuery(method):
		return "query"
	default:
		return "operation"
	}
}

// mapError converts a dispatcher error into a JSON-RPC error. Declines are
// business outcomes and travel with HTTP 200.
func mapError(err error) (int, *RPCError) {
	switch {
	case errors.Is(err, core.ErrUnknownOperation):
		return http.StatusNotFound, &RPCError{Code: codeMethodNotFound, Message: err.Error()}
	case errors.Is(err, core.ErrBadArguments):
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	case coreerrors.IsDeclined(err) && !coreerrors.IsFatal(err):
		rpcErr := &RPCError{Code: codeDeclined, Message: err.Error()}
		var failure *offers.FillFailure
		if errors.As(err, &failure) {
			rpcErr.Data = map[string]interface{}{
				"failReason": failure.Reason.String(),
				"code":       int(failure.Reason),
				"offerHash":  "0x" + hex.EncodeToString(failure.OfferHash[:]),
			}
		}
		return http.StatusOK, rpcErr
	default:
		return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: "operation aborted", Data: err.Error()}
	}
}

func (s *Server) events(params []json.RawMessage) (interface{}, *RPCError) {
	if s.journal == nil {
		return nil, &RPCError{Code: codeServerError, Message: "event journal not configured"}
	}
	var from uint64
	limit := defaultEventPage
	if len(params) > 0 {
		if err := json.Unmarshal(params[0], &from); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "from must be an unsigned integer"}
		}
	}
	if len(params) > 1 {
		if err := json.Unmarshal(params[1], &limit); err != nil || limit <= 0 {
			return nil, &RPCError{Code: codeInvalidParams, Message: "limit must be a positive integer"}
		}
	}
	entries, err := s.journal.Range(from, limit)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return map[string]interface{}{
		"head":   s.journal.Head(),
		"events": entries,
	}, nil
}

func (s *Server) requireBearer(r *http.Request) *RPCError {
	secret := strings.TrimSpace(s.cfg.JWTSecret)
	if secret == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenString == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(time.Minute),
		jwt.WithTimeFunc(s.nowFn),
	}
	if s.cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.JWTIssuer))
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if s.cfg.RequestsPerMinute <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.limiters, id)
		}
	}
	entry, ok := s.limiters[source]
	if !ok {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		perSecond := float64(s.cfg.RequestsPerMinute) / 60.0
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		s.limiters[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *Server) clientSource(r *http.Request) string {
	if s.cfg.TrustProxyHeaders {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) logRequest(r *http.Request, req *RPCRequest, status int, rpcErr *RPCError, signers crypto.SignerSet) {
	attrs := []any{
		slog.String("requestId", requestID(r.Context())),
		slog.String("method", req.Method),
		slog.Int("status", status),
	}
	if len(signers) > 0 {
		addrs := make([]string, 0, len(signers))
		for _, addr := range signers.Addresses() {
			addrs = append(addrs, crypto.FormatAddress(addr))
		}
		attrs = append(attrs, logging.MaskField("signers", strings.Join(addrs, ",")))
	}
	if rpcErr != nil {
		attrs = append(attrs, slog.String("reason", rpcErr.Message))
	}
	s.logger.Info("rpc request", attrs...)
}
