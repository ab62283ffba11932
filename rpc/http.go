package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"stakevault/core/types"
	"stakevault/native/credit"
	"stakevault/native/identity"
	"stakevault/native/ledger"
	"stakevault/native/mint"
	"stakevault/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// Bank is the settlement-balance surface used by the operator provisioning
// methods.
type Bank interface {
	GetAccount(addr types.Address) (*types.Account, error)
	PutAccount(addr types.Address, account *types.Account) error
}

// Server exposes the ledger engine and capability registries over JSON-RPC.
type Server struct {
	engine   *ledger.Engine
	identity *identity.Registry
	credit   *credit.Registry
	rewards  *mint.Minter
	bank     Bank
	logger   *slog.Logger

	authToken string
	perMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the RPC surface. An empty auth token disables every
// privileged method rather than leaving it open.
func NewServer(engine *ledger.Engine, identityReg *identity.Registry, creditReg *credit.Registry, rewards *mint.Minter, bank Bank, logger *slog.Logger, authToken string, ratePerMin int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if ratePerMin <= 0 {
		ratePerMin = 120
	}
	return &Server{
		engine:    engine,
		identity:  identityReg,
		credit:    creditReg,
		rewards:   rewards,
		bank:      bank,
		logger:    logger,
		authToken: strings.TrimSpace(authToken),
		perMinute: ratePerMin,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint plus health and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handleRPC)
	return r
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcErrorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcErrorObj    `json:"error,omitempty"`
}

type rpcError struct {
	code    int
	message string
}

func (e *rpcError) Error() string { return e.message }

func errInvalidParams(message string) *rpcError {
	return &rpcError{code: codeInvalidParams, message: message}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.allow(remoteHost(r)) {
		writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, Error: &rpcErrorObj{Code: codeRateLimited, Message: "rate limit exceeded"}})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, Error: &rpcErrorObj{Code: codeParseError, Message: "unable to read request"}})
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, Error: &rpcErrorObj{Code: codeParseError, Message: "invalid JSON"}})
		return
	}
	if req.Method == "" {
		writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: &rpcErrorObj{Code: codeInvalidRequest, Message: "method is required"}})
		return
	}

	start := time.Now()
	result, err := s.dispatch(r, &req)
	s.observe(req.Method, start, err)
	if err != nil {
		writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: toErrorObj(err)})
		return
	}
	writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result})
}

func (s *Server) observe(method string, start time.Time, err error) {
	metrics.ObserveOp(method, start, err)
	if err != nil {
		s.logger.Warn("rpc call failed", slog.String("method", method), slog.String("error", err.Error()))
	} else {
		s.logger.Debug("rpc call", slog.String("method", method), slog.Duration("elapsed", time.Since(start)))
	}
}

func toErrorObj(err error) *rpcErrorObj {
	if rpcErr, ok := err.(*rpcError); ok {
		return &rpcErrorObj{Code: rpcErr.code, Message: rpcErr.message}
	}
	return &rpcErrorObj{Code: errorCode(err), Message: err.Error()}
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) error {
	if s.authToken == "" {
		return &rpcError{code: codeUnauthorized, message: "privileged methods are disabled"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token := strings.TrimPrefix(header, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &rpcError{code: codeUnauthorized, message: "invalid or missing bearer token"}
	}
	return nil
}

func (s *Server) allow(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMinute)), s.perMinute)
		s.limiters[host] = limiter
	}
	return limiter.Allow()
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
