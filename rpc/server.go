// Package rpc exposes the marketplace engines over an authenticated JSON HTTP
// API. Mutating calls are serialized through a single mutex so engine state
// transitions remain atomic without the engines holding locks themselves.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	nativecommon "assetmarket/native/common"
	"assetmarket/native/market"
	"assetmarket/observability"
)

// Server hosts the marketplace HTTP API.
type Server struct {
	fixed   *market.FixedEngine
	auction *market.AuctionEngine
	ledger  *market.LedgerEngine
	admin   *market.AdminEngine

	authSecret string
	logger     *slog.Logger

	// mu serializes every state-mutating engine call.
	mu sync.Mutex

	quota   nativecommon.Quota
	quotaMu sync.Mutex
	usage   map[[20]byte]nativecommon.QuotaNow
	nowFn   func() time.Time
}

// NewServer wires the engines into a server instance.
func NewServer(fixed *market.FixedEngine, auction *market.AuctionEngine, ledger *market.LedgerEngine, admin *market.AdminEngine, authSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		fixed:      fixed,
		auction:    auction,
		ledger:     ledger,
		admin:      admin,
		authSecret: authSecret,
		logger:     logger,
		usage:      make(map[[20]byte]nativecommon.QuotaNow),
		nowFn:      time.Now,
	}
}

// SetQuota configures per-caller request throttling. A zero MaxRequestsPerMin
// disables the check.
func (s *Server) SetQuota(q nativecommon.Quota) { s.quota = q }

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestID)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Use(s.throttle)

		api.Route("/fixed", func(fr chi.Router) {
			fr.Post("/list", s.handleFixedList)
			fr.Post("/unlist", s.handleFixedUnlist)
			fr.Post("/buy", s.handleFixedBuy)
		})
		api.Route("/auction", func(ar chi.Router) {
			ar.Post("/list", s.handleAuctionList)
			ar.Post("/unlist", s.handleAuctionUnlist)
			ar.Post("/bid", s.handleAuctionBid)
			ar.Post("/settle", s.handleAuctionSettle)
			ar.Get("/status", s.handleAuctionStatus)
		})
		api.Route("/ledger", func(lr chi.Router) {
			lr.Post("/withdraw", s.handleWithdraw)
			lr.Get("/balance", s.handleBalance)
		})
		api.Post("/admin/params", s.handleAdminParams)
	})

	return r
}

// Serve runs the HTTP listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// throttle enforces the per-caller request quota on mutating calls. Reads
// stay unthrottled so wallets can poll status and balances freely.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.quota.MaxRequestsPerMin == 0 || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := CallerFromContext(r.Context())
		if err != nil {
			s.writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		epochSeconds := int64(s.quota.EpochSeconds)
		if epochSeconds <= 0 {
			epochSeconds = 60
		}
		epoch := uint64(s.nowFn().Unix() / epochSeconds)

		s.quotaMu.Lock()
		updated, err := nativecommon.CheckQuota(s.quota, epoch, s.usage[caller], 1, 0)
		if err == nil {
			s.usage[caller] = updated
		}
		s.quotaMu.Unlock()

		if err != nil {
			module, _ := routeLabels(r.URL.Path)
			observability.MarketMetrics().RecordThrottle(module, "rate_limit")
			s.writeError(w, r, http.StatusTooManyRequests, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		module, method := routeLabels(r.URL.Path)
		observability.MarketMetrics().Observe(module, method, ww.Status(), time.Since(start))
		s.logger.Info("rpc request",
			"module", module,
			"method", method,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

func routeLabels(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "v1":
		return parts[1], parts[2]
	case len(parts) >= 1 && parts[0] != "":
		return "system", parts[0]
	default:
		return "system", "root"
	}
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.writeJSON(w, status, errorBody{Error: err.Error(), RequestID: RequestIDFromContext(r.Context())})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, market.ErrInvalidInput),
		errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrRoyaltyTooHigh),
		errors.Is(err, market.ErrBidTooLow),
		errors.Is(err, market.ErrInsufficientPayment),
		errors.Is(err, market.ErrSellerShareNegative):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrUnauthorized),
		errors.Is(err, market.ErrNotOwner),
		errors.Is(err, market.ErrNotApproved),
		errors.Is(err, market.ErrNotHighestBidder):
		return http.StatusForbidden
	case errors.Is(err, market.ErrListingNotFound),
		errors.Is(err, market.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrAlreadyListed),
		errors.Is(err, market.ErrAlreadyHighestBidder),
		errors.Is(err, market.ErrAuctionEnded),
		errors.Is(err, market.ErrAuctionNotEnded),
		errors.Is(err, market.ErrNoBids),
		errors.Is(err, market.ErrInsufficientBalance),
		errors.Is(err, market.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, market.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("malformed address %q", value)
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("malformed %s %q", field, value)
	}
	return amount, nil
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("malformed request body: %v", err)
	}
	return nil
}
