package server

import (
	"CasinoLedger/internal/casino"
	"CasinoLedger/internal/fairness"
	"CasinoLedger/internal/observability"
	"CasinoLedger/internal/query"
	"CasinoLedger/internal/trading"
	"CasinoLedger/internal/wallet"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

// Deps holds the services behind the HTTP gateway.
type Deps struct {
	Wallet *wallet.Manager
	Seeds  *fairness.Service
	Casino *casino.Service
	Engine *trading.Engine
	Rounds *trading.RoundService
	Query  *query.QueryService
	Health *observability.HealthChecker
}

// Gateway serves the JSON API on a grpc-gateway ServeMux. Routes are
// registered with HandlePath; user identity is the trusted X-User-ID
// header.
type Gateway struct {
	deps    Deps
	mux     *runtime.ServeMux
	handler http.Handler
	server  *http.Server
	metrics *observability.Metrics
	log     zerolog.Logger
}

type handlerFunc func(r *http.Request, params map[string]string) (int, any, error)

func NewGateway(deps Deps, metrics *observability.Metrics, log zerolog.Logger) (*Gateway, error) {
	g := &Gateway{
		deps:    deps,
		mux:     runtime.NewServeMux(),
		metrics: metrics,
		log:     log,
	}

	// writes marks routes that change stored state; they are refused once
	// the service is halted.
	routes := []struct {
		method, pattern string
		h               handlerFunc
		writes          bool
	}{
		{http.MethodGet, "/v1/wallet/balances/{currency}/{network}", g.getBalance, false},
		{http.MethodPost, "/v1/wallet/faucet", g.faucet, true},

		{http.MethodGet, "/v1/fairness/seed", g.getSeed, false},
		{http.MethodPost, "/v1/fairness/seed/rotate", g.rotateSeed, true},
		{http.MethodPost, "/v1/fairness/seed/reveal", g.revealSeed, true},
		{http.MethodPost, "/v1/fairness/verify", g.verify, false},

		{http.MethodPost, "/v1/casino/bets", g.placeBet, true},
		{http.MethodGet, "/v1/casino/bets/{id}", g.getBet, false},

		{http.MethodGet, "/v1/trading/symbols", g.listSymbols, false},
		{http.MethodGet, "/v1/trading/symbols/{id}/rates", g.getRates, false},
		{http.MethodGet, "/v1/trading/rounds/current", g.currentRound, false},
		{http.MethodPost, "/v1/trading/rounds/{id}/reveal", g.revealRound, true},
		{http.MethodPost, "/v1/trading/positions", g.openPosition, true},
		{http.MethodGet, "/v1/trading/positions", g.listPositions, false},
		{http.MethodGet, "/v1/trading/positions/{id}", g.getPosition, false},
		{http.MethodGet, "/v1/trading/positions/{id}/transactions", g.listTransactions, false},
		{http.MethodGet, "/v1/trading/positions/{id}/liquidation-price", g.liquidationPrice, false},
		{http.MethodPost, "/v1/trading/positions/{id}/close", g.closePosition, true},
	}
	for _, rt := range routes {
		h := rt.h
		if rt.writes {
			h = g.unlessHalted(h)
		}
		if err := g.mux.HandlePath(rt.method, rt.pattern, g.instrument(rt.pattern, h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.Health != nil {
		httpMux.HandleFunc("/healthz", deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.Health.ReadinessHandler)
	}
	httpMux.Handle("/", g.mux)
	g.handler = httpMux
	return g, nil
}

func (g *Gateway) Handler() http.Handler { return g.handler }

// unlessHalted refuses h with 503 after a ledger integrity halt.
func (g *Gateway) unlessHalted(h handlerFunc) handlerFunc {
	return func(r *http.Request, params map[string]string) (int, any, error) {
		if g.deps.Health != nil {
			if reason := g.deps.Health.Halted(); reason != "" {
				return 0, nil, fmt.Errorf("%s: %w", reason, errHalted)
			}
		}
		return h(r, params)
	}
}

// instrument writes the handler's result as JSON and records metrics.
func (g *Gateway) instrument(route string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		code, body, err := h(r, params)
		if err != nil {
			code = statusFor(err)
			if code == http.StatusInternalServerError {
				g.log.Error().Err(err).Str("route", route).Str("method", r.Method).Msg("request failed")
			} else {
				g.log.Debug().Err(err).Str("route", route).Int("code", code).Msg("request rejected")
			}
			writeError(w, code, err)
		} else {
			writeJSON(w, code, body)
		}
		if g.metrics != nil {
			g.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
			g.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

// Serve starts the HTTP gateway (blocking) and shuts it down when ctx ends.
func (g *Gateway) Serve(ctx context.Context, addr string) error {
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		g.log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.server.Shutdown(shutdownCtx)
	}()

	g.log.Info().Str("addr", addr).Msg("HTTP gateway listening")
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
