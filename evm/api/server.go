// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package api serves the leveraged-token query surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/luxfi/ltindexer/evm/charts"
	"github.com/luxfi/ltindexer/evm/portfolio"
	"github.com/luxfi/ltindexer/evm/stats"
	"github.com/luxfi/ltindexer/metrics"
	"github.com/luxfi/ltindexer/storage"
)

// Config for the API server
type Config struct {
	Port           int
	AllowedOrigins []string
	MaxQuerySize   int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:           42069,
		AllowedOrigins: []string{"http://localhost:5173", "https://bounce.tech", "https://*.web.app"},
		MaxQuerySize:   100,
	}
}

// Services are the query services behind the handlers.
type Services struct {
	Store     storage.Store
	Portfolio *portfolio.Service
	Charts    *charts.Service
	Stats     *stats.Service
	// Ready reports whether the indexer can serve queries. When nil the
	// store is pinged.
	Ready func(ctx context.Context) error
}

// Server provides the REST API
type Server struct {
	config  Config
	svc     Services
	origins []*regexp.Regexp
	router  *mux.Router
	log     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config, svc Services, log zerolog.Logger) *Server {
	if cfg.MaxQuerySize <= 0 {
		cfg.MaxQuerySize = 100
	}
	s := &Server{
		config:  cfg,
		svc:     svc,
		origins: compileOrigins(cfg.AllowedOrigins),
		router:  mux.NewRouter(),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)

	// Health
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Protocol
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/fee-chart", s.handleFeeChart).Methods("GET")
	s.router.HandleFunc("/volume-chart", s.handleVolumeChart).Methods("GET")
	s.router.HandleFunc("/active-users-chart", s.handleActiveUsersChart).Methods("GET")
	s.router.HandleFunc("/global-storage", s.handleGlobalStorage).Methods("GET")

	// Leveraged tokens
	s.router.HandleFunc("/leveraged-tokens", s.handleLeveragedTokens).Methods("GET")
	s.router.HandleFunc("/leveraged-tokens/{symbol}", s.handleLeveragedToken).Methods("GET")

	// Trades
	s.router.HandleFunc("/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/trades/{user}", s.handleUserTrades).Methods("GET")
	s.router.HandleFunc("/trade/{txHash}", s.handleTrade).Methods("GET")

	// Users
	s.router.HandleFunc("/users", s.handleUsers).Methods("GET")
	s.router.HandleFunc("/pnl/{user}", s.handlePnL).Methods("GET")
	s.router.HandleFunc("/portfolio/{user}", s.handlePortfolio).Methods("GET")

	// Referrals
	s.router.HandleFunc("/referrers", s.handleReferrers).Methods("GET")
	s.router.HandleFunc("/user-referrals/{user}", s.handleUserReferrals).Methods("GET")
	s.router.HandleFunc("/is-valid-code/{code}", s.handleIsValidCode).Methods("GET")
}

// compileOrigins turns allowlist entries into anchored patterns. A "*"
// matches one host label sequence without slashes.
func compileOrigins(origins []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(origins))
	for _, o := range origins {
		parts := strings.Split(o, "*")
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		out = append(out, regexp.MustCompile("^"+strings.Join(parts, "[^/]+")+"$"))
	}
	return out
}

func (s *Server) allowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, re := range s.origins {
		if re.MatchString(origin) {
			return true
		}
	}
	return false
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")
		if s.allowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	s.log.Info().Int("port", s.config.Port).Msg("API server starting")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}

func (s *Server) writeData(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, Envelope{Status: StatusSuccess, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, Envelope{Status: StatusError, Error: &message})
}

// fail maps err to a response: validation errors are echoed with 400,
// anything else is logged and reported with a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	if isValidation(err) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	s.writeError(w, http.StatusInternalServerError, message)
}
