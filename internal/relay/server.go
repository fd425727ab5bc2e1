// Package relay wires the WebSocket connection loop, the price request
// orchestrator, and the HTTP surface into one server.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quoterelay/quoterelay/internal/config"
	"github.com/quoterelay/quoterelay/internal/metrics"
	"github.com/quoterelay/quoterelay/internal/nostr"
	"github.com/quoterelay/quoterelay/internal/pricecache"
	"github.com/quoterelay/quoterelay/internal/ratelimit"
	"github.com/quoterelay/quoterelay/internal/sources"
	"github.com/quoterelay/quoterelay/internal/store"
)

// Version is stamped into the NIP-11 document.
const Version = "1.0.0"

// Server owns every shared resource: signer, store, limiters, cache,
// fetcher, and the connection hub. Each is a typed handle with its own
// internal locking.
type Server struct {
	cfg       config.Config
	signer    *nostr.Signer
	store     *store.Store
	admission *ratelimit.Admission
	fetcher   *sources.Fetcher
	cache     pricecache.SampleCache
	flight    *pricecache.Flight
	metrics   *metrics.Metrics
	hub       *hub
	router    *mux.Router
	httpSrv   *http.Server
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
	started   time.Time
}

// Option overrides a server collaborator, mainly for tests.
type Option func(*Server)

// WithSourceTable replaces the upstream source table.
func WithSourceTable(srcs []sources.Source) Option {
	return func(s *Server) {
		s.fetcher = sources.NewFetcher(sources.Config{
			Timeout: s.cfg.FetchTimeout(),
			Retries: s.cfg.FetchRetries,
		}, srcs, s.metrics)
	}
}

// WithCache replaces the sample cache backend.
func WithCache(c pricecache.SampleCache) Option {
	return func(s *Server) { s.cache = c }
}

func New(cfg config.Config, opts ...Option) (*Server, error) {
	signer, err := buildSigner(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		signer:    signer,
		store:     store.New(cfg.MaxStoredEvents),
		admission: ratelimit.NewAdmission(cfg.RateIPRPS, cfg.RatePubkeyRPS, cfg.RateBurst),
		flight:    pricecache.NewFlight(),
		metrics:   metrics.New(),
		hub:       newHub(),
		logger:    log.With().Str("component", "relay").Logger(),
		started:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The browser client is served cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.fetcher = sources.NewFetcher(sources.Config{
		Timeout: cfg.FetchTimeout(),
		Retries: cfg.FetchRetries,
	}, sources.Defaults(), s.metrics)

	if cfg.RedisAddr != "" {
		s.cache = pricecache.NewRedisCache(cfg.RedisAddr, cfg.RedisDB, cfg.CacheTTL())
		s.logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis sample cache")
	} else {
		s.cache = pricecache.NewMemoryCache(cfg.CacheTTL())
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = mux.NewRouter()
	s.router.Use(s.loggingMiddleware)
	s.router.HandleFunc("/ws", s.serveWS)
	s.router.HandleFunc("/api/relay-info", s.handleRelayInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	return s, nil
}

func buildSigner(cfg config.Config) (*nostr.Signer, error) {
	if cfg.RelayPrivkeyHex == "" {
		signer, err := nostr.NewSigner()
		if err != nil {
			return nil, err
		}
		log.Info().Str("pubkey", signer.PublicKeyHex()).Msg("generated ephemeral relay identity")
		return signer, nil
	}
	signer, err := nostr.NewSignerFromHex(cfg.RelayPrivkeyHex)
	if err != nil {
		return nil, err
	}
	if cfg.RelayPubkeyHex != "" && cfg.RelayPubkeyHex != signer.PublicKeyHex() {
		return nil, fmt.Errorf("RELAY_PUBKEY_HEX does not match the configured private key")
	}
	return signer, nil
}

// Handler exposes the router, used directly by httptest servers.
func (s *Server) Handler() http.Handler { return s.router }

// PublicKeyHex returns the relay signing identity.
func (s *Server) PublicKeyHex() string { return s.signer.PublicKeyHex() }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 0, // websocket connections are long-lived
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Str("pubkey", s.signer.PublicKeyHex()).Msg("relay listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.closeAll()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path != "/ws" {
			s.logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		}
	})
}

type relayInfo struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Pubkey        string          `json:"pubkey"`
	Contact       string          `json:"contact"`
	SupportedNIPs []int           `json:"supported_nips"`
	Software      string          `json:"software"`
	Version       string          `json:"version"`
	Limitations   infoLimitations `json:"limitations"`
}

type infoLimitations struct {
	MaxMessageLength int64 `json:"max_message_length"`
	MaxSubscriptions int   `json:"max_subscriptions"`
	MaxFilters       int   `json:"max_filters"`
	MaxLimit         int   `json:"max_limit"`
}

func (s *Server) handleRelayInfo(w http.ResponseWriter, r *http.Request) {
	doc := relayInfo{
		Name:          s.cfg.RelayName,
		Description:   s.cfg.RelayDescription,
		Pubkey:        s.signer.PublicKeyHex(),
		Contact:       s.cfg.RelayContact,
		SupportedNIPs: []int{1, 11},
		Software:      "https://github.com/quoterelay/quoterelay",
		Version:       Version,
		Limitations: infoLimitations{
			MaxMessageLength: s.cfg.MaxEventBytes,
			MaxSubscriptions: maxSubscriptions,
			MaxFilters:       maxFiltersPerReq,
			MaxLimit:         store.HardQueryLimit,
		},
	}
	w.Header().Set("Content-Type", "application/nostr+json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "ok",
		"uptime_s":      int64(time.Since(s.started).Seconds()),
		"connections":   s.hub.count(),
		"events_stored": s.store.Len(),
		"relay_pubkey":  s.signer.PublicKeyHex(),
	})
}
