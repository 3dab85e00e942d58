package target

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const shutdownTimeout = 10 * time.Second

// Server is the rate-limited HTTP service.
type Server struct {
	cfg      *Config
	logger   zerolog.Logger
	store    Store
	closers  []func() error
	registry *prometheus.Registry
	handler  http.Handler
}

// NewServer builds a server around store. Closing the server does not
// close store.
func NewServer(cfg *Config, store Store, logger zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: reg,
	}
	s.handler = s.routes(NewMetrics(reg))
	return s
}

// NewServerFromConfig opens the configured store and builds a server that
// owns it.
func NewServerFromConfig(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Server, error) {
	store, closer, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := NewServer(cfg, store, logger)
	s.closers = append(s.closers, closer)
	return s, nil
}

// OpenStore connects the backend named by cfg.Store.
func OpenStore(ctx context.Context, cfg *Config) (Store, func() error, error) {
	opts := StoreOptions{Prefix: "ratecheck"}

	switch cfg.Store {
	case StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr(), err)
		}
		store, err := NewRedisStore(ctx, client, opts)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	default:
		store := NewMemoryStore(opts)
		return store, store.Close, nil
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(metrics *Metrics) http.Handler {
	byToken := NewMiddleware(NewLimiter(s.store, s.cfg.TokenRate()),
		WithKeyType(KeyTypeToken),
		WithKeyGetter(TokenKeyGetter),
		WithMetrics(metrics))
	byIP := NewMiddleware(NewLimiter(s.store, s.cfg.IPRate()),
		WithKeyType(KeyTypeIP),
		WithKeyGetter(IPKeyGetter),
		WithMetrics(metrics))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(byToken.Handler, byIP.Handler)
		r.Get("/", index)
	})

	return r
}

func index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(`{"message": "ok"}`))
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Str("store", s.cfg.Store).
			Int64("ip_limit", s.cfg.RateMaxRequestsByIP).
			Int64("token_limit", s.cfg.RateMaxRequestsByToken).
			Int("window_seconds", s.cfg.RatePeriodWindowSeconds).
			Msg("target listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down target")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("target shutdown: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured port and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Close releases the store when the server owns it.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
