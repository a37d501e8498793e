package application

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/confreg/internal/api"
	"github.com/eugenenazirov/confreg/internal/compilercfg"
	"github.com/eugenenazirov/confreg/internal/config"
	"github.com/eugenenazirov/confreg/internal/pgo"
	"github.com/eugenenazirov/confreg/internal/registry"
	"github.com/eugenenazirov/confreg/internal/storage"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	registry   *registry.Registry
	namespaces *compilercfg.Namespaces
	storage    storage.Storage
	gate       *pgo.Gate
	handler    *api.Handler
	router     http.Handler
	logger     *zap.Logger
	server     *http.Server
}

// Option configures New.
type Option func(*options)

type options struct {
	lookupEnv func(string) (string, bool)
}

// WithLookupEnv replaces the environment used to resolve setting defaults.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) {
		o.lookupEnv = lookup
	}
}

// NewRegistry builds the registry with every compiler namespace declared
// and the startup snapshot, if configured, applied.
func NewRegistry(cfg config.Config, logger *zap.Logger, opts ...Option) (*registry.Registry, *compilercfg.Namespaces, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	regOpts := []registry.Option{registry.WithLogger(logger)}
	if o.lookupEnv != nil {
		regOpts = append(regOpts, registry.WithLookupEnv(o.lookupEnv))
	}
	reg := registry.New(regOpts...)

	namespaces, err := compilercfg.RegisterAll(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("register namespaces: %w", err)
	}

	if cfg.SnapshotFile != "" {
		snap, err := registry.ReadSnapshotFile(cfg.SnapshotFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read startup snapshot: %w", err)
		}
		var loadOpts []registry.LoadOption
		if cfg.IgnoreUnknown {
			loadOpts = append(loadOpts, registry.IgnoreUnknown())
		}
		if err := reg.Load(snap, loadOpts...); err != nil {
			return nil, nil, fmt.Errorf("apply startup snapshot: %w", err)
		}
		logger.Info("startup snapshot applied",
			zap.String("file", cfg.SnapshotFile),
			zap.Int("entries", snap.Len()),
		)
	}

	return reg, namespaces, nil
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	reg, namespaces, err := NewRegistry(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	store := storage.NewMemoryStorage(cfg.SnapshotSlots)
	gate := pgo.NewGate(namespaces.Compiler, namespaces.Dynamo, pgo.WithLogger(logger))
	handler := api.NewHandler(reg, store, gate, api.WithHandlerLogger(logger))
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &App{
		registry:   reg,
		namespaces: namespaces,
		storage:    store,
		gate:       gate,
		handler:    handler,
		router:     apiRouter,
		logger:     logger,
		server:     NewServer(cfg, BuildRootHandler(apiRouter)),
	}, nil
}

// BuildRootHandler mounts the API under /api/ and answers everything else
// with a JSON 404.
func BuildRootHandler(apiHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(w, "{\"error\":\"Not found\",\"details\":%q}\n", r.URL.Path)
	}))
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening",
			zap.String("addr", a.server.Addr),
			zap.Strings("namespaces", a.registry.Namespaces()),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Registry returns the configuration registry served by the application.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Namespaces returns the typed compiler and dynamo accessors.
func (a *App) Namespaces() *compilercfg.Namespaces {
	return a.namespaces
}

// Storage returns the named snapshot store.
func (a *App) Storage() storage.Storage {
	return a.storage
}

// Gate returns the PGO cache gate bound to the registry.
func (a *App) Gate() *pgo.Gate {
	return a.gate
}

// Handler returns the API handler mounted under /api/.
func (a *App) Handler() *api.Handler {
	return a.handler
}
