// ABOUTME: Gateway orchestrator that serves the chatroom REST, realtime and storage endpoints
// ABOUTME: Manages store, blob store, broadcaster and HTTP server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/Danieldaguy/Chatroom-Testing/internal/blob"
	"github.com/Danieldaguy/Chatroom-Testing/internal/config"
	"github.com/Danieldaguy/Chatroom-Testing/internal/conversation"
	"github.com/Danieldaguy/Chatroom-Testing/internal/store"
)

// Gateway serves the chatroom backend: the REST table API, the websocket
// change feed, presence, and avatar storage.
type Gateway struct {
	config       *config.Config
	store        store.Store
	blobs        blob.Store
	conversation *conversation.Service
	broadcaster  *conversation.EventBroadcaster
	presence     *presenceHub
	limiter      *limiterPool
	metrics      *metrics
	registry     *prometheus.Registry
	httpServer   *http.Server
	logger       *slog.Logger

	// connCtx is cancelled on shutdown to close websocket connections,
	// which http.Server.Shutdown does not track.
	connCtx    context.Context
	connCancel context.CancelFunc

	connsMu sync.Mutex
	conns   map[*wsConn]struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// Deps are the backing services of a Gateway. Tests inject in-memory ones.
type Deps struct {
	Store store.Store
	Blobs blob.Store
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHATROOM_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.OpenSQLite(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initBlobStore creates the configured blob backend.
func initBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3cfg := cfg.Storage.S3
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
		}, logger)
	default:
		return blob.NewDiskStore(cfg.Storage.Path, logger)
	}
}

// New creates a new Gateway with the stores named in cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := initBlobStore(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing blob store: %w", err)
	}

	return NewWithDeps(cfg, Deps{Store: s, Blobs: blobs}, logger), nil
}

// NewWithDeps creates a Gateway around existing stores.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	broadcaster := conversation.NewEventBroadcaster(logger)
	convService := conversation.New(deps.Store, broadcaster, conversation.Options{
		DedupeTTL:  cfg.API.DedupeTTL,
		DedupeSize: cfg.API.DedupeSize,
	}, logger)

	connCtx, connCancel := context.WithCancel(context.Background())

	gw := &Gateway{
		config:       cfg,
		store:        deps.Store,
		blobs:        deps.Blobs,
		conversation: convService,
		broadcaster:  broadcaster,
		limiter:      newLimiterPool(cfg.API.InsertRate, cfg.API.InsertBurst),
		metrics:      newMetrics(registry),
		registry:     registry,
		logger:       logger.With("component", "gateway"),
		connCtx:      connCtx,
		connCancel:   connCancel,
		conns:        make(map[*wsConn]struct{}),
	}
	gw.presence = newPresenceHub(gw.metrics, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw
}

// Handler builds the HTTP routes wrapped in CORS and request metrics.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(g.metrics.middleware)

	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)

	rest := r.PathPrefix("/rest/v1").Subrouter()
	rest.HandleFunc("/{table}", g.handleSelect).Methods(http.MethodGet)
	rest.HandleFunc("/{table}", g.handleInsert).Methods(http.MethodPost)

	r.HandleFunc("/realtime/v1/websocket", g.handleWebSocket).Methods(http.MethodGet)

	storage := r.PathPrefix("/storage/v1/object").Subrouter()
	storage.HandleFunc("/public/{bucket}/{key:.+}", g.handleGetObject).Methods(http.MethodGet)
	storage.HandleFunc("/{bucket}/{key:.+}", g.handleUpload).Methods(http.MethodPost, http.MethodPut)

	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: g.config.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Range", "Prefer"},
		ExposedHeaders: []string{"Content-Range"},
		MaxAge:         300,
	})

	return c.Handler(r)
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the gateway on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
// Later calls return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.connCancel()
	g.broadcaster.Close()
	g.conversation.Close()

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
