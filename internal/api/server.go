package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/catscan/internal/blobstore"
	"github.com/dharsanguruparan/catscan/internal/config"
	"github.com/dharsanguruparan/catscan/internal/metrics"
	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/queue"
)

// Records is the record store surface used by the HTTP handlers.
type Records interface {
	Create(ctx context.Context, scan *model.Scan) error
	Get(ctx context.Context, id string) (*model.Scan, error)
	Finish(ctx context.Context, id string, outcome model.Outcome) error
}

// Objects is the object store surface used by intake.
type Objects interface {
	PutImage(ctx context.Context, key string, data []byte, contentType string) error
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// Receiver accepts signed uploads addressed to this process. Only the
// in-memory object store implements it.
type Receiver interface {
	Receive(ctx context.Context, key string, q url.Values, data []byte, contentType string) error
}

// Enqueuer hands a detect trigger to the processing side.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.DetectPayload) error
}

// Deps groups the collaborators of a Server. Metrics and Gatherer may be nil.
type Deps struct {
	Records  Records
	Objects  Objects
	Queue    Enqueuer
	Metrics  *metrics.ScanMetrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server exposes the upload and status endpoints.
type Server struct {
	cfg      *config.Config
	records  Records
	objects  Objects
	queue    Enqueuer
	metrics  *metrics.ScanMetrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	finished *cache.Cache
	newID    func() string

	once    sync.Once
	handler http.Handler
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		records:  deps.Records,
		objects:  deps.Objects,
		queue:    deps.Queue,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		logger:   deps.Logger.With("component", "api"),
		finished: cache.New(10*time.Minute, 15*time.Minute),
		newID:    uuid.NewString,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		s.handler = s.routes()
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", "address", s.cfg.Address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Post("/upload", s.handleUpload)
	r.Get("/status/{scanID}", s.handleStatus)
	r.Get("/debug/{scanID}", s.handleDebug)
	if _, ok := s.objects.(Receiver); ok {
		r.Put(blobstore.UploadPath+"*", s.handleLocalUpload)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware answers preflight requests for every route.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// recoverMiddleware turns handler panics into a JSON 500.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				respondError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
