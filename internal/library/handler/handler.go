package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"libsync/internal/library/models"
	"libsync/internal/platform/middleware"
	"libsync/internal/source"
	"libsync/pkg/platform/httputil"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	readTimeout     = 30 * time.Second
	defaultMaxBody  = 64 << 20
)

// Reader serves the read-only views.
type Reader interface {
	ListActive(ctx context.Context, limit, offset int) ([]models.ActiveLibrary, error)
	RegionStats(ctx context.Context) ([]models.RegionStatistics, error)
}

// Runner executes one synchronization run.
type Runner interface {
	Run(ctx context.Context, raws []models.RawRecord) (*models.RunReport, error)
}

// Purger physically removes a record.
type Purger interface {
	Purge(ctx context.Context, evidenceNumber, actor string) (uuid.UUID, error)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Handler serves the operations API.
type Handler struct {
	logger       *slog.Logger
	reader       Reader
	runner       Runner
	purger       Purger
	jwtValidator middleware.JWTValidator
	gatherer     prometheus.Gatherer
	checks       map[string]Check
	maxBody      int64
	syncTimeout  time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithGatherer sets the registry exposed on /metrics. Defaults to the global one.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, check Check) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

// WithMaxUploadBytes caps the CSV accepted by POST /admin/sync.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithSyncTimeout bounds an uploaded run. Zero leaves it tied to the request only.
func WithSyncTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.syncTimeout = d
	}
}

// New creates a Handler.
func New(reader Reader, runner Runner, purger Purger, jwtValidator middleware.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		logger:       slog.Default(),
		reader:       reader,
		runner:       runner,
		purger:       purger,
		jwtValidator: jwtValidator,
		gatherer:     prometheus.DefaultGatherer,
		checks:       make(map[string]Check),
		maxBody:      defaultMaxBody,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(readTimeout))
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.RequireRole(middleware.RoleReader, h.logger))
		r.Get("/v1/libraries", h.handleListLibraries)
		r.Get("/v1/regions", h.handleRegions)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.With(middleware.RequireRole(middleware.RoleWriter, h.logger)).
			Post("/admin/sync", h.handleSync)
		r.With(middleware.Timeout(readTimeout), middleware.RequireRole(middleware.RoleAdmin, h.logger)).
			Delete("/admin/libraries/{evidence}", h.handlePurge)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
}

func (h *Handler) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		httputil.WriteError(w, httputil.BadRequest("limit must be between 1 and "+strconv.Itoa(maxPageSize)))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		httputil.WriteError(w, httputil.BadRequest("offset must be a non-negative integer"))
		return
	}

	libs, err := h.reader.ListActive(ctx, limit, offset)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list libraries",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	switch format := q.Get("format"); format {
	case "jsonld":
		w.Header().Set("Content-Type", "application/ld+json")
		writeJSONLD(w, libs)
	case "", "json":
		if libs == nil {
			libs = []models.ActiveLibrary{}
		}
		httputil.WriteJSON(w, http.StatusOK, libraryPage{Items: libs, Limit: limit, Offset: offset})
	default:
		httputil.WriteError(w, httputil.BadRequest("unsupported format "+strconv.Quote(format)))
	}
}

func (h *Handler) handleRegions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.reader.RegionStats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load region statistics",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	if stats == nil {
		stats = []models.RegionStatistics{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"regions": stats})
}

// handleSync accepts the registry CSV either as the raw body or as the
// "file" part of a multipart form and runs it synchronously.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	body, closeBody, err := uploadBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer closeBody()

	raws, err := source.ReadCSV(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			httputil.WriteError(w, &httputil.Error{
				Status:      http.StatusRequestEntityTooLarge,
				Code:        "payload_too_large",
				Description: "upload exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			})
		default:
			httputil.WriteError(w, httputil.BadRequest("invalid csv: "+err.Error()))
		}
		return
	}

	if h.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.syncTimeout)
		defer cancel()
	}

	h.logger.InfoContext(ctx, "sync requested",
		"rows", len(raws),
		"subject", middleware.GetSubject(ctx),
		"request_id", requestID,
	)
	report, err := h.runner.Run(ctx, raws)
	if err != nil {
		h.logger.ErrorContext(ctx, "sync failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newRunResponse(report))
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	evidence, err := url.PathUnescape(chi.URLParam(r, "evidence"))
	evidence = strings.TrimSpace(evidence)
	if err != nil || evidence == "" {
		httputil.WriteError(w, httputil.BadRequest("evidence number is required"))
		return
	}
	actor := middleware.GetSubject(ctx)

	actionID, err := h.purger.Purge(ctx, evidence, actor)
	if err != nil {
		h.logger.WarnContext(ctx, "purge failed",
			"evidence_number", evidence,
			"actor", actor,
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"evidence_number": evidence,
		"action_id":       actionID.String(),
	})
}

func uploadBody(r *http.Request) (io.Reader, func(), error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.Body, func() {}, nil
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, httputil.BadRequest("multipart upload needs a \"file\" part")
	}
	return file, func() { _ = file.Close() }, nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
