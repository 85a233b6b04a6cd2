package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/uma-tools/receipt-merger/internal/apierror"
	"github.com/uma-tools/receipt-merger/internal/composition"
	"github.com/uma-tools/receipt-merger/internal/config"
	"github.com/uma-tools/receipt-merger/internal/metrics"
	"github.com/uma-tools/receipt-merger/internal/staging"
)

type Handler struct {
	staging        *staging.Area
	invoker        *composition.Invoker
	workers        *semaphore.Weighted
	metrics        *metrics.Metrics
	staticDir      string
	maxUploadBytes int64
}

type options struct {
	engine         composition.Engine
	stagingOptions []staging.Option
	metrics        *metrics.Metrics
}

// Option customizes a Handler.
type Option func(*options)

// WithEngine replaces the built-in stitcher.
func WithEngine(engine composition.Engine) Option {
	return func(o *options) {
		o.engine = engine
	}
}

// WithStagingOptions passes options through to the staging area.
func WithStagingOptions(opts ...staging.Option) Option {
	return func(o *options) {
		o.stagingOptions = append(o.stagingOptions, opts...)
	}
}

// WithMetrics shares a metrics set instead of creating one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func New(cfg *config.Config, opts ...Option) (*Handler, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		o.engine = composition.NewStitcher(cfg.Tolerance)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	area, err := staging.New(cfg.TempDir, o.stagingOptions...)
	if err != nil {
		return nil, err
	}

	slog.Info("Receipts handler ready",
		"temp_dir", area.Root(),
		"static_dir", cfg.StaticDir,
		"compose_workers", cfg.ComposeWorkers)

	return &Handler{
		staging:        area,
		invoker:        composition.NewInvoker(o.engine, cfg.ScalingThresholdPixels),
		workers:        semaphore.NewWeighted(cfg.ComposeWorkers),
		metrics:        o.metrics,
		staticDir:      cfg.StaticDir,
		maxUploadBytes: cfg.MaxUploadBytes,
	}, nil
}

// Routes wires every endpoint. Anything unmatched falls through to the
// static file server, which answers with a JSON not-found error.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/receipts", h.HandleCreateReceipt)
	r.Post("/receipts/", h.HandleCreateReceipt)
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.NotFound(h.HandleStatic)
	r.MethodNotAllowed(h.HandleNotFound)

	return r
}

// HandleNotFound answers with the endpoint_not_found error.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, apierror.NewEndpointNotFound(r.URL.Path))
}

// writeError writes err and returns the outcome label for metrics.
func (h *Handler) writeError(w http.ResponseWriter, err error) string {
	apiErr := apierror.From(err)
	apierror.Write(w, apiErr)
	return apiErr.Kind.Tag()
}
