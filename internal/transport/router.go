package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Janar2510/driveapipe-app/internal/config"
	"github.com/Janar2510/driveapipe-app/internal/idempotency"
	"github.com/Janar2510/driveapipe-app/internal/observability"
	"github.com/Janar2510/driveapipe-app/internal/pipeline"
	"github.com/Janar2510/driveapipe-app/internal/template"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Engine    *pipeline.Engine
	Templates *template.Registry
	Logger    *zap.Logger

	// Optional.
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Readiness   observability.ReadinessChecks
	Idempotency idempotency.Store
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// request context and actor middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if cfg.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled && deps.Gatherer != nil {
		r.Handle(cfg.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}

	var idemRec IdempotencyRecorder
	if deps.Metrics != nil {
		idemRec = deps.Metrics
	}
	var idemStore idempotency.Store
	if cfg.Idempotency.Enabled {
		idemStore = deps.Idempotency
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(BuildRequestContext(logger))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		// Reads.
		r.Get("/templates", handleListTemplates(deps.Templates))
		r.Get("/pipelines", handleListPipelines(deps.Engine))
		r.Get("/pipelines/{pipelineId}", handleGetPipeline(deps.Engine))
		r.Get("/pipelines/{pipelineId}/report", handleReport(deps.Engine))
		r.Get("/deals", handleListDeals(deps.Engine))
		r.Get("/deals/{dealId}", handleGetDeal(deps.Engine))
		r.Get("/leaderboard", handleLeaderboard(deps.Engine))

		// Mutations: attributed to an explicit actor.
		r.Group(func(r chi.Router) {
			r.Use(RequireActor)
			r.Use(Idempotency(idemStore, cfg.Idempotency.TTL, idemRec, logger))

			r.Post("/pipelines", handleCreatePipeline(deps.Engine))
			r.Patch("/pipelines/{pipelineId}", handleRenamePipeline(deps.Engine))
			r.Delete("/pipelines/{pipelineId}", handleDeletePipeline(deps.Engine))

			r.Post("/pipelines/{pipelineId}/stages", handleAddStage(deps.Engine))
			r.Patch("/pipelines/{pipelineId}/stages/{stageId}", handleUpdateStage(deps.Engine))
			r.Delete("/pipelines/{pipelineId}/stages/{stageId}", handleDeleteStage(deps.Engine))

			r.Post("/pipelines/{pipelineId}/stages/{stageId}/deals", handleCreateDeal(deps.Engine))
			r.Patch("/deals/{dealId}", handleUpdateDeal(deps.Engine))
			r.Delete("/deals/{dealId}", handleDeleteDeal(deps.Engine))
			r.Post("/deals/{dealId}/move", handleMoveDeal(deps.Engine))
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"error": map[string]string{"code": "METHOD_NOT_ALLOWED", "message": "method not allowed"},
		})
	})

	return r
}
