package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Janar2510/driveapipe-app/internal/pipeline"
	"github.com/Janar2510/driveapipe-app/internal/template"
)

func handleReport(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := positiveIntParam(r, "stale_days")
		if err != nil {
			WriteError(w, err)
			return
		}

		report, err := engine.Report(r.Context(), chi.URLParam(r, "pipelineId"), days)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

func handleLeaderboard(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		board, err := engine.Leaderboard(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": board})
	}
}

func handleListTemplates(registry *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"items":      registry.All(),
			"default_id": registry.Default().ID,
			"checksum":   registry.Checksum(),
		})
	}
}
