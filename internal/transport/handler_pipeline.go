package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Janar2510/driveapipe-app/internal/pipeline"
)

type stageRequest struct {
	Name        string `json:"name" validate:"notblank,max=100"`
	Probability *int   `json:"probability" validate:"required,gte=0,lte=100"`
}

type createPipelineRequest struct {
	Name       string         `json:"name" validate:"notblank,max=200"`
	TemplateID string         `json:"template_id,omitempty"`
	Stages     []stageRequest `json:"stages,omitempty" validate:"omitempty,dive"`
}

type renamePipelineRequest struct {
	Name string `json:"name" validate:"notblank,max=200"`
}

type updateStageRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,notblank,max=100"`
	Probability *int    `json:"probability,omitempty" validate:"omitempty,gte=0,lte=100"`
}

type deletePipelineResponse struct {
	PipelineID     string `json:"pipeline_id"`
	DealsDiscarded int    `json:"deals_discarded"`
}

func (s stageRequest) toInput() pipeline.StageInput {
	return pipeline.StageInput{Name: s.Name, Probability: *s.Probability}
}

func handleListPipelines(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipelines, err := engine.ListPipelines(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": pipelines})
	}
}

func handleCreatePipeline(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPipelineRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}

		in := pipeline.PipelineInput{Name: req.Name, TemplateID: req.TemplateID}
		for _, st := range req.Stages {
			in.Stages = append(in.Stages, st.toInput())
		}

		p, err := engine.CreatePipeline(r.Context(), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p)
	}
}

func handleGetPipeline(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := engine.GetPipeline(r.Context(), chi.URLParam(r, "pipelineId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func handleRenamePipeline(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req renamePipelineRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}

		p, err := engine.RenamePipeline(r.Context(), chi.URLParam(r, "pipelineId"), req.Name)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func handleDeletePipeline(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipelineID := chi.URLParam(r, "pipelineId")
		n, err := engine.DeletePipeline(r.Context(), pipelineID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, deletePipelineResponse{PipelineID: pipelineID, DealsDiscarded: n})
	}
}

// --- Stage editor ---

func handleAddStage(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stageRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}

		p, err := engine.AddStage(r.Context(), chi.URLParam(r, "pipelineId"), req.toInput())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p)
	}
}

func handleUpdateStage(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateStageRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}

		p, err := engine.UpdateStage(r.Context(),
			chi.URLParam(r, "pipelineId"), chi.URLParam(r, "stageId"),
			pipeline.StagePatch{Name: req.Name, Probability: req.Probability})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func handleDeleteStage(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := engine.DeleteStage(r.Context(), chi.URLParam(r, "pipelineId"), chi.URLParam(r, "stageId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}
