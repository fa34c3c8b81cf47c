package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Janar2510/driveapipe-app/internal/pipeline"
	"github.com/Janar2510/driveapipe-app/model"
)

type createDealRequest struct {
	Title             string          `json:"title" validate:"notblank,max=300"`
	Value             decimal.Decimal `json:"value"`
	Currency          string          `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	ContactIDs        []string        `json:"contact_ids,omitempty"`
	OrganizationID    string          `json:"organization_id,omitempty"`
	OwnerID           string          `json:"owner_id,omitempty"`
	ExpectedCloseDate *time.Time      `json:"expected_close_date,omitempty"`
	Tags              []string        `json:"tags,omitempty" validate:"omitempty,dive,notblank"`
	CustomFields      map[string]any  `json:"custom_fields,omitempty"`
}

type updateDealRequest struct {
	Title                  *string          `json:"title,omitempty" validate:"omitempty,notblank,max=300"`
	Value                  *decimal.Decimal `json:"value,omitempty"`
	Currency               *string          `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	ContactIDs             *[]string        `json:"contact_ids,omitempty"`
	OrganizationID         *string          `json:"organization_id,omitempty"`
	OwnerID                *string          `json:"owner_id,omitempty"`
	ExpectedCloseDate      *time.Time       `json:"expected_close_date,omitempty"`
	ClearExpectedCloseDate bool             `json:"clear_expected_close_date,omitempty"`
	Tags                   *[]string        `json:"tags,omitempty"`
	CustomFields           map[string]any   `json:"custom_fields,omitempty"`
}

type moveDealRequest struct {
	FromStageID  string `json:"from_stage_id" validate:"required"`
	ToStageID    string `json:"to_stage_id" validate:"required"`
	ToPipelineID string `json:"to_pipeline_id,omitempty"`
}

// actorFrom returns the acting user of the request. RequireActor guarantees
// it is present on mutating routes.
func actorFrom(r *http.Request) model.Actor {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		return model.SystemActor
	}
	return rctx.Actor()
}

func handleCreateDeal(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createDealRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}

		deal, err := engine.CreateDeal(r.Context(),
			chi.URLParam(r, "pipelineId"), chi.URLParam(r, "stageId"),
			pipeline.DealInput{
				Title:             req.Title,
				Value:             req.Value,
				Currency:          req.Currency,
				ContactIDs:        req.ContactIDs,
				OrganizationID:    req.OrganizationID,
				OwnerID:           req.OwnerID,
				ExpectedCloseDate: req.ExpectedCloseDate,
				Tags:              req.Tags,
				CustomFields:      req.CustomFields,
			},
			actorFrom(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, deal)
	}
}

func handleGetDeal(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deal, err := engine.GetDeal(r.Context(), chi.URLParam(r, "dealId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, deal)
	}
}

func handleListDeals(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := pipeline.DealFilter{
			PipelineID: q.Get("pipeline_id"),
			StageID:    q.Get("stage_id"),
			OwnerID:    q.Get("owner_id"),
		}
		if v := q.Get("stale"); v != "" {
			stale, err := strconv.ParseBool(v)
			if err != nil {
				WriteBadRequest(w, "stale must be a boolean")
				return
			}
			f.StaleOnly = stale
		}
		days, err := positiveIntParam(r, "stale_days")
		if err != nil {
			WriteError(w, err)
			return
		}
		f.StaleThresholdDays = days

		deals, err := engine.ListDeals(r.Context(), f)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": deals})
	}
}

func handleUpdateDeal(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateDealRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}

		deal, err := engine.UpdateDeal(r.Context(), chi.URLParam(r, "dealId"),
			pipeline.DealPatch{
				Title:                  req.Title,
				Value:                  req.Value,
				Currency:               req.Currency,
				ContactIDs:             req.ContactIDs,
				OrganizationID:         req.OrganizationID,
				OwnerID:                req.OwnerID,
				ExpectedCloseDate:      req.ExpectedCloseDate,
				ClearExpectedCloseDate: req.ClearExpectedCloseDate,
				Tags:                   req.Tags,
				CustomFields:           req.CustomFields,
			},
			actorFrom(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, deal)
	}
}

func handleDeleteDeal(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engine.DeleteDeal(r.Context(), chi.URLParam(r, "dealId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMoveDeal(engine *pipeline.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req moveDealRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}

		deal, err := engine.MoveDeal(r.Context(), pipeline.MoveRequest{
			DealID:       chi.URLParam(r, "dealId"),
			FromStageID:  req.FromStageID,
			ToStageID:    req.ToStageID,
			ToPipelineID: req.ToPipelineID,
		}, actorFrom(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, deal)
	}
}

// positiveIntParam parses an optional positive integer query parameter.
// A missing parameter returns 0.
func positiveIntParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, model.NewBadRequestError(name + " must be a positive integer")
	}
	return n, nil
}
