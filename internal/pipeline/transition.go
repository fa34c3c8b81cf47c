package pipeline

import (
	"fmt"
	"time"

	"github.com/Janar2510/driveapipe-app/model"
)

// MoveRequest asks for a deal to be moved from one stage to another. An empty
// ToPipelineID keeps the deal in its current pipeline.
type MoveRequest struct {
	DealID       string `json:"deal_id"`
	FromStageID  string `json:"from_stage_id"`
	ToStageID    string `json:"to_stage_id"`
	ToPipelineID string `json:"to_pipeline_id,omitempty"`
}

// moveDeal moves a deal from src into a stage of dst. src and dst may be the
// same pipeline. Nothing is mutated unless every check passes. The returned
// bool is false when the move is a no-op.
func moveDeal(
	src, dst *model.Pipeline,
	req MoveRequest,
	actor model.Actor,
	historyID string,
	now time.Time,
) (model.Deal, bool, error) {
	// 1. Locate the deal in its claimed source stage.
	deal, from := src.FindDeal(req.DealID)
	if deal == nil || from.ID != req.FromStageID {
		return model.Deal{}, false, model.NewNotFoundError(
			fmt.Sprintf("deal %q not found in stage %q", req.DealID, req.FromStageID),
		)
	}

	// 2. Resolve the destination stage.
	to := dst.FindStage(req.ToStageID)
	if to == nil {
		return model.Deal{}, false, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found in pipeline %q", req.ToStageID, dst.ID),
		)
	}

	// 3. Same stage is a no-op.
	if src.ID == dst.ID && from.ID == to.ID {
		return *deal, false, nil
	}

	// 4. Detach from the source stage.
	moved := deal.Clone()
	for i := range from.Deals {
		if from.Deals[i].ID == moved.ID {
			from.Deals = append(from.Deals[:i], from.Deals[i+1:]...)
			break
		}
	}

	// 5. Re-point, record history and attach to the destination.
	moved.StageID = to.ID
	moved.PipelineID = dst.ID
	moved.UpdatedAt = now
	moved.History = append(moved.History, model.DealHistoryEntry{
		ID:        historyID,
		DealID:    moved.ID,
		StageID:   to.ID,
		StageName: to.Name,
		Date:      now,
		UserID:    actor.ID,
		UserName:  actor.Name,
	})
	to.Deals = append(to.Deals, moved)

	return moved, true, nil
}
