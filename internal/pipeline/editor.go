package pipeline

import (
	"fmt"
	"strings"

	"github.com/Janar2510/driveapipe-app/model"
)

// StageInput describes a stage to append to a pipeline.
type StageInput struct {
	Name        string `json:"name"`
	Probability int    `json:"probability"`
}

// StagePatch carries the stage fields to change. Nil fields are left as is.
type StagePatch struct {
	Name        *string `json:"name,omitempty"`
	Probability *int    `json:"probability,omitempty"`
}

func validateStage(name string, probability int) error {
	var details []model.FieldError
	if strings.TrimSpace(name) == "" {
		details = append(details, model.FieldError{Field: "name", Code: "REQUIRED", Message: "stage name is required"})
	}
	if probability < 0 || probability > 100 {
		details = append(details, model.FieldError{Field: "probability", Code: "RANGE", Message: "probability must be between 0 and 100"})
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// addStage appends a stage with no deals at the end of the pipeline.
func addStage(p *model.Pipeline, stageID string, in StageInput) (model.Stage, error) {
	if err := validateStage(in.Name, in.Probability); err != nil {
		return model.Stage{}, err
	}
	s := model.Stage{
		ID:          stageID,
		Name:        strings.TrimSpace(in.Name),
		Position:    len(p.Stages),
		Probability: in.Probability,
		PipelineID:  p.ID,
		Deals:       []model.Deal{},
	}
	p.Stages = append(p.Stages, s)
	return s, nil
}

// updateStage renames or re-prices a stage in place. History snapshots keep
// the old name.
func updateStage(p *model.Pipeline, stageID string, patch StagePatch) (model.Stage, error) {
	s := p.FindStage(stageID)
	if s == nil {
		return model.Stage{}, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found in pipeline %q", stageID, p.ID),
		)
	}

	name, probability := s.Name, s.Probability
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
	}
	if patch.Probability != nil {
		probability = *patch.Probability
	}
	if err := validateStage(name, probability); err != nil {
		return model.Stage{}, err
	}

	s.Name = name
	s.Probability = probability
	return *s, nil
}

// deleteStage removes a stage together with its deals and reindexes the
// remaining positions. It returns the removed deals.
func deleteStage(p *model.Pipeline, stageID string) ([]model.Deal, error) {
	idx := p.StageIndex(stageID)
	if idx < 0 {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found in pipeline %q", stageID, p.ID),
		)
	}
	if len(p.Stages) <= 1 {
		return nil, model.NewInvariantViolationError(
			fmt.Sprintf("pipeline %q must keep at least one stage", p.ID),
		)
	}

	removed := p.Stages[idx].Deals
	p.Stages = append(p.Stages[:idx], p.Stages[idx+1:]...)
	reindex(p)
	return removed, nil
}

func reindex(p *model.Pipeline) {
	for i := range p.Stages {
		p.Stages[i].Position = i
	}
}
