package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Janar2510/driveapipe-app/internal/observability"
	"github.com/Janar2510/driveapipe-app/internal/template"
	"github.com/Janar2510/driveapipe-app/model"
)

// DefaultCurrency is used for deals created without a currency.
const DefaultCurrency = "USD"

// maxLocateAttempts bounds how often a deal lookup is retried when the deal
// moves to another pipeline between the index read and the lock.
const maxLocateAttempts = 3

// Recorder receives domain metrics from the engine.
type Recorder interface {
	RecordDealMove(pipelineID, result string)
	RecordStageEdit(op string)
	RecordDealCreated(pipelineID string)
	RecordDealsDeleted(pipelineID string, n int)
	SetStaleDeals(pipelineID string, n int)
	RecordSweep(duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordDealMove(string, string) {}
func (nopRecorder) RecordStageEdit(string) {}
func (nopRecorder) RecordDealCreated(string) {}
func (nopRecorder) RecordDealsDeleted(string, int) {}
func (nopRecorder) SetStaleDeals(string, int) {}
func (nopRecorder) RecordSweep(time.Duration, error) {}

// Engine applies every mutation to pipelines: the stage editor, deal
// transitions and deal CRUD. Mutations on one pipeline are serialized; each
// works on a private copy that is written back whole.
type Engine struct {
	store     PipelineStore
	templates *template.Registry
	locks     *keyedLocker
	logger    *zap.Logger
	recorder  Recorder
	now       func() time.Time
	newID     func() string
	staleDays int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithLogger sets the fallback logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithStaleThreshold sets the default staleness threshold in days.
func WithStaleThreshold(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.staleDays = days
		}
	}
}

// NewEngine creates a new pipeline engine. A nil registry uses the built-in
// templates only.
func NewEngine(store PipelineStore, templates *template.Registry, opts ...Option) *Engine {
	if templates == nil {
		templates = template.NewRegistry(nil, "")
	}
	e := &Engine{
		store:     store,
		templates: templates,
		locks:     newKeyedLocker(),
		logger:    zap.NewNop(),
		recorder:  nopRecorder{},
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		staleDays: DefaultStaleThresholdDays,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StaleThresholdDays returns the engine's default staleness threshold.
func (e *Engine) StaleThresholdDays() int { return e.staleDays }

// --- Pipelines ---

// PipelineInput describes a new pipeline. Stages take precedence over
// TemplateID; with neither, the default template is used.
type PipelineInput struct {
	Name       string       `json:"name"`
	TemplateID string       `json:"template_id,omitempty"`
	Stages     []StageInput `json:"stages,omitempty"`
}

// CreatePipeline creates a pipeline from explicit stages or a template.
func (e *Engine) CreatePipeline(ctx context.Context, in PipelineInput) (p model.Pipeline, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.create_pipeline")
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Validate name.
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Pipeline{}, model.NewFieldValidationError("name", "REQUIRED", "pipeline name is required")
	}

	// 2. Resolve stages.
	stages := in.Stages
	if len(stages) == 0 {
		tmpl := e.templates.Default()
		if in.TemplateID != "" {
			var ok bool
			if tmpl, ok = e.templates.Get(in.TemplateID); !ok {
				return model.Pipeline{}, model.NewNotFoundError(fmt.Sprintf("template %q not found", in.TemplateID))
			}
		}
		for _, st := range tmpl.Stages {
			stages = append(stages, StageInput{Name: st.Name, Probability: st.Probability})
		}
	}

	// 3. Build the aggregate.
	now := e.now()
	p = model.Pipeline{
		ID:        e.newID(),
		Name:      name,
		Stages:    make([]model.Stage, 0, len(stages)),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, st := range stages {
		if _, err := addStage(&p, e.newID(), st); err != nil {
			return model.Pipeline{}, err
		}
	}
	span.SetAttributes(observability.AttrPipelineID.String(p.ID))

	// 4. Persist.
	if err := e.store.Create(ctx, p); err != nil {
		return model.Pipeline{}, err
	}

	e.log(ctx).Info("pipeline created",
		zap.String("pipeline_id", p.ID),
		zap.Int("stages", len(p.Stages)),
	)
	return p, nil
}

// GetPipeline returns a pipeline by ID.
func (e *Engine) GetPipeline(ctx context.Context, pipelineID string) (model.Pipeline, error) {
	return e.store.Get(ctx, pipelineID)
}

// ListPipelines returns every pipeline.
func (e *Engine) ListPipelines(ctx context.Context) ([]model.Pipeline, error) {
	return e.store.List(ctx)
}

// RenamePipeline changes a pipeline's name.
func (e *Engine) RenamePipeline(ctx context.Context, pipelineID, name string) (p model.Pipeline, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.rename_pipeline",
		observability.AttrPipelineID.String(pipelineID))
	defer func() { observability.EndSpanWithError(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return model.Pipeline{}, model.NewFieldValidationError("name", "REQUIRED", "pipeline name is required")
	}
	return e.mutate(ctx, pipelineID, func(p *model.Pipeline) error {
		p.Name = name
		return nil
	})
}

// DeletePipeline removes a pipeline together with its stages and deals. It
// returns the number of deals discarded.
func (e *Engine) DeletePipeline(ctx context.Context, pipelineID string) (n int, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.delete_pipeline",
		observability.AttrPipelineID.String(pipelineID))
	defer func() { observability.EndSpanWithError(span, err) }()

	unlock := e.locks.Lock(pipelineID)
	defer unlock()

	current, err := e.store.Get(ctx, pipelineID)
	if err != nil {
		return 0, err
	}
	if err := e.store.Delete(ctx, pipelineID); err != nil {
		return 0, err
	}

	n = current.DealCount()
	e.recorder.RecordDealsDeleted(pipelineID, n)
	e.recorder.SetStaleDeals(pipelineID, 0)
	e.log(ctx).Info("pipeline deleted",
		zap.String("pipeline_id", pipelineID),
		zap.Int("stages_discarded", len(current.Stages)),
		zap.Int("deals_discarded", n),
	)
	return n, nil
}

// --- Stage editor ---

// AddStage appends a stage to the end of the pipeline.
func (e *Engine) AddStage(ctx context.Context, pipelineID string, in StageInput) (p model.Pipeline, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.add_stage",
		observability.AttrPipelineID.String(pipelineID))
	defer func() { observability.EndSpanWithError(span, err) }()

	var added model.Stage
	p, err = e.mutate(ctx, pipelineID, func(p *model.Pipeline) error {
		var err error
		added, err = addStage(p, e.newID(), in)
		return err
	})
	if err != nil {
		return model.Pipeline{}, err
	}

	span.SetAttributes(observability.AttrStageID.String(added.ID))
	e.recorder.RecordStageEdit("add")
	e.log(ctx).Info("stage added",
		zap.String("pipeline_id", pipelineID),
		zap.String("stage_id", added.ID),
		zap.Int("position", added.Position),
	)
	return p, nil
}

// UpdateStage renames or re-prices a stage. Deal history is left untouched.
func (e *Engine) UpdateStage(ctx context.Context, pipelineID, stageID string, patch StagePatch) (p model.Pipeline, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.update_stage",
		observability.AttrPipelineID.String(pipelineID),
		observability.AttrStageID.String(stageID))
	defer func() { observability.EndSpanWithError(span, err) }()

	p, err = e.mutate(ctx, pipelineID, func(p *model.Pipeline) error {
		_, err := updateStage(p, stageID, patch)
		return err
	})
	if err != nil {
		return model.Pipeline{}, err
	}

	e.recorder.RecordStageEdit("update")
	e.log(ctx).Info("stage updated",
		zap.String("pipeline_id", pipelineID),
		zap.String("stage_id", stageID),
	)
	return p, nil
}

// DeleteStage removes a stage and every deal in it. The last stage of a
// pipeline cannot be deleted.
func (e *Engine) DeleteStage(ctx context.Context, pipelineID, stageID string) (p model.Pipeline, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.delete_stage",
		observability.AttrPipelineID.String(pipelineID),
		observability.AttrStageID.String(stageID))
	defer func() { observability.EndSpanWithError(span, err) }()

	var removed []model.Deal
	p, err = e.mutate(ctx, pipelineID, func(p *model.Pipeline) error {
		var err error
		removed, err = deleteStage(p, stageID)
		return err
	})
	if err != nil {
		return model.Pipeline{}, err
	}

	e.recorder.RecordStageEdit("delete")
	if len(removed) > 0 {
		e.recorder.RecordDealsDeleted(pipelineID, len(removed))
	}
	e.log(ctx).Info("stage deleted",
		zap.String("pipeline_id", pipelineID),
		zap.String("stage_id", stageID),
		zap.Int("deals_discarded", len(removed)),
	)
	return p, nil
}

// --- Deals ---

// DealInput describes a new deal.
type DealInput struct {
	Title             string
	Value             decimal.Decimal
	Currency          string
	ContactIDs        []string
	OrganizationID    string
	OwnerID           string
	ExpectedCloseDate *time.Time
	Tags              []string
	CustomFields      map[string]any
}

// DealPatch carries the deal fields to change. Nil fields are left as is.
// Stage changes go through MoveDeal only.
type DealPatch struct {
	Title                  *string
	Value                  *decimal.Decimal
	Currency               *string
	ContactIDs             *[]string
	OrganizationID         *string
	OwnerID                *string
	ExpectedCloseDate      *time.Time
	ClearExpectedCloseDate bool
	Tags                   *[]string
	CustomFields           map[string]any
}

func validateDeal(title string, value decimal.Decimal) error {
	var details []model.FieldError
	if strings.TrimSpace(title) == "" {
		details = append(details, model.FieldError{Field: "title", Code: "REQUIRED", Message: "deal title is required"})
	}
	if value.IsNegative() {
		details = append(details, model.FieldError{Field: "value", Code: "RANGE", Message: "deal value must not be negative"})
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// CreateDeal creates a deal in the given stage with one initial history
// entry attributed to the actor. The owner defaults to the actor.
func (e *Engine) CreateDeal(ctx context.Context, pipelineID, stageID string, in DealInput, actor model.Actor) (deal model.Deal, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.create_deal",
		observability.AttrPipelineID.String(pipelineID),
		observability.AttrStageID.String(stageID))
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := validateDeal(in.Title, in.Value); err != nil {
		return model.Deal{}, err
	}

	_, err = e.mutate(ctx, pipelineID, func(p *model.Pipeline) error {
		stage := p.FindStage(stageID)
		if stage == nil {
			return model.NewNotFoundError(fmt.Sprintf("stage %q not found in pipeline %q", stageID, pipelineID))
		}

		now := e.now()
		deal = model.Deal{
			ID:                e.newID(),
			Title:             strings.TrimSpace(in.Title),
			Value:             in.Value,
			Currency:          in.Currency,
			StageID:           stage.ID,
			PipelineID:        p.ID,
			ContactIDs:        nonNil(in.ContactIDs),
			OrganizationID:    in.OrganizationID,
			OwnerID:           in.OwnerID,
			CreatedAt:         now,
			UpdatedAt:         now,
			ExpectedCloseDate: in.ExpectedCloseDate,
			Tags:              nonNil(in.Tags),
			CustomFields:      in.CustomFields,
		}
		if deal.Currency == "" {
			deal.Currency = DefaultCurrency
		}
		if deal.OwnerID == "" {
			deal.OwnerID = actor.ID
		}
		deal.History = []model.DealHistoryEntry{{
			ID:        e.newID(),
			DealID:    deal.ID,
			StageID:   stage.ID,
			StageName: stage.Name,
			Date:      now,
			UserID:    actor.ID,
			UserName:  actor.Name,
		}}
		stage.Deals = append(stage.Deals, deal)
		return nil
	})
	if err != nil {
		return model.Deal{}, err
	}

	span.SetAttributes(observability.AttrDealID.String(deal.ID))
	e.recorder.RecordDealCreated(pipelineID)
	e.log(ctx).Info("deal created",
		zap.String("pipeline_id", pipelineID),
		zap.String("stage_id", stageID),
		zap.String("deal_id", deal.ID),
	)
	return deal, nil
}

// GetDeal returns a deal by ID.
func (e *Engine) GetDeal(ctx context.Context, dealID string) (model.Deal, error) {
	pipelineID, err := e.store.FindDealPipeline(ctx, dealID)
	if err != nil {
		return model.Deal{}, err
	}
	p, err := e.store.Get(ctx, pipelineID)
	if err != nil {
		return model.Deal{}, err
	}
	d, _ := p.FindDeal(dealID)
	if d == nil {
		return model.Deal{}, dealNotFound(dealID)
	}
	return *d, nil
}

// ListDeals returns the deals matching the filter in pipeline and stage order.
func (e *Engine) ListDeals(ctx context.Context, f DealFilter) ([]model.Deal, error) {
	var pipelines []model.Pipeline
	if f.PipelineID != "" {
		p, err := e.store.Get(ctx, f.PipelineID)
		if err != nil {
			return nil, err
		}
		pipelines = []model.Pipeline{p}
	} else {
		var err error
		if pipelines, err = e.store.List(ctx); err != nil {
			return nil, err
		}
	}

	threshold := f.StaleThresholdDays
	if threshold <= 0 {
		threshold = e.staleDays
	}
	now := e.now()

	out := []model.Deal{}
	for _, p := range pipelines {
		for _, st := range p.Stages {
			for _, d := range st.Deals {
				if !f.match(d) {
					continue
				}
				if f.StaleOnly && !IsStale(d, threshold, now) {
					continue
				}
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// UpdateDeal applies a patch to a deal's descriptive fields.
func (e *Engine) UpdateDeal(ctx context.Context, dealID string, patch DealPatch, actor model.Actor) (deal model.Deal, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.update_deal",
		observability.AttrDealID.String(dealID))
	defer func() { observability.EndSpanWithError(span, err) }()

	current, unlock, err := e.lockDealPipeline(ctx, dealID, "")
	if err != nil {
		return model.Deal{}, err
	}
	defer unlock()

	_, err = e.apply(ctx, current, func(p *model.Pipeline) error {
		d, _ := p.FindDeal(dealID)
		applyDealPatch(d, patch)
		if err := validateDeal(d.Title, d.Value); err != nil {
			return err
		}
		d.UpdatedAt = e.now()
		deal = *d
		return nil
	})
	if err != nil {
		return model.Deal{}, err
	}

	e.log(ctx).Info("deal updated",
		zap.String("pipeline_id", deal.PipelineID),
		zap.String("deal_id", dealID),
		zap.String("actor_id", actor.ID),
	)
	if patch.CustomFields != nil {
		e.log(ctx).Debug("deal custom fields changed",
			zap.String("deal_id", dealID),
			zap.Any("custom_fields", observability.RedactCustomFields(patch.CustomFields)),
		)
	}
	return deal, nil
}

func applyDealPatch(d *model.Deal, patch DealPatch) {
	if patch.Title != nil {
		d.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Value != nil {
		d.Value = *patch.Value
	}
	if patch.Currency != nil {
		d.Currency = *patch.Currency
	}
	if patch.ContactIDs != nil {
		d.ContactIDs = nonNil(*patch.ContactIDs)
	}
	if patch.OrganizationID != nil {
		d.OrganizationID = *patch.OrganizationID
	}
	if patch.OwnerID != nil {
		d.OwnerID = *patch.OwnerID
	}
	if patch.ClearExpectedCloseDate {
		d.ExpectedCloseDate = nil
	} else if patch.ExpectedCloseDate != nil {
		t := *patch.ExpectedCloseDate
		d.ExpectedCloseDate = &t
	}
	if patch.Tags != nil {
		d.Tags = nonNil(*patch.Tags)
	}
	if patch.CustomFields != nil {
		if d.CustomFields == nil {
			d.CustomFields = make(map[string]any, len(patch.CustomFields))
		}
		for k, v := range patch.CustomFields {
			if v == nil {
				delete(d.CustomFields, k)
				continue
			}
			d.CustomFields[k] = v
		}
	}
}

// DeleteDeal removes a deal from whichever stage holds it.
func (e *Engine) DeleteDeal(ctx context.Context, dealID string) (err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.delete_deal",
		observability.AttrDealID.String(dealID))
	defer func() { observability.EndSpanWithError(span, err) }()

	current, unlock, err := e.lockDealPipeline(ctx, dealID, "")
	if err != nil {
		return err
	}
	defer unlock()

	_, err = e.apply(ctx, current, func(p *model.Pipeline) error {
		_, st := p.FindDeal(dealID)
		for i := range st.Deals {
			if st.Deals[i].ID == dealID {
				st.Deals = append(st.Deals[:i], st.Deals[i+1:]...)
				break
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.recorder.RecordDealsDeleted(current.ID, 1)
	e.log(ctx).Info("deal deleted",
		zap.String("pipeline_id", current.ID),
		zap.String("deal_id", dealID),
	)
	return nil
}

// MoveDeal moves a deal to another stage, possibly in another pipeline, and
// appends a history entry attributed to the actor. Moving a deal onto the
// stage it is already in changes nothing.
func (e *Engine) MoveDeal(ctx context.Context, req MoveRequest, actor model.Actor) (deal model.Deal, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.move_deal",
		observability.AttrDealID.String(req.DealID),
		observability.AttrStageID.String(req.ToStageID),
		observability.AttrActorID.String(actor.ID))
	result, metricPipeline := "moved", req.ToPipelineID
	defer func() {
		observability.EndSpanWithError(span, err)
		if err != nil {
			result = resultLabel(err)
		}
		e.recorder.RecordDealMove(metricPipeline, result)
	}()

	// 1. Lock the source pipeline, and the target when it differs.
	src, unlock, err := e.lockDealPipeline(ctx, req.DealID, req.ToPipelineID)
	if err != nil {
		return model.Deal{}, err
	}
	defer unlock()
	metricPipeline = src.ID
	span.SetAttributes(observability.AttrPipelineID.String(src.ID))

	// 2. Work on private copies.
	srcNext := src.Clone()
	dstNext := &srcNext
	crossPipeline := req.ToPipelineID != "" && req.ToPipelineID != src.ID
	if crossPipeline {
		dst, err := e.store.Get(ctx, req.ToPipelineID)
		if err != nil {
			return model.Deal{}, err
		}
		dstClone := dst.Clone()
		dstNext = &dstClone
		span.SetAttributes(observability.AttrToPipelineID.String(dst.ID))
	}

	// 3. Apply the transition.
	now := e.now()
	deal, changed, err := moveDeal(&srcNext, dstNext, req, actor, e.newID(), now)
	if err != nil {
		return model.Deal{}, err
	}
	if !changed {
		result = "noop"
		return deal, nil
	}

	// 4. Persist all touched pipelines together.
	srcNext.UpdatedAt = now
	dstNext.UpdatedAt = now
	if crossPipeline {
		err = e.store.Update(ctx, srcNext, *dstNext)
	} else {
		err = e.store.Update(ctx, srcNext)
	}
	if err != nil {
		return model.Deal{}, err
	}

	e.log(ctx).Info("deal moved",
		zap.String("deal_id", deal.ID),
		zap.String("from_pipeline_id", src.ID),
		zap.String("from_stage_id", req.FromStageID),
		zap.String("to_pipeline_id", deal.PipelineID),
		zap.String("to_stage_id", deal.StageID),
		zap.String("actor_id", actor.ID),
	)
	return deal, nil
}

// --- Read models ---

// Report computes the metrics of one pipeline. A non-positive staleDays uses
// the engine default.
func (e *Engine) Report(ctx context.Context, pipelineID string, staleDays int) (Report, error) {
	p, err := e.store.Get(ctx, pipelineID)
	if err != nil {
		return Report{}, err
	}
	if staleDays <= 0 {
		staleDays = e.staleDays
	}
	return BuildReport(p, staleDays, e.now()), nil
}

// Leaderboard ranks deal owners by total deal value across all pipelines.
func (e *Engine) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	pipelines, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return BuildLeaderboard(pipelines), nil
}

// --- Internals ---

// mutate locks a pipeline, applies fn to a copy and writes it back.
func (e *Engine) mutate(ctx context.Context, pipelineID string, fn func(p *model.Pipeline) error) (model.Pipeline, error) {
	unlock := e.locks.Lock(pipelineID)
	defer unlock()

	current, err := e.store.Get(ctx, pipelineID)
	if err != nil {
		return model.Pipeline{}, err
	}
	return e.apply(ctx, current, fn)
}

// apply runs fn on a copy of current and persists it. The caller holds the
// pipeline lock.
func (e *Engine) apply(ctx context.Context, current model.Pipeline, fn func(p *model.Pipeline) error) (model.Pipeline, error) {
	next := current.Clone()
	if err := fn(&next); err != nil {
		return model.Pipeline{}, err
	}
	next.UpdatedAt = e.now()
	if err := e.store.Update(ctx, next); err != nil {
		return model.Pipeline{}, err
	}
	next.Version++
	return next, nil
}

// lockDealPipeline locks the pipeline holding the deal, plus extra when set,
// and returns the pipeline as loaded under the lock.
func (e *Engine) lockDealPipeline(ctx context.Context, dealID, extra string) (model.Pipeline, func(), error) {
	for attempt := 0; attempt < maxLocateAttempts; attempt++ {
		pipelineID, err := e.store.FindDealPipeline(ctx, dealID)
		if err != nil {
			return model.Pipeline{}, nil, err
		}

		unlock := e.locks.Lock(pipelineID, extra)
		p, err := e.store.Get(ctx, pipelineID)
		if err != nil {
			unlock()
			return model.Pipeline{}, nil, err
		}
		if d, _ := p.FindDeal(dealID); d != nil {
			return p, unlock, nil
		}
		// Moved or deleted between the lookup and the lock.
		unlock()
	}
	return model.Pipeline{}, nil, dealNotFound(dealID)
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	return observability.RequestLogger(ctx, e.logger)
}

func resultLabel(err error) string {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return strings.ToLower(ee.Code)
	}
	return "error"
}
