package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Janar2510/driveapipe-app/internal/observability"
)

// DefaultSweepInterval is used when no sweep interval is configured.
const DefaultSweepInterval = time.Hour

// SweepResult summarises one stale-deal scan.
type SweepResult struct {
	Pipelines          int                 `json:"pipelines"`
	Deals              int                 `json:"deals"`
	StaleDeals         int                 `json:"stale_deals"`
	StaleByPipeline    map[string][]string `json:"stale_by_pipeline"`
	StaleThresholdDays int                 `json:"stale_threshold_days"`
	ScannedAt          time.Time           `json:"scanned_at"`
}

// SweepStale scans every pipeline for stale deals, publishes per-pipeline
// counts to the recorder and logs each stale deal. It does not modify any
// deal. A non-positive threshold uses the engine default.
func (e *Engine) SweepStale(ctx context.Context, thresholdDays int) (res SweepResult, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.sweep_stale")
	start := time.Now()
	defer func() {
		observability.EndSpanWithError(span, err)
		e.recorder.RecordSweep(time.Since(start), err)
	}()

	if thresholdDays <= 0 {
		thresholdDays = e.staleDays
	}

	pipelines, err := e.store.List(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	now := e.now()
	res = SweepResult{
		Pipelines:          len(pipelines),
		StaleByPipeline:    make(map[string][]string),
		StaleThresholdDays: thresholdDays,
		ScannedAt:          now,
	}
	logger := e.log(ctx)
	for _, p := range pipelines {
		res.Deals += p.DealCount()
		stale := StaleDeals(p, thresholdDays, now)
		e.recorder.SetStaleDeals(p.ID, len(stale))
		if len(stale) == 0 {
			continue
		}

		ids := make([]string, 0, len(stale))
		for _, d := range stale {
			ids = append(ids, d.ID)
			last, _ := d.LastHistory()
			logger.Info("stale deal",
				zap.String("pipeline_id", p.ID),
				zap.String("stage_id", d.StageID),
				zap.String("deal_id", d.ID),
				zap.String("owner_id", d.OwnerID),
				zap.Int("days_in_stage", DaysBetween(last.Date, now)),
			)
		}
		res.StaleByPipeline[p.ID] = ids
		res.StaleDeals += len(ids)
	}

	logger.Debug("stale sweep completed",
		zap.Int("pipelines", res.Pipelines),
		zap.Int("stale_deals", res.StaleDeals),
	)
	return res, nil
}

// RunSweeper calls SweepStale every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, engine *Engine, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.SweepStale(ctx, 0); err != nil {
				logger.Error("stale deal sweep failed", zap.Error(err))
			}
		}
	}
}
