package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Janar2510/driveapipe-app/model"
)

// StageConversion is the share, in whole percent, of deals that reached From
// and also reached To.
type StageConversion struct {
	FromStageID   string `json:"from_stage_id"`
	FromStageName string `json:"from_stage_name"`
	ToStageID     string `json:"to_stage_id"`
	ToStageName   string `json:"to_stage_name"`
	Rate          int    `json:"rate"`
}

// Label renders the conversion as "From → To".
func (c StageConversion) Label() string {
	return c.FromStageName + " → " + c.ToStageName
}

// StageVelocity is the average number of days deals spent in a stage.
type StageVelocity struct {
	StageID     string `json:"stage_id"`
	StageName   string `json:"stage_name"`
	AverageDays int    `json:"average_days"`
	Deals       int    `json:"deals"`
}

// StageReport summarises one stage.
type StageReport struct {
	StageID       string          `json:"stage_id"`
	Name          string          `json:"name"`
	Position      int             `json:"position"`
	Probability   int             `json:"probability"`
	DealCount     int             `json:"deal_count"`
	Value         decimal.Decimal `json:"value"`
	WeightedValue decimal.Decimal `json:"weighted_value"`
	Velocity      StageVelocity   `json:"velocity"`
}

// Report is the read model combining every derived metric of a pipeline.
type Report struct {
	PipelineID         string            `json:"pipeline_id"`
	Name               string            `json:"name"`
	DealCount          int               `json:"deal_count"`
	TotalValue         decimal.Decimal   `json:"total_value"`
	WeightedValue      decimal.Decimal   `json:"weighted_value"`
	Stages             []StageReport     `json:"stages"`
	Conversions        []StageConversion `json:"conversions"`
	StaleDealIDs       []string          `json:"stale_deal_ids"`
	StaleThresholdDays int               `json:"stale_threshold_days"`
	GeneratedAt        time.Time         `json:"generated_at"`
}

// LeaderboardEntry aggregates the deals owned by one user.
type LeaderboardEntry struct {
	OwnerID    string          `json:"owner_id"`
	DealCount  int             `json:"deal_count"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// reached maps each stage ID to the set of deal IDs that are currently in the
// stage or have it in their history. Only deals of p are considered.
func reached(p model.Pipeline) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		out[s.ID] = make(map[string]bool)
	}
	mark := func(stageID, dealID string) {
		if set, ok := out[stageID]; ok {
			set[dealID] = true
		}
	}
	for _, s := range p.Stages {
		for _, d := range s.Deals {
			mark(s.ID, d.ID)
			for _, h := range d.History {
				mark(h.StageID, d.ID)
			}
		}
	}
	return out
}

// ConversionRates returns one rate per adjacent stage pair, n-1 for n stages.
// A stage nobody reached converts at 0.
func ConversionRates(p model.Pipeline) []StageConversion {
	if len(p.Stages) < 2 {
		return []StageConversion{}
	}
	sets := reached(p)
	out := make([]StageConversion, 0, len(p.Stages)-1)
	for i := 0; i < len(p.Stages)-1; i++ {
		from, to := p.Stages[i], p.Stages[i+1]
		c := StageConversion{
			FromStageID:   from.ID,
			FromStageName: from.Name,
			ToStageID:     to.ID,
			ToStageName:   to.Name,
		}
		if n := len(sets[from.ID]); n > 0 {
			c.Rate = int(math.Round(float64(len(sets[to.ID])) / float64(n) * 100))
		}
		out = append(out, c)
	}
	return out
}

// dealDaysInStage sums the days a deal spent in stageID over every visit,
// counting the open visit up to now when the deal is still there.
func dealDaysInStage(d model.Deal, stageID string, now time.Time) int {
	days := 0
	for i := 0; i+1 < len(d.History); i++ {
		if d.History[i].StageID == stageID {
			days += DaysBetween(d.History[i].Date, d.History[i+1].Date)
		}
	}
	if d.StageID == stageID {
		if last, ok := d.LastHistory(); ok {
			days += DaysBetween(last.Date, now)
		}
	}
	return days
}

// Velocity returns the average days spent in the stage by the deals that
// reached it, rounded to whole days. Re-entries are summed per deal.
func Velocity(p model.Pipeline, stageID string, now time.Time) StageVelocity {
	v := StageVelocity{StageID: stageID}
	if s := p.FindStage(stageID); s != nil {
		v.StageName = s.Name
	}

	ids := reached(p)[stageID]
	if len(ids) == 0 {
		return v
	}

	total := 0
	for _, s := range p.Stages {
		for _, d := range s.Deals {
			if ids[d.ID] {
				total += dealDaysInStage(d, stageID, now)
			}
		}
	}
	v.Deals = len(ids)
	v.AverageDays = int(math.Round(float64(total) / float64(len(ids))))
	return v
}

// BuildReport computes the full report for a pipeline at now. staleDays is
// used as given; Engine.Report resolves the configured default.
func BuildReport(p model.Pipeline, staleDays int, now time.Time) Report {
	r := Report{
		PipelineID:         p.ID,
		Name:               p.Name,
		DealCount:          p.DealCount(),
		TotalValue:         p.TotalValue(),
		WeightedValue:      p.WeightedValue(),
		Stages:             make([]StageReport, 0, len(p.Stages)),
		Conversions:        ConversionRates(p),
		StaleDealIDs:       []string{},
		StaleThresholdDays: staleDays,
		GeneratedAt:        now,
	}
	for i := range p.Stages {
		s := &p.Stages[i]
		r.Stages = append(r.Stages, StageReport{
			StageID:       s.ID,
			Name:          s.Name,
			Position:      s.Position,
			Probability:   s.Probability,
			DealCount:     len(s.Deals),
			Value:         s.Value(),
			WeightedValue: s.WeightedValue(),
			Velocity:      Velocity(p, s.ID, now),
		})
	}
	for _, d := range StaleDeals(p, staleDays, now) {
		r.StaleDealIDs = append(r.StaleDealIDs, d.ID)
	}
	return r
}

// BuildLeaderboard aggregates deals by owner across pipelines, highest total
// value first. Ties are ordered by owner ID.
func BuildLeaderboard(pipelines []model.Pipeline) []LeaderboardEntry {
	byOwner := make(map[string]*LeaderboardEntry)
	for _, p := range pipelines {
		for _, s := range p.Stages {
			for _, d := range s.Deals {
				e, ok := byOwner[d.OwnerID]
				if !ok {
					e = &LeaderboardEntry{OwnerID: d.OwnerID, TotalValue: decimal.Zero}
					byOwner[d.OwnerID] = e
				}
				e.DealCount++
				e.TotalValue = e.TotalValue.Add(d.Value)
			}
		}
	}

	out := make([]LeaderboardEntry, 0, len(byOwner))
	for _, e := range byOwner {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalValue.Cmp(out[j].TotalValue); c != 0 {
			return c > 0
		}
		return out[i].OwnerID < out[j].OwnerID
	})
	return out
}
