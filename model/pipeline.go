package model

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Pipeline is the aggregate root: an ordered list of stages, each holding the
// deals currently in it. Stage positions are dense, 0..n-1, in slice order.
type Pipeline struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stages    []Stage   `json:"stages"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stage is a named step of a pipeline with a win probability in percent.
type Stage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Probability int    `json:"probability"`
	PipelineID  string `json:"pipeline_id"`
	Deals       []Deal `json:"deals"`
}

// Deal is a sales opportunity. StageID and PipelineID always point at the
// stage and pipeline that contain it.
type Deal struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Value             decimal.Decimal    `json:"value"`
	Currency          string             `json:"currency"`
	StageID           string             `json:"stage_id"`
	PipelineID        string             `json:"pipeline_id"`
	ContactIDs        []string           `json:"contact_ids"`
	OrganizationID    string             `json:"organization_id,omitempty"`
	OwnerID           string             `json:"owner_id"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	ExpectedCloseDate *time.Time         `json:"expected_close_date,omitempty"`
	History           []DealHistoryEntry `json:"history"`
	Tags              []string           `json:"tags"`
	CustomFields      map[string]any     `json:"custom_fields,omitempty"`
}

// DealHistoryEntry records a deal entering a stage. StageName is a snapshot
// taken at the time of the transition and is never rewritten.
type DealHistoryEntry struct {
	ID        string    `json:"id"`
	DealID    string    `json:"deal_id"`
	StageID   string    `json:"stage_id"`
	StageName string    `json:"stage_name"`
	Date      time.Time `json:"date"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
}

// FindStage returns the stage with the given ID, or nil.
func (p *Pipeline) FindStage(stageID string) *Stage {
	for i := range p.Stages {
		if p.Stages[i].ID == stageID {
			return &p.Stages[i]
		}
	}
	return nil
}

// StageIndex returns the slice index of the stage, or -1.
func (p *Pipeline) StageIndex(stageID string) int {
	for i := range p.Stages {
		if p.Stages[i].ID == stageID {
			return i
		}
	}
	return -1
}

// FindDeal returns the deal with the given ID and the stage holding it.
// Both are nil when no stage holds the deal.
func (p *Pipeline) FindDeal(dealID string) (*Deal, *Stage) {
	for i := range p.Stages {
		s := &p.Stages[i]
		for j := range s.Deals {
			if s.Deals[j].ID == dealID {
				return &s.Deals[j], s
			}
		}
	}
	return nil, nil
}

// Deals returns every deal of the pipeline in stage order.
func (p *Pipeline) Deals() []Deal {
	var out []Deal
	for _, s := range p.Stages {
		out = append(out, s.Deals...)
	}
	return out
}

// DealCount returns the number of deals across all stages.
func (p *Pipeline) DealCount() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s.Deals)
	}
	return n
}

// TotalValue is the sum of every deal's value.
func (p *Pipeline) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, s := range p.Stages {
		total = total.Add(s.Value())
	}
	return total
}

// WeightedValue is the sum over stages of the stage value times its
// probability.
func (p *Pipeline) WeightedValue() decimal.Decimal {
	total := decimal.Zero
	for _, s := range p.Stages {
		total = total.Add(s.WeightedValue())
	}
	return total
}

// Value is the sum of the values of the deals in the stage.
func (s *Stage) Value() decimal.Decimal {
	total := decimal.Zero
	for _, d := range s.Deals {
		total = total.Add(d.Value)
	}
	return total
}

// WeightedValue is the stage value scaled by its probability.
func (s *Stage) WeightedValue() decimal.Decimal {
	return s.Value().Mul(decimal.NewFromInt(int64(s.Probability))).Div(hundred)
}

// LastHistory returns the most recent history entry.
func (d *Deal) LastHistory() (DealHistoryEntry, bool) {
	if len(d.History) == 0 {
		return DealHistoryEntry{}, false
	}
	return d.History[len(d.History)-1], true
}

// Clone returns a deep copy of the pipeline. Mutations on the copy never
// reach the original.
func (p Pipeline) Clone() Pipeline {
	out := p
	if p.Stages != nil {
		out.Stages = make([]Stage, len(p.Stages))
		for i, s := range p.Stages {
			out.Stages[i] = s.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the stage and its deals.
func (s Stage) Clone() Stage {
	out := s
	if s.Deals != nil {
		out.Deals = make([]Deal, len(s.Deals))
		for i, d := range s.Deals {
			out.Deals[i] = d.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the deal. Custom field values are copied
// shallowly.
func (d Deal) Clone() Deal {
	out := d
	if d.ContactIDs != nil {
		out.ContactIDs = append(make([]string, 0, len(d.ContactIDs)), d.ContactIDs...)
	}
	if d.Tags != nil {
		out.Tags = append(make([]string, 0, len(d.Tags)), d.Tags...)
	}
	if d.History != nil {
		out.History = append(make([]DealHistoryEntry, 0, len(d.History)), d.History...)
	}
	if d.ExpectedCloseDate != nil {
		t := *d.ExpectedCloseDate
		out.ExpectedCloseDate = &t
	}
	if d.CustomFields != nil {
		out.CustomFields = make(map[string]any, len(d.CustomFields))
		for k, v := range d.CustomFields {
			out.CustomFields[k] = v
		}
	}
	return out
}
