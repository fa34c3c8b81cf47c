package pipeline

import (
	"context"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/Janar2510/driveapipe-app/model"
)

func fixturePipeline(id string, dealIDs ...string) model.Pipeline {
	p := model.Pipeline{
		ID:        id,
		Name:      "Pipeline " + id,
		Version:   1,
		CreatedAt: t0,
		UpdatedAt: t0,
		Stages: []model.Stage{
			{ID: id + "-s0", Name: "Lead", Position: 0, Probability: 10, PipelineID: id, Deals: []model.Deal{}},
			{ID: id + "-s1", Name: "Won", Position: 1, Probability: 100, PipelineID: id, Deals: []model.Deal{}},
		},
	}
	for _, dealID := range dealIDs {
		p.Stages[0].Deals = append(p.Stages[0].Deals, model.Deal{
			ID:         dealID,
			Title:      "Deal " + dealID,
			Value:      decimal.RequireFromString("199.99"),
			Currency:   "EUR",
			StageID:    id + "-s0",
			PipelineID: id,
			ContactIDs: []string{"c-1"},
			OwnerID:    "u-1",
			CreatedAt:  t0,
			UpdatedAt:  t0,
			Tags:       []string{},
			History: []model.DealHistoryEntry{{
				ID: dealID + "-h0", DealID: dealID, StageID: id + "-s0", StageName: "Lead",
				Date: t0, UserID: "u-1", UserName: "User",
			}},
		})
	}
	return p
}

// runStoreContract exercises the behaviour every PipelineStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) PipelineStore) {
	ctx := context.Background()

	mustCreate := func(t *testing.T, s PipelineStore, p model.Pipeline) {
		t.Helper()
		if err := s.Create(ctx, p); err != nil {
			t.Fatalf("Create(%q) error = %v", p.ID, err)
		}
	}
	mustUpdate := func(t *testing.T, s PipelineStore, ps ...model.Pipeline) {
		t.Helper()
		if err := s.Update(ctx, ps...); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	mustGet := func(t *testing.T, s PipelineStore, id string) model.Pipeline {
		t.Helper()
		p, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", id, err)
		}
		return p
	}

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, fixturePipeline("p1", "d1"))

		got := mustGet(t, s, "p1")
		if got.Name != "Pipeline p1" || got.Version != 1 {
			t.Errorf("pipeline = %q v%d", got.Name, got.Version)
		}
		if len(got.Stages) != 2 || len(got.Stages[0].Deals) != 1 {
			t.Fatalf("stages = %+v", got.Stages)
		}
		d := got.Stages[0].Deals[0]
		if !d.Value.Equal(decimal.RequireFromString("199.99")) {
			t.Errorf("value = %s", d.Value)
		}
		if d.History[0].StageName != "Lead" || !d.History[0].Date.Equal(t0) {
			t.Errorf("history = %+v", d.History[0])
		}

		requireCode(t, s.Create(ctx, fixturePipeline("p1")), model.ErrConflict)
		_, err := s.Get(ctx, "missing")
		requireCode(t, err, model.ErrNotFound)
	})

	t.Run("list orders by creation", func(t *testing.T) {
		s := newStore(t)
		later := fixturePipeline("a")
		later.CreatedAt = t0.AddDate(0, 0, 1)
		mustCreate(t, s, later)
		mustCreate(t, s, fixturePipeline("b"))

		all, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 2 || all[0].ID != "b" || all[1].ID != "a" {
			t.Errorf("List() = %d pipelines, want b then a", len(all))
		}
	})

	t.Run("update bumps version", func(t *testing.T) {
		s := newStore(t)
		p := fixturePipeline("p1", "d1")
		mustCreate(t, s, p)

		p.Name = "Renamed"
		mustUpdate(t, s, p)

		got := mustGet(t, s, "p1")
		if got.Name != "Renamed" || got.Version != 2 {
			t.Errorf("pipeline = %q v%d, want Renamed v2", got.Name, got.Version)
		}
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		s := newStore(t)
		p := fixturePipeline("p1")
		mustCreate(t, s, p)
		mustUpdate(t, s, p)

		p.Name = "Lost update"
		requireCode(t, s.Update(ctx, p), model.ErrConflict)

		if got := mustGet(t, s, "p1"); got.Name != "Pipeline p1" {
			t.Errorf("name = %q, lost update was applied", got.Name)
		}
	})

	t.Run("multi update is all or nothing", func(t *testing.T) {
		s := newStore(t)
		a, b := fixturePipeline("a", "d1"), fixturePipeline("b")
		mustCreate(t, s, a)
		mustCreate(t, s, b)

		stale := b
		stale.Version = 7
		a.Name = "Changed"
		requireCode(t, s.Update(ctx, a, stale), model.ErrConflict)

		if got := mustGet(t, s, "a"); got.Name != "Pipeline a" || got.Version != 1 {
			t.Errorf("a = %q v%d, want untouched", got.Name, got.Version)
		}
	})

	t.Run("update moves deal index", func(t *testing.T) {
		s := newStore(t)
		a, b := fixturePipeline("a", "d1"), fixturePipeline("b")
		mustCreate(t, s, a)
		mustCreate(t, s, b)

		deal := a.Stages[0].Deals[0]
		a.Stages[0].Deals = []model.Deal{}
		deal.PipelineID, deal.StageID = "b", "b-s1"
		b.Stages[1].Deals = append(b.Stages[1].Deals, deal)
		mustUpdate(t, s, a, b)

		pid, err := s.FindDealPipeline(ctx, "d1")
		if err != nil || pid != "b" {
			t.Errorf("FindDealPipeline() = %q, %v, want b", pid, err)
		}
	})

	t.Run("update of missing pipeline", func(t *testing.T) {
		s := newStore(t)
		requireCode(t, s.Update(ctx, fixturePipeline("ghost")), model.ErrNotFound)
	})

	t.Run("delete drops deals", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, fixturePipeline("p1", "d1", "d2"))
		if err := s.Delete(ctx, "p1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		_, err := s.Get(ctx, "p1")
		requireCode(t, err, model.ErrNotFound)
		_, err = s.FindDealPipeline(ctx, "d2")
		requireCode(t, err, model.ErrNotFound)
		requireCode(t, s.Delete(ctx, "p1"), model.ErrNotFound)
	})

	t.Run("reads are copies", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, fixturePipeline("p1", "d1"))

		got := mustGet(t, s, "p1")
		got.Stages[0].Deals[0].Title = "mutated"
		got.Stages[0].Name = "mutated"

		again := mustGet(t, s, "p1")
		if again.Stages[0].Name != "Lead" || again.Stages[0].Deals[0].Title != "Deal d1" {
			t.Error("mutating a read leaked into the store")
		}
	})
}

func TestMemoryPipelineStore(t *testing.T) {
	runStoreContract(t, func(*testing.T) PipelineStore { return NewMemoryPipelineStore() })
}

func openTestBadger(t *testing.T, opts BadgerOptions) *BadgerPipelineStore {
	t.Helper()
	db, err := OpenBadger(opts)
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerPipelineStore(db)
}

func TestBadgerPipelineStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) PipelineStore {
		return openTestBadger(t, BadgerOptions{InMemory: true})
	})
}

func TestBadgerPipelineStore_Ping(t *testing.T) {
	db, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	s := NewBadgerPipelineStore(db)

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping() on a closed store should fail")
	}
}

func TestOpenBadger_requiresPath(t *testing.T) {
	if _, err := OpenBadger(BadgerOptions{}); err == nil {
		t.Error("OpenBadger() without a path should fail")
	}
}

func TestEngine_onBadgerStore(t *testing.T) {
	clock := &testClock{now: t0}
	engine := NewEngine(openTestBadger(t, BadgerOptions{Path: t.TempDir()}), nil, WithClock(clock.Now))
	ctx := context.Background()

	p, err := engine.CreatePipeline(ctx, PipelineInput{Name: "Main"})
	if err != nil {
		t.Fatalf("CreatePipeline() error = %v", err)
	}
	d, err := engine.CreateDeal(ctx, p.ID, p.Stages[0].ID, DealInput{Title: "Acme", Value: decimal.NewFromInt(50)}, alice)
	if err != nil {
		t.Fatalf("CreateDeal() error = %v", err)
	}

	clock.AdvanceDays(1)
	moved, err := engine.MoveDeal(ctx, MoveRequest{DealID: d.ID, FromStageID: p.Stages[0].ID, ToStageID: p.Stages[4].ID}, alice)
	if err != nil {
		t.Fatalf("MoveDeal() error = %v", err)
	}
	if got := moved.History[1].StageName; got != "Closed Won" {
		t.Errorf("last stage name = %q", got)
	}

	report, err := engine.Report(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if !report.WeightedValue.Equal(decimal.NewFromInt(50)) {
		t.Errorf("weighted = %s, want 50", report.WeightedValue)
	}
}

// mongoRoundTrip encodes p the way MongoPipelineStore writes it and decodes
// it the way the store reads it back.
func mongoRoundTrip(t *testing.T, p model.Pipeline) model.Pipeline {
	t.Helper()
	doc, err := fromModel(p)
	if err != nil {
		t.Fatalf("fromModel() error = %v", err)
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("bson.Marshal() error = %v", err)
	}
	var decoded mongoPipeline
	if err := bson.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("bson.Unmarshal() error = %v", err)
	}
	got, err := decoded.toModel()
	if err != nil {
		t.Fatalf("toModel() error = %v", err)
	}
	return got
}

func TestMongoDocument_roundTrip(t *testing.T) {
	p := fixturePipeline("p1", "d1")
	closeAt := t0.AddDate(0, 1, 0)
	p.Stages[0].Deals[0].ExpectedCloseDate = &closeAt

	got := mongoRoundTrip(t, p)

	if got.Stages[1].PipelineID != p.ID {
		t.Errorf("stage pipeline = %q", got.Stages[1].PipelineID)
	}
	want := p.Stages[0].Deals[0]
	d := got.Stages[0].Deals[0]
	if !d.Value.Equal(want.Value) {
		t.Errorf("value = %s, want %s", d.Value, want.Value)
	}
	if d.ExpectedCloseDate == nil || !d.ExpectedCloseDate.Equal(closeAt) {
		t.Errorf("expected close = %v", d.ExpectedCloseDate)
	}
	if len(d.History) != 1 || d.History[0].StageName != "Lead" || !d.History[0].Date.Equal(t0) {
		t.Errorf("history = %+v", d.History)
	}
	if d.CustomFields != nil {
		t.Errorf("custom fields = %v, want nil", d.CustomFields)
	}
}

func TestMongoDocument_nestedCustomFields(t *testing.T) {
	p := fixturePipeline("p1", "d1")
	p.Stages[0].Deals[0].CustomFields = map[string]any{
		"address": map[string]any{"city": "Tallinn", "zip": "10111"},
		"seats":   float64(25),
		"regions": []any{"EE", "LV"},
	}

	fields := mongoRoundTrip(t, p).Stages[0].Deals[0].CustomFields

	address, ok := fields["address"].(map[string]any)
	if !ok {
		t.Fatalf("address = %T, want map[string]any", fields["address"])
	}
	if address["city"] != "Tallinn" {
		t.Errorf("address.city = %v, want Tallinn", address["city"])
	}
	if !reflect.DeepEqual(fields, p.Stages[0].Deals[0].CustomFields) {
		t.Errorf("custom fields = %#v, want %#v", fields, p.Stages[0].Deals[0].CustomFields)
	}
}

func TestMongoDocument_badValue(t *testing.T) {
	doc, err := fromModel(fixturePipeline("p1", "d1"))
	if err != nil {
		t.Fatalf("fromModel() error = %v", err)
	}
	doc.Stages[0].Deals[0].Value = "not-a-number"

	if _, err := doc.toModel(); err == nil {
		t.Error("toModel() with a bad value should fail")
	}
}
