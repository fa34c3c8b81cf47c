package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Janar2510/driveapipe-app/model"
)

// MongoPipelineStore keeps each pipeline aggregate as one document.
// Multi-pipeline updates need a replica set for transactions.
type MongoPipelineStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoPipelineStore creates a store over the given database.
func NewMongoPipelineStore(client *mongo.Client, database string) *MongoPipelineStore {
	return &MongoPipelineStore{
		client: client,
		coll:   client.Database(database).Collection("pipelines"),
	}
}

// EnsureIndexes creates the deal lookup index.
func (s *MongoPipelineStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "stages.deals.id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create deal index: %w", err)
	}
	return nil
}

// Ping checks server connectivity.
func (s *MongoPipelineStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// List returns every pipeline ordered by creation time.
func (s *MongoPipelineStore) List(ctx context.Context) ([]model.Pipeline, error) {
	cur, err := s.coll.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find pipelines: %w", err)
	}
	var docs []mongoPipeline
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode pipelines: %w", err)
	}

	result := make([]model.Pipeline, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// Get retrieves a pipeline by ID.
func (s *MongoPipelineStore) Get(ctx context.Context, pipelineID string) (model.Pipeline, error) {
	var doc mongoPipeline
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: pipelineID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Pipeline{}, pipelineNotFound(pipelineID)
	}
	if err != nil {
		return model.Pipeline{}, fmt.Errorf("find pipeline: %w", err)
	}
	return doc.toModel()
}

// Create inserts a new pipeline document.
func (s *MongoPipelineStore) Create(ctx context.Context, p model.Pipeline) error {
	doc, err := fromModel(p)
	if err != nil {
		return err
	}
	_, err = s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return model.NewConflictError(fmt.Sprintf("pipeline %q already exists", p.ID))
	}
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// Update replaces pipeline documents guarded by their version. More than one
// pipeline is written inside a transaction.
func (s *MongoPipelineStore) Update(ctx context.Context, pipelines ...model.Pipeline) error {
	if len(pipelines) == 1 {
		return s.replace(ctx, pipelines[0])
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		for _, p := range pipelines {
			if err := s.replace(ctx, p); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *MongoPipelineStore) replace(ctx context.Context, p model.Pipeline) error {
	next := p
	next.Version++
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	doc, err := fromModel(next)
	if err != nil {
		return err
	}

	res, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: p.ID}, {Key: "version", Value: p.Version}},
		doc,
	)
	if err != nil {
		return fmt.Errorf("replace pipeline: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	var current struct {
		Version int `bson:"version"`
	}
	err = s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: p.ID}},
		options.FindOne().SetProjection(bson.D{{Key: "version", Value: 1}}),
	).Decode(&current)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return pipelineNotFound(p.ID)
	}
	if err != nil {
		return fmt.Errorf("find pipeline version: %w", err)
	}
	return versionConflict(p.ID, p.Version, current.Version)
}

// Delete removes a pipeline document.
func (s *MongoPipelineStore) Delete(ctx context.Context, pipelineID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: pipelineID}})
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if res.DeletedCount == 0 {
		return pipelineNotFound(pipelineID)
	}
	return nil
}

// FindDealPipeline finds the document whose stages contain the deal.
func (s *MongoPipelineStore) FindDealPipeline(ctx context.Context, dealID string) (string, error) {
	var doc struct {
		ID string `bson:"_id"`
	}
	err := s.coll.FindOne(ctx, bson.D{{Key: "stages.deals.id", Value: dealID}},
		options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", dealNotFound(dealID)
	}
	if err != nil {
		return "", fmt.Errorf("find deal pipeline: %w", err)
	}
	return doc.ID, nil
}

// Document shapes. Deal values are kept as decimal strings and custom fields
// as a JSON string, so nested objects read back as maps rather than bson.D.

type mongoPipeline struct {
	ID        string       `bson:"_id"`
	Name      string       `bson:"name"`
	Stages    []mongoStage `bson:"stages"`
	Version   int          `bson:"version"`
	CreatedAt time.Time    `bson:"created_at"`
	UpdatedAt time.Time    `bson:"updated_at"`
}

type mongoStage struct {
	ID          string      `bson:"id"`
	Name        string      `bson:"name"`
	Position    int         `bson:"position"`
	Probability int         `bson:"probability"`
	Deals       []mongoDeal `bson:"deals"`
}

type mongoDeal struct {
	ID                string                   `bson:"id"`
	Title             string                   `bson:"title"`
	Value             string                   `bson:"value"`
	Currency          string                   `bson:"currency"`
	StageID           string                   `bson:"stage_id"`
	PipelineID        string                   `bson:"pipeline_id"`
	ContactIDs        []string                 `bson:"contact_ids"`
	OrganizationID    string                   `bson:"organization_id,omitempty"`
	OwnerID           string                   `bson:"owner_id"`
	CreatedAt         time.Time                `bson:"created_at"`
	UpdatedAt         time.Time                `bson:"updated_at"`
	ExpectedCloseDate *time.Time               `bson:"expected_close_date,omitempty"`
	History           []model.DealHistoryEntry `bson:"history"`
	Tags              []string                 `bson:"tags"`
	CustomFields      string                   `bson:"custom_fields,omitempty"`
}

func fromModel(p model.Pipeline) (mongoPipeline, error) {
	doc := mongoPipeline{
		ID:        p.ID,
		Name:      p.Name,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Stages:    make([]mongoStage, 0, len(p.Stages)),
	}
	for _, st := range p.Stages {
		ms := mongoStage{
			ID:          st.ID,
			Name:        st.Name,
			Position:    st.Position,
			Probability: st.Probability,
			Deals:       make([]mongoDeal, 0, len(st.Deals)),
		}
		for _, d := range st.Deals {
			var fields string
			if d.CustomFields != nil {
				raw, err := json.Marshal(d.CustomFields)
				if err != nil {
					return mongoPipeline{}, fmt.Errorf("encode deal %q custom fields: %w", d.ID, err)
				}
				fields = string(raw)
			}
			ms.Deals = append(ms.Deals, mongoDeal{
				ID:                d.ID,
				Title:             d.Title,
				Value:             d.Value.String(),
				Currency:          d.Currency,
				StageID:           d.StageID,
				PipelineID:        d.PipelineID,
				ContactIDs:        d.ContactIDs,
				OrganizationID:    d.OrganizationID,
				OwnerID:           d.OwnerID,
				CreatedAt:         d.CreatedAt,
				UpdatedAt:         d.UpdatedAt,
				ExpectedCloseDate: d.ExpectedCloseDate,
				History:           d.History,
				Tags:              d.Tags,
				CustomFields:      fields,
			})
		}
		doc.Stages = append(doc.Stages, ms)
	}
	return doc, nil
}

func (doc mongoPipeline) toModel() (model.Pipeline, error) {
	p := model.Pipeline{
		ID:        doc.ID,
		Name:      doc.Name,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
		Stages:    make([]model.Stage, 0, len(doc.Stages)),
	}
	for _, ms := range doc.Stages {
		st := model.Stage{
			ID:          ms.ID,
			Name:        ms.Name,
			Position:    ms.Position,
			Probability: ms.Probability,
			PipelineID:  doc.ID,
			Deals:       make([]model.Deal, 0, len(ms.Deals)),
		}
		for _, md := range ms.Deals {
			value, err := decimal.NewFromString(md.Value)
			if err != nil {
				return model.Pipeline{}, fmt.Errorf("parse deal %q value: %w", md.ID, err)
			}
			var fields map[string]any
			if md.CustomFields != "" {
				if err := json.Unmarshal([]byte(md.CustomFields), &fields); err != nil {
					return model.Pipeline{}, fmt.Errorf("parse deal %q custom fields: %w", md.ID, err)
				}
			}
			st.Deals = append(st.Deals, model.Deal{
				ID:                md.ID,
				Title:             md.Title,
				Value:             value,
				Currency:          md.Currency,
				StageID:           md.StageID,
				PipelineID:        md.PipelineID,
				ContactIDs:        md.ContactIDs,
				OrganizationID:    md.OrganizationID,
				OwnerID:           md.OwnerID,
				CreatedAt:         md.CreatedAt.UTC(),
				UpdatedAt:         md.UpdatedAt.UTC(),
				ExpectedCloseDate: md.ExpectedCloseDate,
				History:           md.History,
				Tags:              md.Tags,
				CustomFields:      fields,
			})
		}
		p.Stages = append(p.Stages, st)
	}
	return p, nil
}
