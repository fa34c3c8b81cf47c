package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Janar2510/driveapipe-app/model"
)

// PgSchema creates the tables used by PgPipelineStore. Deals are stored flat,
// keyed by ID, with foreign keys to their stage and pipeline.
const PgSchema = `
CREATE TABLE IF NOT EXISTS pipelines (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stages (
	id          TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	position    INTEGER NOT NULL,
	probability INTEGER NOT NULL CHECK (probability BETWEEN 0 AND 100)
);
CREATE INDEX IF NOT EXISTS stages_pipeline_idx ON stages (pipeline_id, position);

CREATE TABLE IF NOT EXISTS deals (
	id                  TEXT PRIMARY KEY,
	pipeline_id         TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	stage_id            TEXT NOT NULL REFERENCES stages(id) ON DELETE CASCADE,
	position            INTEGER NOT NULL,
	title               TEXT NOT NULL,
	value               NUMERIC NOT NULL,
	currency            TEXT NOT NULL,
	contact_ids         JSONB NOT NULL DEFAULT '[]',
	organization_id     TEXT NOT NULL DEFAULT '',
	owner_id            TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	expected_close_date TIMESTAMPTZ,
	tags                JSONB NOT NULL DEFAULT '[]',
	custom_fields       JSONB
);
CREATE INDEX IF NOT EXISTS deals_stage_idx ON deals (stage_id, position);

CREATE TABLE IF NOT EXISTS deal_history (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	stage_id   TEXT NOT NULL,
	stage_name TEXT NOT NULL,
	date       TIMESTAMPTZ NOT NULL,
	user_id    TEXT NOT NULL,
	user_name  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS deal_history_deal_idx ON deal_history (deal_id, seq);
`

// PgPipelineStore is a PostgreSQL-backed PipelineStore using pgx/v5.
type PgPipelineStore struct {
	pool *pgxpool.Pool
}

// NewPgPipelineStore creates a new PostgreSQL pipeline store.
func NewPgPipelineStore(pool *pgxpool.Pool) *PgPipelineStore {
	return &PgPipelineStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PgPipelineStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PgSchema); err != nil {
		return fmt.Errorf("migrate pipeline schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PgPipelineStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// List returns every pipeline ordered by creation time.
func (s *PgPipelineStore) List(ctx context.Context) ([]model.Pipeline, error) {
	var result []model.Pipeline
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, name, version, created_at, updated_at
			FROM pipelines
			ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return fmt.Errorf("query pipelines: %w", err)
		}
		result, err = scanPipelines(rows)
		if err != nil {
			return err
		}
		return loadChildren(ctx, tx, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get retrieves a pipeline with its stages, deals and history.
func (s *PgPipelineStore) Get(ctx context.Context, pipelineID string) (model.Pipeline, error) {
	var result []model.Pipeline
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, name, version, created_at, updated_at
			FROM pipelines
			WHERE id = $1`,
			pipelineID,
		)
		if err != nil {
			return fmt.Errorf("query pipeline: %w", err)
		}
		result, err = scanPipelines(rows)
		if err != nil {
			return err
		}
		if len(result) == 0 {
			return pipelineNotFound(pipelineID)
		}
		return loadChildren(ctx, tx, result)
	})
	if err != nil {
		return model.Pipeline{}, err
	}
	return result[0], nil
}

// Create inserts a new pipeline and its children.
func (s *PgPipelineStore) Create(ctx context.Context, p model.Pipeline) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO pipelines (id, name, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, p.Version, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert pipeline: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewConflictError(fmt.Sprintf("pipeline %q already exists", p.ID))
		}
		batch := &pgx.Batch{}
		if err := queueChildren(batch, p); err != nil {
			return err
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert pipeline children: %w", err)
		}
		return nil
	})
}

// Update rewrites the given pipelines in one transaction with optimistic
// locking on each pipeline row.
func (s *PgPipelineStore) Update(ctx context.Context, pipelines ...model.Pipeline) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// 1. Bump versions; any mismatch aborts the transaction.
		for _, p := range pipelines {
			updatedAt := p.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = time.Now().UTC()
			}
			tag, err := tx.Exec(ctx, `
				UPDATE pipelines SET
					name = $1,
					version = $2,
					updated_at = $3
				WHERE id = $4 AND version = $5`,
				p.Name, p.Version+1, updatedAt, p.ID, p.Version,
			)
			if err != nil {
				return fmt.Errorf("update pipeline: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return s.updateMiss(ctx, tx, p)
			}
		}

		// 2. Drop all children first so deals can move between the pipelines.
		for _, p := range pipelines {
			if _, err := tx.Exec(ctx, `DELETE FROM stages WHERE pipeline_id = $1`, p.ID); err != nil {
				return fmt.Errorf("delete stages: %w", err)
			}
		}

		// 3. Re-insert stages, deals and history.
		batch := &pgx.Batch{}
		for _, p := range pipelines {
			if err := queueChildren(batch, p); err != nil {
				return err
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert pipeline children: %w", err)
		}
		return nil
	})
}

// updateMiss tells a missing pipeline apart from a stale version.
func (s *PgPipelineStore) updateMiss(ctx context.Context, tx pgx.Tx, p model.Pipeline) error {
	var current int
	err := tx.QueryRow(ctx, `SELECT version FROM pipelines WHERE id = $1`, p.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipelineNotFound(p.ID)
	}
	if err != nil {
		return fmt.Errorf("query pipeline version: %w", err)
	}
	return versionConflict(p.ID, p.Version, current)
}

// Delete removes a pipeline; stages, deals and history cascade.
func (s *PgPipelineStore) Delete(ctx context.Context, pipelineID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, pipelineID)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipelineNotFound(pipelineID)
	}
	return nil
}

// FindDealPipeline looks the deal up in the flat deals table.
func (s *PgPipelineStore) FindDealPipeline(ctx context.Context, dealID string) (string, error) {
	var pipelineID string
	err := s.pool.QueryRow(ctx, `SELECT pipeline_id FROM deals WHERE id = $1`, dealID).Scan(&pipelineID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", dealNotFound(dealID)
	}
	if err != nil {
		return "", fmt.Errorf("query deal pipeline: %w", err)
	}
	return pipelineID, nil
}

func (s *PgPipelineStore) readTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func scanPipelines(rows pgx.Rows) ([]model.Pipeline, error) {
	defer rows.Close()
	var out []model.Pipeline
	for rows.Next() {
		var p model.Pipeline
		if err := rows.Scan(&p.ID, &p.Name, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		p.Stages = []model.Stage{}
		out = append(out, p)
	}
	return out, rows.Err()
}

// loadChildren fills in stages, deals and history for the given pipelines.
func loadChildren(ctx context.Context, tx pgx.Tx, pipelines []model.Pipeline) error {
	if len(pipelines) == 0 {
		return nil
	}
	ids := make([]string, len(pipelines))
	byID := make(map[string]*model.Pipeline, len(pipelines))
	for i := range pipelines {
		ids[i] = pipelines[i].ID
		byID[pipelines[i].ID] = &pipelines[i]
	}

	// Stages.
	rows, err := tx.Query(ctx, `
		SELECT id, pipeline_id, name, position, probability
		FROM stages
		WHERE pipeline_id = ANY($1)
		ORDER BY pipeline_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("query stages: %w", err)
	}
	for rows.Next() {
		var st model.Stage
		if err := rows.Scan(&st.ID, &st.PipelineID, &st.Name, &st.Position, &st.Probability); err != nil {
			rows.Close()
			return fmt.Errorf("scan stage: %w", err)
		}
		st.Deals = []model.Deal{}
		p := byID[st.PipelineID]
		p.Stages = append(p.Stages, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// History, keyed by deal.
	history := make(map[string][]model.DealHistoryEntry)
	rows, err = tx.Query(ctx, `
		SELECT h.id, h.deal_id, h.stage_id, h.stage_name, h.date, h.user_id, h.user_name
		FROM deal_history h
		JOIN deals d ON d.id = h.deal_id
		WHERE d.pipeline_id = ANY($1)
		ORDER BY h.deal_id, h.seq`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("query deal history: %w", err)
	}
	for rows.Next() {
		var h model.DealHistoryEntry
		if err := rows.Scan(&h.ID, &h.DealID, &h.StageID, &h.StageName, &h.Date, &h.UserID, &h.UserName); err != nil {
			rows.Close()
			return fmt.Errorf("scan deal history: %w", err)
		}
		history[h.DealID] = append(history[h.DealID], h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Deals.
	rows, err = tx.Query(ctx, `
		SELECT id, pipeline_id, stage_id, title, value::text, currency, contact_ids,
		       organization_id, owner_id, created_at, updated_at, expected_close_date,
		       tags, custom_fields
		FROM deals
		WHERE pipeline_id = ANY($1)
		ORDER BY stage_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d                                 model.Deal
			value                             string
			contactsJSON, tagsJSON, fieldJSON []byte
		)
		if err := rows.Scan(
			&d.ID, &d.PipelineID, &d.StageID, &d.Title, &value, &d.Currency, &contactsJSON,
			&d.OrganizationID, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt, &d.ExpectedCloseDate,
			&tagsJSON, &fieldJSON,
		); err != nil {
			return fmt.Errorf("scan deal: %w", err)
		}
		if d.Value, err = decimal.NewFromString(value); err != nil {
			return fmt.Errorf("parse deal %q value: %w", d.ID, err)
		}
		if err := unmarshalOptional(contactsJSON, &d.ContactIDs); err != nil {
			return fmt.Errorf("unmarshal deal contacts: %w", err)
		}
		if err := unmarshalOptional(tagsJSON, &d.Tags); err != nil {
			return fmt.Errorf("unmarshal deal tags: %w", err)
		}
		if err := unmarshalOptional(fieldJSON, &d.CustomFields); err != nil {
			return fmt.Errorf("unmarshal deal custom fields: %w", err)
		}
		d.History = history[d.ID]

		if st := byID[d.PipelineID].FindStage(d.StageID); st != nil {
			st.Deals = append(st.Deals, d)
		}
	}
	return rows.Err()
}

// queueChildren queues inserts for every stage, deal and history entry of p.
func queueChildren(batch *pgx.Batch, p model.Pipeline) error {
	for _, st := range p.Stages {
		batch.Queue(`
			INSERT INTO stages (id, pipeline_id, name, position, probability)
			VALUES ($1, $2, $3, $4, $5)`,
			st.ID, p.ID, st.Name, st.Position, st.Probability,
		)
	}
	for _, st := range p.Stages {
		for pos, d := range st.Deals {
			contactsJSON, err := json.Marshal(nonNil(d.ContactIDs))
			if err != nil {
				return fmt.Errorf("marshal contacts: %w", err)
			}
			tagsJSON, err := json.Marshal(nonNil(d.Tags))
			if err != nil {
				return fmt.Errorf("marshal tags: %w", err)
			}
			var fieldsJSON []byte
			if d.CustomFields != nil {
				if fieldsJSON, err = json.Marshal(d.CustomFields); err != nil {
					return fmt.Errorf("marshal custom fields: %w", err)
				}
			}
			batch.Queue(`
				INSERT INTO deals (
					id, pipeline_id, stage_id, position, title, value, currency, contact_ids,
					organization_id, owner_id, created_at, updated_at, expected_close_date,
					tags, custom_fields
				) VALUES (
					$1, $2, $3, $4, $5, $6::numeric, $7, $8,
					$9, $10, $11, $12, $13,
					$14, $15
				)`,
				d.ID, p.ID, st.ID, pos, d.Title, d.Value.String(), d.Currency, contactsJSON,
				d.OrganizationID, d.OwnerID, d.CreatedAt, d.UpdatedAt, d.ExpectedCloseDate,
				tagsJSON, fieldsJSON,
			)
			for seq, h := range d.History {
				batch.Queue(`
					INSERT INTO deal_history (id, deal_id, seq, stage_id, stage_name, date, user_id, user_name)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
					h.ID, d.ID, seq, h.StageID, h.StageName, h.Date, h.UserID, h.UserName,
				)
			}
		}
	}
	return nil
}

func unmarshalOptional(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
