package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Janar2510/driveapipe-app/model"
)

const (
	badgerPipelinePrefix = "pipeline/"
	badgerDealPrefix     = "deal/"
)

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// OpenBadger opens a badger database for BadgerPipelineStore.
func OpenBadger(opts BadgerOptions) (*badger.DB, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("badger path is required for persistent storage")
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)

	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{log: opts.Logger.Sugar()})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// badgerLogger adapts zap to badger's logger interface.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.log.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.log.Debugf(format, args...) }

// BadgerPipelineStore is an embedded PipelineStore. Each pipeline aggregate is
// one JSON value; deal/<id> keys index deals to their pipeline.
type BadgerPipelineStore struct {
	db *badger.DB
}

// NewBadgerPipelineStore creates a store over an open badger database.
func NewBadgerPipelineStore(db *badger.DB) *BadgerPipelineStore {
	return &BadgerPipelineStore{db: db}
}

// Ping reports whether the database is open.
func (s *BadgerPipelineStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// List returns every pipeline ordered by creation time.
func (s *BadgerPipelineStore) List(_ context.Context) ([]model.Pipeline, error) {
	var result []model.Pipeline
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPipelinePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var p model.Pipeline
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return fmt.Errorf("decode pipeline %s: %w", it.Item().Key(), err)
			}
			result = append(result, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortPipelines(result)
	return result, nil
}

// Get retrieves a pipeline by ID.
func (s *BadgerPipelineStore) Get(_ context.Context, pipelineID string) (model.Pipeline, error) {
	var p model.Pipeline
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = badgerGetPipeline(txn, pipelineID)
		return err
	})
	return p, err
}

// Create persists a new pipeline.
func (s *BadgerPipelineStore) Create(_ context.Context, p model.Pipeline) error {
	return s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(pipelineKey(p.ID))
		if err == nil {
			return model.NewConflictError(fmt.Sprintf("pipeline %q already exists", p.ID))
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("read pipeline: %w", err)
		}
		return badgerPutPipeline(txn, p)
	})
}

// Update replaces pipelines in one transaction with optimistic locking.
func (s *BadgerPipelineStore) Update(_ context.Context, pipelines ...model.Pipeline) error {
	return s.update(func(txn *badger.Txn) error {
		for _, p := range pipelines {
			existing, err := badgerGetPipeline(txn, p.ID)
			if err != nil {
				return err
			}
			if existing.Version != p.Version {
				return versionConflict(p.ID, p.Version, existing.Version)
			}
			if err := badgerDeleteDealKeys(txn, existing); err != nil {
				return err
			}
		}
		for _, p := range pipelines {
			next := p
			next.Version++
			if next.UpdatedAt.IsZero() {
				next.UpdatedAt = time.Now().UTC()
			}
			if err := badgerPutPipeline(txn, next); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a pipeline and its deal index keys.
func (s *BadgerPipelineStore) Delete(_ context.Context, pipelineID string) error {
	return s.update(func(txn *badger.Txn) error {
		existing, err := badgerGetPipeline(txn, pipelineID)
		if err != nil {
			return err
		}
		if err := badgerDeleteDealKeys(txn, existing); err != nil {
			return err
		}
		return txn.Delete(pipelineKey(pipelineID))
	})
}

// FindDealPipeline reads the deal index key.
func (s *BadgerPipelineStore) FindDealPipeline(_ context.Context, dealID string) (string, error) {
	var pipelineID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dealKey(dealID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return dealNotFound(dealID)
		}
		if err != nil {
			return fmt.Errorf("read deal index: %w", err)
		}
		return item.Value(func(val []byte) error {
			pipelineID = string(val)
			return nil
		})
	})
	return pipelineID, err
}

// update runs fn in a read-write transaction. Badger's own conflict detection
// surfaces as CONFLICT.
func (s *BadgerPipelineStore) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return model.NewConflictError("concurrent pipeline write, retry the request")
	}
	return err
}

func badgerGetPipeline(txn *badger.Txn, pipelineID string) (model.Pipeline, error) {
	item, err := txn.Get(pipelineKey(pipelineID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Pipeline{}, pipelineNotFound(pipelineID)
	}
	if err != nil {
		return model.Pipeline{}, fmt.Errorf("read pipeline: %w", err)
	}
	var p model.Pipeline
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return model.Pipeline{}, fmt.Errorf("decode pipeline %q: %w", pipelineID, err)
	}
	return p, nil
}

func badgerPutPipeline(txn *badger.Txn, p model.Pipeline) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pipeline %q: %w", p.ID, err)
	}
	if err := txn.Set(pipelineKey(p.ID), data); err != nil {
		return fmt.Errorf("write pipeline: %w", err)
	}
	for _, st := range p.Stages {
		for _, d := range st.Deals {
			if err := txn.Set(dealKey(d.ID), []byte(p.ID)); err != nil {
				return fmt.Errorf("write deal index: %w", err)
			}
		}
	}
	return nil
}

func badgerDeleteDealKeys(txn *badger.Txn, p model.Pipeline) error {
	for _, st := range p.Stages {
		for _, d := range st.Deals {
			if err := txn.Delete(dealKey(d.ID)); err != nil {
				return fmt.Errorf("delete deal index: %w", err)
			}
		}
	}
	return nil
}

func pipelineKey(id string) []byte { return []byte(badgerPipelinePrefix + id) }
func dealKey(id string) []byte     { return []byte(badgerDealPrefix + id) }
