package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Janar2510/driveapipe-app/model"
)

// MemoryPipelineStore is an in-memory PipelineStore with a flat deal index.
type MemoryPipelineStore struct {
	mu        sync.RWMutex
	pipelines map[string]model.Pipeline // key: pipeline ID
	dealIndex map[string]string         // key: deal ID, value: pipeline ID
}

// NewMemoryPipelineStore creates a new in-memory pipeline store.
func NewMemoryPipelineStore() *MemoryPipelineStore {
	return &MemoryPipelineStore{
		pipelines: make(map[string]model.Pipeline),
		dealIndex: make(map[string]string),
	}
}

// List returns every pipeline ordered by creation time.
func (s *MemoryPipelineStore) List(_ context.Context) ([]model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		result = append(result, p.Clone())
	}
	sortPipelines(result)
	return result, nil
}

// Get retrieves a pipeline by ID.
func (s *MemoryPipelineStore) Get(_ context.Context, pipelineID string) (model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.pipelines[pipelineID]
	if !exists {
		return model.Pipeline{}, pipelineNotFound(pipelineID)
	}
	return p.Clone(), nil
}

// Create persists a new pipeline.
func (s *MemoryPipelineStore) Create(_ context.Context, p model.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pipelines[p.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("pipeline %q already exists", p.ID),
		)
	}

	s.pipelines[p.ID] = p.Clone()
	s.indexDeals(p)
	return nil
}

// Update replaces pipelines atomically with optimistic locking.
func (s *MemoryPipelineStore) Update(_ context.Context, pipelines ...model.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every version before writing anything.
	for _, p := range pipelines {
		existing, exists := s.pipelines[p.ID]
		if !exists {
			return pipelineNotFound(p.ID)
		}
		if existing.Version != p.Version {
			return versionConflict(p.ID, p.Version, existing.Version)
		}
	}

	for _, p := range pipelines {
		s.unindexDeals(s.pipelines[p.ID])
	}
	for _, p := range pipelines {
		stored := p.Clone()
		stored.Version++
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = time.Now().UTC()
		}
		s.pipelines[p.ID] = stored
		s.indexDeals(stored)
	}
	return nil
}

// Delete removes a pipeline and its deals.
func (s *MemoryPipelineStore) Delete(_ context.Context, pipelineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.pipelines[pipelineID]
	if !exists {
		return pipelineNotFound(pipelineID)
	}
	s.unindexDeals(p)
	delete(s.pipelines, pipelineID)
	return nil
}

// FindDealPipeline returns the pipeline holding the deal.
func (s *MemoryPipelineStore) FindDealPipeline(_ context.Context, dealID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pipelineID, ok := s.dealIndex[dealID]
	if !ok {
		return "", dealNotFound(dealID)
	}
	return pipelineID, nil
}

// Ping always succeeds.
func (s *MemoryPipelineStore) Ping(_ context.Context) error { return nil }

// Len returns the number of pipelines. For testing.
func (s *MemoryPipelineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pipelines)
}

func (s *MemoryPipelineStore) indexDeals(p model.Pipeline) {
	for _, st := range p.Stages {
		for _, d := range st.Deals {
			s.dealIndex[d.ID] = p.ID
		}
	}
}

func (s *MemoryPipelineStore) unindexDeals(p model.Pipeline) {
	for _, st := range p.Stages {
		for _, d := range st.Deals {
			if s.dealIndex[d.ID] == p.ID {
				delete(s.dealIndex, d.ID)
			}
		}
	}
}

func sortPipelines(ps []model.Pipeline) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func pipelineNotFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("pipeline %q not found", id))
}

func dealNotFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("deal %q not found", id))
}

func versionConflict(id string, expected, actual int) error {
	return model.NewConflictError(
		fmt.Sprintf("pipeline %q version conflict (expected %d, got %d)", id, expected, actual),
	)
}
