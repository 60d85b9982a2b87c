package persistence

import (
	"sync"

	"github.com/petrijr/stepflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of FlowStore
// and RunStore backed by maps.
type InMemoryStore struct {
	mu    sync.RWMutex
	flows map[api.Name]api.FlowDefinition
	runs  map[string]*api.Run
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows: make(map[api.Name]api.FlowDefinition),
		runs:  make(map[string]*api.Run),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ FlowStore = (*InMemoryStore)(nil)

var _ RunStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveFlow(def api.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[def.Name] = def
	return nil
}

func (s *InMemoryStore) GetFlow(name api.Name) (api.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.flows[name]
	if !ok {
		return api.FlowDefinition{}, ErrFlowNotFound
	}

	return def, nil
}

func (s *InMemoryStore) SaveRun(run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *InMemoryStore) UpdateRun(run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}

	s.runs[run.ID] = run
	return nil
}

func (s *InMemoryStore) GetRun(id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}

	return run, nil
}

func (s *InMemoryStore) ListRuns(filter RunFilter) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Run

	for _, run := range s.runs {
		if filter.FlowName != "" && run.FlowName != filter.FlowName {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, run)
	}

	return result, nil
}
