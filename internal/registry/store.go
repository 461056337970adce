package registry

import (
	"sync"

	"github.com/vmfltlwms/rollout/pkg/models"
)

// Store is the in-memory registry of worker instances for one application.
// The supervisor is the only writer; everything else reads copies through the
// repository. The lock helpers keep the single-writer discipline explicit at
// call sites.
type Store struct {
	Workers map[int]*models.WorkerInstance // keyed by instance index
	mu      sync.RWMutex
}

// NewStore returns an empty worker registry.
func NewStore() *Store {
	return &Store{
		Workers: make(map[int]*models.WorkerInstance),
	}
}

// WithLock executes fn while holding the write lock.
func (s *Store) WithLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// WithRLock executes fn while holding the read lock.
func (s *Store) WithRLock(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

// Clear drops all worker records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Workers = make(map[int]*models.WorkerInstance)
}
