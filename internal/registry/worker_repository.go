package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/vmfltlwms/rollout/pkg/models"
)

// WorkerRepositoryInterface defines methods for managing worker records.
type WorkerRepositoryInterface interface {
	Add(worker models.WorkerInstance) error
	Get(index int) (models.WorkerInstance, error)
	List() []models.WorkerInstance
	Replace(worker models.WorkerInstance) error
	UpdateState(index int, state models.WorkerState) error
	UpdatePID(index, pid int) error
	IncrementRestarts(index int) (int, error)
	ResetRestarts(index int) error
	Touch(index int, at time.Time) error
	CountInState(state models.WorkerState) int
}

// WorkerRepository is an implementation of WorkerRepositoryInterface backed
// by the in-memory store.
type WorkerRepository struct {
	store *Store
}

// NewWorkerRepository initializes a new WorkerRepository with the provided store.
func NewWorkerRepository(store *Store) *WorkerRepository {
	return &WorkerRepository{store: store}
}

// getWorker is a helper returning a worker with error checking. Call with the
// store lock held.
func (r *WorkerRepository) getWorker(index int) (*models.WorkerInstance, error) {
	worker, exists := r.store.Workers[index]
	if !exists {
		return nil, fmt.Errorf("worker %d not found in registry", index)
	}
	return worker, nil
}

// Add registers a new worker record. The index must not be taken.
func (r *WorkerRepository) Add(worker models.WorkerInstance) error {
	return r.store.WithLock(func() error {
		if _, exists := r.store.Workers[worker.Index]; exists {
			return fmt.Errorf("worker %d already exists in registry", worker.Index)
		}
		record := worker
		r.store.Workers[worker.Index] = &record
		return nil
	})
}

// Get returns a copy of the worker record at the given index.
func (r *WorkerRepository) Get(index int) (models.WorkerInstance, error) {
	var out models.WorkerInstance
	err := r.store.WithRLock(func() error {
		worker, err := r.getWorker(index)
		if err != nil {
			return err
		}
		out = *worker
		return nil
	})
	return out, err
}

// List returns copies of all worker records ordered by index.
func (r *WorkerRepository) List() []models.WorkerInstance {
	var out []models.WorkerInstance
	r.store.WithRLock(func() error {
		out = make([]models.WorkerInstance, 0, len(r.store.Workers))
		for _, worker := range r.store.Workers {
			out = append(out, *worker)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Replace overwrites the record at the worker's index. Used when a fresh
// instance is spawned in place of an old one.
func (r *WorkerRepository) Replace(worker models.WorkerInstance) error {
	return r.store.WithLock(func() error {
		if _, err := r.getWorker(worker.Index); err != nil {
			return err
		}
		record := worker
		r.store.Workers[worker.Index] = &record
		return nil
	})
}

// UpdateState transitions the worker at index to the given state.
func (r *WorkerRepository) UpdateState(index int, state models.WorkerState) error {
	return r.store.WithLock(func() error {
		worker, err := r.getWorker(index)
		if err != nil {
			return err
		}
		worker.State = state
		return nil
	})
}

// UpdatePID records the OS process id of the worker at index.
func (r *WorkerRepository) UpdatePID(index, pid int) error {
	return r.store.WithLock(func() error {
		worker, err := r.getWorker(index)
		if err != nil {
			return err
		}
		worker.PID = pid
		return nil
	})
}

// IncrementRestarts bumps and returns the restart count for the worker.
func (r *WorkerRepository) IncrementRestarts(index int) (int, error) {
	var count int
	err := r.store.WithLock(func() error {
		worker, err := r.getWorker(index)
		if err != nil {
			return err
		}
		worker.RestartCount++
		count = worker.RestartCount
		return nil
	})
	return count, err
}

// ResetRestarts clears the restart count after a stable recovery.
func (r *WorkerRepository) ResetRestarts(index int) error {
	return r.store.WithLock(func() error {
		worker, err := r.getWorker(index)
		if err != nil {
			return err
		}
		worker.RestartCount = 0
		return nil
	})
}

// Touch records the time of the last health check.
func (r *WorkerRepository) Touch(index int, at time.Time) error {
	return r.store.WithLock(func() error {
		worker, err := r.getWorker(index)
		if err != nil {
			return err
		}
		worker.LastHealthCheck = at
		return nil
	})
}

// CountInState returns how many workers currently hold the given state.
func (r *WorkerRepository) CountInState(state models.WorkerState) int {
	count := 0
	r.store.WithRLock(func() error {
		for _, worker := range r.store.Workers {
			if worker.State == state {
				count++
			}
		}
		return nil
	})
	return count
}
