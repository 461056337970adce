package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vmfltlwms/rollout/pkg/models"
)

func newTestRepo() *WorkerRepository {
	return NewWorkerRepository(NewStore())
}

func TestAddAndGetWorker(t *testing.T) {
	repo := newTestRepo()

	err := repo.Add(models.WorkerInstance{Index: 0, Port: 4000, State: models.StateStarting, Version: 1})
	assert.NoError(t, err)

	worker, err := repo.Get(0)
	assert.NoError(t, err)
	assert.Equal(t, 4000, worker.Port)
	assert.Equal(t, models.StateStarting, worker.State)

	err = repo.Add(models.WorkerInstance{Index: 0})
	assert.Error(t, err, "adding a taken index must fail")
}

func TestGetUnknownWorker(t *testing.T) {
	repo := newTestRepo()
	_, err := repo.Get(7)
	assert.Error(t, err)
}

func TestListOrdersByIndex(t *testing.T) {
	repo := newTestRepo()
	for _, index := range []int{2, 0, 1} {
		assert.NoError(t, repo.Add(models.WorkerInstance{Index: index, Port: 4000 + index}))
	}

	workers := repo.List()
	assert.Len(t, workers, 3)
	for i, worker := range workers {
		assert.Equal(t, i, worker.Index)
		assert.Equal(t, 4000+i, worker.Port)
	}
}

func TestReplacePreservesIndex(t *testing.T) {
	repo := newTestRepo()
	assert.NoError(t, repo.Add(models.WorkerInstance{Index: 0, PID: 100, Version: 1}))

	err := repo.Replace(models.WorkerInstance{Index: 0, PID: 200, Version: 2, RestartCount: 1})
	assert.NoError(t, err)

	worker, err := repo.Get(0)
	assert.NoError(t, err)
	assert.Equal(t, 200, worker.PID)
	assert.Equal(t, 2, worker.Version)
	assert.Equal(t, 1, worker.RestartCount)

	err = repo.Replace(models.WorkerInstance{Index: 9})
	assert.Error(t, err, "replacing an unknown index must fail")
}

func TestStateTransitionsAndCounts(t *testing.T) {
	repo := newTestRepo()
	assert.NoError(t, repo.Add(models.WorkerInstance{Index: 0, State: models.StateStarting}))
	assert.NoError(t, repo.Add(models.WorkerInstance{Index: 1, State: models.StateStarting}))

	assert.NoError(t, repo.UpdateState(0, models.StateReady))
	assert.Equal(t, 1, repo.CountInState(models.StateReady))
	assert.Equal(t, 1, repo.CountInState(models.StateStarting))

	assert.NoError(t, repo.UpdateState(1, models.StateReady))
	assert.Equal(t, 2, repo.CountInState(models.StateReady))
}

func TestRestartCounters(t *testing.T) {
	repo := newTestRepo()
	assert.NoError(t, repo.Add(models.WorkerInstance{Index: 0}))

	count, err := repo.IncrementRestarts(0)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.IncrementRestarts(0)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.NoError(t, repo.ResetRestarts(0))
	worker, _ := repo.Get(0)
	assert.Equal(t, 0, worker.RestartCount)
}

func TestTouchRecordsHealthCheckTime(t *testing.T) {
	repo := newTestRepo()
	assert.NoError(t, repo.Add(models.WorkerInstance{Index: 0}))

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.NoError(t, repo.Touch(0, at))

	worker, _ := repo.Get(0)
	assert.Equal(t, at, worker.LastHealthCheck)
}

func TestGetReturnsCopy(t *testing.T) {
	repo := newTestRepo()
	assert.NoError(t, repo.Add(models.WorkerInstance{Index: 0, State: models.StateReady}))

	worker, _ := repo.Get(0)
	worker.State = models.StateCrashed

	stored, _ := repo.Get(0)
	assert.Equal(t, models.StateReady, stored.State, "mutating a returned record must not leak into the registry")
}
