package supervisor

import (
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vmfltlwms/rollout/internal/logstream"
	"github.com/vmfltlwms/rollout/internal/metrics"
	"github.com/vmfltlwms/rollout/internal/registry"
	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

type supervisorFixture struct {
	sup       *Supervisor
	repo      *registry.WorkerRepository
	upstreams *recordingUpstreams
	prober    *stubProber
	events    *models.EventLog
	spec      *models.AppSpec
}

func newFixture(t *testing.T, instances, maxRetries int) *supervisorFixture {
	t.Helper()
	spec := &models.AppSpec{
		Name:               "webapp",
		Command:            "sleep 60",
		Instances:          instances,
		PortBase:           4000,
		Env:                map[string]string{"APP_ENV": "test"},
		LogDir:             t.TempDir(),
		ReadinessPath:      "/",
		StartupTimeout:     models.Duration(5 * time.Second),
		StopGracePeriod:    models.Duration(2 * time.Second),
		HealthInterval:     models.Duration(50 * time.Millisecond),
		UnhealthyThreshold: 2,
		RestartPolicy: models.RestartPolicy{
			MaxRetries:  maxRetries,
			BackoffBase: models.Duration(10 * time.Millisecond),
		},
	}

	aggregator, err := logstream.NewAggregator(spec.LogDir, spec.Name, spec.LogRotation, zap.NewNop().Sugar())
	assert.NoError(t, err)
	t.Cleanup(func() { aggregator.Close() })

	repo := registry.NewWorkerRepository(registry.NewStore())
	upstreams := newRecordingUpstreams()
	prober := &stubProber{}
	events := models.NewEventLog(50)
	sup := NewSupervisor(spec, repo, upstreams, aggregator, prober, events, metrics.NewCollector("test"), zap.NewNop().Sugar())
	t.Cleanup(func() { sup.StopAll() })

	return &supervisorFixture{
		sup:       sup,
		repo:      repo,
		upstreams: upstreams,
		prober:    prober,
		events:    events,
		spec:      spec,
	}
}

func TestStartBringsAllWorkersReady(t *testing.T) {
	f := newFixture(t, 3, 0)

	err := f.sup.Start()
	assert.NoError(t, err)

	workers := f.sup.Workers()
	assert.Len(t, workers, 3)
	for i, worker := range workers {
		assert.Equal(t, i, worker.Index)
		assert.Equal(t, 4000+i, worker.Port)
		assert.Equal(t, models.StateReady, worker.State)
		assert.Equal(t, 1, worker.Version)
		assert.Greater(t, worker.PID, 0)
	}

	assert.Equal(t, []string{"127.0.0.1:4000", "127.0.0.1:4001", "127.0.0.1:4002"}, f.upstreams.active())
}

func TestStartTwiceFails(t *testing.T) {
	f := newFixture(t, 1, 0)
	assert.NoError(t, f.sup.Start())
	assert.Error(t, f.sup.Start())
}

func TestStartFailsWithStartupError(t *testing.T) {
	f := newFixture(t, 2, 0)
	f.spec.StartupTimeout = models.Duration(400 * time.Millisecond)
	f.prober.setErr(fmt.Errorf("connection refused"))

	err := f.sup.Start()
	assert.Error(t, err)
	var startupErr *models.StartupError
	assert.ErrorAs(t, err, &startupErr)
	assert.Equal(t, 0, startupErr.Index)

	// Nothing ever reached the rotation and the failed slot is cleaned up.
	assert.Empty(t, f.upstreams.active())
	failed, gerr := f.repo.Get(0)
	assert.NoError(t, gerr)
	assert.Equal(t, models.StateStopped, failed.State)
}

func TestStartFailureLeavesNoWorkerAmbiguous(t *testing.T) {
	f := newFixture(t, 2, 1)
	f.spec.StartupTimeout = models.Duration(400 * time.Millisecond)
	f.prober.setErrFor(1, fmt.Errorf("connection refused"))

	err := f.sup.Start()
	var startupErr *models.StartupError
	assert.ErrorAs(t, err, &startupErr)
	assert.Equal(t, 1, startupErr.Index)

	// The failed slot is terminated and STOPPED, never left half-started
	// with a live process.
	failed, gerr := f.repo.Get(1)
	assert.NoError(t, gerr)
	assert.Equal(t, models.StateStopped, failed.State)
	assert.Error(t, syscall.Kill(failed.PID, 0), "failed worker process still alive")

	// The survivor stays in rotation and is still health-monitored: an
	// external kill is observed and recovered.
	assert.Equal(t, []string{"127.0.0.1:4000"}, f.upstreams.active())
	survivor, _ := f.repo.Get(0)
	assert.NoError(t, syscall.Kill(survivor.PID, syscall.SIGKILL))
	assert.Eventually(t, func() bool {
		current, err := f.repo.Get(0)
		return err == nil && current.State == models.StateReady && current.RestartCount == 1
	}, 5*time.Second, 20*time.Millisecond, "survivor crash was not recovered")
}

func TestStartFailsWhenProcessExitsDuringStartup(t *testing.T) {
	f := newFixture(t, 1, 0)
	f.spec.Command = "false"
	f.spec.StartupTimeout = models.Duration(2 * time.Second)
	f.prober.setErr(fmt.Errorf("not up yet"))

	err := f.sup.Start()
	var startupErr *models.StartupError
	assert.ErrorAs(t, err, &startupErr)
	assert.Contains(t, startupErr.Reason, "exited during startup")
}

func TestStopDrainsAndTerminates(t *testing.T) {
	f := newFixture(t, 1, 0)
	assert.NoError(t, f.sup.Start())

	err := f.sup.Stop(0)
	assert.NoError(t, err)

	worker, err := f.repo.Get(0)
	assert.NoError(t, err)
	assert.Equal(t, models.StateStopped, worker.State)
	assert.Empty(t, f.upstreams.active())

	// The endpoint left the rotation before the process was terminated.
	ops := f.upstreams.operations()
	assert.Equal(t, "register 127.0.0.1:4000", ops[0])
	assert.Equal(t, "deregister 127.0.0.1:4000", ops[1])
}

func TestRestartReplacesProcessOnSamePort(t *testing.T) {
	f := newFixture(t, 1, 0)
	assert.NoError(t, f.sup.Start())

	before, _ := f.repo.Get(0)
	assert.NoError(t, f.sup.Restart(0))
	after, _ := f.repo.Get(0)

	assert.Equal(t, models.StateReady, after.State)
	assert.Equal(t, before.Port, after.Port)
	assert.NotEqual(t, before.PID, after.PID)
	assert.Equal(t, 0, after.RestartCount)
	assert.Equal(t, []string{"127.0.0.1:4000"}, f.upstreams.active())
}

func TestCrashedWorkerIsRestartedWithinOneInterval(t *testing.T) {
	f := newFixture(t, 1, 3)
	assert.NoError(t, f.sup.Start())

	worker, _ := f.repo.Get(0)
	assert.NoError(t, syscall.Kill(worker.PID, syscall.SIGKILL))

	assert.Eventually(t, func() bool {
		current, err := f.repo.Get(0)
		return err == nil && current.State == models.StateReady && current.RestartCount == 1
	}, 5*time.Second, 20*time.Millisecond, "crashed worker was not restarted")

	replacement, _ := f.repo.Get(0)
	assert.NotEqual(t, worker.PID, replacement.PID)

	var sawCrash, sawRestart bool
	for _, event := range f.events.List() {
		switch event.Type {
		case models.EventWorkerCrashed:
			sawCrash = true
		case models.EventWorkerRestarted:
			sawRestart = true
		}
	}
	assert.True(t, sawCrash, "expected a crash event")
	assert.True(t, sawRestart, "expected a restart event")
}

func TestRetryBudgetExhaustionIsFatal(t *testing.T) {
	f := newFixture(t, 1, 1)
	assert.NoError(t, f.sup.Start())

	// First crash consumes the single retry.
	worker, _ := f.repo.Get(0)
	assert.NoError(t, syscall.Kill(worker.PID, syscall.SIGKILL))
	assert.Eventually(t, func() bool {
		current, err := f.repo.Get(0)
		return err == nil && current.State == models.StateReady && current.RestartCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Second crash exceeds the budget: the worker stays stopped.
	worker, _ = f.repo.Get(0)
	assert.NoError(t, syscall.Kill(worker.PID, syscall.SIGKILL))
	assert.Eventually(t, func() bool {
		current, err := f.repo.Get(0)
		return err == nil && current.State == models.StateStopped
	}, 5*time.Second, 20*time.Millisecond, "worker was not left stopped after budget exhaustion")

	var sawFatal bool
	for _, event := range f.events.List() {
		if event.Type == models.EventSupervisorFatal {
			sawFatal = true
		}
	}
	assert.True(t, sawFatal, "expected a fatal event")
	assert.Empty(t, f.upstreams.active())

	// No further restart attempts happen for a stopped worker.
	time.Sleep(200 * time.Millisecond)
	current, _ := f.repo.Get(0)
	assert.Equal(t, models.StateStopped, current.State)
	assert.Equal(t, 2, current.RestartCount)
}

func TestFailedProbesBeyondThresholdCountAsCrash(t *testing.T) {
	f := newFixture(t, 1, 2)
	assert.NoError(t, f.sup.Start())
	before, _ := f.repo.Get(0)

	f.prober.setErr(fmt.Errorf("503 from app"))
	// Threshold is 2; allow a few intervals for the streak plus recovery,
	// then make probes succeed again so the replacement becomes ready.
	time.Sleep(250 * time.Millisecond)
	f.prober.setErr(nil)

	assert.Eventually(t, func() bool {
		current, err := f.repo.Get(0)
		return err == nil && current.State == models.StateReady && current.RestartCount >= 1
	}, 5*time.Second, 20*time.Millisecond, "unhealthy worker was not recycled")

	after, _ := f.repo.Get(0)
	assert.NotEqual(t, before.PID, after.PID)
}

func TestStopAllTearsDownPool(t *testing.T) {
	f := newFixture(t, 2, 0)
	assert.NoError(t, f.sup.Start())

	assert.NoError(t, f.sup.StopAll())
	for _, worker := range f.sup.Workers() {
		assert.Equal(t, models.StateStopped, worker.State)
	}
	assert.Empty(t, f.upstreams.active())
}

func TestStatusReadsDoNotBlockOnSupervisorLock(t *testing.T) {
	f := newFixture(t, 1, 0)
	assert.NoError(t, f.sup.Start())

	// The supervisor lock is held across recovery backoffs; the status path
	// must answer regardless.
	f.sup.mu.Lock()
	defer f.sup.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = f.sup.Version()
		_ = f.sup.Workers()
		_ = f.sup.Spec()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status reads blocked on the supervisor lock")
	}
}

func TestAdvanceVersionTagsNewWorkers(t *testing.T) {
	f := newFixture(t, 1, 0)
	assert.NoError(t, f.sup.Start())
	assert.Equal(t, 1, f.sup.Version())

	assert.Equal(t, 2, f.sup.AdvanceVersion())
	assert.NoError(t, f.sup.Restart(0))

	worker, _ := f.repo.Get(0)
	assert.Equal(t, 2, worker.Version)
}
