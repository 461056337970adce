package supervisor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmfltlwms/rollout/internal/logstream"
	"github.com/vmfltlwms/rollout/internal/metrics"
	"github.com/vmfltlwms/rollout/internal/registry"
	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

const readyPollInterval = 250 * time.Millisecond

// SupervisorInterface defines the process-level contract the rest of the
// orchestrator runs against.
type SupervisorInterface interface {
	Start() error                     // Spawns all configured workers and waits for readiness.
	Stop(index int) error             // Drains and terminates a single worker.
	Restart(index int) error          // Atomic stop-then-spawn at the same index and port.
	StopAll() error                   // Tears down the pool and the health monitor.
	HealthCheck(index int) error      // Runs one liveness+readiness pass for a worker.
	Workers() []models.WorkerInstance // Copies of all worker records.
	AdvanceVersion() int              // Bumps the spec generation new workers are tagged with.
	Version() int                     // Current spec generation.
	Spec() *models.AppSpec            // The descriptor the pool runs under.
}

// UpstreamBinding is the supervisor's view of the proxy: it only ever adds or
// removes endpoint addresses, never owns them.
type UpstreamBinding interface {
	Register(addr string) error
	Deregister(addr string)
}

// Supervisor owns the lifecycle of the worker pool for one application. All
// mutations of a worker's state are serialized through its lock; the health
// monitor and every control-surface call go through the same critical
// section.
type Supervisor struct {
	spec       *models.AppSpec
	repo       registry.WorkerRepositoryInterface
	upstreams  UpstreamBinding
	aggregator *logstream.Aggregator
	prober     ReadinessProber
	events     *models.EventLog
	metrics    *metrics.Collector
	logger     *zap.SugaredLogger

	mu         sync.Mutex
	procs      map[int]*workerProcess
	failStreak map[int]int

	// version is read by the status path, which must stay responsive while
	// the supervisor lock is held across a recovery backoff.
	version atomic.Int64

	monitorStop chan struct{}
	monitorDone chan struct{}
}

// NewSupervisor creates a supervisor for the given descriptor and
// collaborators.
func NewSupervisor(
	spec *models.AppSpec,
	repo registry.WorkerRepositoryInterface,
	upstreams UpstreamBinding,
	aggregator *logstream.Aggregator,
	prober ReadinessProber,
	events *models.EventLog,
	collector *metrics.Collector,
	logger *zap.SugaredLogger,
) *Supervisor {
	s := &Supervisor{
		spec:       spec,
		repo:       repo,
		upstreams:  upstreams,
		aggregator: aggregator,
		prober:     prober,
		events:     events,
		metrics:    collector,
		logger:     logger,
		procs:      make(map[int]*workerProcess),
		failStreak: make(map[int]int),
	}
	s.version.Store(1)
	return s
}

// Spec returns the descriptor the pool runs under.
func (s *Supervisor) Spec() *models.AppSpec {
	return s.spec
}

// AdvanceVersion bumps the spec generation. Workers spawned afterwards are
// tagged with the new version; already-running workers keep theirs.
func (s *Supervisor) AdvanceVersion() int {
	return int(s.version.Add(1))
}

// Version returns the current spec generation.
func (s *Supervisor) Version() int {
	return int(s.version.Load())
}

// Workers returns copies of all worker records ordered by index.
func (s *Supervisor) Workers() []models.WorkerInstance {
	return s.repo.List()
}

// Start spawns spec.Instances workers, each bound to port_base+index, and
// returns once every one of them is READY. On a readiness timeout it returns
// a StartupError with the failing instance terminated and STOPPED; workers
// that did reach READY keep running under the health monitor.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.procs) > 0 {
		return fmt.Errorf("worker pool for %s is already running", s.spec.Name)
	}

	s.logger.Infof("starting %d workers for %s from port %d", s.spec.Instances, s.spec.Name, s.spec.PortBase)

	// The monitor comes up before the first spawn so that workers which did
	// reach READY stay health-checked even when a later instance fails and
	// Start returns an error.
	s.startMonitorLocked()
	for index := 0; index < s.spec.Instances; index++ {
		if err := s.spawnLocked(index); err != nil {
			return err
		}
	}
	return nil
}

// Stop drains and terminates the worker at index. The instance is always
// STOPPED when Stop returns.
func (s *Supervisor) Stop(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(index)
}

// Restart is the atomic unit of a rolling restart: stop the worker at index,
// then spawn a fresh instance on the same port and wait for it to become
// READY.
func (s *Supervisor) Restart(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartLocked(index, "manual")
}

// StopAll terminates the health monitor and every worker. Used on shutdown
// and by the control surface's stop verb.
func (s *Supervisor) StopAll() error {
	s.stopMonitor()

	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, worker := range s.repo.List() {
		if worker.State == models.StateStopped {
			continue
		}
		if err := s.stopLocked(worker.Index); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HealthCheck runs one liveness and readiness pass for the worker at index.
// Crash handling, retry budgets, and backoff all happen here.
func (s *Supervisor) HealthCheck(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthCheckLocked(index)
}

func (s *Supervisor) healthCheckLocked(index int) error {
	worker, err := s.repo.Get(index)
	if err != nil {
		return err
	}
	s.repo.Touch(index, time.Now())

	switch worker.State {
	case models.StateStopped, models.StateDraining:
		return nil
	case models.StateCrashed:
		// A previous recovery attempt failed to spawn; try again against
		// the same retry budget.
		return s.recoverLocked(index)
	}

	proc := s.procs[index]
	if proc == nil || !proc.alive() {
		if proc != nil && proc.wasStopped() {
			return nil
		}
		s.logger.Warnf("worker %d exited unexpectedly: %v", index, exitReason(proc))
		return s.crashLocked(index)
	}

	if err := s.prober.Probe(worker); err != nil {
		s.failStreak[index]++
		s.logger.Warnf("worker %d failed probe (%d/%d): %v", index, s.failStreak[index], s.spec.UnhealthyThreshold, err)
		if s.failStreak[index] >= s.spec.UnhealthyThreshold {
			return s.crashLocked(index)
		}
		return nil
	}

	s.failStreak[index] = 0
	return nil
}

// crashLocked transitions a misbehaving worker to CRASHED, removes its
// endpoint from rotation, and attempts recovery.
func (s *Supervisor) crashLocked(index int) error {
	worker, err := s.repo.Get(index)
	if err != nil {
		return err
	}

	s.metrics.RecordCrash(index)
	s.events.Record(models.EventWorkerCrashed, index, fmt.Sprintf("worker %d on port %d crashed", index, worker.Port))
	s.repo.UpdateState(index, models.StateCrashed)
	s.upstreams.Deregister(worker.Address())
	s.reapLocked(index)
	s.updateGauges()

	return s.recoverLocked(index)
}

// recoverLocked restarts a crashed worker against its retry budget with
// exponential backoff. Exceeding the budget surfaces SupervisorFatal and
// leaves the instance STOPPED.
func (s *Supervisor) recoverLocked(index int) error {
	retries, err := s.repo.IncrementRestarts(index)
	if err != nil {
		return err
	}

	if retries > s.spec.RestartPolicy.MaxRetries {
		fatal := &models.SupervisorFatal{Index: index, Retries: retries - 1}
		s.events.Record(models.EventSupervisorFatal, index, fatal.Error())
		s.logger.Errorf("%v; leaving worker stopped", fatal)
		s.repo.UpdateState(index, models.StateStopped)
		return fatal
	}

	backoff := s.spec.RestartPolicy.BackoffBase.Std() << (retries - 1)
	s.logger.Infof("restarting crashed worker %d in %s (attempt %d/%d)", index, backoff, retries, s.spec.RestartPolicy.MaxRetries)
	time.Sleep(backoff)

	began := time.Now()
	if err := s.spawnLocked(index); err != nil {
		s.logger.Errorf("recovery spawn for worker %d failed: %v", index, err)
		s.repo.UpdateState(index, models.StateCrashed)
		return err
	}

	s.metrics.RecordRestart(index, "crash", time.Since(began))
	s.events.Record(models.EventWorkerRestarted, index, fmt.Sprintf("worker %d restarted after crash", index))
	return nil
}

func (s *Supervisor) restartLocked(index int, reason string) error {
	began := time.Now()
	if err := s.stopLocked(index); err != nil {
		return err
	}
	if err := s.spawnLocked(index); err != nil {
		return err
	}
	s.repo.ResetRestarts(index)
	s.metrics.RecordRestart(index, reason, time.Since(began))
	s.events.Record(models.EventWorkerRestarted, index, fmt.Sprintf("worker %d restarted", index))
	return nil
}

// spawnLocked launches a fresh process for index, waits for readiness, and
// registers the endpoint. The port assignment base+index never changes for
// the lifetime of the slot, so spawn/stop pairs per index keep port ownership
// exclusive.
func (s *Supervisor) spawnLocked(index int) error {
	proc, err := launchWorker(s.spec, index, s.aggregator)
	if err != nil {
		return &models.StartupError{Index: index, Reason: err.Error()}
	}
	s.procs[index] = proc
	s.failStreak[index] = 0

	record := models.WorkerInstance{
		Index:     index,
		PID:       proc.pid(),
		Port:      s.spec.PortFor(index),
		State:     models.StateStarting,
		Version:   int(s.version.Load()),
		StartedAt: time.Now(),
	}
	if _, err := s.repo.Get(index); err != nil {
		record.RestartCount = 0
		if err := s.repo.Add(record); err != nil {
			return fmt.Errorf("failed to register worker %d: %v", index, err)
		}
	} else {
		existing, _ := s.repo.Get(index)
		record.RestartCount = existing.RestartCount
		if err := s.repo.Replace(record); err != nil {
			return fmt.Errorf("failed to update worker %d: %v", index, err)
		}
	}

	if err := s.waitReadyLocked(index, proc); err != nil {
		s.abortSpawnLocked(index, proc)
		return err
	}

	s.repo.UpdateState(index, models.StateReady)
	s.repo.Touch(index, time.Now())
	worker, _ := s.repo.Get(index)
	if err := s.upstreams.Register(worker.Address()); err != nil {
		// The worker is healthy but unreachable through the proxy; keep it
		// running, report, and leave it out of rotation until resolved.
		s.logger.Errorf("failed to register worker %d endpoint: %v", index, err)
		s.events.Record(models.EventWorkerRestarted, index, fmt.Sprintf("endpoint %s excluded from rotation: %v", worker.Address(), err))
	}
	s.updateGauges()
	s.logger.Infof("worker %d ready on port %d (pid %d)", index, worker.Port, worker.PID)
	return nil
}

// abortSpawnLocked tears down a spawn that never reached READY. The process
// is terminated and the record moved to STOPPED so a failed start leaves no
// half-started instance behind.
func (s *Supervisor) abortSpawnLocked(index int, proc *workerProcess) {
	if proc.alive() {
		proc.markStopped()
		if err := proc.signalTerm(); err != nil {
			s.logger.Warnf("failed to signal worker %d: %v", index, err)
		}
		if !proc.waitDone(s.spec.StopGracePeriod.Std()) {
			if err := proc.kill(); err != nil {
				s.logger.Warnf("failed to kill worker %d: %v", index, err)
			}
			proc.waitDone(2 * time.Second)
		}
	}
	s.reapLocked(index)
	s.repo.UpdateState(index, models.StateStopped)
	s.updateGauges()
}

// waitReadyLocked polls the readiness probe until the worker answers or the
// startup timeout elapses.
func (s *Supervisor) waitReadyLocked(index int, proc *workerProcess) error {
	worker, err := s.repo.Get(index)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.spec.StartupTimeout.Std())
	var lastErr error
	for time.Now().Before(deadline) {
		if !proc.alive() {
			return &models.StartupError{Index: index, Reason: fmt.Sprintf("process exited during startup: %v", exitReason(proc))}
		}
		if lastErr = s.prober.Probe(worker); lastErr == nil {
			return nil
		}
		time.Sleep(readyPollInterval)
	}
	return &models.StartupError{Index: index, Reason: fmt.Sprintf("not ready after %s: %v", s.spec.StartupTimeout.Std(), lastErr)}
}

// stopLocked drains the worker at index, asks it to terminate, and escalates
// to a kill after the grace period. The record is STOPPED on return.
func (s *Supervisor) stopLocked(index int) error {
	worker, err := s.repo.Get(index)
	if err != nil {
		return err
	}

	s.repo.UpdateState(index, models.StateDraining)
	s.upstreams.Deregister(worker.Address())
	s.updateGauges()

	proc := s.procs[index]
	if proc != nil && proc.alive() {
		proc.markStopped()
		if err := proc.signalTerm(); err != nil {
			s.logger.Warnf("failed to signal worker %d: %v", index, err)
		}
		if !proc.waitDone(s.spec.StopGracePeriod.Std()) {
			s.logger.Warnf("worker %d did not stop within %s, killing", index, s.spec.StopGracePeriod.Std())
			if err := proc.kill(); err != nil {
				s.logger.Warnf("failed to kill worker %d: %v", index, err)
			}
			proc.waitDone(2 * time.Second)
		}
	}
	s.reapLocked(index)

	s.repo.UpdateState(index, models.StateStopped)
	s.updateGauges()
	s.logger.Infof("worker %d stopped", index)
	return nil
}

func (s *Supervisor) reapLocked(index int) {
	delete(s.procs, index)
}

func (s *Supervisor) updateGauges() {
	s.metrics.SetReadyWorkers(s.repo.CountInState(models.StateReady))
}

// startMonitorLocked launches the periodic health loop if it is not running.
func (s *Supervisor) startMonitorLocked() {
	if s.monitorStop != nil {
		return
	}
	s.monitorStop = make(chan struct{})
	s.monitorDone = make(chan struct{})
	go s.monitor(s.monitorStop, s.monitorDone)
}

func (s *Supervisor) stopMonitor() {
	s.mu.Lock()
	stop, done := s.monitorStop, s.monitorDone
	s.monitorStop = nil
	s.monitorDone = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// monitor drives health checks for every non-stopped worker at the
// configured interval.
func (s *Supervisor) monitor(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.spec.HealthInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, worker := range s.repo.List() {
				if worker.State == models.StateStopped || worker.State == models.StateDraining {
					continue
				}
				if err := s.HealthCheck(worker.Index); err != nil {
					s.logger.Debugf("health check for worker %d: %v", worker.Index, err)
				}
			}
		}
	}
}

func exitReason(proc *workerProcess) error {
	if proc == nil {
		return fmt.Errorf("no process attached")
	}
	if err := proc.exitErr(); err != nil {
		return err
	}
	return fmt.Errorf("clean exit")
}
