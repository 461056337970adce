package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmfltlwms/rollout/internal/metrics"
	"github.com/vmfltlwms/rollout/internal/supervisor"
	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

// Controller orchestrates a build-then-redeploy cycle across the supervised
// pool without a traffic gap. Its only process-level interface is the
// supervisor; its only routing interface is the upstream binding.
//
// State machine: Idle -> Building -> RollingRestart -> Idle on success,
// Idle -> Building -> Aborted -> Idle on build failure.
type Controller struct {
	supervisor supervisor.SupervisorInterface
	upstreams  supervisor.UpstreamBinding
	builder    BuildRunner
	events     *models.EventLog
	metrics    *metrics.Collector
	logger     *zap.SugaredLogger

	mu    sync.Mutex
	state models.DeployState
	plan  *models.DeploymentPlan
	abort bool
}

// NewController wires the deployment controller to its collaborators.
func NewController(
	sup supervisor.SupervisorInterface,
	upstreams supervisor.UpstreamBinding,
	builder BuildRunner,
	events *models.EventLog,
	collector *metrics.Collector,
	logger *zap.SugaredLogger,
) *Controller {
	return &Controller{
		supervisor: sup,
		upstreams:  upstreams,
		builder:    builder,
		events:     events,
		metrics:    collector,
		logger:     logger,
		state:      models.DeployIdle,
	}
}

// State returns the controller state and a copy of the active plan, if any.
func (c *Controller) State() (models.DeployState, *models.DeploymentPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan == nil {
		return c.state, nil
	}
	plan := *c.plan
	plan.Indices = append([]int(nil), c.plan.Indices...)
	return c.state, &plan
}

// Abort requests that the rolling restart halt after the current instance
// finishes. Aborts never interrupt a single-instance restart mid-flight.
func (c *Controller) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.DeployRollingRestart {
		return fmt.Errorf("no rolling restart in progress (state %s)", c.state)
	}
	c.abort = true
	return nil
}

// TriggerDeploy runs one full deployment: build, then cycle every worker
// index in order, keeping at most one instance down at any time. Only valid
// from Idle. On build failure all workers are left untouched; if a single
// instance restart fails, the remaining plan is halted and the mixed-version
// state is reported, never rolled back. An operator abort also surfaces as
// ErrDeployAborted so a halted plan is never reported as completed.
func (c *Controller) TriggerDeploy(ctx context.Context) error {
	c.mu.Lock()
	if c.state != models.DeployIdle {
		c.mu.Unlock()
		return models.ErrDeployInProgress
	}
	c.state = models.DeployBuilding
	c.abort = false
	c.mu.Unlock()

	output, err := c.builder.Run(ctx)
	if err != nil {
		c.logger.Errorf("build step failed: %v", err)
		c.events.Record(models.EventDeployFailed, -1, fmt.Sprintf("build failed: %v", err))
		c.metrics.RecordDeploy("failed")
		c.setState(models.DeployAborted)
		c.finish()
		return err
	}
	if output != "" {
		c.logger.Debugf("build output:\n%s", output)
	}

	version := c.supervisor.AdvanceVersion()
	workers := c.supervisor.Workers()
	indices := make([]int, 0, len(workers))
	for _, worker := range workers {
		indices = append(indices, worker.Index)
	}

	plan := &models.DeploymentPlan{
		ID:        uuid.NewString(),
		Indices:   indices,
		StartedAt: time.Now(),
	}

	c.mu.Lock()
	c.state = models.DeployRollingRestart
	c.plan = plan
	c.mu.Unlock()
	c.logger.Infof("deployment %s rolling %d workers to version %d", plan.ID, len(indices), version)

	for _, index := range indices {
		if c.aborted() {
			c.logger.Infof("deployment %s aborted at position %d", plan.ID, plan.Position)
			c.events.Record(models.EventDeployAborted, -1, fmt.Sprintf("deployment %s aborted after %d of %d workers", plan.ID, plan.Position, len(indices)))
			c.metrics.RecordDeploy("aborted")
			c.finish()
			return fmt.Errorf("deployment %s halted after %d of %d workers: %w", plan.ID, plan.Position, len(indices), models.ErrDeployAborted)
		}

		worker, err := c.workerByIndex(index)
		if err != nil {
			return c.halt(plan, index, err)
		}
		addr := worker.Address()

		// Ordering is the correctness contract: the endpoint leaves the
		// rotation before its worker restarts and rejoins only once the new
		// process is ready.
		c.upstreams.Deregister(addr)
		if err := c.supervisor.Restart(index); err != nil {
			return c.halt(plan, index, err)
		}
		if err := c.upstreams.Register(addr); err != nil {
			return c.halt(plan, index, err)
		}

		c.mu.Lock()
		c.plan.Position++
		c.mu.Unlock()
	}

	c.events.Record(models.EventDeployCompleted, -1, fmt.Sprintf("deployment %s completed, all workers on version %d", plan.ID, version))
	c.metrics.RecordDeploy("completed")
	c.logger.Infof("deployment %s completed", plan.ID)
	c.finish()
	return nil
}

// halt stops the plan mid-way and reports the exact instance-version mapping.
// Already-restarted workers stay on the new version; untouched workers stay
// on the old one.
func (c *Controller) halt(plan *models.DeploymentPlan, failedIndex int, cause error) error {
	versions := make(map[int]int)
	for _, worker := range c.supervisor.Workers() {
		versions[worker.Index] = worker.Version
	}
	partial := &models.DeployPartialError{
		PlanID:      plan.ID,
		FailedIndex: failedIndex,
		Versions:    versions,
		Err:         cause,
	}
	c.logger.Errorf("%v", partial)
	c.events.Record(models.EventDeployPartial, failedIndex, partial.Error())
	c.metrics.RecordDeploy("partial")
	c.finish()
	return partial
}

func (c *Controller) workerByIndex(index int) (models.WorkerInstance, error) {
	for _, worker := range c.supervisor.Workers() {
		if worker.Index == index {
			return worker, nil
		}
	}
	return models.WorkerInstance{}, fmt.Errorf("worker %d disappeared from the registry", index)
}

func (c *Controller) aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abort
}

func (c *Controller) setState(state models.DeployState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.state = models.DeployIdle
	c.plan = nil
	c.abort = false
	c.mu.Unlock()
}
