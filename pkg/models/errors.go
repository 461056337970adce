package models

import (
	"errors"
	"fmt"
)

// ErrDeployInProgress is returned when a deploy is triggered while the
// controller is not idle.
var ErrDeployInProgress = errors.New("a deployment is already in progress")

// ErrDeployAborted is returned when an operator halts a rolling restart
// before every instance was cycled. The mixed-version state is reported,
// never presented as a completed deploy.
var ErrDeployAborted = errors.New("deployment aborted by operator")

// ErrNoUpstreams is returned by the proxy when no worker endpoint is routable.
var ErrNoUpstreams = errors.New("no ready upstreams")

// ConfigError reports a malformed or missing descriptor field. It is fatal
// and aborts before any process starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q %s", e.Field, e.Reason)
}

// BuildError reports a failed external build step. Running workers are left
// untouched.
type BuildError struct {
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// StartupError reports a spawned worker that never reached READY within the
// startup timeout.
type StartupError struct {
	Index  int
	Reason string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("worker %d failed to become ready: %s", e.Index, e.Reason)
}

// SupervisorFatal reports a worker whose restart budget is exhausted. The
// instance is left STOPPED and not retried again.
type SupervisorFatal struct {
	Index   int
	Retries int
}

func (e *SupervisorFatal) Error() string {
	return fmt.Sprintf("worker %d gave up after %d restarts", e.Index, e.Retries)
}

// DeployPartialError reports a rolling restart that was halted mid-plan.
// Versions maps every instance index to the spec generation it is running;
// the mixed-version state is reported, never rolled back automatically.
type DeployPartialError struct {
	PlanID      string
	FailedIndex int
	Versions    map[int]int
	Err         error
}

func (e *DeployPartialError) Error() string {
	return fmt.Sprintf("deployment %s halted at worker %d: %v", e.PlanID, e.FailedIndex, e.Err)
}

func (e *DeployPartialError) Unwrap() error {
	return e.Err
}

// ProxyRoutingError reports a failed endpoint registration. The endpoint is
// excluded from rotation until resolved.
type ProxyRoutingError struct {
	Addr string
	Err  error
}

func (e *ProxyRoutingError) Error() string {
	return fmt.Sprintf("cannot route to %s: %v", e.Addr, e.Err)
}

func (e *ProxyRoutingError) Unwrap() error {
	return e.Err
}
