package models

import (
	"fmt"
	"time"
)

// WorkerState defines the lifecycle state of a worker instance.
type WorkerState string

const (
	StateStarting WorkerState = "STARTING" // The worker process was spawned and has not passed readiness yet
	StateReady    WorkerState = "READY"    // The worker is serving traffic
	StateDraining WorkerState = "DRAINING" // The worker no longer receives new connections and is shutting down
	StateStopped  WorkerState = "STOPPED"  // The worker was stopped deliberately or gave up after retries
	StateCrashed  WorkerState = "CRASHED"  // The worker exited or failed health checks outside a deliberate stop
)

// DeployState defines the state of the rolling deployment controller.
type DeployState string

const (
	DeployIdle           DeployState = "IDLE"
	DeployBuilding       DeployState = "BUILDING"
	DeployRollingRestart DeployState = "ROLLING_RESTART"
	DeployAborted        DeployState = "ABORTED"
)

// RestartPolicy controls crash recovery for a single worker instance.
type RestartPolicy struct {
	MaxRetries  int      `yaml:"max_retries"`
	BackoffBase Duration `yaml:"backoff_base"`
}

// BuildConfig describes the external build step invoked before a rolling restart.
type BuildConfig struct {
	Command string   `yaml:"command"`
	WorkDir string   `yaml:"working_directory"`
	Timeout Duration `yaml:"timeout"`
}

// ProxyConfig describes the reverse proxy front of the worker pool.
type ProxyConfig struct {
	Listen      string `yaml:"listen"`       // Address the embedded proxy listens on, e.g. ":8443"
	TLSCert     string `yaml:"tls_cert"`     // PEM certificate path; TLS is terminated here when set
	TLSKey      string `yaml:"tls_key"`      // PEM key path
	RoutingFile string `yaml:"routing_file"` // Optional path for a generated upstream routing block
}

// LogRotation configures size/age rotation of the merged worker log.
// Rotation is optional; zero values mean the sink library defaults apply.
type LogRotation struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxAgeDays int `yaml:"max_age_days"`
	MaxBackups int `yaml:"max_backups"`
}

// AppSpec is the immutable deployment descriptor for one application.
// It is created by the config loader and replaced, never mutated, on redeploy.
type AppSpec struct {
	Name               string            `yaml:"name"`
	Command            string            `yaml:"entry_command"`
	WorkDir            string            `yaml:"working_directory"`
	Instances          int               `yaml:"instances"`
	PortBase           int               `yaml:"port_base"`
	Env                map[string]string `yaml:"env"`
	RestartPolicy      RestartPolicy     `yaml:"restart_policy"`
	LogDir             string            `yaml:"log_dir"`
	ReadinessPath      string            `yaml:"readiness_path"`
	StartupTimeout     Duration          `yaml:"startup_timeout"`
	StopGracePeriod    Duration          `yaml:"stop_grace_period"`
	HealthInterval     Duration          `yaml:"health_interval"`
	UnhealthyThreshold int               `yaml:"unhealthy_threshold"`
	Build              BuildConfig       `yaml:"build"`
	Proxy              ProxyConfig       `yaml:"proxy"`
	LogRotation        LogRotation       `yaml:"log_rotation"`
}

// PortFor returns the port assigned to the given instance index.
func (s *AppSpec) PortFor(index int) int {
	return s.PortBase + index
}

// WorkerInstance is the runtime record for one running copy of the application.
// It is owned exclusively by the supervisor; other components only ever see
// copies or the endpoint address.
type WorkerInstance struct {
	Index           int         `json:"index"`
	PID             int         `json:"pid"`
	Port            int         `json:"port"`
	State           WorkerState `json:"state"`
	Version         int         `json:"version"` // AppSpec generation this worker was launched from
	RestartCount    int         `json:"restart_count"`
	LastHealthCheck time.Time   `json:"last_health_check"`
	StartedAt       time.Time   `json:"started_at"`
}

// Address returns the routable endpoint for this worker.
func (w *WorkerInstance) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", w.Port)
}

// DeploymentPlan tracks one rolling-restart run. It advances one index at a
// time and is discarded on completion or abort.
type DeploymentPlan struct {
	ID        string    `json:"id"`
	Indices   []int     `json:"indices"`
	Position  int       `json:"position"`
	StartedAt time.Time `json:"started_at"`
}

// Remaining returns the indices the plan has not cycled yet.
func (p *DeploymentPlan) Remaining() []int {
	if p.Position >= len(p.Indices) {
		return nil
	}
	rest := make([]int, len(p.Indices)-p.Position)
	copy(rest, p.Indices[p.Position:])
	return rest
}

// Duration wraps time.Duration so descriptors can say "10s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string from the descriptor.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
