package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vmfltlwms/rollout/pkg/models"
	"gopkg.in/yaml.v2"
)

// Defaults applied when the descriptor leaves optional fields empty.
const (
	DefaultReadinessPath      = "/"
	DefaultStartupTimeout     = 30 * time.Second
	DefaultStopGracePeriod    = 10 * time.Second
	DefaultHealthInterval     = 5 * time.Second
	DefaultUnhealthyThreshold = 3
	DefaultBuildTimeout       = 10 * time.Minute
)

// Load reads and validates a deployment descriptor. Any violation is
// reported as a ConfigError before a single process is started.
func Load(path string) (*models.AppSpec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &models.ConfigError{Field: "descriptor", Reason: fmt.Sprintf("cannot be opened: %v", err)}
	}
	defer file.Close()

	var spec models.AppSpec
	if err := yaml.NewDecoder(file).Decode(&spec); err != nil {
		return nil, &models.ConfigError{Field: "descriptor", Reason: fmt.Sprintf("is not valid YAML: %v", err)}
	}

	applyDefaults(&spec)
	if err := Validate(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func applyDefaults(spec *models.AppSpec) {
	if spec.ReadinessPath == "" {
		spec.ReadinessPath = DefaultReadinessPath
	}
	if spec.StartupTimeout == 0 {
		spec.StartupTimeout = models.Duration(DefaultStartupTimeout)
	}
	if spec.StopGracePeriod == 0 {
		spec.StopGracePeriod = models.Duration(DefaultStopGracePeriod)
	}
	if spec.HealthInterval == 0 {
		spec.HealthInterval = models.Duration(DefaultHealthInterval)
	}
	if spec.UnhealthyThreshold == 0 {
		spec.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if spec.Build.Timeout == 0 {
		spec.Build.Timeout = models.Duration(DefaultBuildTimeout)
	}
	if spec.Env == nil {
		spec.Env = map[string]string{}
	}
}

// Validate checks descriptor invariants that the rest of the system relies on.
func Validate(spec *models.AppSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return &models.ConfigError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(spec.Command) == "" {
		return &models.ConfigError{Field: "entry_command", Reason: "must not be empty"}
	}
	if spec.Instances < 1 {
		return &models.ConfigError{Field: "instances", Reason: "must be a positive integer"}
	}
	if spec.PortBase < 1 || spec.PortBase+spec.Instances-1 > 65535 {
		return &models.ConfigError{
			Field:  "port_base",
			Reason: fmt.Sprintf("must leave room for %d ports below 65536", spec.Instances),
		}
	}
	if strings.TrimSpace(spec.LogDir) == "" {
		return &models.ConfigError{Field: "log_dir", Reason: "must not be empty"}
	}
	if spec.RestartPolicy.MaxRetries < 0 {
		return &models.ConfigError{Field: "restart_policy.max_retries", Reason: "must not be negative"}
	}
	if spec.RestartPolicy.BackoffBase < 0 {
		return &models.ConfigError{Field: "restart_policy.backoff_base", Reason: "must not be negative"}
	}
	if spec.RestartPolicy.MaxRetries > 0 && spec.RestartPolicy.BackoffBase == 0 {
		return &models.ConfigError{Field: "restart_policy.backoff_base", Reason: "must be set when retries are enabled"}
	}
	if !strings.HasPrefix(spec.ReadinessPath, "/") {
		return &models.ConfigError{Field: "readiness_path", Reason: "must start with /"}
	}
	if (spec.Proxy.TLSCert == "") != (spec.Proxy.TLSKey == "") {
		return &models.ConfigError{Field: "proxy.tls_cert", Reason: "and proxy.tls_key must be set together"}
	}
	return nil
}
