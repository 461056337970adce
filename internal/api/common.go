package api

import (
	"errors"
	"net/http"

	"github.com/vmfltlwms/rollout/pkg/models"
)

// Failure classes carried on the wire so the CLI can map them to distinct
// process exit codes.
const (
	ClassConfig  = "config"
	ClassBuild   = "build"
	ClassRuntime = "runtime"
	ClassTimeout = "timeout"
	ClassPartial = "partial"
	ClassAborted = "aborted"
	ClassBusy    = "busy"
)

// StatusResponse is the machine-readable answer of GET /status.
type StatusResponse struct {
	App         string                  `json:"app"`
	Version     int                     `json:"version"`
	DeployState models.DeployState      `json:"deploy_state"`
	Plan        *models.DeploymentPlan  `json:"plan,omitempty"`
	Workers     []models.WorkerInstance `json:"workers"`
	Upstreams   []string                `json:"upstreams"`
	Events      []models.Event          `json:"events"`
}

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// OKResponse acknowledges a successful verb.
type OKResponse struct {
	Status string `json:"status"`
}

var ok = &OKResponse{Status: "ok"}

// classify maps an orchestrator error to its wire class and HTTP status.
func classify(err error) (string, int) {
	var (
		configErr  *models.ConfigError
		buildErr   *models.BuildError
		startupErr *models.StartupError
		partialErr *models.DeployPartialError
	)
	switch {
	case errors.Is(err, models.ErrDeployInProgress):
		return ClassBusy, http.StatusConflict
	case errors.Is(err, models.ErrDeployAborted):
		return ClassAborted, http.StatusConflict
	case errors.As(err, &configErr):
		return ClassConfig, http.StatusBadRequest
	case errors.As(err, &buildErr):
		return ClassBuild, http.StatusUnprocessableEntity
	case errors.As(err, &partialErr):
		return ClassPartial, http.StatusConflict
	case errors.As(err, &startupErr):
		return ClassTimeout, http.StatusGatewayTimeout
	default:
		return ClassRuntime, http.StatusInternalServerError
	}
}
