package deploy

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

// BuildRunner runs the external build collaborator (source update, dependency
// install, build command) and reports success or failure with the captured
// output blob. Its internals are opaque to the controller.
type BuildRunner interface {
	Run(ctx context.Context) (string, error)
}

// ExecBuildRunner shells out to the descriptor's build command.
type ExecBuildRunner struct {
	cfg    models.BuildConfig
	logger *zap.SugaredLogger
}

// NewExecBuildRunner creates a build runner for the given build config.
func NewExecBuildRunner(cfg models.BuildConfig, logger *zap.SugaredLogger) *ExecBuildRunner {
	return &ExecBuildRunner{cfg: cfg, logger: logger}
}

// Run executes the build command with the configured timeout, capturing
// combined output. A missing build command is a successful no-op so apps
// without a build step can still roll.
func (r *ExecBuildRunner) Run(ctx context.Context) (string, error) {
	parts := strings.Fields(r.cfg.Command)
	if len(parts) == 0 {
		r.logger.Info("no build command configured, skipping build step")
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout.Std())
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = r.cfg.WorkDir

	r.logger.Infof("running build command: %s", r.cfg.Command)
	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", r.cfg.Timeout.Std())
		}
		return output, &models.BuildError{Output: output, Err: err}
	}
	return output, nil
}
