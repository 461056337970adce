package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

func TestExecBuildRunnerCapturesOutput(t *testing.T) {
	runner := NewExecBuildRunner(models.BuildConfig{
		Command: "echo pulling dependencies",
		Timeout: models.Duration(time.Minute),
	}, zap.NewNop().Sugar())

	out, err := runner.Run(context.Background())
	assert.NoError(t, err)
	assert.Contains(t, out, "pulling dependencies")
}

func TestExecBuildRunnerEmptyCommandIsNoop(t *testing.T) {
	runner := NewExecBuildRunner(models.BuildConfig{}, zap.NewNop().Sugar())

	out, err := runner.Run(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestExecBuildRunnerReportsFailure(t *testing.T) {
	runner := NewExecBuildRunner(models.BuildConfig{
		Command: "false",
		Timeout: models.Duration(time.Minute),
	}, zap.NewNop().Sugar())

	_, err := runner.Run(context.Background())
	var buildErr *models.BuildError
	assert.ErrorAs(t, err, &buildErr)
}

func TestExecBuildRunnerTimesOut(t *testing.T) {
	runner := NewExecBuildRunner(models.BuildConfig{
		Command: "sleep 5",
		Timeout: models.Duration(100 * time.Millisecond),
	}, zap.NewNop().Sugar())

	_, err := runner.Run(context.Background())
	var buildErr *models.BuildError
	assert.ErrorAs(t, err, &buildErr)
	assert.Contains(t, buildErr.Error(), "timed out")
}
