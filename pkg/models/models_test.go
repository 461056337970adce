package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v2"
)

func TestDurationUnmarshal(t *testing.T) {
	var out struct {
		Interval Duration `yaml:"interval"`
	}
	err := yaml.Unmarshal([]byte("interval: 2m30s\n"), &out)
	assert.NoError(t, err)
	assert.Equal(t, 150*time.Second, out.Interval.Std())
}

func TestDurationUnmarshalRejectsGarbage(t *testing.T) {
	var out struct {
		Interval Duration `yaml:"interval"`
	}
	err := yaml.Unmarshal([]byte("interval: soon\n"), &out)
	assert.Error(t, err)
}

func TestPortFor(t *testing.T) {
	spec := &AppSpec{PortBase: 8000}
	assert.Equal(t, 8000, spec.PortFor(0))
	assert.Equal(t, 8003, spec.PortFor(3))
}

func TestWorkerAddress(t *testing.T) {
	worker := WorkerInstance{Index: 1, Port: 8001}
	assert.Equal(t, "127.0.0.1:8001", worker.Address())
}

func TestPlanRemaining(t *testing.T) {
	plan := DeploymentPlan{Indices: []int{0, 1, 2, 3}, Position: 2}
	assert.Equal(t, []int{2, 3}, plan.Remaining())

	plan.Position = 4
	assert.Empty(t, plan.Remaining())
}
