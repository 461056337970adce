package api

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vmfltlwms/rollout/pkg/models"
)

// MockController is a mock implementation of ControllerInterface.
type MockController struct {
	mock.Mock
}

func (m *MockController) TriggerDeploy(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockController) Abort() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockController) State() (models.DeployState, *models.DeploymentPlan) {
	args := m.Called()
	plan, _ := args.Get(1).(*models.DeploymentPlan)
	return args.Get(0).(models.DeployState), plan
}

// MockSupervisor is a mock implementation of supervisor.SupervisorInterface.
type MockSupervisor struct {
	mock.Mock
}

func (m *MockSupervisor) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSupervisor) Stop(index int) error {
	args := m.Called(index)
	return args.Error(0)
}

func (m *MockSupervisor) Restart(index int) error {
	args := m.Called(index)
	return args.Error(0)
}

func (m *MockSupervisor) StopAll() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSupervisor) HealthCheck(index int) error {
	args := m.Called(index)
	return args.Error(0)
}

func (m *MockSupervisor) Workers() []models.WorkerInstance {
	args := m.Called()
	return args.Get(0).([]models.WorkerInstance)
}

func (m *MockSupervisor) AdvanceVersion() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockSupervisor) Version() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockSupervisor) Spec() *models.AppSpec {
	args := m.Called()
	return args.Get(0).(*models.AppSpec)
}
