package deploy

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vmfltlwms/rollout/pkg/models"
)

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

// MockUpstreams is a mock implementation of supervisor.UpstreamBinding.
type MockUpstreams struct {
	mock.Mock
}

func (m *MockUpstreams) Register(addr string) error {
	args := m.Called(addr)
	return args.Error(0)
}

func (m *MockUpstreams) Deregister(addr string) {
	m.Called(addr)
}

// MockBuildRunner is a mock implementation of BuildRunner.
type MockBuildRunner struct {
	mock.Mock
}

func (m *MockBuildRunner) Run(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
