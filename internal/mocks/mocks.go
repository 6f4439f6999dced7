// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/stateprobe/api/schemas"
	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/config"
	"github.com/xkilldash9x/stateprobe/internal/response"
	"github.com/xkilldash9x/stateprobe/internal/session"
	"github.com/xkilldash9x/stateprobe/internal/sul"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) SUL() config.SULConfig {
	args := m.Called()
	return args.Get(0).(config.SULConfig)
}

func (m *MockConfig) Limits() config.LimitsConfig {
	args := m.Called()
	return args.Get(0).(config.LimitsConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

func (m *MockConfig) Timeout() config.TimeoutConfig {
	args := m.Called()
	return args.Get(0).(config.TimeoutConfig)
}

func (m *MockConfig) Learner() config.LearnerConfig {
	args := m.Called()
	return args.Get(0).(config.LearnerConfig)
}

func (m *MockConfig) Alphabet() config.AlphabetConfig {
	args := m.Called()
	return args.Get(0).(config.AlphabetConfig)
}

func (m *MockConfig) Analysis() config.AnalysisConfig {
	args := m.Called()
	return args.Get(0).(config.AnalysisConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

func (m *MockConfig) Compare() config.CompareConfig {
	args := m.Called()
	return args.Get(0).(config.CompareConfig)
}

// --- Setters ---

func (m *MockConfig) SetEngineWorkerConcurrency(w int) {
	m.Called(w)
}

func (m *MockConfig) SetLearnerEquivalence(s string) {
	m.Called(s)
}

func (m *MockConfig) SetLimitsMaxQueries(n int) {
	m.Called(n)
}

func (m *MockConfig) SetLimitsMaxDuration(d time.Duration) {
	m.Called(d)
}

// -- Store Mock --

// MockStore mocks the schemas.Store interface.
type MockStore struct {
	mock.Mock
}

var _ schemas.Store = (*MockStore)(nil)

// PersistData provides a mock function for persisting result envelopes.
func (m *MockStore) PersistData(ctx context.Context, data *schemas.ResultEnvelope) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

// GetFindingsBySessionID provides a mock function for retrieving findings.
func (m *MockStore) GetFindingsBySessionID(ctx context.Context, sessionID string) ([]schemas.Finding, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Finding), args.Error(1)
}

// -- Executor Mock --

// MockExecutor mocks the sul.Executor protocol capability.
type MockExecutor struct {
	mock.Mock
}

var _ sul.Executor = (*MockExecutor)(nil)

func (m *MockExecutor) Open(ctx context.Context, timeout time.Duration) (*sul.SessionState, error) {
	args := m.Called(ctx, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sul.SessionState), args.Error(1)
}

func (m *MockExecutor) Execute(ctx context.Context, state *sul.SessionState, w alphabet.Word, hint *response.Fingerprint) (response.Fingerprint, error) {
	args := m.Called(ctx, state, w, hint)
	return args.Get(0).(response.Fingerprint), args.Error(1)
}

func (m *MockExecutor) SocketState(ctx context.Context, state *sul.SessionState) (response.SocketState, error) {
	args := m.Called(ctx, state)
	return args.Get(0).(response.SocketState), args.Error(1)
}

func (m *MockExecutor) Close(state *sul.SessionState) error {
	return m.Called(state).Error(0)
}

// -- Adapter Mock --

// MockAdapter mocks a worker adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Analyze(ctx context.Context, taskCtx *session.TaskContext) error {
	return m.Called(ctx, taskCtx).Error(0)
}

func (m *MockAdapter) Name() string        { return m.Called().String(0) }
func (m *MockAdapter) Description() string { return m.Called().String(0) }
