package stats

import "github.com/stretchr/testify/mock"

type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Set(name string, value int64) {
	m.Called(name, value)
}
func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}
func (m *MockStatsUpdater) Run() {
	m.Called()
}

// NoopStats discards updates.
type NoopStats struct{}

func (NoopStats) Incr(string) {}
func (NoopStats) Decr(string) {}
func (NoopStats) Set(string, int64) {}
func (NoopStats) RegisterMetric(string) {}
func (NoopStats) Run() {}
