package health

import "sync"

// MockHealthReporter is a Reporter whose answers are set by the test.
type MockHealthReporter struct {
	isAlive  bool
	isReady  bool
	statuses []SubsystemStatus
	mutex    sync.Mutex
}

var _ Reporter = (*MockHealthReporter)(nil)

func (m *MockHealthReporter) SetAlive(isAlive bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.isAlive = isAlive
}

func (m *MockHealthReporter) IsAlive() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.isAlive
}

func (m *MockHealthReporter) SetReady(isReady bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.isReady = isReady
}

func (m *MockHealthReporter) IsReady() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.isReady
}

func (m *MockHealthReporter) SetStatus(statuses []SubsystemStatus) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.statuses = statuses
}

func (m *MockHealthReporter) Status() []SubsystemStatus {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.statuses
}
