package invalidation

import (
	"context"
	"sync"

	"github.com/honeycombio/rebalancer/types"
)

// MockScheduler records scheduled invalidations. If Fail is set, it is
// consulted for every call and a non-nil result is returned as the error.
type MockScheduler struct {
	Fail func(project types.ProjectID) error

	Scheduled []Message
	mut       sync.Mutex
}

var _ Scheduler = (*MockScheduler)(nil)

func (m *MockScheduler) ScheduleInvalidateProjectConfig(ctx context.Context, project types.ProjectID, trigger string) error {
	if m.Fail != nil {
		if err := m.Fail(project); err != nil {
			return err
		}
	}
	m.mut.Lock()
	defer m.mut.Unlock()
	m.Scheduled = append(m.Scheduled, Message{ProjectID: project, Trigger: trigger})
	return nil
}

// Projects returns the invalidated project ids in scheduling order.
func (m *MockScheduler) Projects() []types.ProjectID {
	m.mut.Lock()
	defer m.mut.Unlock()
	ids := make([]types.ProjectID, len(m.Scheduled))
	for i, msg := range m.Scheduled {
		ids[i] = msg.ProjectID
	}
	return ids
}
