package registry

import (
	"context"
	"sync"

	"github.com/honeycombio/rebalancer/types"
)

// MockRegistry is an in-memory Source. Organizations are present when they
// appear in Orgs; BlendedRates holds only orgs with a defined rate.
type MockRegistry struct {
	Orgs         map[types.OrgID]Organization
	Projects     map[types.OrgID][]types.ProjectID
	BlendedRates map[types.OrgID]float64
	Err          error

	Calls map[string]int
	mut   sync.Mutex
}

var _ Source = (*MockRegistry)(nil)

func (m *MockRegistry) called(name string) error {
	m.mut.Lock()
	defer m.mut.Unlock()
	if m.Calls == nil {
		m.Calls = make(map[string]int)
	}
	m.Calls[name]++
	return m.Err
}

// CallCount returns how often the named method was called.
func (m *MockRegistry) CallCount(name string) int {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.Calls[name]
}

func (m *MockRegistry) GetOrganization(ctx context.Context, id types.OrgID) (Organization, error) {
	if err := m.called("GetOrganization"); err != nil {
		return Organization{}, err
	}
	org, ok := m.Orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (m *MockRegistry) ActiveProjectIDs(ctx context.Context, org types.OrgID) ([]types.ProjectID, error) {
	if err := m.called("ActiveProjectIDs"); err != nil {
		return nil, err
	}
	return append([]types.ProjectID(nil), m.Projects[org]...), nil
}

func (m *MockRegistry) ActiveOrganizations(ctx context.Context) ([]OrgSummary, error) {
	if err := m.called("ActiveOrganizations"); err != nil {
		return nil, err
	}
	var orgs []OrgSummary
	for id := range m.Orgs {
		orgs = append(orgs, OrgSummary{ID: id, ActiveProjects: len(m.Projects[id])})
	}
	return orgs, nil
}

func (m *MockRegistry) GetBlendedSampleRate(ctx context.Context, org types.OrgID) (float64, bool, error) {
	if err := m.called("GetBlendedSampleRate"); err != nil {
		return 0, false, err
	}
	rate, ok := m.BlendedRates[org]
	return rate, ok, nil
}
