package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/types"
)

const (
	getOrganizationQuery = `SELECT id, name, status FROM organizations WHERE id = ? AND status = 'active'`

	activeProjectIDsQuery = `SELECT id FROM projects WHERE organization_id = ? AND status = 'active' ORDER BY id`

	activeOrganizationsQuery = `SELECT o.id AS organization_id, COUNT(p.id) AS active_projects
		FROM organizations o
		JOIN projects p ON p.organization_id = o.id AND p.status = 'active'
		WHERE o.status = 'active'
		GROUP BY o.id
		ORDER BY o.id`

	blendedSampleRateQuery = `SELECT blended_sample_rate FROM organization_quotas WHERE organization_id = ?`
)

// MySQLRegistry reads organizations, projects and quota-derived rates from
// the registry database.
type MySQLRegistry struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`

	db *sqlx.DB
}

var _ Source = (*MySQLRegistry)(nil)

// NewMySQLRegistryWithDB wraps an existing connection; Start must not be
// called afterwards.
func NewMySQLRegistryWithDB(db *sqlx.DB) *MySQLRegistry {
	return &MySQLRegistry{db: db}
}

func (m *MySQLRegistry) Start() error {
	cfg := m.Config.GetRegistryConfig()
	db, err := sqlx.Connect("mysql", cfg.DSN)
	if err != nil {
		return fmt.Errorf("connecting to registry database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	m.db = db
	m.Logger.Info().Logf("Connected to registry database")
	return nil
}

func (m *MySQLRegistry) Stop() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *MySQLRegistry) GetOrganization(ctx context.Context, id types.OrgID) (Organization, error) {
	var org Organization
	err := m.db.GetContext(ctx, &org, getOrganizationQuery, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return Organization{}, ErrNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("get organization %d: %w", id, err)
	}
	return org, nil
}

func (m *MySQLRegistry) ActiveProjectIDs(ctx context.Context, org types.OrgID) ([]types.ProjectID, error) {
	var ids []types.ProjectID
	if err := m.db.SelectContext(ctx, &ids, activeProjectIDsQuery, int64(org)); err != nil {
		return nil, fmt.Errorf("active projects of organization %d: %w", org, err)
	}
	return ids, nil
}

func (m *MySQLRegistry) ActiveOrganizations(ctx context.Context) ([]OrgSummary, error) {
	var orgs []OrgSummary
	if err := m.db.SelectContext(ctx, &orgs, activeOrganizationsQuery); err != nil {
		return nil, fmt.Errorf("active organizations: %w", err)
	}
	return orgs, nil
}

func (m *MySQLRegistry) GetBlendedSampleRate(ctx context.Context, org types.OrgID) (float64, bool, error) {
	var rate sql.NullFloat64
	err := m.db.GetContext(ctx, &rate, blendedSampleRateQuery, int64(org))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("blended sample rate of organization %d: %w", org, err)
	}
	if !rate.Valid {
		return 0, false, nil
	}
	return rate.Float64, true, nil
}
