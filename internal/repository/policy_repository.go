package repository

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// PolicyRepository answers which SLA policy applies to a ticket. Policy
// selection is upstream; the store is keyed by priority.
type PolicyRepository interface {
	GetPolicyFor(ctx context.Context, ticket *domain.Ticket) (*domain.SLAPolicy, error)
	GetByPriority(ctx context.Context, priority domain.TicketPriority) (*domain.SLAPolicy, error)
	Save(ctx context.Context, policy *domain.SLAPolicy) error
	List(ctx context.Context) ([]domain.SLAPolicy, error)
}

type policyRepository struct {
	pool *pgxpool.Pool
}

// NewPolicyRepository builds the Postgres-backed policy store.
func NewPolicyRepository(pool *pgxpool.Pool) PolicyRepository {
	return &policyRepository{pool: pool}
}

const policyCols = `id, name, priority, response, resolution, operational_hours_only, escalations`

func (r *policyRepository) GetPolicyFor(ctx context.Context, ticket *domain.Ticket) (*domain.SLAPolicy, error) {
	return r.GetByPriority(ctx, ticket.Priority)
}

func (r *policyRepository) GetByPriority(ctx context.Context, priority domain.TicketPriority) (*domain.SLAPolicy, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+policyCols+` FROM sla_policies WHERE priority=$1`, priority)
	var p domain.SLAPolicy
	if err := row.Scan(&p.ID, &p.Name, &p.Priority, &p.Response, &p.Resolution, &p.OperationalHoursOnly, &p.Escalations); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *policyRepository) Save(ctx context.Context, p *domain.SLAPolicy) error {
	const query = `
        INSERT INTO sla_policies (` + policyCols + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (id) DO UPDATE SET
            name=$2, priority=$3, response=$4, resolution=$5,
            operational_hours_only=$6, escalations=$7`
	_, err := r.pool.Exec(ctx, query, p.ID, p.Name, p.Priority, p.Response, p.Resolution, p.OperationalHoursOnly, p.Escalations)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

func (r *policyRepository) List(ctx context.Context) ([]domain.SLAPolicy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+policyCols+` FROM sla_policies ORDER BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPolicy
	for rows.Next() {
		var p domain.SLAPolicy
		if err := rows.Scan(&p.ID, &p.Name, &p.Priority, &p.Response, &p.Resolution, &p.OperationalHoursOnly, &p.Escalations); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

type policyFile struct {
	Policies []domain.SLAPolicy `yaml:"policies"`
}

// LoadPolicyFile reads SLA policies from a YAML seed file and validates them.
func LoadPolicyFile(path string) ([]domain.SLAPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}
	for _, p := range pf.Policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
	}
	return pf.Policies, nil
}
