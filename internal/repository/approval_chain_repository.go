package repository

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-discipline-placements/internal/approval"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// ApprovalChainRepository manages chain rows. Chain and step writes always
// happen together on the same transaction.
type ApprovalChainRepository struct {
	q     Querier
	steps *ApprovalStepsRepository
}

// NewApprovalChainRepository creates a new ApprovalChainRepository.
func NewApprovalChainRepository(q Querier, steps *ApprovalStepsRepository) *ApprovalChainRepository {
	return &ApprovalChainRepository{q: q, steps: steps}
}

const chainColumns = `
	id, incident_id, chain_status, submitted_by, current_step_order,
	denied_by, denied_reason, returned_by, return_reason,
	template_name, version, created_at, updated_at`

// CreateChain inserts a chain and its steps. A second chain for the same
// incident is a Conflict.
func (r *ApprovalChainRepository) CreateChain(ctx context.Context, snap *domain.ChainSnapshot) error {
	if err := approval.Validate(*snap); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "refusing to store invalid approval chain")
	}
	c := &snap.Chain
	query := `
		INSERT INTO daep_approval_chains
		    (id, incident_id, chain_status, submitted_by, current_step_order,
		     template_name, version, created_at, updated_at)
		VALUES ($1, $2, $3::approval_chain_status, $4, $5,
		        $6, $7, $8, $9)
	`

	_, err := r.q.Exec(ctx, query,
		c.ID,
		c.IncidentID,
		c.Status,
		c.SubmittedBy,
		c.CurrentStepOrder,
		c.TemplateName,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return translate(err, "failed to create approval chain")
	}

	for i := range snap.Steps {
		if err := r.steps.Insert(ctx, &snap.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetChain retrieves a chain with its ordered steps.
func (r *ApprovalChainRepository) GetChain(ctx context.Context, id string, forUpdate bool) (*domain.ChainSnapshot, error) {
	query := `SELECT ` + chainColumns + ` FROM daep_approval_chains WHERE id = $1` + lockClause(forUpdate)

	snap, err := r.load(ctx, r.q.QueryRow(ctx, query, id), forUpdate)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval_chain", id)
	}
	return snap, err
}

// GetChainByIncident returns the incident's chain, or nil when it has none.
func (r *ApprovalChainRepository) GetChainByIncident(ctx context.Context, incidentID string, forUpdate bool) (*domain.ChainSnapshot, error) {
	query := `SELECT ` + chainColumns + ` FROM daep_approval_chains WHERE incident_id = $1` + lockClause(forUpdate)

	snap, err := r.load(ctx, r.q.QueryRow(ctx, query, incidentID), forUpdate)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return snap, err
}

// FindChainByStep resolves a step id to its chain and incident without
// locking anything.
func (r *ApprovalChainRepository) FindChainByStep(ctx context.Context, stepID string) (string, string, error) {
	query := `
		SELECT c.id, c.incident_id
		FROM daep_approval_steps s
		JOIN daep_approval_chains c ON c.id = s.chain_id
		WHERE s.id = $1
	`

	var chainID, incidentID string
	err := r.q.QueryRow(ctx, query, stepID).Scan(&chainID, &incidentID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", "", errors.NotFound("approval_step", stepID)
	}
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve approval step")
	}
	return chainID, incidentID, nil
}

// SaveChain writes the chain header guarded by its version, then every
// step whose state changed guarded by its previous status. Either guard
// failing means another transaction got there first.
func (r *ApprovalChainRepository) SaveChain(ctx context.Context, before domain.ChainSnapshot, after *domain.ChainSnapshot) error {
	if err := approval.Validate(*after); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "refusing to store invalid approval chain")
	}
	c := &after.Chain
	query := `
		UPDATE daep_approval_chains
		SET chain_status       = $3::approval_chain_status,
		    current_step_order = $4,
		    denied_by          = $5,
		    denied_reason      = $6,
		    returned_by        = $7,
		    return_reason      = $8,
		    updated_at         = $9,
		    version            = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	var version int
	err := r.q.QueryRow(ctx, query,
		c.ID,
		before.Chain.Version,
		c.Status,
		c.CurrentStepOrder,
		c.DeniedBy,
		c.DeniedReason,
		c.ReturnedBy,
		c.ReturnReason,
		c.UpdatedAt,
	).Scan(&version)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.StaleStep(fmt.Sprintf("approval chain %s changed concurrently; refetch the chain", c.ID))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval chain")
	}

	if len(before.Steps) != len(after.Steps) {
		return errors.New(errors.ErrCodeInternal, "approval chain step count changed")
	}
	for i := range after.Steps {
		if stepEqual(before.Steps[i], after.Steps[i]) {
			continue
		}
		if err := r.steps.UpdateAction(ctx, before.Steps[i].Status, &after.Steps[i]); err != nil {
			return err
		}
	}
	c.Version = version
	return nil
}

// ListWaitingSteps delegates to the steps repository.
func (r *ApprovalChainRepository) ListWaitingSteps(ctx context.Context, role string) ([]domain.PendingStep, error) {
	return r.steps.ListWaiting(ctx, role)
}

func (r *ApprovalChainRepository) load(ctx context.Context, row pgx.Row, forUpdate bool) (*domain.ChainSnapshot, error) {
	snap := &domain.ChainSnapshot{}
	if err := scanChain(row, &snap.Chain); err != nil {
		return nil, err
	}
	steps, err := r.steps.GetByChainID(ctx, snap.Chain.ID, forUpdate)
	if err != nil {
		return nil, err
	}
	snap.Steps = steps
	return snap, nil
}

type chainScanner interface {
	Scan(dest ...any) error
}

func scanChain(row chainScanner, c *domain.ApprovalChain) error {
	err := row.Scan(
		&c.ID,
		&c.IncidentID,
		&c.Status,
		&c.SubmittedBy,
		&c.CurrentStepOrder,
		&c.DeniedBy,
		&c.DeniedReason,
		&c.ReturnedBy,
		&c.ReturnReason,
		&c.TemplateName,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval chain")
	}
	return err
}

func stepEqual(a, b domain.ApprovalStep) bool {
	return a.Status == b.Status &&
		eqString(a.ActedBy, b.ActedBy) &&
		eqString(a.Comments, b.Comments) &&
		((a.ActedAt == nil && b.ActedAt == nil) || (a.ActedAt != nil && b.ActedAt != nil && a.ActedAt.Equal(*b.ActedAt)))
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
