package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// ApprovalStepsRepository handles reads and updates on individual approval steps.
// Step creation goes through ApprovalChainRepository.CreateChain.
type ApprovalStepsRepository struct {
	q Querier
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(q Querier) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{q: q}
}

const stepColumns = `
	s.id, s.chain_id, s.step_order, s.step_role, s.step_label,
	s.applies_when, s.applicable, s.status,
	s.acted_by, s.acted_at, s.comments`

// Insert writes one new step row.
func (r *ApprovalStepsRepository) Insert(ctx context.Context, st *domain.ApprovalStep) error {
	query := `
		INSERT INTO daep_approval_steps
		    (id, chain_id, step_order, step_role, step_label,
		     applies_when, applicable, status,
		     acted_by, acted_at, comments)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8::approval_step_status,
		        $9, $10, $11)
	`

	_, err := r.q.Exec(ctx, query,
		st.ID,
		st.ChainID,
		st.StepOrder,
		st.StepRole,
		st.StepLabel,
		st.AppliesWhen,
		st.Applicable,
		st.Status,
		st.ActedBy,
		st.ActedAt,
		st.Comments,
	)
	return translate(err, "failed to create approval step")
}

// GetByChainID returns all steps for a chain ordered by step_order.
func (r *ApprovalStepsRepository) GetByChainID(ctx context.Context, chainID string, forUpdate bool) ([]domain.ApprovalStep, error) {
	query := `SELECT ` + stepColumns + `
		FROM daep_approval_steps s
		WHERE s.chain_id = $1
		ORDER BY s.step_order ASC` + lockClause(forUpdate)

	rows, err := r.q.Query(ctx, query, chainID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	var steps []domain.ApprovalStep
	for rows.Next() {
		var st domain.ApprovalStep
		if err := scanStep(rows, &st); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval steps")
	}
	return steps, nil
}

// ListWaiting returns every waiting step for a role across in-progress
// chains, oldest chain first.
func (r *ApprovalStepsRepository) ListWaiting(ctx context.Context, role string) ([]domain.PendingStep, error) {
	query := `SELECT ` + stepColumns + `, c.incident_id
		FROM daep_approval_steps s
		JOIN daep_approval_chains c ON c.id = s.chain_id
		WHERE s.status = 'waiting'
		  AND c.chain_status = 'in_progress'
		  AND lower(s.step_role) = lower($1)
		ORDER BY c.created_at ASC, s.step_order ASC
	`

	rows, err := r.q.Query(ctx, query, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	out := []domain.PendingStep{}
	for rows.Next() {
		var p domain.PendingStep
		if err := scanStep(rows, &p.Step, &p.IncidentID); err != nil {
			return nil, err
		}
		p.ChainID = p.Step.ChainID
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read pending approvals")
	}
	return out, nil
}

// UpdateAction writes a step's new status and action fields, provided it
// still has the status the caller read.
func (r *ApprovalStepsRepository) UpdateAction(ctx context.Context, prev domain.StepStatus, st *domain.ApprovalStep) error {
	query := `
		UPDATE daep_approval_steps
		SET status   = $3::approval_step_status,
		    acted_by = $4,
		    acted_at = $5,
		    comments = $6
		WHERE id = $1 AND status = $2::approval_step_status
	`

	tag, err := r.q.Exec(ctx, query,
		st.ID,
		prev,
		st.Status,
		st.ActedBy,
		st.ActedAt,
		st.Comments,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval step")
	}
	if tag.RowsAffected() == 0 {
		return errors.StaleStep(fmt.Sprintf("approval step %d is no longer %s; refetch the chain", st.StepOrder, prev))
	}
	return nil
}

func scanStep(row pgx.Row, st *domain.ApprovalStep, extra ...any) error {
	dest := append([]any{
		&st.ID,
		&st.ChainID,
		&st.StepOrder,
		&st.StepRole,
		&st.StepLabel,
		&st.AppliesWhen,
		&st.Applicable,
		&st.Status,
		&st.ActedBy,
		&st.ActedAt,
		&st.Comments,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
	}
	return nil
}
