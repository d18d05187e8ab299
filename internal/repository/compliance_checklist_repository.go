package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// ComplianceChecklistRepository persists SPED/504 compliance checklists.
type ComplianceChecklistRepository struct {
	q Querier
}

// NewComplianceChecklistRepository creates a new ComplianceChecklistRepository.
func NewComplianceChecklistRepository(q Querier) *ComplianceChecklistRepository {
	return &ComplianceChecklistRepository{q: q}
}

const checklistColumns = `
	id, incident_id, student_id,
	ard_committee_notified, manifestation_determination, bip_reviewed, fba_conducted,
	parent_notified, fape_plan_documented, iep_goals_reviewed, educational_services_arranged,
	manifestation_result, least_restrictive_considered, placement_justification,
	status, placement_blocked, block_overridden, override_reason, override_by, overridden_at,
	created_at, updated_at`

// CreateChecklist inserts a checklist. A second checklist for the same
// incident is a Conflict.
func (r *ComplianceChecklistRepository) CreateChecklist(ctx context.Context, c *domain.ComplianceChecklist) error {
	query := `
		INSERT INTO daep_compliance_checklists (` + checklistColumns + `)
		VALUES ($1, $2, $3,
		        $4, $5, $6, $7,
		        $8, $9, $10, $11,
		        $12, $13, $14,
		        $15::compliance_status, $16, $17, $18, $19, $20,
		        $21, $22)
	`

	_, err := r.q.Exec(ctx, query, checklistArgs(c)...)
	return translate(err, "failed to create compliance checklist")
}

// GetChecklist retrieves a checklist by id.
func (r *ComplianceChecklistRepository) GetChecklist(ctx context.Context, id string, forUpdate bool) (*domain.ComplianceChecklist, error) {
	query := `SELECT ` + checklistColumns + ` FROM daep_compliance_checklists WHERE id = $1` + lockClause(forUpdate)

	c, err := scanChecklist(r.q.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("compliance_checklist", id)
	}
	return c, err
}

// GetChecklistByIncident returns the incident's checklist, or nil.
func (r *ComplianceChecklistRepository) GetChecklistByIncident(ctx context.Context, incidentID string, forUpdate bool) (*domain.ComplianceChecklist, error) {
	query := `SELECT ` + checklistColumns + ` FROM daep_compliance_checklists WHERE incident_id = $1` + lockClause(forUpdate)

	c, err := scanChecklist(r.q.QueryRow(ctx, query, incidentID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// SaveChecklist writes every mutable column. Items, derived status and the
// override fields are always written together.
func (r *ComplianceChecklistRepository) SaveChecklist(ctx context.Context, c *domain.ComplianceChecklist) error {
	query := `
		UPDATE daep_compliance_checklists
		SET ard_committee_notified        = $2,
		    manifestation_determination   = $3,
		    bip_reviewed                  = $4,
		    fba_conducted                 = $5,
		    parent_notified               = $6,
		    fape_plan_documented          = $7,
		    iep_goals_reviewed            = $8,
		    educational_services_arranged = $9,
		    manifestation_result          = $10,
		    least_restrictive_considered  = $11,
		    placement_justification       = $12,
		    status                        = $13::compliance_status,
		    placement_blocked             = $14,
		    block_overridden              = $15,
		    override_reason               = $16,
		    override_by                   = $17,
		    overridden_at                 = $18,
		    updated_at                    = $19
		WHERE id = $1
	`

	// id, the mutable columns, then updated_at
	all := checklistArgs(c)
	args := append([]any{all[0]}, all[3:20]...)
	args = append(args, all[21])

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update compliance checklist")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("compliance_checklist", c.ID)
	}
	return nil
}

func checklistArgs(c *domain.ComplianceChecklist) []any {
	var result *string
	if c.ManifestationResult != nil {
		s := string(*c.ManifestationResult)
		result = &s
	}
	return []any{
		c.ID,
		c.IncidentID,
		c.StudentID,
		c.ARDCommitteeNotified,
		c.ManifestationDetermination,
		c.BIPReviewed,
		c.FBAConducted,
		c.ParentNotified,
		c.FAPEPlanDocumented,
		c.IEPGoalsReviewed,
		c.EducationalServicesArranged,
		result,
		c.LeastRestrictiveConsidered,
		c.PlacementJustification,
		c.Status,
		c.PlacementBlocked,
		c.BlockOverridden,
		c.OverrideReason,
		c.OverrideBy,
		c.OverriddenAt,
		c.CreatedAt,
		c.UpdatedAt,
	}
}

func scanChecklist(row pgx.Row) (*domain.ComplianceChecklist, error) {
	c := &domain.ComplianceChecklist{}
	var result *string
	err := row.Scan(
		&c.ID,
		&c.IncidentID,
		&c.StudentID,
		&c.ARDCommitteeNotified,
		&c.ManifestationDetermination,
		&c.BIPReviewed,
		&c.FBAConducted,
		&c.ParentNotified,
		&c.FAPEPlanDocumented,
		&c.IEPGoalsReviewed,
		&c.EducationalServicesArranged,
		&result,
		&c.LeastRestrictiveConsidered,
		&c.PlacementJustification,
		&c.Status,
		&c.PlacementBlocked,
		&c.BlockOverridden,
		&c.OverrideReason,
		&c.OverrideBy,
		&c.OverriddenAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan compliance checklist")
	}
	if result != nil {
		r := domain.ManifestationResult(*result)
		c.ManifestationResult = &r
	}
	return c, nil
}
