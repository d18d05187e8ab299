package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// IncidentRepository handles the incident rows the placement engine reads
// and the status fields it owns.
type IncidentRepository struct {
	q Querier
}

// NewIncidentRepository creates a new incident repository.
func NewIncidentRepository(q Querier) *IncidentRepository {
	return &IncidentRepository{q: q}
}

const incidentColumns = `
	id, student_id, campus_id, consequence_type,
	student_is_sped, student_is_504,
	status, compliance_cleared,
	approved_by, approved_at, activated_at, completed_at,
	created_at, updated_at`

// CreateIncident registers an incident.
func (r *IncidentRepository) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		INSERT INTO discipline_incidents
		    (id, student_id, campus_id, consequence_type,
		     student_is_sped, student_is_504,
		     status, compliance_cleared,
		     created_at, updated_at)
		VALUES ($1, $2, $3, $4,
		        $5, $6,
		        $7::incident_status, $8,
		        $9, $10)
	`

	_, err := r.q.Exec(ctx, query,
		inc.ID,
		inc.StudentID,
		inc.CampusID,
		inc.ConsequenceType,
		inc.StudentIsSPED,
		inc.StudentIs504,
		inc.Status,
		inc.ComplianceCleared,
		inc.CreatedAt,
		inc.UpdatedAt,
	)
	return translate(err, "failed to create incident")
}

// GetIncident retrieves an incident, optionally locking the row.
func (r *IncidentRepository) GetIncident(ctx context.Context, id string, forUpdate bool) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM discipline_incidents WHERE id = $1` + lockClause(forUpdate)

	inc := &domain.Incident{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&inc.ID,
		&inc.StudentID,
		&inc.CampusID,
		&inc.ConsequenceType,
		&inc.StudentIsSPED,
		&inc.StudentIs504,
		&inc.Status,
		&inc.ComplianceCleared,
		&inc.ApprovedBy,
		&inc.ApprovedAt,
		&inc.ActivatedAt,
		&inc.CompletedAt,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("incident", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get incident")
	}
	return inc, nil
}

// UpdateIncident writes the engine-owned fields.
func (r *IncidentRepository) UpdateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		UPDATE discipline_incidents
		SET status             = $2::incident_status,
		    compliance_cleared = $3,
		    approved_by        = $4,
		    approved_at        = $5,
		    activated_at       = $6,
		    completed_at       = $7,
		    updated_at         = $8
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query,
		inc.ID,
		inc.Status,
		inc.ComplianceCleared,
		inc.ApprovedBy,
		inc.ApprovedAt,
		inc.ActivatedAt,
		inc.CompletedAt,
		inc.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update incident")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("incident", inc.ID)
	}
	return nil
}
