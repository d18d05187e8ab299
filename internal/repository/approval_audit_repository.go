package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// ApprovalAuditRepository appends and reads immutable placement audit log entries.
type ApprovalAuditRepository struct {
	q Querier
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(q Querier) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{q: q}
}

// AppendAudit inserts one audit entry. The table has an update/delete
// prevention trigger so this is the only mutation operation exposed.
func (r *ApprovalAuditRepository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO daep_placement_audit_log
		    (id, incident_id, chain_id, step_id, checklist_id,
		     action, performed_by, performed_role, performed_at, reason,
		     incident_status_before, incident_status_after,
		     metadata)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10,
		        $11::incident_status, $12::incident_status,
		        $13)
	`

	_, err := r.q.Exec(ctx, query,
		entry.ID,
		entry.IncidentID,
		entry.ChainID,
		entry.StepID,
		entry.ChecklistID,
		entry.Action,
		entry.PerformedBy,
		entry.PerformedRole,
		entry.PerformedAt,
		entry.Reason,
		entry.IncidentStatusBefore,
		entry.IncidentStatusAfter,
		metadataJSON,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListAudit returns the full audit trail for an incident in write order.
func (r *ApprovalAuditRepository) ListAudit(ctx context.Context, incidentID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, incident_id, chain_id, step_id, checklist_id,
		       action, performed_by, performed_role, performed_at, reason,
		       incident_status_before, incident_status_after,
		       metadata
		FROM daep_placement_audit_log
		WHERE incident_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.q.Query(ctx, query, incidentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalAuditRepository) scanRows(rows pgx.Rows) ([]*domain.AuditEntry, error) {
	entries := []*domain.AuditEntry{}
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit log")
	}
	return entries, nil
}

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalAuditRepository) scanEntry(sc auditScanner) (*domain.AuditEntry, error) {
	entry := &domain.AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.IncidentID,
		&entry.ChainID,
		&entry.StepID,
		&entry.ChecklistID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedRole,
		&entry.PerformedAt,
		&entry.Reason,
		&entry.IncidentStatusBefore,
		&entry.IncidentStatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
