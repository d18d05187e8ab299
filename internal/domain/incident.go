package domain

import "time"

// IncidentStatus is the placement-relevant status of a discipline incident.
type IncidentStatus string

const (
	IncidentDraft           IncidentStatus = "draft"
	IncidentPendingApproval IncidentStatus = "pending_approval"
	IncidentApproved        IncidentStatus = "approved"
	IncidentDenied          IncidentStatus = "denied"
	IncidentReturned        IncidentStatus = "returned"
	IncidentActive          IncidentStatus = "active"
	IncidentCompleted       IncidentStatus = "completed"
)

// Valid reports whether s is a declared incident status.
func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentDraft, IncidentPendingApproval, IncidentApproved, IncidentDenied,
		IncidentReturned, IncidentActive, IncidentCompleted:
		return true
	}
	return false
}

// Incident is the externally owned incident record. The engine writes only
// Status, ComplianceCleared and the approval/activation stamps.
type Incident struct {
	ID                string         `json:"id"`
	StudentID         string         `json:"student_id"`
	CampusID          string         `json:"campus_id"`
	ConsequenceType   string         `json:"consequence_type"`
	StudentIsSPED     bool           `json:"student_is_sped"`
	StudentIs504      bool           `json:"student_is_504"`
	Status            IncidentStatus `json:"status"`
	ComplianceCleared bool           `json:"compliance_cleared"`
	ApprovedBy        *string        `json:"approved_by"`
	ApprovedAt        *time.Time     `json:"approved_at"`
	ActivatedAt       *time.Time     `json:"activated_at"`
	CompletedAt       *time.Time     `json:"completed_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// RequiresCompliance reports whether the student's SPED or 504 status
// triggers a compliance checklist.
func (i Incident) RequiresCompliance() bool {
	return i.StudentIsSPED || i.StudentIs504
}

// BlockReason explains why an incident may not advance.
type BlockReason string

const (
	BlockManifestation        BlockReason = "manifestation"
	BlockComplianceIncomplete BlockReason = "compliance_incomplete"
	BlockApprovalPending      BlockReason = "approval_pending"
	BlockApprovalDenied       BlockReason = "approval_denied"
	BlockApprovalReturned     BlockReason = "approval_returned"
	BlockIncidentNotApproved  BlockReason = "incident_not_approved"
	BlockAlreadyActive        BlockReason = "already_active"
)

// Capabilities is the gating decision for one incident.
type Capabilities struct {
	CanApprove        bool            `json:"can_approve"`
	CanActivate       bool            `json:"can_activate"`
	CanComplete       bool            `json:"can_complete"`
	BlockedReasons    []BlockReason   `json:"blocked_reasons"`
	UnmetRequirements []ChecklistItem `json:"unmet_requirements"`
}
