package domain

import "time"

// AuditAction names an audited transition.
type AuditAction string

const (
	AuditPlacementSubmitted     AuditAction = "submitted"
	AuditChainCreated           AuditAction = "chain_created"
	AuditStepApproved           AuditAction = "step_approved"
	AuditStepSkipped            AuditAction = "step_skipped"
	AuditStepDenied             AuditAction = "step_denied"
	AuditStepReturned           AuditAction = "step_returned"
	AuditChainApproved          AuditAction = "chain_approved"
	AuditChainResubmitted       AuditAction = "chain_resubmitted"
	AuditChecklistCreated       AuditAction = "checklist_created"
	AuditItemToggled            AuditAction = "item_toggled"
	AuditManifestationRecorded  AuditAction = "manifestation_recorded"
	AuditBlockOverridden        AuditAction = "block_overridden"
	AuditConsiderationsRecorded AuditAction = "considerations_recorded"
	AuditIncidentApproved       AuditAction = "incident_approved"
	AuditPlacementActivated     AuditAction = "placement_activated"
	AuditPlacementCompleted     AuditAction = "placement_completed"
)

// AuditEntry is one immutable row of the placement audit log.
type AuditEntry struct {
	ID                   string          `json:"id"`
	IncidentID           string          `json:"incident_id"`
	ChainID              *string         `json:"chain_id,omitempty"`
	StepID               *string         `json:"step_id,omitempty"`
	ChecklistID          *string         `json:"checklist_id,omitempty"`
	Action               AuditAction     `json:"action"`
	PerformedBy          string          `json:"performed_by"`
	PerformedRole        string          `json:"performed_role"`
	PerformedAt          time.Time       `json:"performed_at"`
	Reason               *string         `json:"reason,omitempty"`
	IncidentStatusBefore *IncidentStatus `json:"incident_status_before,omitempty"`
	IncidentStatusAfter  *IncidentStatus `json:"incident_status_after,omitempty"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
}

// EventType names a notification event published after commit.
type EventType string

const (
	EventPlacementSubmitted    EventType = "placement_submitted"
	EventApprovalRequired      EventType = "approval_required"
	EventChainApproved         EventType = "chain_approved"
	EventChainDenied           EventType = "chain_denied"
	EventChainReturned         EventType = "chain_returned"
	EventChainResubmitted      EventType = "chain_resubmitted"
	EventComplianceOverride    EventType = "compliance_override"
	EventManifestationRecorded EventType = "manifestation_recorded"
	EventPlacementActivated    EventType = "placement_activated"
)

// Event is a notification about a committed transition.
type Event struct {
	Type           EventType      `json:"event_type"`
	IncidentID     string         `json:"incident_id"`
	ChainID        string         `json:"chain_id,omitempty"`
	ChecklistID    string         `json:"checklist_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	RecipientRoles []string       `json:"recipient_roles,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
