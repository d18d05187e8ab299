// Package gating composes the approval chain and the compliance gate into the
// single answer of what may happen next to an incident.
//
// Neither the chain nor the gate knows about incident statuses. This package
// is the only place that maps their typed state onto the incident, and the
// only place that may declare an incident eligible to become active.
package gating

import (
	"github.com/pesio-ai/be-discipline-placements/internal/compliance"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
)

// ComputeIncidentCapabilities evaluates the gates in fixed precedence and
// reports the first one that blocks. chain and checklist may be nil.
func ComputeIncidentCapabilities(inc domain.Incident, chain *domain.ApprovalChain, checklist *domain.ComplianceChecklist) domain.Capabilities {
	caps := domain.Capabilities{
		CanApprove:        chain == nil && inc.Status == domain.IncidentPendingApproval,
		CanComplete:       inc.Status == domain.IncidentActive,
		BlockedReasons:    []domain.BlockReason{},
		UnmetRequirements: []domain.ChecklistItem{},
	}
	if checklist != nil {
		caps.UnmetRequirements = compliance.UnmetRequirements(*checklist)
	}

	var reason domain.BlockReason
	switch {
	case checklist != nil && compliance.ManifestationBlocked(*checklist):
		reason = domain.BlockManifestation
	case checklist != nil && compliance.DerivePlacementBlocked(*checklist):
		reason = domain.BlockComplianceIncomplete
	case chain != nil && chain.Status != domain.ChainApproved:
		reason = chainBlock(chain.Status)
	case inc.Status == domain.IncidentActive || inc.Status == domain.IncidentCompleted:
		reason = domain.BlockAlreadyActive
	case inc.Status != domain.IncidentApproved:
		reason = domain.BlockIncidentNotApproved
	}

	if reason != "" {
		caps.BlockedReasons = append(caps.BlockedReasons, reason)
		return caps
	}
	caps.CanActivate = true
	return caps
}

func chainBlock(s domain.ChainStatus) domain.BlockReason {
	switch s {
	case domain.ChainDenied:
		return domain.BlockApprovalDenied
	case domain.ChainReturned:
		return domain.BlockApprovalReturned
	default:
		return domain.BlockApprovalPending
	}
}

// IncidentStatusForChain maps a chain status onto the incident status it
// implies.
func IncidentStatusForChain(s domain.ChainStatus) domain.IncidentStatus {
	switch s {
	case domain.ChainApproved:
		return domain.IncidentApproved
	case domain.ChainDenied:
		return domain.IncidentDenied
	case domain.ChainReturned:
		return domain.IncidentReturned
	default:
		return domain.IncidentPendingApproval
	}
}

// ComplianceCleared reports whether the compliance gate lets the incident
// through. Incidents without a checklist are cleared.
func ComplianceCleared(checklist *domain.ComplianceChecklist) bool {
	if checklist == nil {
		return true
	}
	return !compliance.ManifestationBlocked(*checklist) && !compliance.DerivePlacementBlocked(*checklist)
}

// ReconcileIncident returns the incident with the two engine-owned fields
// brought in line with the chain and checklist. Active and completed
// placements never regress.
func ReconcileIncident(inc domain.Incident, chain *domain.ApprovalChain, checklist *domain.ComplianceChecklist) domain.Incident {
	out := inc
	out.ComplianceCleared = ComplianceCleared(checklist)
	if inc.Status == domain.IncidentActive || inc.Status == domain.IncidentCompleted {
		return out
	}
	if chain != nil {
		out.Status = IncidentStatusForChain(chain.Status)
	}
	return out
}

// Changed reports whether reconciliation touched an engine-owned field.
func Changed(before, after domain.Incident) bool {
	return before.Status != after.Status || before.ComplianceCleared != after.ComplianceCleared
}
