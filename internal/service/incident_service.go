package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-discipline-placements/internal/approval"
	"github.com/pesio-ai/be-discipline-placements/internal/chaintemplate"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/gating"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/repository"
)

// IncidentService moves incidents through submission, approval, activation
// and completion. Every status change is checked against the gating facade.
type IncidentService struct {
	base
}

// NewIncidentService creates a new IncidentService.
func NewIncidentService(d Deps) *IncidentService {
	return &IncidentService{base: newBase(d, "incident_service")}
}

// NewIncident carries the host-owned incident fields.
type NewIncident struct {
	ID              string
	StudentID       string
	CampusID        string
	ConsequenceType string
	StudentIsSPED   bool
	StudentIs504    bool
}

// Submission is the result of submitting a placement.
type Submission struct {
	Incident  domain.Incident             `json:"incident"`
	Chain     *domain.ChainSnapshot       `json:"chain,omitempty"`
	Checklist *domain.ComplianceChecklist `json:"checklist,omitempty"`
}

// IncidentView is an incident with its gating decision.
type IncidentView struct {
	Incident     domain.Incident     `json:"incident"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

// RegisterIncident records a draft incident handed over by the host
// application.
func (s *IncidentService) RegisterIncident(ctx context.Context, in NewIncident) (_ *domain.Incident, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "IncidentService.RegisterIncident")
	defer func() { done(err) }()

	if strings.TrimSpace(in.StudentID) == "" {
		return nil, errors.InvalidInput("student_id", "student_id is required")
	}
	if strings.TrimSpace(in.ConsequenceType) == "" {
		return nil, errors.InvalidInput("consequence_type", "consequence_type is required")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.newID()
	}

	now := s.now()
	inc := domain.Incident{
		ID:                id,
		StudentID:         strings.TrimSpace(in.StudentID),
		CampusID:          strings.TrimSpace(in.CampusID),
		ConsequenceType:   strings.ToLower(strings.TrimSpace(in.ConsequenceType)),
		StudentIsSPED:     in.StudentIsSPED,
		StudentIs504:      in.StudentIs504,
		Status:            domain.IncidentDraft,
		ComplianceCleared: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateIncident(ctx, &inc)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("incident_id", inc.ID).
		Str("consequence_type", inc.ConsequenceType).
		Bool("requires_compliance", inc.RequiresCompliance()).
		Msg("Incident registered")

	return &inc, nil
}

// SubmitPlacement submits a draft incident. DAEP-track incidents get their
// approval chain, and their compliance checklist when the student is SPED
// or 504. Other incidents wait for single-button approval.
func (s *IncidentService) SubmitPlacement(ctx context.Context, incidentID string, actor domain.Actor, steps []chaintemplate.StepTemplate) (_ *Submission, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "IncidentService.SubmitPlacement", attribute.String("incident_id", incidentID))
	defer func() { done(err) }()

	if err := actor.Validate(); err != nil {
		return nil, s.denied(err, "submit", actor, incidentID)
	}

	var out Submission
	var events []domain.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		inc, chain, checklist, err := loadIncidentState(ctx, tx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != domain.IncidentDraft {
			return errors.Conflict(fmt.Sprintf("only draft incidents can be submitted (status: %s)", inc.Status))
		}
		if chain != nil {
			return errors.Conflict(fmt.Sprintf("incident %q already has an approval chain", incidentID))
		}
		if len(steps) > 0 && !s.daepTrack(*inc) {
			return errors.InvalidInput("steps", "approval steps apply only to DAEP placements")
		}

		now := s.now()
		submitted := *inc
		submitted.Status = domain.IncidentPendingApproval

		t := trail{incidentID: inc.ID, actor: actor, at: now, before: inc.Status}
		var res chainOutcome
		openedChecklist := false
		if s.daepTrack(*inc) {
			r, tmpl, err := s.createChain(ctx, tx, *inc, actor, steps, now)
			if err != nil {
				return err
			}
			res = chainOutcome{result: r, template: tmpl, ok: true}
			chain = &r.Snapshot
			if inc.RequiresCompliance() && checklist == nil {
				cl, err := s.createChecklist(ctx, tx, *inc, now)
				if err != nil {
					return err
				}
				checklist = &cl
				openedChecklist = true
			}
		}

		next := gating.ReconcileIncident(submitted, chainOf(chain), checklist)
		next.UpdatedAt = now
		if err := tx.UpdateIncident(ctx, &next); err != nil {
			return err
		}

		t.after = next.Status
		meta := map[string]any{"consequence_type": inc.ConsequenceType, "daep": res.ok}
		t.add(domain.AuditPlacementSubmitted, nil, nil, meta)
		events = append(events, domain.Event{
			Type:       domain.EventPlacementSubmitted,
			IncidentID: inc.ID,
			ActorID:    actor.ID,
			Payload:    meta,
			OccurredAt: now,
		})
		if res.ok {
			ct := s.chainTrail(*inc, next, res.result.Snapshot, actor, now)
			ct.add(domain.AuditChainCreated, nil, nil, map[string]any{
				"template": res.template, "total_steps": len(res.result.Snapshot.Steps),
			})
			events = append(events, s.advance(&ct, res.result, nil)...)
			t.entries = append(t.entries, ct.entries...)
			events[0].ChainID = res.result.Snapshot.Chain.ID
		}
		if checklist != nil {
			events[0].ChecklistID = checklist.ID
		}
		if openedChecklist {
			ct := s.checklistTrail(*inc, next, *checklist, actor, now)
			ct.add(domain.AuditChecklistCreated, nil, nil, nil)
			t.entries = append(t.entries, ct.entries...)
		}
		if err := t.flush(ctx, tx, s.newID); err != nil {
			return err
		}

		out = Submission{Incident: next, Chain: chain, Checklist: checklist}
		return nil
	})
	if err != nil {
		return nil, s.denied(err, "submit", actor, incidentID)
	}
	s.publish(ctx, events)

	s.log.Info().
		Str("incident_id", incidentID).
		Bool("has_chain", out.Chain != nil).
		Bool("has_checklist", out.Checklist != nil).
		Str("actor_id", actor.ID).
		Msg("Placement submitted")

	return &out, nil
}

type chainOutcome struct {
	result   approval.Result
	template string
	ok       bool
}

// ApproveIncident is the single-button approval for incidents without a
// chain.
func (s *IncidentService) ApproveIncident(ctx context.Context, incidentID string, actor domain.Actor, notes string) (*domain.Incident, error) {
	return s.advanceIncident(ctx, "approve_incident", incidentID, actor, notes, func(inc *domain.Incident, caps domain.Capabilities) (domain.AuditAction, error) {
		if !s.approvers[strings.ToLower(strings.TrimSpace(actor.Role))] {
			return "", errors.Forbidden(fmt.Sprintf("role %q may not approve incidents", actor.Role))
		}
		if !caps.CanApprove {
			return "", errors.Conflict(fmt.Sprintf("incident cannot be approved directly (status: %s)", inc.Status))
		}
		now := s.now()
		by := actor.ID
		inc.Status = domain.IncidentApproved
		inc.ApprovedBy = &by
		inc.ApprovedAt = &now
		return domain.AuditIncidentApproved, nil
	})
}

// ActivatePlacement starts an approved placement once both gates are clear.
func (s *IncidentService) ActivatePlacement(ctx context.Context, incidentID string, actor domain.Actor) (*domain.Incident, error) {
	return s.advanceIncident(ctx, "activate_placement", incidentID, actor, "", func(inc *domain.Incident, caps domain.Capabilities) (domain.AuditAction, error) {
		if !caps.CanActivate {
			return "", blockedError(caps)
		}
		now := s.now()
		inc.Status = domain.IncidentActive
		inc.ActivatedAt = &now
		return domain.AuditPlacementActivated, nil
	})
}

// CompletePlacement closes an active placement.
func (s *IncidentService) CompletePlacement(ctx context.Context, incidentID string, actor domain.Actor) (*domain.Incident, error) {
	return s.advanceIncident(ctx, "complete_placement", incidentID, actor, "", func(inc *domain.Incident, caps domain.Capabilities) (domain.AuditAction, error) {
		if !caps.CanComplete {
			return "", errors.Conflict(fmt.Sprintf("only active placements can be completed (status: %s)", inc.Status))
		}
		now := s.now()
		inc.Status = domain.IncidentCompleted
		inc.CompletedAt = &now
		return domain.AuditPlacementCompleted, nil
	})
}

func blockedError(caps domain.Capabilities) error {
	if len(caps.BlockedReasons) > 0 && caps.BlockedReasons[0] == domain.BlockManifestation {
		return errors.ManifestationBlock("placement is barred: the behavior was determined to be a manifestation of the student's disability")
	}
	reason := "blocked"
	if len(caps.BlockedReasons) > 0 {
		reason = string(caps.BlockedReasons[0])
	}
	return errors.Conflict(fmt.Sprintf("placement cannot be activated: %s", reason))
}

type incidentTransition func(inc *domain.Incident, caps domain.Capabilities) (domain.AuditAction, error)

func (s *IncidentService) advanceIncident(ctx context.Context, op, incidentID string, actor domain.Actor, notes string, fn incidentTransition) (_ *domain.Incident, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "IncidentService."+op, attribute.String("incident_id", incidentID))
	defer func() { done(err) }()

	if err := actor.Validate(); err != nil {
		return nil, s.denied(err, op, actor, incidentID)
	}

	var out domain.Incident
	var events []domain.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		inc, chain, checklist, err := loadIncidentState(ctx, tx, incidentID)
		if err != nil {
			return err
		}
		caps := gating.ComputeIncidentCapabilities(*inc, chainOf(chain), checklist)

		next := *inc
		action, err := fn(&next, caps)
		if err != nil {
			return err
		}
		next.ComplianceCleared = gating.ComplianceCleared(checklist)
		next.UpdatedAt = s.now()
		if err := tx.UpdateIncident(ctx, &next); err != nil {
			return err
		}

		t := trail{incidentID: inc.ID, actor: actor, at: next.UpdatedAt, before: inc.Status, after: next.Status}
		if chain != nil {
			id := chain.Chain.ID
			t.chainID = &id
		}
		if checklist != nil {
			id := checklist.ID
			t.checklistID = &id
		}
		var meta map[string]any
		if n := strings.TrimSpace(notes); n != "" {
			meta = map[string]any{"notes": n}
		}
		t.add(action, nil, nil, meta)
		if err := t.flush(ctx, tx, s.newID); err != nil {
			return err
		}
		if action == domain.AuditPlacementActivated {
			events = append(events, domain.Event{
				Type:        domain.EventPlacementActivated,
				IncidentID:  inc.ID,
				ChainID:     derefID(t.chainID),
				ChecklistID: derefID(t.checklistID),
				ActorID:     actor.ID,
				OccurredAt:  next.UpdatedAt,
			})
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, s.denied(err, op, actor, incidentID)
	}
	s.publish(ctx, events)

	s.log.Info().
		Str("incident_id", incidentID).
		Str("action", op).
		Str("status", string(out.Status)).
		Str("actor_id", actor.ID).
		Msg("Incident status changed")

	return &out, nil
}

func derefID(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetIncident returns an incident with its current gating decision.
func (s *IncidentService) GetIncident(ctx context.Context, incidentID string) (*IncidentView, error) {
	var out IncidentView
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
		inc, chain, checklist, err := readIncidentState(ctx, tx, incidentID)
		if err != nil {
			return err
		}
		out = IncidentView{
			Incident:     *inc,
			Capabilities: gating.ComputeIncidentCapabilities(*inc, chainOf(chain), checklist),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCapabilities evaluates the gating facade for an incident.
func (s *IncidentService) GetCapabilities(ctx context.Context, incidentID string) (*domain.Capabilities, error) {
	view, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return &view.Capabilities, nil
}

// GetHistory returns the incident's audit log in append order.
func (s *IncidentService) GetHistory(ctx context.Context, incidentID string) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetIncident(ctx, incidentID, false); err != nil {
			return err
		}
		var err error
		out, err = tx.ListAudit(ctx, incidentID)
		return err
	})
	return out, err
}

func readIncidentState(ctx context.Context, tx repository.Tx, incidentID string) (*domain.Incident, *domain.ChainSnapshot, *domain.ComplianceChecklist, error) {
	inc, err := tx.GetIncident(ctx, incidentID, false)
	if err != nil {
		return nil, nil, nil, err
	}
	chain, err := tx.GetChainByIncident(ctx, incidentID, false)
	if err != nil {
		return nil, nil, nil, err
	}
	checklist, err := tx.GetChecklistByIncident(ctx, incidentID, false)
	if err != nil {
		return nil, nil, nil, err
	}
	return inc, chain, checklist, nil
}
