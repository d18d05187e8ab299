package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-discipline-placements/internal/compliance"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/repository"
)

// ComplianceService orchestrates the SPED/504 compliance checklist.
type ComplianceService struct {
	base
}

// NewComplianceService creates a new ComplianceService.
func NewComplianceService(d Deps) *ComplianceService {
	return &ComplianceService{base: newBase(d, "compliance_service")}
}

// CreateChecklist opens the compliance checklist for a SPED or 504 student
// on a DAEP-track incident.
func (s *ComplianceService) CreateChecklist(ctx context.Context, incidentID string, actor domain.Actor) (_ *domain.ComplianceChecklist, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "ComplianceService.CreateChecklist", attribute.String("incident_id", incidentID))
	defer func() { done(err) }()

	if err := actor.Validate(); err != nil {
		return nil, s.denied(err, "create_checklist", actor, incidentID)
	}

	var out domain.ComplianceChecklist
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		inc, chain, existing, err := loadIncidentState(ctx, tx, incidentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.Conflict(fmt.Sprintf("incident %q already has a compliance checklist", incidentID))
		}
		if inc.Status == domain.IncidentActive || inc.Status == domain.IncidentCompleted {
			return errors.Conflict(fmt.Sprintf("incident is already %s", inc.Status))
		}

		now := s.now()
		cl, err := s.createChecklist(ctx, tx, *inc, now)
		if err != nil {
			return err
		}
		next, err := s.reconcile(ctx, tx, *inc, chainOf(chain), &cl, now)
		if err != nil {
			return err
		}
		t := s.checklistTrail(*inc, next, cl, actor, now)
		t.add(domain.AuditChecklistCreated, nil, nil, nil)
		if err := t.flush(ctx, tx, s.newID); err != nil {
			return err
		}
		out = cl
		return nil
	})
	if err != nil {
		return nil, s.denied(err, "create_checklist", actor, incidentID)
	}

	s.log.Info().
		Str("incident_id", incidentID).
		Str("checklist_id", out.ID).
		Str("actor_id", actor.ID).
		Msg("Compliance checklist created")

	return &out, nil
}

// createChecklist inserts a fresh checklist. The caller holds the incident
// lock and has checked that none exists.
func (b *base) createChecklist(ctx context.Context, tx repository.Tx, inc domain.Incident, now time.Time) (domain.ComplianceChecklist, error) {
	if !inc.RequiresCompliance() {
		return domain.ComplianceChecklist{}, errors.InvalidInput("incident_id", "compliance checklists apply only to SPED or Section 504 students")
	}
	if !b.daepTrack(inc) {
		return domain.ComplianceChecklist{}, errors.InvalidInput("incident_id",
			fmt.Sprintf("consequence type %q is not a DAEP placement", inc.ConsequenceType))
	}
	cl := compliance.NewChecklist(b.newID(), inc, now)
	if err := tx.CreateChecklist(ctx, &cl); err != nil {
		return domain.ComplianceChecklist{}, err
	}
	return cl, nil
}

type checklistTransition func(cl domain.ComplianceChecklist, now time.Time) (domain.ComplianceChecklist, error)

// mutate runs one checklist transition with its incident reconciliation
// and audit entry. The transition result drives the audit reason, metadata
// and events through describe.
func (s *ComplianceService) mutate(
	ctx context.Context,
	op string,
	checklistID string,
	actor domain.Actor,
	fn checklistTransition,
	describe func(before, after domain.ComplianceChecklist, t *trail) []domain.Event,
) (_ *domain.ComplianceChecklist, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "ComplianceService."+op,
		attribute.String("checklist_id", checklistID),
		attribute.String("actor_role", actor.Role),
	)
	defer func() { done(err) }()

	if err := actor.Validate(); err != nil {
		return nil, s.denied(err, op, actor, checklistID)
	}

	var out domain.ComplianceChecklist
	var events []domain.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		peek, err := tx.GetChecklist(ctx, checklistID, false)
		if err != nil {
			return err
		}
		inc, chain, cur, err := loadIncidentState(ctx, tx, peek.IncidentID)
		if err != nil {
			return err
		}
		if cur == nil || cur.ID != checklistID {
			return errors.NotFound("compliance_checklist", checklistID)
		}

		now := s.now()
		after, err := fn(*cur, now)
		if err != nil {
			return err
		}
		after.UpdatedAt = now
		if err := tx.SaveChecklist(ctx, &after); err != nil {
			return err
		}
		next, err := s.reconcile(ctx, tx, *inc, chainOf(chain), &after, now)
		if err != nil {
			return err
		}

		t := s.checklistTrail(*inc, next, after, actor, now)
		events = describe(*cur, after, &t)
		if err := t.flush(ctx, tx, s.newID); err != nil {
			return err
		}
		out = after
		return nil
	})
	if err != nil {
		return nil, s.denied(err, op, actor, checklistID)
	}
	s.publish(ctx, events)

	s.log.Info().
		Str("incident_id", out.IncidentID).
		Str("checklist_id", out.ID).
		Str("action", op).
		Str("actor_id", actor.ID).
		Str("status", string(out.Status)).
		Bool("placement_blocked", out.PlacementBlocked).
		Msg("Compliance checklist updated")

	return &out, nil
}

// ToggleItem flips one checklist item between done (now) and not done.
func (s *ComplianceService) ToggleItem(ctx context.Context, checklistID string, item domain.ChecklistItem, actor domain.Actor) (*domain.ComplianceChecklist, error) {
	return s.mutate(ctx, "toggle_item", checklistID, actor,
		func(cl domain.ComplianceChecklist, now time.Time) (domain.ComplianceChecklist, error) {
			return compliance.ToggleItem(cl, item, actor, now)
		},
		func(before, after domain.ComplianceChecklist, t *trail) []domain.Event {
			t.add(domain.AuditItemToggled, nil, nil, map[string]any{
				"field":       string(item),
				"done":        after.Item(item) != nil,
				"status_from": string(before.Status),
				"status_to":   string(after.Status),
			})
			return nil
		})
}

// SetManifestationResult records the manifestation determination outcome.
func (s *ComplianceService) SetManifestationResult(ctx context.Context, checklistID string, result domain.ManifestationResult, actor domain.Actor) (*domain.ComplianceChecklist, error) {
	return s.mutate(ctx, "set_manifestation_result", checklistID, actor,
		func(cl domain.ComplianceChecklist, now time.Time) (domain.ComplianceChecklist, error) {
			return compliance.SetManifestationResult(cl, result, actor, now)
		},
		func(before, after domain.ComplianceChecklist, t *trail) []domain.Event {
			meta := map[string]any{"result": string(result)}
			if before.ManifestationResult != nil {
				meta["previous_result"] = string(*before.ManifestationResult)
			}
			t.add(domain.AuditManifestationRecorded, nil, nil, meta)
			return []domain.Event{s.checklistEvent(domain.EventManifestationRecorded, after, t, map[string]any{
				"result":            string(result),
				"placement_blocked": compliance.ManifestationBlocked(after),
			})}
		})
}

// OverrideBlock lifts the incompleteness block with a recorded reason. The
// manifestation block can never be overridden.
func (s *ComplianceService) OverrideBlock(ctx context.Context, checklistID string, actor domain.Actor, reason string) (*domain.ComplianceChecklist, error) {
	return s.mutate(ctx, "override_block", checklistID, actor,
		func(cl domain.ComplianceChecklist, now time.Time) (domain.ComplianceChecklist, error) {
			return compliance.OverrideBlock(cl, actor, reason, now)
		},
		func(before, after domain.ComplianceChecklist, t *trail) []domain.Event {
			unmet := itemNames(compliance.UnmetRequirements(after))
			t.add(domain.AuditBlockOverridden, nil, after.OverrideReason, map[string]any{
				"status":             string(after.Status),
				"unmet_requirements": unmet,
			})
			return []domain.Event{s.checklistEvent(domain.EventComplianceOverride, after, t, map[string]any{
				"reason":             *after.OverrideReason,
				"unmet_requirements": unmet,
			})}
		})
}

// RecordConsiderations records the least-restrictive-environment review and
// the placement justification.
func (s *ComplianceService) RecordConsiderations(ctx context.Context, checklistID string, cons compliance.Considerations, actor domain.Actor) (*domain.ComplianceChecklist, error) {
	return s.mutate(ctx, "record_considerations", checklistID, actor,
		func(cl domain.ComplianceChecklist, now time.Time) (domain.ComplianceChecklist, error) {
			return compliance.RecordConsiderations(cl, cons, actor, now)
		},
		func(_, after domain.ComplianceChecklist, t *trail) []domain.Event {
			t.add(domain.AuditConsiderationsRecorded, nil, nil, map[string]any{
				"least_restrictive_considered": after.LeastRestrictiveConsidered != nil,
				"has_justification":            after.PlacementJustification != nil,
			})
			return nil
		})
}

func (b *base) checklistTrail(before, after domain.Incident, cl domain.ComplianceChecklist, actor domain.Actor, now time.Time) trail {
	id := cl.ID
	return trail{
		incidentID:  before.ID,
		checklistID: &id,
		actor:       actor,
		at:          now,
		before:      before.Status,
		after:       after.Status,
	}
}

func (b *base) checklistEvent(typ domain.EventType, cl domain.ComplianceChecklist, t *trail, payload map[string]any) domain.Event {
	return domain.Event{
		Type:        typ,
		IncidentID:  cl.IncidentID,
		ChecklistID: cl.ID,
		ActorID:     t.actor.ID,
		Payload:     payload,
		OccurredAt:  t.at,
	}
}

func itemNames(items []domain.ChecklistItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = string(item)
	}
	return out
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetChecklist returns a checklist by id.
func (s *ComplianceService) GetChecklist(ctx context.Context, checklistID string) (*domain.ComplianceChecklist, error) {
	var out *domain.ComplianceChecklist
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.GetChecklist(ctx, checklistID, false)
		return err
	})
	return out, err
}

// GetChecklistByIncident returns the incident's checklist.
func (s *ComplianceService) GetChecklistByIncident(ctx context.Context, incidentID string) (*domain.ComplianceChecklist, error) {
	var out *domain.ComplianceChecklist
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.GetChecklistByIncident(ctx, incidentID, false)
		if err == nil && out == nil {
			err = errors.NotFound("compliance_checklist for incident", incidentID)
		}
		return err
	})
	return out, err
}
