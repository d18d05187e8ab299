package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-discipline-placements/internal/approval"
	"github.com/pesio-ai/be-discipline-placements/internal/chaintemplate"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/repository"
)

// ApprovalChainService orchestrates the DAEP approval chain.
type ApprovalChainService struct {
	base
}

// NewApprovalChainService creates a new ApprovalChainService.
func NewApprovalChainService(d Deps) *ApprovalChainService {
	return &ApprovalChainService{base: newBase(d, "approval_chain_service")}
}

// ── Chain creation ────────────────────────────────────────────────────────────

// CreateChain builds the approval chain for an incident from an explicit
// role sequence, or from the configured templates when steps is empty.
func (s *ApprovalChainService) CreateChain(ctx context.Context, incidentID string, actor domain.Actor, steps []chaintemplate.StepTemplate) (_ *domain.ChainSnapshot, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "ApprovalChainService.CreateChain", attribute.String("incident_id", incidentID))
	defer func() { done(err) }()

	if err := actor.Validate(); err != nil {
		return nil, s.denied(err, "create_chain", actor, incidentID)
	}

	var out domain.ChainSnapshot
	var events []domain.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		inc, chain, checklist, err := loadIncidentState(ctx, tx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != domain.IncidentDraft && inc.Status != domain.IncidentPendingApproval {
			return errors.Conflict(fmt.Sprintf("incident is %s; an approval chain can only be created before approval", inc.Status))
		}
		if chain != nil {
			return errors.Conflict(fmt.Sprintf("incident %q already has an approval chain", incidentID))
		}

		now := s.now()
		res, tmpl, err := s.createChain(ctx, tx, *inc, actor, steps, now)
		if err != nil {
			return err
		}
		next, err := s.reconcile(ctx, tx, *inc, &res.Snapshot.Chain, checklist, now)
		if err != nil {
			return err
		}

		t := s.chainTrail(*inc, next, res.Snapshot, actor, now)
		t.add(domain.AuditChainCreated, nil, nil, map[string]any{"template": tmpl, "total_steps": len(res.Snapshot.Steps)})
		events = s.advance(&t, res, nil)
		if err := t.flush(ctx, tx, s.newID); err != nil {
			return err
		}
		out = res.Snapshot
		return nil
	})
	if err != nil {
		return nil, s.denied(err, "create_chain", actor, incidentID)
	}
	s.publish(ctx, events)

	s.log.Info().
		Str("incident_id", incidentID).
		Str("chain_id", out.Chain.ID).
		Str("template", out.Chain.TemplateName).
		Int("total_steps", len(out.Steps)).
		Str("actor_id", actor.ID).
		Msg("Approval chain created")

	return &out, nil
}

// createChain resolves the role sequence, builds the chain and inserts it.
// The caller holds the incident lock and has checked that no chain exists.
func (b *base) createChain(ctx context.Context, tx repository.Tx, inc domain.Incident, actor domain.Actor, steps []chaintemplate.StepTemplate, now time.Time) (approval.Result, string, error) {
	name, defs, err := b.templates.Resolve(chaintemplate.Facts{
		IncidentID:      inc.ID,
		StudentID:       inc.StudentID,
		CampusID:        inc.CampusID,
		ConsequenceType: inc.ConsequenceType,
		SPED:            inc.StudentIsSPED,
		Section504:      inc.StudentIs504,
	}, steps)
	if err != nil {
		return approval.Result{}, "", err
	}

	res, err := approval.NewChain(approval.NewChainParams{
		ChainID:      b.newID(),
		IncidentID:   inc.ID,
		SubmittedBy:  actor,
		TemplateName: name,
		Steps:        defs,
		NewID:        b.newID,
		Now:          now,
	})
	if err != nil {
		return approval.Result{}, "", err
	}
	if err := tx.CreateChain(ctx, &res.Snapshot); err != nil {
		return approval.Result{}, "", err
	}
	return res, name, nil
}

// ── Step actions ──────────────────────────────────────────────────────────────

type stepTransition func(s domain.ChainSnapshot, stepID string, actor domain.Actor, text string, now time.Time) (approval.Result, error)

// Approve signs off a waiting step and advances the chain.
func (s *ApprovalChainService) Approve(ctx context.Context, stepID string, actor domain.Actor, comments string) (*domain.ChainSnapshot, error) {
	return s.act(ctx, "approve", stepID, actor, comments, approval.Approve)
}

// Deny ends the chain at a waiting step. reason is required.
func (s *ApprovalChainService) Deny(ctx context.Context, stepID string, actor domain.Actor, reason string) (*domain.ChainSnapshot, error) {
	return s.act(ctx, "deny", stepID, actor, reason, approval.Deny)
}

// Return sends the chain back to its submitter and discards every prior
// approval. reason is required.
func (s *ApprovalChainService) Return(ctx context.Context, stepID string, actor domain.Actor, reason string) (*domain.ChainSnapshot, error) {
	return s.act(ctx, "return", stepID, actor, reason, approval.Return)
}

func (s *ApprovalChainService) act(ctx context.Context, op, stepID string, actor domain.Actor, text string, fn stepTransition) (_ *domain.ChainSnapshot, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "ApprovalChainService."+op,
		attribute.String("step_id", stepID),
		attribute.String("actor_role", actor.Role),
	)
	defer func() { done(err) }()

	if err := actor.Validate(); err != nil {
		return nil, s.denied(err, op, actor, stepID)
	}

	var out domain.ChainSnapshot
	var acted domain.ApprovalStep
	var events []domain.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		chainID, incidentID, err := tx.FindChainByStep(ctx, stepID)
		if err != nil {
			return err
		}
		inc, err := tx.GetIncident(ctx, incidentID, true)
		if err != nil {
			return err
		}
		cur, err := tx.GetChain(ctx, chainID, true)
		if err != nil {
			return err
		}
		checklist, err := tx.GetChecklistByIncident(ctx, incidentID, true)
		if err != nil {
			return err
		}

		now := s.now()
		res, err := fn(*cur, stepID, actor, text, now)
		if err != nil {
			return err
		}
		after := res.Snapshot
		if err := tx.SaveChain(ctx, *cur, &after); err != nil {
			return err
		}
		res.Snapshot = after
		next, err := s.reconcile(ctx, tx, *inc, &after.Chain, checklist, now)
		if err != nil {
			return err
		}

		acted = *res.Acted
		meta := map[string]any{"step_order": acted.StepOrder, "step_role": acted.StepRole}
		t := s.chainTrail(*inc, next, after, actor, now)
		switch acted.Status {
		case domain.StepApproved:
			if acted.Comments != nil {
				meta["comments"] = *acted.Comments
			}
			t.add(domain.AuditStepApproved, &acted.ID, nil, meta)
		case domain.StepDenied:
			t.add(domain.AuditStepDenied, &acted.ID, strPtr(text), meta)
			events = append(events, s.chainEvent(domain.EventChainDenied, after, actor, now, map[string]any{
				"step_id": acted.ID, "reason": *after.Chain.DeniedReason,
			}))
		case domain.StepReturned:
			t.add(domain.AuditStepReturned, &acted.ID, strPtr(text), meta)
			events = append(events, s.chainEvent(domain.EventChainReturned, after, actor, now, map[string]any{
				"step_id": acted.ID, "reason": *after.Chain.ReturnReason, "submitted_by": after.Chain.SubmittedBy,
			}))
		}
		events = append(events, s.advance(&t, res, cur)...)
		if err := t.flush(ctx, tx, s.newID); err != nil {
			return err
		}
		out = after
		return nil
	})
	if err != nil {
		return nil, s.denied(err, op, actor, stepID)
	}
	s.publish(ctx, events)

	s.log.Info().
		Str("incident_id", out.Chain.IncidentID).
		Str("chain_id", out.Chain.ID).
		Str("step_id", stepID).
		Int("step_order", acted.StepOrder).
		Str("action", op).
		Str("actor_id", actor.ID).
		Str("chain_status", string(out.Chain.Status)).
		Msg("Approval step acted on")

	return &out, nil
}

// Resubmit re-arms a returned chain. Only the original submitter may
// resubmit.
func (s *ApprovalChainService) Resubmit(ctx context.Context, chainID string, actor domain.Actor) (_ *domain.ChainSnapshot, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "ApprovalChainService.Resubmit", attribute.String("chain_id", chainID))
	defer func() { done(err) }()

	if err := actor.Validate(); err != nil {
		return nil, s.denied(err, "resubmit", actor, chainID)
	}

	var out domain.ChainSnapshot
	var events []domain.Event
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		peek, err := tx.GetChain(ctx, chainID, false)
		if err != nil {
			return err
		}
		inc, cur, checklist, err := loadIncidentState(ctx, tx, peek.Chain.IncidentID)
		if err != nil {
			return err
		}
		if cur == nil || cur.Chain.ID != chainID {
			return errors.NotFound("approval_chain", chainID)
		}

		now := s.now()
		res, err := approval.Resubmit(*cur, actor, now)
		if err != nil {
			return err
		}
		after := res.Snapshot
		if err := tx.SaveChain(ctx, *cur, &after); err != nil {
			return err
		}
		res.Snapshot = after
		next, err := s.reconcile(ctx, tx, *inc, &after.Chain, checklist, now)
		if err != nil {
			return err
		}

		t := s.chainTrail(*inc, next, after, actor, now)
		t.add(domain.AuditChainResubmitted, nil, nil, nil)
		events = append(events, s.chainEvent(domain.EventChainResubmitted, after, actor, now, nil))
		events = append(events, s.advance(&t, res, cur)...)
		if err := t.flush(ctx, tx, s.newID); err != nil {
			return err
		}
		out = after
		return nil
	})
	if err != nil {
		return nil, s.denied(err, "resubmit", actor, chainID)
	}
	s.publish(ctx, events)

	s.log.Info().
		Str("incident_id", out.Chain.IncidentID).
		Str("chain_id", chainID).
		Str("actor_id", actor.ID).
		Msg("Approval chain resubmitted")

	return &out, nil
}

// chainTrail starts the audit trail of a chain transition.
func (b *base) chainTrail(before, after domain.Incident, snap domain.ChainSnapshot, actor domain.Actor, now time.Time) trail {
	chainID := snap.Chain.ID
	return trail{
		incidentID: before.ID,
		chainID:    &chainID,
		actor:      actor,
		at:         now,
		before:     before.Status,
		after:      after.Status,
	}
}

// advance records what the transition did beyond the acted step: skipped
// steps, the newly armed step and chain approval.
func (b *base) advance(t *trail, res approval.Result, before *domain.ChainSnapshot) []domain.Event {
	var events []domain.Event
	snap := res.Snapshot
	for i := range res.Skipped {
		st := res.Skipped[i]
		t.add(domain.AuditStepSkipped, &st.ID, nil, map[string]any{
			"step_order": st.StepOrder, "step_role": st.StepRole, "applies_when": st.AppliesWhen,
		})
	}
	if res.Armed != nil {
		evt := b.chainEvent(domain.EventApprovalRequired, snap, t.actor, t.at, map[string]any{
			"step_id":    res.Armed.ID,
			"step_order": res.Armed.StepOrder,
			"step_label": res.Armed.StepLabel,
		})
		evt.RecipientRoles = []string{res.Armed.StepRole}
		events = append(events, evt)
	}
	wasApproved := before != nil && before.Chain.Status == domain.ChainApproved
	if snap.Chain.Status == domain.ChainApproved && !wasApproved {
		t.add(domain.AuditChainApproved, nil, nil, nil)
		events = append(events, b.chainEvent(domain.EventChainApproved, snap, t.actor, t.at, nil))
	}
	return events
}

func (b *base) chainEvent(typ domain.EventType, snap domain.ChainSnapshot, actor domain.Actor, now time.Time, payload map[string]any) domain.Event {
	return domain.Event{
		Type:       typ,
		IncidentID: snap.Chain.IncidentID,
		ChainID:    snap.Chain.ID,
		ActorID:    actor.ID,
		Payload:    payload,
		OccurredAt: now,
	}
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetChain returns a chain with its steps.
func (s *ApprovalChainService) GetChain(ctx context.Context, chainID string) (*domain.ChainSnapshot, error) {
	var out *domain.ChainSnapshot
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.GetChain(ctx, chainID, false)
		return err
	})
	return out, err
}

// GetChainByIncident returns the incident's chain.
func (s *ApprovalChainService) GetChainByIncident(ctx context.Context, incidentID string) (*domain.ChainSnapshot, error) {
	var out *domain.ChainSnapshot
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.GetChainByIncident(ctx, incidentID, false)
		if err == nil && out == nil {
			err = errors.NotFound("approval_chain for incident", incidentID)
		}
		return err
	})
	return out, err
}

// ListPendingSteps returns the waiting steps assigned to role, oldest chain
// first.
func (s *ApprovalChainService) ListPendingSteps(ctx context.Context, role string) ([]domain.PendingStep, error) {
	if role == "" {
		return nil, errors.InvalidInput("role", "role is required")
	}
	var out []domain.PendingStep
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.ListWaitingSteps(ctx, role)
		return err
	})
	return out, err
}
