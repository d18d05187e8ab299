// Package service runs every placement operation as one store transaction:
// load and lock the rows, apply the pure transition, reconcile the incident,
// append the audit trail, and publish notifications once committed.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-discipline-placements/internal/chaintemplate"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/gating"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/logger"
	"github.com/pesio-ai/be-discipline-placements/internal/repository"
)

// EventPublisher delivers notifications about committed transitions.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// OperationTracker opens a span for one service operation. The returned
// func ends it with the operation's error.
type OperationTracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// TemplateResolver turns an explicit or configured role sequence into
// frozen step definitions.
type TemplateResolver interface {
	Resolve(f chaintemplate.Facts, explicit []chaintemplate.StepTemplate) (string, []domain.StepDefinition, error)
}

// Deps are the collaborators shared by the placement services.
type Deps struct {
	Store     repository.Store
	Templates TemplateResolver
	Events    EventPublisher
	Tracker   OperationTracker
	Log       *logger.Logger

	// DAEPConsequences lists the consequence types that go through the
	// approval chain and compliance gate.
	DAEPConsequences []string
	// ApproverRoles may use the single-button incident approval.
	ApproverRoles []string

	Now   func() time.Time
	NewID func() string
}

type base struct {
	store     repository.Store
	templates TemplateResolver
	events    EventPublisher
	tracker   OperationTracker
	log       *logger.Logger
	daep      map[string]bool
	approvers map[string]bool
	now       func() time.Time
	newID     func() string
}

func newBase(d Deps, component string) base {
	b := base{
		store:     d.Store,
		templates: d.Templates,
		events:    d.Events,
		tracker:   d.Tracker,
		log:       d.Log,
		daep:      set(d.DAEPConsequences),
		approvers: set(d.ApproverRoles),
		now:       d.Now,
		newID:     d.NewID,
	}
	if b.log == nil {
		b.log = logger.Nop()
	}
	b.log = b.log.Component(component)
	if b.events == nil {
		b.events = nopPublisher{}
	}
	if b.tracker == nil {
		b.tracker = nopTracker{}
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	return b
}

func set(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out[v] = true
		}
	}
	return out
}

func (b *base) daepTrack(inc domain.Incident) bool {
	return b.daep[strings.ToLower(strings.TrimSpace(inc.ConsequenceType))]
}

// publish sends events after commit. Failures are logged only.
func (b *base) publish(ctx context.Context, events []domain.Event) {
	for _, evt := range events {
		if err := b.events.Publish(ctx, evt); err != nil {
			b.log.Warn().
				Err(err).
				Str("event_type", string(evt.Type)).
				Str("incident_id", evt.IncidentID).
				Msg("Failed to publish placement event")
		}
	}
}

// denied logs rejected actors for the audit trail. It returns err unchanged.
func (b *base) denied(err error, op string, actor domain.Actor, target string) error {
	if errors.Is(err, errors.ErrCodeForbidden) {
		b.log.Warn().
			Str("operation", op).
			Str("actor_id", actor.ID).
			Str("actor_role", actor.Role).
			Str("target_id", target).
			Str("reason", err.Error()).
			Msg("Placement action forbidden")
	}
	return err
}

// reconcile writes the incident back when the chain or checklist moved its
// engine-owned fields.
func (b *base) reconcile(ctx context.Context, tx repository.Tx, inc domain.Incident, chain *domain.ApprovalChain, checklist *domain.ComplianceChecklist, now time.Time) (domain.Incident, error) {
	next := gating.ReconcileIncident(inc, chain, checklist)
	if !gating.Changed(inc, next) {
		return next, nil
	}
	next.UpdatedAt = now
	if err := tx.UpdateIncident(ctx, &next); err != nil {
		return inc, err
	}
	return next, nil
}

// loadIncidentState locks the incident and reads its chain and checklist
// in lock order.
func loadIncidentState(ctx context.Context, tx repository.Tx, incidentID string) (*domain.Incident, *domain.ChainSnapshot, *domain.ComplianceChecklist, error) {
	inc, err := tx.GetIncident(ctx, incidentID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	chain, err := tx.GetChainByIncident(ctx, incidentID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	checklist, err := tx.GetChecklistByIncident(ctx, incidentID, true)
	if err != nil {
		return nil, nil, nil, err
	}
	return inc, chain, checklist, nil
}

func chainOf(s *domain.ChainSnapshot) *domain.ApprovalChain {
	if s == nil {
		return nil
	}
	return &s.Chain
}

// trail builds the audit entries of one transaction.
type trail struct {
	incidentID  string
	chainID     *string
	checklistID *string
	actor       domain.Actor
	at          time.Time
	before      domain.IncidentStatus
	after       domain.IncidentStatus
	entries     []domain.AuditEntry
}

func (t *trail) add(action domain.AuditAction, stepID *string, reason *string, meta map[string]any) {
	before, after := t.before, t.after
	t.entries = append(t.entries, domain.AuditEntry{
		IncidentID:           t.incidentID,
		ChainID:              t.chainID,
		StepID:               stepID,
		ChecklistID:          t.checklistID,
		Action:               action,
		PerformedBy:          t.actor.ID,
		PerformedRole:        t.actor.Role,
		PerformedAt:          t.at,
		Reason:               reason,
		IncidentStatusBefore: &before,
		IncidentStatusAfter:  &after,
		Metadata:             meta,
	})
}

func (t *trail) flush(ctx context.Context, tx repository.Tx, newID func() string) error {
	for i := range t.entries {
		e := t.entries[i]
		e.ID = newID()
		if err := tx.AppendAudit(ctx, &e); err != nil {
			return err
		}
	}
	return nil
}

func strPtr(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

type nopTracker struct{}

func (nopTracker) TrackOperation(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}
