// Package approval implements the DAEP approval chain state machine.
//
// Every transition is a pure function from one ChainSnapshot to the next.
// Inputs are never mutated; persistence is left to the caller, which must
// write the returned snapshot in the same transaction it was read in.
package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// NewChainParams describes a chain to build.
type NewChainParams struct {
	ChainID      string
	IncidentID   string
	SubmittedBy  domain.Actor
	TemplateName string
	Steps        []domain.StepDefinition
	NewID        func() string
	Now          time.Time
}

// Result is the outcome of one transition.
type Result struct {
	Snapshot domain.ChainSnapshot
	// Acted is the acted-on step as recorded at the moment of the action.
	// For return it still carries the returned status, even though the
	// snapshot has already reset every step to pending.
	Acted *domain.ApprovalStep
	// Skipped lists steps marked skipped by this transition.
	Skipped []domain.ApprovalStep
	// Armed is the step that became waiting, if any.
	Armed *domain.ApprovalStep
}

// NewChain builds a chain from an ordered role sequence and arms its first
// applicable step.
func NewChain(p NewChainParams) (Result, error) {
	if err := p.SubmittedBy.Validate(); err != nil {
		return Result{}, err
	}
	if len(p.Steps) == 0 {
		return Result{}, errors.InvalidInput("steps", "an approval chain needs at least one step")
	}

	applicable := 0
	for i, def := range p.Steps {
		if strings.TrimSpace(def.Role) == "" {
			return Result{}, errors.InvalidInput("steps", fmt.Sprintf("step %d has no role", i+1))
		}
		if def.Applicable {
			applicable++
		}
	}
	if applicable == 0 {
		return Result{}, errors.InvalidInput("steps", "no step in the role sequence applies to this case")
	}

	snap := domain.ChainSnapshot{
		Chain: domain.ApprovalChain{
			ID:           p.ChainID,
			IncidentID:   p.IncidentID,
			Status:       domain.ChainInProgress,
			SubmittedBy:  p.SubmittedBy.ID,
			TemplateName: p.TemplateName,
			Version:      1,
			CreatedAt:    p.Now,
			UpdatedAt:    p.Now,
		},
		Steps: make([]domain.ApprovalStep, 0, len(p.Steps)),
	}
	for i, def := range p.Steps {
		label := def.Label
		if label == "" {
			label = def.Role
		}
		snap.Steps = append(snap.Steps, domain.ApprovalStep{
			ID:          p.NewID(),
			ChainID:     p.ChainID,
			StepOrder:   i + 1,
			StepRole:    strings.ToLower(strings.TrimSpace(def.Role)),
			StepLabel:   label,
			AppliesWhen: def.AppliesWhen,
			Applicable:  def.Applicable,
			Status:      domain.StepPending,
		})
	}

	res := Result{Snapshot: snap}
	arm(&res, 0, p.Now)
	return res, nil
}

// arm walks steps from index from in ascending step order, marking
// non-applicable steps skipped, and makes the first applicable one waiting.
// With nothing left to arm the chain is approved.
func arm(res *Result, from int, now time.Time) {
	snap := &res.Snapshot
	for i := from; i < len(snap.Steps); i++ {
		st := &snap.Steps[i]
		if st.Status != domain.StepPending {
			continue
		}
		if !st.Applicable {
			st.Status = domain.StepSkipped
			at := now
			st.ActedAt = &at
			res.Skipped = append(res.Skipped, *st)
			continue
		}
		st.Status = domain.StepWaiting
		order := st.StepOrder
		snap.Chain.CurrentStepOrder = &order
		armed := *st
		res.Armed = &armed
		return
	}
	snap.Chain.Status = domain.ChainApproved
	snap.Chain.CurrentStepOrder = nil
}

// Approve signs off the waiting step and advances the chain.
func Approve(s domain.ChainSnapshot, stepID string, actor domain.Actor, comments string, now time.Time) (Result, error) {
	snap := s.Clone()
	idx, err := actionable(snap, stepID, actor)
	if err != nil {
		return Result{}, err
	}

	st := &snap.Steps[idx]
	st.Status = domain.StepApproved
	stamp(st, actor, comments, now)
	acted := *st

	res := Result{Snapshot: snap, Acted: &acted}
	res.Snapshot.Chain.CurrentStepOrder = nil
	arm(&res, idx+1, now)
	touch(&res.Snapshot.Chain, now)
	return res, nil
}

// Deny rejects the placement at the waiting step. Denial is terminal.
func Deny(s domain.ChainSnapshot, stepID string, actor domain.Actor, reason string, now time.Time) (Result, error) {
	reason = strings.TrimSpace(reason)
	if err := actor.Validate(); err != nil {
		return Result{}, err
	}
	if reason == "" {
		return Result{}, errors.InvalidInput("reason", "a denial reason is required")
	}
	snap := s.Clone()
	idx, err := actionable(snap, stepID, actor)
	if err != nil {
		return Result{}, err
	}

	st := &snap.Steps[idx]
	st.Status = domain.StepDenied
	stamp(st, actor, reason, now)
	acted := *st

	snap.Chain.Status = domain.ChainDenied
	snap.Chain.CurrentStepOrder = nil
	snap.Chain.DeniedBy = &actor.ID
	snap.Chain.DeniedReason = &reason
	touch(&snap.Chain, now)
	return Result{Snapshot: snap, Acted: &acted}, nil
}

// Return sends the chain back to its submitter. Every step, including
// previously approved ones, is reset to pending; the chain is not re-armed
// until Resubmit.
func Return(s domain.ChainSnapshot, stepID string, actor domain.Actor, reason string, now time.Time) (Result, error) {
	reason = strings.TrimSpace(reason)
	if err := actor.Validate(); err != nil {
		return Result{}, err
	}
	if reason == "" {
		return Result{}, errors.InvalidInput("reason", "a return reason is required")
	}
	snap := s.Clone()
	idx, err := actionable(snap, stepID, actor)
	if err != nil {
		return Result{}, err
	}

	acted := snap.Steps[idx]
	acted.Status = domain.StepReturned
	stamp(&acted, actor, reason, now)

	for i := range snap.Steps {
		reset(&snap.Steps[i])
	}
	snap.Chain.Status = domain.ChainReturned
	snap.Chain.CurrentStepOrder = nil
	snap.Chain.ReturnedBy = &actor.ID
	snap.Chain.ReturnReason = &reason
	touch(&snap.Chain, now)
	return Result{Snapshot: snap, Acted: &acted}, nil
}

// Resubmit re-arms a returned chain. Only the original submitter may do so.
func Resubmit(s domain.ChainSnapshot, actor domain.Actor, now time.Time) (Result, error) {
	if err := actor.Validate(); err != nil {
		return Result{}, err
	}
	if s.Chain.Status != domain.ChainReturned {
		return Result{}, errors.Conflict(fmt.Sprintf("chain is %s, only a returned chain can be resubmitted", s.Chain.Status))
	}
	if actor.ID != s.Chain.SubmittedBy {
		return Result{}, errors.Forbidden("only the original submitter may resubmit the chain")
	}

	snap := s.Clone()
	for i := range snap.Steps {
		reset(&snap.Steps[i])
	}
	snap.Chain.Status = domain.ChainInProgress
	snap.Chain.ReturnedBy = nil
	snap.Chain.ReturnReason = nil

	res := Result{Snapshot: snap}
	arm(&res, 0, now)
	if res.Armed == nil {
		return Result{}, errors.New(errors.ErrCodeInternal, "returned chain has no applicable step to re-arm")
	}
	touch(&res.Snapshot.Chain, now)
	return res, nil
}

// actionable checks the shared preconditions of approve, deny and return and
// returns the slice index of the step.
func actionable(snap domain.ChainSnapshot, stepID string, actor domain.Actor) (int, error) {
	if err := actor.Validate(); err != nil {
		return -1, err
	}
	idx, ok := snap.StepIndex(stepID)
	if !ok {
		return -1, errors.NotFound("approval_step", stepID)
	}
	st := snap.Steps[idx]
	if snap.Chain.Status != domain.ChainInProgress || st.Status != domain.StepWaiting {
		return -1, errors.StaleStep(fmt.Sprintf("step %d is %s on a %s chain; refetch the chain", st.StepOrder, st.Status, snap.Chain.Status))
	}
	if !actor.HasRole(st.StepRole) {
		return -1, errors.Forbidden(fmt.Sprintf("step %d requires role %s", st.StepOrder, st.StepRole))
	}
	return idx, nil
}

func stamp(st *domain.ApprovalStep, actor domain.Actor, comments string, now time.Time) {
	by := actor.ID
	at := now
	st.ActedBy = &by
	st.ActedAt = &at
	if c := strings.TrimSpace(comments); c != "" {
		st.Comments = &c
	} else {
		st.Comments = nil
	}
}

func reset(st *domain.ApprovalStep) {
	st.Status = domain.StepPending
	st.ActedBy = nil
	st.ActedAt = nil
	st.Comments = nil
}

func touch(c *domain.ApprovalChain, now time.Time) {
	c.UpdatedAt = now
}
