package approval

import (
	"fmt"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
)

// Validate checks the structural invariants of a chain snapshot. Snapshots
// produced by this package always pass; the store adapters call it before
// writing so a corrupted row is caught instead of persisted.
func Validate(s domain.ChainSnapshot) error {
	if !s.Chain.Status.Valid() {
		return fmt.Errorf("chain %s: unknown status %q", s.Chain.ID, s.Chain.Status)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("chain %s: no steps", s.Chain.ID)
	}

	var waiting []int
	for i, st := range s.Steps {
		if st.StepOrder != i+1 {
			return fmt.Errorf("chain %s: step at position %d has order %d", s.Chain.ID, i+1, st.StepOrder)
		}
		if !st.Status.Valid() {
			return fmt.Errorf("chain %s: step %d has unknown status %q", s.Chain.ID, st.StepOrder, st.Status)
		}
		if st.Status == domain.StepWaiting {
			waiting = append(waiting, st.StepOrder)
		}
		if (st.Status == domain.StepPending || st.Status == domain.StepWaiting) && (st.ActedBy != nil || st.Comments != nil) {
			return fmt.Errorf("chain %s: step %d is %s but carries action fields", s.Chain.ID, st.StepOrder, st.Status)
		}
	}

	switch s.Chain.Status {
	case domain.ChainInProgress:
		if len(waiting) != 1 {
			return fmt.Errorf("chain %s: in progress with %d waiting steps", s.Chain.ID, len(waiting))
		}
		cur := s.Chain.CurrentStepOrder
		if cur == nil || *cur != waiting[0] {
			return fmt.Errorf("chain %s: current step does not point at waiting step %d", s.Chain.ID, waiting[0])
		}
		for _, st := range s.Steps {
			switch {
			case st.StepOrder < *cur && st.Status != domain.StepApproved && st.Status != domain.StepSkipped:
				return fmt.Errorf("chain %s: step %d before current is %s", s.Chain.ID, st.StepOrder, st.Status)
			case st.StepOrder > *cur && st.Status != domain.StepPending:
				return fmt.Errorf("chain %s: step %d after current is %s", s.Chain.ID, st.StepOrder, st.Status)
			}
		}
	case domain.ChainReturned:
		if s.Chain.CurrentStepOrder != nil {
			return fmt.Errorf("chain %s: returned chain has a current step", s.Chain.ID)
		}
		for _, st := range s.Steps {
			if st.Status != domain.StepPending {
				return fmt.Errorf("chain %s: returned chain has %s step %d", s.Chain.ID, st.Status, st.StepOrder)
			}
		}
		if s.Chain.ReturnedBy == nil || s.Chain.ReturnReason == nil {
			return fmt.Errorf("chain %s: returned chain lacks return fields", s.Chain.ID)
		}
	case domain.ChainApproved, domain.ChainDenied:
		if s.Chain.CurrentStepOrder != nil {
			return fmt.Errorf("chain %s: %s chain has a current step", s.Chain.ID, s.Chain.Status)
		}
		if len(waiting) != 0 {
			return fmt.Errorf("chain %s: %s chain has a waiting step", s.Chain.ID, s.Chain.Status)
		}
		if s.Chain.Status == domain.ChainDenied && (s.Chain.DeniedBy == nil || s.Chain.DeniedReason == nil) {
			return fmt.Errorf("chain %s: denied chain lacks denial fields", s.Chain.ID)
		}
		if s.Chain.Status == domain.ChainApproved {
			for _, st := range s.Steps {
				if st.Status != domain.StepApproved && st.Status != domain.StepSkipped {
					return fmt.Errorf("chain %s: approved chain has %s step %d", s.Chain.ID, st.Status, st.StepOrder)
				}
			}
		}
	}
	return nil
}
