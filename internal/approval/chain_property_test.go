package approval

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
)

// op is one generated step action: 0 approve, 1 deny, 2 return, 3 resubmit.
type op struct {
	Kind int
}

var roles = []string{"cbc", "sped_coordinator", "counselor", "principal"}

func buildChain(applicable []bool) (domain.ChainSnapshot, bool) {
	defs := make([]domain.StepDefinition, len(applicable))
	for i, a := range applicable {
		defs[i] = domain.StepDefinition{Role: roles[i%len(roles)], Applicable: a}
	}
	res, err := NewChain(NewChainParams{
		ChainID:     "chain-p",
		IncidentID:  "inc-p",
		SubmittedBy: submitter,
		Steps:       defs,
		NewID:       seqIDs("p"),
		Now:         t0,
	})
	if err != nil {
		return domain.ChainSnapshot{}, false
	}
	return res.Snapshot, true
}

// apply drives one op against the current step with a correctly-roled actor.
func apply(s domain.ChainSnapshot, o op) (domain.ChainSnapshot, error) {
	if o.Kind%4 == 3 {
		res, err := Resubmit(s, submitter, t0)
		return res.Snapshot, err
	}
	cur, ok := s.CurrentStep()
	if !ok {
		return s, nil
	}
	actor := domain.Actor{ID: "u-" + cur.StepRole, Role: cur.StepRole}
	var (
		res Result
		err error
	)
	switch o.Kind % 4 {
	case 0:
		res, err = Approve(s, cur.ID, actor, "", t0)
	case 1:
		res, err = Deny(s, cur.ID, actor, "no", t0)
	case 2:
		res, err = Return(s, cur.ID, actor, "again", t0)
	}
	return res.Snapshot, err
}

func genOps() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 3).Map(func(k int) op { return op{Kind: k} }))
}

func genApplicable() gopter.Gen {
	return gen.SliceOfN(4, gen.Bool())
}

func TestChainProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every reachable snapshot satisfies the chain invariants", prop.ForAll(
		func(applicable []bool, ops []op) bool {
			s, ok := buildChain(applicable)
			if !ok {
				return true
			}
			for _, o := range ops {
				next, err := apply(s, o)
				if err != nil {
					continue
				}
				s = next
				if Validate(s) != nil {
					return false
				}
			}
			return true
		},
		genApplicable(), genOps(),
	))

	properties.Property("approved steps only leave approved through a return", prop.ForAll(
		func(applicable []bool, ops []op) bool {
			s, ok := buildChain(applicable)
			if !ok {
				return true
			}
			for _, o := range ops {
				next, err := apply(s, o)
				if err != nil {
					continue
				}
				returned := next.Chain.Status == domain.ChainReturned && s.Chain.Status == domain.ChainInProgress
				for i := range s.Steps {
					if s.Steps[i].Status == domain.StepApproved && next.Steps[i].Status != domain.StepApproved && !returned {
						return false
					}
				}
				s = next
			}
			return true
		},
		genApplicable(), genOps(),
	))

	properties.Property("return clears every approval and resubmit arms the first applicable step", prop.ForAll(
		func(applicable []bool, approvals int) bool {
			s, ok := buildChain(applicable)
			if !ok {
				return true
			}
			for i := 0; i < approvals && s.Chain.Status == domain.ChainInProgress; i++ {
				next, err := apply(s, op{Kind: 0})
				if err != nil {
					return false
				}
				if next.Chain.Status != domain.ChainInProgress {
					break
				}
				s = next
			}
			returned, err := apply(s, op{Kind: 2})
			if err != nil {
				return false
			}
			for _, st := range returned.Steps {
				if st.Status == domain.StepApproved {
					return false
				}
			}
			again, err := Resubmit(returned, submitter, t0)
			if err != nil {
				return false
			}
			first := -1
			for i, a := range applicable {
				if a {
					first = i
					break
				}
			}
			for i, st := range again.Snapshot.Steps {
				switch {
				case i < first && st.Status != domain.StepSkipped:
					return false
				case i == first && st.Status != domain.StepWaiting:
					return false
				case i > first && st.Status != domain.StepPending:
					return false
				}
			}
			return true
		},
		genApplicable(), gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
