package domain

import "time"

// ChainStatus is the derived status of an approval chain.
type ChainStatus string

const (
	ChainInProgress ChainStatus = "in_progress"
	ChainApproved   ChainStatus = "approved"
	ChainDenied     ChainStatus = "denied"
	ChainReturned   ChainStatus = "returned"
)

// Valid reports whether s is one of the declared chain statuses.
func (s ChainStatus) Valid() bool {
	switch s {
	case ChainInProgress, ChainApproved, ChainDenied, ChainReturned:
		return true
	}
	return false
}

// Terminal reports whether no step action can be taken on the chain.
func (s ChainStatus) Terminal() bool {
	return s == ChainApproved || s == ChainDenied
}

// StepStatus is the status of one approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepWaiting  StepStatus = "waiting"
	StepApproved StepStatus = "approved"
	StepDenied   StepStatus = "denied"
	StepReturned StepStatus = "returned"
	StepSkipped  StepStatus = "skipped"
)

// Valid reports whether s is one of the declared step statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepWaiting, StepApproved, StepDenied, StepReturned, StepSkipped:
		return true
	}
	return false
}

// ApprovalChain is the sign-off chain for one DAEP-track incident.
type ApprovalChain struct {
	ID               string      `json:"id"`
	IncidentID       string      `json:"incident_id"`
	Status           ChainStatus `json:"chain_status"`
	SubmittedBy      string      `json:"submitted_by"`
	CurrentStepOrder *int        `json:"current_step_order"`
	DeniedBy         *string     `json:"denied_by"`
	DeniedReason     *string     `json:"denied_reason"`
	ReturnedBy       *string     `json:"returned_by"`
	ReturnReason     *string     `json:"return_reason"`
	TemplateName     string      `json:"template_name,omitempty"`
	Version          int         `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ApprovalStep is one ordered role sign-off inside a chain.
type ApprovalStep struct {
	ID          string     `json:"id"`
	ChainID     string     `json:"chain_id"`
	StepOrder   int        `json:"step_order"`
	StepRole    string     `json:"step_role"`
	StepLabel   string     `json:"step_label"`
	AppliesWhen string     `json:"applies_when,omitempty"`
	Applicable  bool       `json:"applicable"`
	Status      StepStatus `json:"status"`
	ActedBy     *string    `json:"acted_by"`
	ActedAt     *time.Time `json:"acted_at"`
	Comments    *string    `json:"comments"`
}

// ChainSnapshot is a chain with its full, ordered step list.
type ChainSnapshot struct {
	Chain ApprovalChain  `json:"chain"`
	Steps []ApprovalStep `json:"steps"`
}

// Clone returns a deep copy so transitions never alias their input.
func (s ChainSnapshot) Clone() ChainSnapshot {
	out := ChainSnapshot{Chain: s.Chain, Steps: make([]ApprovalStep, len(s.Steps))}
	out.Chain.CurrentStepOrder = cloneInt(s.Chain.CurrentStepOrder)
	out.Chain.DeniedBy = cloneString(s.Chain.DeniedBy)
	out.Chain.DeniedReason = cloneString(s.Chain.DeniedReason)
	out.Chain.ReturnedBy = cloneString(s.Chain.ReturnedBy)
	out.Chain.ReturnReason = cloneString(s.Chain.ReturnReason)
	for i, st := range s.Steps {
		st.ActedBy = cloneString(st.ActedBy)
		st.ActedAt = cloneTime(st.ActedAt)
		st.Comments = cloneString(st.Comments)
		out.Steps[i] = st
	}
	return out
}

// StepIndex returns the slice index of the step with the given id.
func (s ChainSnapshot) StepIndex(stepID string) (int, bool) {
	for i := range s.Steps {
		if s.Steps[i].ID == stepID {
			return i, true
		}
	}
	return -1, false
}

// CurrentStep returns the step at current_step_order, if any.
func (s ChainSnapshot) CurrentStep() (ApprovalStep, bool) {
	if s.Chain.CurrentStepOrder == nil {
		return ApprovalStep{}, false
	}
	for _, st := range s.Steps {
		if st.StepOrder == *s.Chain.CurrentStepOrder {
			return st, true
		}
	}
	return ApprovalStep{}, false
}

// StepDefinition is one entry of a role sequence used to build a chain.
// Applicable is the already-evaluated applicability predicate.
type StepDefinition struct {
	Role        string `json:"role"`
	Label       string `json:"label"`
	AppliesWhen string `json:"applies_when,omitempty"`
	Applicable  bool   `json:"applicable"`
}

// PendingStep is a waiting step joined with its chain, for approver queues.
type PendingStep struct {
	Step       ApprovalStep `json:"step"`
	IncidentID string       `json:"incident_id"`
	ChainID    string       `json:"chain_id"`
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
