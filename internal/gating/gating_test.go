package gating

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-discipline-placements/internal/approval"
	"github.com/pesio-ai/be-discipline-placements/internal/compliance"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
)

var (
	now       = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	submitter = domain.Actor{ID: "u-teacher", Role: "teacher"}
	coord     = domain.Actor{ID: "u-coord", Role: "sped_coordinator"}
)

func incident(status domain.IncidentStatus) domain.Incident {
	return domain.Incident{ID: "inc-1", StudentID: "stu-1", ConsequenceType: "daep", StudentIsSPED: true, Status: status}
}

func chainWith(status domain.ChainStatus) *domain.ApprovalChain {
	return &domain.ApprovalChain{ID: "chain-1", IncidentID: "inc-1", Status: status}
}

func checklistWith(t *testing.T, items ...domain.ChecklistItem) *domain.ComplianceChecklist {
	t.Helper()
	c := compliance.NewChecklist("cl-1", incident(domain.IncidentPendingApproval), now)
	for _, item := range items {
		var err error
		c, err = compliance.ToggleItem(c, item, coord, now)
		require.NoError(t, err)
	}
	return &c
}

func TestPrecedence(t *testing.T) {
	manifest := checklistWith(t)
	*manifest, _ = compliance.SetManifestationResult(*manifest, domain.IsManifestation, coord, now)
	overriddenManifest := manifest.Clone()
	overriddenManifest.BlockOverridden = true
	overriddenManifest.PlacementBlocked = false

	done := checklistWith(t, domain.RequiredChecklistItems...)

	tests := []struct {
		name      string
		inc       domain.Incident
		chain     *domain.ApprovalChain
		checklist *domain.ComplianceChecklist
		reason    domain.BlockReason
		activate  bool
	}{
		{"manifestation beats everything", incident(domain.IncidentApproved), chainWith(domain.ChainApproved), manifest, domain.BlockManifestation, false},
		{"manifestation ignores override flag", incident(domain.IncidentApproved), chainWith(domain.ChainApproved), &overriddenManifest, domain.BlockManifestation, false},
		{"incomplete beats chain", incident(domain.IncidentPendingApproval), chainWith(domain.ChainDenied), checklistWith(t), domain.BlockComplianceIncomplete, false},
		{"chain pending", incident(domain.IncidentPendingApproval), chainWith(domain.ChainInProgress), done, domain.BlockApprovalPending, false},
		{"chain denied", incident(domain.IncidentDenied), chainWith(domain.ChainDenied), nil, domain.BlockApprovalDenied, false},
		{"chain returned", incident(domain.IncidentReturned), chainWith(domain.ChainReturned), nil, domain.BlockApprovalReturned, false},
		{"chain approved", incident(domain.IncidentApproved), chainWith(domain.ChainApproved), done, "", true},
		{"no chain awaiting approval", incident(domain.IncidentPendingApproval), nil, nil, domain.BlockIncidentNotApproved, false},
		{"no chain approved", incident(domain.IncidentApproved), nil, nil, "", true},
		{"already active", incident(domain.IncidentActive), chainWith(domain.ChainApproved), nil, domain.BlockAlreadyActive, false},
		{"completed", incident(domain.IncidentCompleted), nil, nil, domain.BlockAlreadyActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := ComputeIncidentCapabilities(tt.inc, tt.chain, tt.checklist)
			assert.Equal(t, tt.activate, caps.CanActivate)
			if tt.reason == "" {
				assert.Empty(t, caps.BlockedReasons)
			} else {
				assert.Equal(t, []domain.BlockReason{tt.reason}, caps.BlockedReasons)
			}
		})
	}
}

func TestCanApproveOnlyWithoutChain(t *testing.T) {
	assert.True(t, ComputeIncidentCapabilities(incident(domain.IncidentPendingApproval), nil, nil).CanApprove)
	assert.False(t, ComputeIncidentCapabilities(incident(domain.IncidentPendingApproval), chainWith(domain.ChainInProgress), nil).CanApprove)
	assert.False(t, ComputeIncidentCapabilities(incident(domain.IncidentDraft), nil, nil).CanApprove)
}

func TestCanComplete(t *testing.T) {
	assert.True(t, ComputeIncidentCapabilities(incident(domain.IncidentActive), nil, nil).CanComplete)
	assert.False(t, ComputeIncidentCapabilities(incident(domain.IncidentApproved), nil, nil).CanComplete)
}

func TestUnmetRequirementsSurviveOverride(t *testing.T) {
	cl := checklistWith(t, domain.ItemParentNotified)
	over, err := compliance.OverrideBlock(*cl, domain.Actor{ID: "u-super", Role: "superintendent"}, "superintendent authorization", now)
	require.NoError(t, err)

	caps := ComputeIncidentCapabilities(incident(domain.IncidentApproved), chainWith(domain.ChainApproved), &over)
	assert.True(t, caps.CanActivate)
	assert.Equal(t, []domain.ChecklistItem{
		domain.ItemARDCommitteeNotified,
		domain.ItemManifestationDetermination,
		domain.ItemFAPEPlanDocumented,
	}, caps.UnmetRequirements)
}

// CBC approves, SPED coordinator denies: the incident can never activate on
// this chain.
func TestScenarioDeniedChainNeverActivates(t *testing.T) {
	res, err := approval.NewChain(approval.NewChainParams{
		ChainID: "chain-1", IncidentID: "inc-1", SubmittedBy: submitter, Now: now,
		NewID: func() func() string {
			n := 0
			return func() string { n++; return string(rune('a' + n)) }
		}(),
		Steps: []domain.StepDefinition{
			{Role: "cbc", Applicable: true},
			{Role: "sped_coordinator", Applicable: true},
			{Role: "principal", Applicable: true},
		},
	})
	require.NoError(t, err)
	s := res.Snapshot

	res, err = approval.Approve(s, s.Steps[0].ID, domain.Actor{ID: "u-cbc", Role: "cbc"}, "", now)
	require.NoError(t, err)
	s = res.Snapshot
	res, err = approval.Deny(s, s.Steps[1].ID, coord, "insufficient evidence", now)
	require.NoError(t, err)
	s = res.Snapshot

	inc := ReconcileIncident(incident(domain.IncidentPendingApproval), &s.Chain, nil)
	assert.Equal(t, domain.IncidentDenied, inc.Status)

	done := checklistWith(t, domain.RequiredChecklistItems...)
	for _, cl := range []*domain.ComplianceChecklist{nil, done} {
		caps := ComputeIncidentCapabilities(inc, &s.Chain, cl)
		assert.False(t, caps.CanActivate)
		assert.Equal(t, []domain.BlockReason{domain.BlockApprovalDenied}, caps.BlockedReasons)
	}
}

// Required items done except the determination.
func TestScenarioMissingDeterminationBlocks(t *testing.T) {
	cl := checklistWith(t, domain.ItemARDCommitteeNotified, domain.ItemParentNotified, domain.ItemFAPEPlanDocumented)
	caps := ComputeIncidentCapabilities(incident(domain.IncidentApproved), chainWith(domain.ChainApproved), cl)
	assert.False(t, caps.CanActivate)
	assert.Equal(t, []domain.BlockReason{domain.BlockComplianceIncomplete}, caps.BlockedReasons)
}

// Determination recorded as not a manifestation with an approved chain.
func TestScenarioCompletedChecklistActivates(t *testing.T) {
	cl := checklistWith(t, domain.ItemARDCommitteeNotified, domain.ItemParentNotified, domain.ItemFAPEPlanDocumented)
	done, err := compliance.SetManifestationResult(*cl, domain.NotManifestation, coord, now)
	require.NoError(t, err)

	chain := chainWith(domain.ChainApproved)
	inc := ReconcileIncident(incident(domain.IncidentPendingApproval), chain, &done)
	assert.Equal(t, domain.IncidentApproved, inc.Status)
	assert.True(t, inc.ComplianceCleared)

	caps := ComputeIncidentCapabilities(inc, chain, &done)
	assert.True(t, caps.CanActivate)
	assert.Empty(t, caps.BlockedReasons)
}

func TestStoredStatusDoesNotDecideCompleteness(t *testing.T) {
	chain := chainWith(domain.ChainApproved)

	forged := compliance.NewChecklist("cl-1", incident(domain.IncidentApproved), now)
	forged.Status = domain.ChecklistCompleted
	caps := ComputeIncidentCapabilities(incident(domain.IncidentApproved), chain, &forged)
	assert.False(t, caps.CanActivate)
	assert.Equal(t, []domain.BlockReason{domain.BlockComplianceIncomplete}, caps.BlockedReasons)

	done := checklistWith(t, domain.ItemARDCommitteeNotified, domain.ItemManifestationDetermination,
		domain.ItemParentNotified, domain.ItemFAPEPlanDocumented)
	done.Status = ""
	caps = ComputeIncidentCapabilities(incident(domain.IncidentApproved), chain, done)
	assert.True(t, caps.CanActivate)

	waived := compliance.NewChecklist("cl-2", incident(domain.IncidentApproved), now)
	waived.Status = domain.ChecklistWaived
	caps = ComputeIncidentCapabilities(incident(domain.IncidentApproved), chain, &waived)
	assert.True(t, caps.CanActivate)
}

func TestReconcileIncident(t *testing.T) {
	active := ReconcileIncident(incident(domain.IncidentActive), chainWith(domain.ChainReturned), nil)
	assert.Equal(t, domain.IncidentActive, active.Status)

	noChain := ReconcileIncident(incident(domain.IncidentPendingApproval), nil, checklistWith(t))
	assert.Equal(t, domain.IncidentPendingApproval, noChain.Status)
	assert.False(t, noChain.ComplianceCleared)
	assert.True(t, Changed(incident(domain.IncidentPendingApproval), domain.Incident{Status: domain.IncidentPendingApproval, ComplianceCleared: true}))

	resubmitted := ReconcileIncident(incident(domain.IncidentReturned), chainWith(domain.ChainInProgress), nil)
	assert.Equal(t, domain.IncidentPendingApproval, resubmitted.Status)
	assert.True(t, resubmitted.ComplianceCleared)
}

func TestGatingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	statuses := []domain.IncidentStatus{
		domain.IncidentDraft, domain.IncidentPendingApproval, domain.IncidentApproved, domain.IncidentDenied,
		domain.IncidentReturned, domain.IncidentActive, domain.IncidentCompleted,
	}
	chains := []domain.ChainStatus{"", domain.ChainInProgress, domain.ChainApproved, domain.ChainDenied, domain.ChainReturned}

	properties.Property("a manifestation finding always blocks activation", prop.ForAll(
		func(si, ci int, items []bool, overridden bool) bool {
			cl := compliance.NewChecklist("cl", incident(domain.IncidentApproved), now)
			for i, done := range items {
				if done {
					at := now
					cl.SetItem(domain.ChecklistItems[i], &at)
				}
			}
			r := domain.IsManifestation
			cl.ManifestationResult = &r
			cl.BlockOverridden = overridden
			compliance.Recompute(&cl)

			var chain *domain.ApprovalChain
			if chains[ci] != "" {
				chain = chainWith(chains[ci])
			}
			caps := ComputeIncidentCapabilities(incident(statuses[si]), chain, &cl)
			return !caps.CanActivate && caps.BlockedReasons[0] == domain.BlockManifestation
		},
		gen.IntRange(0, len(statuses)-1),
		gen.IntRange(0, len(chains)-1),
		gen.SliceOfN(len(domain.ChecklistItems), gen.Bool()),
		gen.Bool(),
	))

	properties.Property("activation implies both gates are clear", prop.ForAll(
		func(si, ci int, items []bool, overridden bool) bool {
			cl := compliance.NewChecklist("cl", incident(domain.IncidentApproved), now)
			for i, done := range items {
				if done {
					at := now
					cl.SetItem(domain.ChecklistItems[i], &at)
				}
			}
			cl.BlockOverridden = overridden
			compliance.Recompute(&cl)

			var chain *domain.ApprovalChain
			if chains[ci] != "" {
				chain = chainWith(chains[ci])
			}
			caps := ComputeIncidentCapabilities(incident(statuses[si]), chain, &cl)
			if !caps.CanActivate {
				return len(caps.BlockedReasons) == 1
			}
			chainOK := chain == nil || chain.Status == domain.ChainApproved
			return chainOK && !cl.PlacementBlocked && statuses[si] == domain.IncidentApproved
		},
		gen.IntRange(0, len(statuses)-1),
		gen.IntRange(0, len(chains)-1),
		gen.SliceOfN(len(domain.ChecklistItems), gen.Bool()),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
