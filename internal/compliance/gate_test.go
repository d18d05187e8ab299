package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

var (
	now   = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	coord = domain.Actor{ID: "u-coord", Role: "sped_coordinator"}
	super = domain.Actor{ID: "u-super", Role: "superintendent"}
)

func fresh() domain.ComplianceChecklist {
	return NewChecklist("cl-1", domain.Incident{ID: "inc-1", StudentID: "stu-1"}, now)
}

func toggle(t *testing.T, c domain.ComplianceChecklist, items ...domain.ChecklistItem) domain.ComplianceChecklist {
	t.Helper()
	for _, item := range items {
		var err error
		c, err = ToggleItem(c, item, coord, now)
		require.NoError(t, err)
	}
	return c
}

func TestNewChecklistIsBlocked(t *testing.T) {
	c := fresh()
	assert.Equal(t, domain.ChecklistIncomplete, c.Status)
	assert.True(t, c.PlacementBlocked)
	assert.Equal(t, "stu-1", c.StudentID)
	assert.Equal(t, domain.RequiredChecklistItems, UnmetRequirements(c))
}

func TestDeriveStatus(t *testing.T) {
	c := fresh()
	assert.Equal(t, domain.ChecklistIncomplete, DeriveStatus(c))

	c = toggle(t, c, domain.ItemBIPReviewed, domain.ItemFBAConducted)
	assert.Equal(t, domain.ChecklistIncomplete, c.Status, "optional items do not count")

	c = toggle(t, c, domain.ItemParentNotified)
	assert.Equal(t, domain.ChecklistInProgress, c.Status)
}

func TestToggleItemFlipsBack(t *testing.T) {
	c := toggle(t, fresh(), domain.ItemParentNotified)
	require.NotNil(t, c.ParentNotified)
	c = toggle(t, c, domain.ItemParentNotified)
	assert.Nil(t, c.ParentNotified)
	assert.Equal(t, domain.ChecklistIncomplete, c.Status)
}

func TestToggleItemErrors(t *testing.T) {
	_, err := ToggleItem(fresh(), "gym_class", coord, now)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = ToggleItem(fresh(), domain.ItemParentNotified, domain.Actor{ID: "u"}, now)
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))

	done := toggle(t, fresh(), domain.RequiredChecklistItems...)
	_, err = ToggleItem(done, domain.ItemBIPReviewed, coord, now)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	waived := fresh()
	waived.Status = domain.ChecklistWaived
	_, err = ToggleItem(waived, domain.ItemBIPReviewed, coord, now)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	recorded, err := SetManifestationResult(fresh(), domain.NotManifestation, coord, now)
	require.NoError(t, err)
	_, err = ToggleItem(recorded, domain.ItemManifestationDetermination, coord, now)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

func TestToggleDoesNotMutateInput(t *testing.T) {
	c := fresh()
	_ = toggle(t, c, domain.ItemParentNotified)
	assert.Nil(t, c.ParentNotified)
}

// Three required items done, determination missing.
func TestScenarioMissingDetermination(t *testing.T) {
	c := toggle(t, fresh(), domain.ItemARDCommitteeNotified, domain.ItemParentNotified, domain.ItemFAPEPlanDocumented)
	assert.Equal(t, domain.ChecklistInProgress, c.Status)
	assert.True(t, c.PlacementBlocked)
	assert.Equal(t, []domain.ChecklistItem{domain.ItemManifestationDetermination}, UnmetRequirements(c))
}

// Determination recorded as not a manifestation completes the checklist.
func TestScenarioNotManifestationCompletes(t *testing.T) {
	c := toggle(t, fresh(), domain.ItemARDCommitteeNotified, domain.ItemParentNotified, domain.ItemFAPEPlanDocumented)
	c, err := SetManifestationResult(c, domain.NotManifestation, coord, now)
	require.NoError(t, err)
	assert.Equal(t, domain.ChecklistCompleted, c.Status)
	assert.False(t, c.PlacementBlocked)
	assert.NotNil(t, c.ManifestationDetermination)
	assert.False(t, ManifestationBlocked(c))
	assert.Empty(t, UnmetRequirements(c))
}

// Ticking the determination item alone counts as complete; no result is
// required until one is recorded.
func TestDeterminationTickWithoutResultCompletes(t *testing.T) {
	c := toggle(t, fresh(), domain.ItemARDCommitteeNotified, domain.ItemManifestationDetermination,
		domain.ItemParentNotified, domain.ItemFAPEPlanDocumented)
	assert.Nil(t, c.ManifestationResult)
	assert.Equal(t, domain.ChecklistCompleted, c.Status)
	assert.False(t, IncompletenessBlocked(c))
	assert.False(t, ManifestationBlocked(c))
}

func TestSetManifestationResultOnCompletedChecklist(t *testing.T) {
	done := toggle(t, fresh(), domain.RequiredChecklistItems...)
	require.Equal(t, domain.ChecklistCompleted, done.Status)

	c, err := SetManifestationResult(done, domain.IsManifestation, coord, now)
	require.NoError(t, err)
	assert.True(t, ManifestationBlocked(c))

	_, err = SetManifestationResult(c, domain.NotManifestation, coord, now)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	_, err = SetManifestationResult(fresh(), "maybe", coord, now)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

// Blocked only by incompleteness, lifted by an override.
func TestScenarioOverride(t *testing.T) {
	c := toggle(t, fresh(), domain.ItemParentNotified)
	c.Status = domain.ChecklistIncomplete // stale stored status must not matter
	Recompute(&c)
	before := c.Status

	got, err := OverrideBlock(c, super, "  superintendent authorization ", now)
	require.NoError(t, err)
	assert.False(t, got.PlacementBlocked)
	assert.True(t, got.BlockOverridden)
	assert.Equal(t, before, got.Status)
	assert.Equal(t, "superintendent authorization", *got.OverrideReason)
	assert.Equal(t, "u-super", *got.OverrideBy)
	assert.Equal(t, now, *got.OverriddenAt)
	assert.True(t, IncompletenessBlocked(got))
	assert.NotEmpty(t, UnmetRequirements(got))
}

func TestOverrideErrors(t *testing.T) {
	_, err := OverrideBlock(fresh(), super, " ", now)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	manifest, err := SetManifestationResult(fresh(), domain.IsManifestation, coord, now)
	require.NoError(t, err)
	_, err = OverrideBlock(manifest, super, "please", now)
	assert.True(t, errors.Is(err, errors.ErrCodeManifestationBlock))

	done := toggle(t, fresh(), domain.RequiredChecklistItems...)
	_, err = OverrideBlock(done, super, "please", now)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	once, err := OverrideBlock(fresh(), super, "please", now)
	require.NoError(t, err)
	assert.Equal(t, domain.ChecklistIncomplete, once.Status)
	_, err = OverrideBlock(once, super, "again", now)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

func TestOverrideSurvivesToggles(t *testing.T) {
	c, err := OverrideBlock(fresh(), super, "please", now)
	require.NoError(t, err)
	c = toggle(t, c, domain.ItemParentNotified)
	assert.False(t, c.PlacementBlocked)
	assert.Equal(t, domain.ChecklistInProgress, c.Status)
}

func TestRecordConsiderations(t *testing.T) {
	yes := true
	just := "  prior interventions exhausted "
	c, err := RecordConsiderations(fresh(), Considerations{LeastRestrictiveConsidered: &yes, PlacementJustification: &just}, coord, now)
	require.NoError(t, err)
	require.NotNil(t, c.LeastRestrictiveConsidered)
	assert.Equal(t, "prior interventions exhausted", *c.PlacementJustification)

	no := false
	c, err = RecordConsiderations(c, Considerations{LeastRestrictiveConsidered: &no}, coord, now)
	require.NoError(t, err)
	assert.Nil(t, c.LeastRestrictiveConsidered)
	assert.NotNil(t, c.PlacementJustification)

	_, err = RecordConsiderations(c, Considerations{}, coord, now)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestWaivedIsNotBlocked(t *testing.T) {
	c := fresh()
	c.Status = domain.ChecklistWaived
	Recompute(&c)
	assert.Equal(t, domain.ChecklistWaived, c.Status)
	assert.False(t, c.PlacementBlocked)
}
