package domain

import "time"

// ChecklistItem names one timestamp item of a compliance checklist.
type ChecklistItem string

const (
	ItemARDCommitteeNotified        ChecklistItem = "ard_committee_notified"
	ItemManifestationDetermination  ChecklistItem = "manifestation_determination"
	ItemBIPReviewed                 ChecklistItem = "bip_reviewed"
	ItemFBAConducted                ChecklistItem = "fba_conducted"
	ItemParentNotified              ChecklistItem = "parent_notified"
	ItemFAPEPlanDocumented          ChecklistItem = "fape_plan_documented"
	ItemIEPGoalsReviewed            ChecklistItem = "iep_goals_reviewed"
	ItemEducationalServicesArranged ChecklistItem = "educational_services_arranged"
)

// ChecklistItems lists every item in display order.
var ChecklistItems = []ChecklistItem{
	ItemARDCommitteeNotified,
	ItemManifestationDetermination,
	ItemBIPReviewed,
	ItemFBAConducted,
	ItemParentNotified,
	ItemFAPEPlanDocumented,
	ItemIEPGoalsReviewed,
	ItemEducationalServicesArranged,
}

// RequiredChecklistItems must all be done before a checklist completes.
var RequiredChecklistItems = []ChecklistItem{
	ItemARDCommitteeNotified,
	ItemManifestationDetermination,
	ItemParentNotified,
	ItemFAPEPlanDocumented,
}

// Valid reports whether i names a checklist item.
func (i ChecklistItem) Valid() bool {
	for _, item := range ChecklistItems {
		if item == i {
			return true
		}
	}
	return false
}

// Required reports whether i gates completion.
func (i ChecklistItem) Required() bool {
	for _, item := range RequiredChecklistItems {
		if item == i {
			return true
		}
	}
	return false
}

// ChecklistStatus is the derived completion status of a checklist.
type ChecklistStatus string

const (
	ChecklistIncomplete ChecklistStatus = "incomplete"
	ChecklistInProgress ChecklistStatus = "in_progress"
	ChecklistCompleted  ChecklistStatus = "completed"
	ChecklistWaived     ChecklistStatus = "waived"
)

// Valid reports whether s is a declared checklist status.
func (s ChecklistStatus) Valid() bool {
	switch s {
	case ChecklistIncomplete, ChecklistInProgress, ChecklistCompleted, ChecklistWaived:
		return true
	}
	return false
}

// ManifestationResult is the outcome of a manifestation determination review.
type ManifestationResult string

const (
	IsManifestation  ManifestationResult = "is_manifestation"
	NotManifestation ManifestationResult = "not_manifestation"
)

// Valid reports whether r is a declared result.
func (r ManifestationResult) Valid() bool {
	return r == IsManifestation || r == NotManifestation
}

// ComplianceChecklist tracks the SPED/504 procedural safeguards for one
// DAEP-track incident.
type ComplianceChecklist struct {
	ID         string `json:"id"`
	IncidentID string `json:"incident_id"`
	StudentID  string `json:"student_id"`

	ARDCommitteeNotified        *time.Time `json:"ard_committee_notified"`
	ManifestationDetermination  *time.Time `json:"manifestation_determination"`
	BIPReviewed                 *time.Time `json:"bip_reviewed"`
	FBAConducted                *time.Time `json:"fba_conducted"`
	ParentNotified              *time.Time `json:"parent_notified"`
	FAPEPlanDocumented          *time.Time `json:"fape_plan_documented"`
	IEPGoalsReviewed            *time.Time `json:"iep_goals_reviewed"`
	EducationalServicesArranged *time.Time `json:"educational_services_arranged"`

	ManifestationResult        *ManifestationResult `json:"manifestation_result"`
	LeastRestrictiveConsidered *time.Time           `json:"least_restrictive_considered"`
	PlacementJustification     *string              `json:"placement_justification"`

	Status           ChecklistStatus `json:"status"`
	PlacementBlocked bool            `json:"placement_blocked"`
	BlockOverridden  bool            `json:"block_overridden"`
	OverrideReason   *string         `json:"override_reason"`
	OverrideBy       *string         `json:"override_by"`
	OverriddenAt     *time.Time      `json:"overridden_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item returns the completion timestamp of item, nil when not done.
func (c *ComplianceChecklist) Item(item ChecklistItem) *time.Time {
	switch item {
	case ItemARDCommitteeNotified:
		return c.ARDCommitteeNotified
	case ItemManifestationDetermination:
		return c.ManifestationDetermination
	case ItemBIPReviewed:
		return c.BIPReviewed
	case ItemFBAConducted:
		return c.FBAConducted
	case ItemParentNotified:
		return c.ParentNotified
	case ItemFAPEPlanDocumented:
		return c.FAPEPlanDocumented
	case ItemIEPGoalsReviewed:
		return c.IEPGoalsReviewed
	case ItemEducationalServicesArranged:
		return c.EducationalServicesArranged
	}
	return nil
}

// SetItem stores the completion timestamp of item. Unknown items are ignored.
func (c *ComplianceChecklist) SetItem(item ChecklistItem, at *time.Time) {
	switch item {
	case ItemARDCommitteeNotified:
		c.ARDCommitteeNotified = at
	case ItemManifestationDetermination:
		c.ManifestationDetermination = at
	case ItemBIPReviewed:
		c.BIPReviewed = at
	case ItemFBAConducted:
		c.FBAConducted = at
	case ItemParentNotified:
		c.ParentNotified = at
	case ItemFAPEPlanDocumented:
		c.FAPEPlanDocumented = at
	case ItemIEPGoalsReviewed:
		c.IEPGoalsReviewed = at
	case ItemEducationalServicesArranged:
		c.EducationalServicesArranged = at
	}
}

// Clone returns a deep copy.
func (c ComplianceChecklist) Clone() ComplianceChecklist {
	out := c
	for _, item := range ChecklistItems {
		out.SetItem(item, cloneTime(c.Item(item)))
	}
	if c.ManifestationResult != nil {
		r := *c.ManifestationResult
		out.ManifestationResult = &r
	}
	out.LeastRestrictiveConsidered = cloneTime(c.LeastRestrictiveConsidered)
	out.PlacementJustification = cloneString(c.PlacementJustification)
	out.OverrideReason = cloneString(c.OverrideReason)
	out.OverrideBy = cloneString(c.OverrideBy)
	out.OverriddenAt = cloneTime(c.OverriddenAt)
	return out
}
