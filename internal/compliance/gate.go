// Package compliance implements the SPED/504 compliance gate.
//
// Two gates are evaluated independently. The manifestation gate is hard: a
// determination that the conduct is a manifestation of disability blocks
// placement and nothing here can lift it. The incompleteness gate blocks
// until every required item is done, and can be lifted by an accountable
// override that never changes the derived status.
package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// DeriveStatus computes completion status from the required items.
func DeriveStatus(c domain.ComplianceChecklist) domain.ChecklistStatus {
	done := 0
	for _, item := range domain.RequiredChecklistItems {
		if c.Item(item) != nil {
			done++
		}
	}
	switch {
	case done == len(domain.RequiredChecklistItems):
		return domain.ChecklistCompleted
	case done > 0:
		return domain.ChecklistInProgress
	default:
		return domain.ChecklistIncomplete
	}
}

// IncompletenessBlocked reports the raw incompleteness fact, ignoring any
// override. It is worked out from the items, not the stored status, so a
// record with a stale or forged status cannot pass. A waived checklist is
// not blocked.
func IncompletenessBlocked(c domain.ComplianceChecklist) bool {
	if c.Status == domain.ChecklistWaived {
		return false
	}
	return DeriveStatus(c) != domain.ChecklistCompleted
}

// DerivePlacementBlocked is the externally reported incompleteness block.
func DerivePlacementBlocked(c domain.ComplianceChecklist) bool {
	return IncompletenessBlocked(c) && !c.BlockOverridden
}

// ManifestationBlocked reports the hard gate.
func ManifestationBlocked(c domain.ComplianceChecklist) bool {
	return c.ManifestationResult != nil && *c.ManifestationResult == domain.IsManifestation
}

// UnmetRequirements lists required items still open, in display order.
// Overrides do not hide them.
func UnmetRequirements(c domain.ComplianceChecklist) []domain.ChecklistItem {
	out := []domain.ChecklistItem{}
	for _, item := range domain.RequiredChecklistItems {
		if c.Item(item) == nil {
			out = append(out, item)
		}
	}
	return out
}

// Recompute refreshes the derived fields. A waived status is administrative
// and is left alone.
func Recompute(c *domain.ComplianceChecklist) {
	if c.Status != domain.ChecklistWaived {
		c.Status = DeriveStatus(*c)
	}
	c.PlacementBlocked = DerivePlacementBlocked(*c)
}

// NewChecklist builds an empty checklist for an incident.
func NewChecklist(id string, inc domain.Incident, now time.Time) domain.ComplianceChecklist {
	c := domain.ComplianceChecklist{
		ID:         id,
		IncidentID: inc.ID,
		StudentID:  inc.StudentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	Recompute(&c)
	return c
}

// ToggleItem flips one item between done-now and not done.
func ToggleItem(in domain.ComplianceChecklist, item domain.ChecklistItem, actor domain.Actor, now time.Time) (domain.ComplianceChecklist, error) {
	if err := actor.Validate(); err != nil {
		return in, err
	}
	if !item.Valid() {
		return in, errors.InvalidInput("field", fmt.Sprintf("unknown checklist item %q", item))
	}
	if err := writable(in); err != nil {
		return in, err
	}

	c := in.Clone()
	if c.Item(item) != nil {
		if item == domain.ItemManifestationDetermination && c.ManifestationResult != nil {
			return in, errors.Conflict("manifestation determination has a recorded result and cannot be cleared")
		}
		c.SetItem(item, nil)
	} else {
		at := now
		c.SetItem(item, &at)
	}
	c.UpdatedAt = now
	Recompute(&c)
	return c, nil
}

// SetManifestationResult records the determination outcome and marks the
// determination item done if it was not already. Once recorded, the result
// can only change while the checklist is still open.
func SetManifestationResult(in domain.ComplianceChecklist, result domain.ManifestationResult, actor domain.Actor, now time.Time) (domain.ComplianceChecklist, error) {
	if err := actor.Validate(); err != nil {
		return in, err
	}
	if !result.Valid() {
		return in, errors.InvalidInput("result", fmt.Sprintf("unknown manifestation result %q", result))
	}
	// A completed checklist still accepts the first recorded result, since
	// ticking the determination item alone can complete it.
	if in.ManifestationResult != nil {
		if err := writable(in); err != nil {
			return in, err
		}
	} else if in.Status == domain.ChecklistWaived {
		return in, errors.Conflict("checklist is waived and read-only")
	}

	c := in.Clone()
	r := result
	c.ManifestationResult = &r
	if c.ManifestationDetermination == nil {
		at := now
		c.ManifestationDetermination = &at
	}
	c.UpdatedAt = now
	Recompute(&c)
	return c, nil
}

// OverrideBlock lifts the incompleteness gate. Status is never changed and
// the manifestation gate is never lifted.
func OverrideBlock(in domain.ComplianceChecklist, actor domain.Actor, reason string, now time.Time) (domain.ComplianceChecklist, error) {
	if err := actor.Validate(); err != nil {
		return in, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return in, errors.InvalidInput("reason", "an override reason is required")
	}
	if ManifestationBlocked(in) {
		return in, errors.ManifestationBlock("conduct was determined to be a manifestation of disability; no override can lift this block")
	}
	if in.BlockOverridden {
		return in, errors.Conflict("block is already overridden")
	}
	if !IncompletenessBlocked(in) {
		return in, errors.Conflict("checklist is not blocked")
	}

	c := in.Clone()
	by := actor.ID
	at := now
	c.BlockOverridden = true
	c.OverrideReason = &reason
	c.OverrideBy = &by
	c.OverriddenAt = &at
	c.UpdatedAt = now
	Recompute(&c)
	return c, nil
}

// Considerations are the free-form placement considerations recorded
// alongside the checklist items.
type Considerations struct {
	LeastRestrictiveConsidered *bool
	PlacementJustification     *string
}

// RecordConsiderations updates the least-restrictive flag and the placement
// justification. Nil fields are left unchanged.
func RecordConsiderations(in domain.ComplianceChecklist, cons Considerations, actor domain.Actor, now time.Time) (domain.ComplianceChecklist, error) {
	if err := actor.Validate(); err != nil {
		return in, err
	}
	if cons.LeastRestrictiveConsidered == nil && cons.PlacementJustification == nil {
		return in, errors.InvalidInput("considerations", "nothing to record")
	}
	if err := writable(in); err != nil {
		return in, err
	}

	c := in.Clone()
	if cons.LeastRestrictiveConsidered != nil {
		if *cons.LeastRestrictiveConsidered {
			at := now
			c.LeastRestrictiveConsidered = &at
		} else {
			c.LeastRestrictiveConsidered = nil
		}
	}
	if cons.PlacementJustification != nil {
		if j := strings.TrimSpace(*cons.PlacementJustification); j != "" {
			c.PlacementJustification = &j
		} else {
			c.PlacementJustification = nil
		}
	}
	c.UpdatedAt = now
	return c, nil
}

func writable(c domain.ComplianceChecklist) error {
	switch c.Status {
	case domain.ChecklistCompleted:
		return errors.Conflict("checklist is completed and read-only")
	case domain.ChecklistWaived:
		return errors.Conflict("checklist is waived and read-only")
	}
	return nil
}
