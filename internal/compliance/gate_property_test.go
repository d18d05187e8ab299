package compliance

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
)

// action indexes: 0..7 toggle an item, 8 not_manifestation, 9 is_manifestation, 10 override.
func run(actions []int) domain.ComplianceChecklist {
	c := fresh()
	for _, a := range actions {
		var (
			next domain.ComplianceChecklist
			err  error
		)
		switch {
		case a < len(domain.ChecklistItems):
			next, err = ToggleItem(c, domain.ChecklistItems[a], coord, now)
		case a == 8:
			next, err = SetManifestationResult(c, domain.NotManifestation, coord, now)
		case a == 9:
			next, err = SetManifestationResult(c, domain.IsManifestation, coord, now)
		default:
			next, err = OverrideBlock(c, super, "board approval", now)
		}
		if err == nil {
			c = next
		}
	}
	return c
}

func TestGateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)
	actions := gen.SliceOf(gen.IntRange(0, 10))

	properties.Property("completed checklists are never blocked", prop.ForAll(
		func(actions []int) bool {
			c := run(actions)
			return c.Status != domain.ChecklistCompleted || !c.PlacementBlocked
		},
		actions,
	))

	properties.Property("stored derived fields always match a fresh derivation", prop.ForAll(
		func(actions []int) bool {
			c := run(actions)
			return c.Status == DeriveStatus(c) && c.PlacementBlocked == DerivePlacementBlocked(c)
		},
		actions,
	))

	properties.Property("override never changes status", prop.ForAll(
		func(actions []int) bool {
			c := run(actions)
			got, err := OverrideBlock(c, super, "board approval", now)
			if err != nil {
				return true
			}
			return got.Status == c.Status && !got.PlacementBlocked
		},
		actions,
	))

	properties.Property("a manifestation result can never be overridden", prop.ForAll(
		func(actions []int) bool {
			c := run(append(actions, 9))
			if !ManifestationBlocked(c) {
				return true
			}
			_, err := OverrideBlock(c, super, "board approval", now)
			return err != nil
		},
		actions,
	))

	properties.TestingRun(t)
}
