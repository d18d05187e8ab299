package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-discipline-placements/internal/approval"
	"github.com/pesio-ai/be-discipline-placements/internal/compliance"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/database"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// openTestStore connects to TEST_DATABASE_URL and applies the schema. The
// PostgreSQL tests are skipped when it is unset.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.NewFromURL(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, Migrate(ctx, db))
	return NewPostgresStore(db)
}

func newIncident(t *testing.T, s *PostgresStore) domain.Incident {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	inc := domain.Incident{
		ID:              uuid.NewString(),
		StudentID:       uuid.NewString(),
		CampusID:        "north",
		ConsequenceType: "daep",
		StudentIsSPED:   true,
		Status:          domain.IncidentPendingApproval,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateIncident(ctx, &inc)
	})
	require.NoError(t, err)
	return inc
}

func TestPostgresChainRoundTrip(t *testing.T) {
	s := openTestStore(t)
	inc := newIncident(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	res, err := approval.NewChain(approval.NewChainParams{
		ChainID:     uuid.NewString(),
		IncidentID:  inc.ID,
		SubmittedBy: domain.Actor{ID: "u-teacher", Role: "teacher"},
		NewID:       uuid.NewString,
		Now:         now,
		Steps: []domain.StepDefinition{
			{Role: "cbc", Label: "CBC", Applicable: true},
			{Role: "sped_coordinator", Label: "SPED", AppliesWhen: "student.sped", Applicable: false},
			{Role: "principal", Label: "Principal", Applicable: true},
		},
	})
	require.NoError(t, err)
	snap := res.Snapshot
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateChain(ctx, &snap)
	}))

	var loaded *domain.ChainSnapshot
	require.NoError(t, s.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		loaded, err = tx.GetChainByIncident(ctx, inc.ID, false)
		return err
	}))
	require.NotNil(t, loaded)
	assert.Equal(t, snap.Chain.ID, loaded.Chain.ID)
	require.Len(t, loaded.Steps, 3)
	assert.Equal(t, domain.StepWaiting, loaded.Steps[0].Status)
	assert.False(t, loaded.Steps[1].Applicable)

	approved, err := approval.Approve(*loaded, loaded.Steps[0].ID, domain.Actor{ID: "u-cbc", Role: "cbc"}, "ok", now)
	require.NoError(t, err)
	after := approved.Snapshot
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetChain(ctx, loaded.Chain.ID, true)
		if err != nil {
			return err
		}
		return tx.SaveChain(ctx, *locked, &after)
	}))
	assert.Equal(t, 2, after.Chain.Version)

	// replaying against the stale snapshot must fail
	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		again := approved.Snapshot.Clone()
		return tx.SaveChain(ctx, *loaded, &again)
	})
	assert.True(t, errors.Is(err, errors.ErrCodeStaleStep))

	require.NoError(t, s.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		pending, err := tx.ListWaitingSteps(ctx, "principal")
		if err != nil {
			return err
		}
		found := false
		for _, p := range pending {
			if p.ChainID == snap.Chain.ID {
				found = true
				assert.Equal(t, 3, p.Step.StepOrder)
			}
		}
		assert.True(t, found)
		return nil
	}))

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		dup := snap.Clone()
		dup.Chain.ID = uuid.NewString()
		return tx.CreateChain(ctx, &dup)
	})
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

func TestPostgresChecklistAndAudit(t *testing.T) {
	s := openTestStore(t)
	inc := newIncident(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)
	ctx := context.Background()
	coord := domain.Actor{ID: "u-coord", Role: "sped_coordinator"}

	cl := compliance.NewChecklist(uuid.NewString(), inc, now)
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateChecklist(ctx, &cl)
	}))

	next, err := compliance.SetManifestationResult(cl, domain.NotManifestation, coord, now)
	require.NoError(t, err)
	next, err = compliance.OverrideBlock(next, domain.Actor{ID: "u-super", Role: "superintendent"}, "superintendent authorization", now)
	require.NoError(t, err)

	before := inc.Status
	after := domain.IncidentApproved
	reason := "superintendent authorization"
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.SaveChecklist(ctx, &next); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &domain.AuditEntry{
			ID:                   uuid.NewString(),
			IncidentID:           inc.ID,
			ChecklistID:          &next.ID,
			Action:               domain.AuditBlockOverridden,
			PerformedBy:          "u-super",
			PerformedRole:        "superintendent",
			PerformedAt:          now,
			Reason:               &reason,
			IncidentStatusBefore: &before,
			IncidentStatusAfter:  &after,
			Metadata:             map[string]any{"unmet": []string{"parent_notified"}},
		})
	}))

	require.NoError(t, s.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.GetChecklistByIncident(ctx, inc.ID, false)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.BlockOverridden)
		assert.False(t, got.PlacementBlocked)
		require.NotNil(t, got.ManifestationResult)
		assert.Equal(t, domain.NotManifestation, *got.ManifestationResult)

		entries, err := tx.ListAudit(ctx, inc.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, domain.AuditBlockOverridden, entries[0].Action)
		assert.Equal(t, domain.IncidentApproved, *entries[0].IncidentStatusAfter)
		assert.Contains(t, entries[0].Metadata, "unmet")
		return nil
	}))

	_, err = s.db.Exec(ctx, `DELETE FROM daep_placement_audit_log WHERE incident_id = $1`, inc.ID)
	assert.Error(t, err, "audit log is append-only")
}

func TestPostgresIncidentNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.ReadOnly(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.GetIncident(ctx, uuid.NewString(), false)
		return err
	})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}
