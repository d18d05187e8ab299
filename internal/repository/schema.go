package repository

import (
	"context"
	"fmt"
)

// migrations are applied in order. Every statement is idempotent so Migrate
// can run on each start when DB_AUTO_MIGRATE is set.
var migrations = []string{
	`DO $$ BEGIN
		CREATE TYPE incident_status AS ENUM
			('draft', 'pending_approval', 'approved', 'denied', 'returned', 'active', 'completed');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`DO $$ BEGIN
		CREATE TYPE approval_chain_status AS ENUM ('in_progress', 'approved', 'denied', 'returned');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`DO $$ BEGIN
		CREATE TYPE approval_step_status AS ENUM
			('pending', 'waiting', 'approved', 'denied', 'returned', 'skipped');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`DO $$ BEGIN
		CREATE TYPE compliance_status AS ENUM ('incomplete', 'in_progress', 'completed', 'waived');
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`CREATE TABLE IF NOT EXISTS discipline_incidents (
		id                 TEXT PRIMARY KEY,
		student_id         TEXT NOT NULL,
		campus_id          TEXT NOT NULL DEFAULT '',
		consequence_type   TEXT NOT NULL,
		student_is_sped    BOOLEAN NOT NULL DEFAULT FALSE,
		student_is_504     BOOLEAN NOT NULL DEFAULT FALSE,
		status             incident_status NOT NULL DEFAULT 'draft',
		compliance_cleared BOOLEAN NOT NULL DEFAULT FALSE,
		approved_by        TEXT,
		approved_at        TIMESTAMPTZ,
		activated_at       TIMESTAMPTZ,
		completed_at       TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS daep_approval_chains (
		id                 TEXT PRIMARY KEY,
		incident_id        TEXT NOT NULL UNIQUE REFERENCES discipline_incidents(id),
		chain_status       approval_chain_status NOT NULL,
		submitted_by       TEXT NOT NULL,
		current_step_order INT,
		denied_by          TEXT,
		denied_reason      TEXT,
		returned_by        TEXT,
		return_reason      TEXT,
		template_name      TEXT NOT NULL DEFAULT '',
		version            INT NOT NULL DEFAULT 1,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS daep_approval_steps (
		id           TEXT PRIMARY KEY,
		chain_id     TEXT NOT NULL REFERENCES daep_approval_chains(id),
		step_order   INT NOT NULL,
		step_role    TEXT NOT NULL,
		step_label   TEXT NOT NULL,
		applies_when TEXT NOT NULL DEFAULT '',
		applicable   BOOLEAN NOT NULL,
		status       approval_step_status NOT NULL,
		acted_by     TEXT,
		acted_at     TIMESTAMPTZ,
		comments     TEXT,
		UNIQUE (chain_id, step_order)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_daep_approval_steps_waiting
		ON daep_approval_steps (step_role) WHERE status = 'waiting'`,

	`CREATE TABLE IF NOT EXISTS daep_compliance_checklists (
		id                            TEXT PRIMARY KEY,
		incident_id                   TEXT NOT NULL UNIQUE REFERENCES discipline_incidents(id),
		student_id                    TEXT NOT NULL,
		ard_committee_notified        TIMESTAMPTZ,
		manifestation_determination   TIMESTAMPTZ,
		bip_reviewed                  TIMESTAMPTZ,
		fba_conducted                 TIMESTAMPTZ,
		parent_notified               TIMESTAMPTZ,
		fape_plan_documented          TIMESTAMPTZ,
		iep_goals_reviewed            TIMESTAMPTZ,
		educational_services_arranged TIMESTAMPTZ,
		manifestation_result          TEXT CHECK (manifestation_result IN ('is_manifestation', 'not_manifestation')),
		least_restrictive_considered  TIMESTAMPTZ,
		placement_justification       TEXT,
		status                        compliance_status NOT NULL,
		placement_blocked             BOOLEAN NOT NULL,
		block_overridden              BOOLEAN NOT NULL DEFAULT FALSE,
		override_reason               TEXT,
		override_by                   TEXT,
		overridden_at                 TIMESTAMPTZ,
		created_at                    TIMESTAMPTZ NOT NULL,
		updated_at                    TIMESTAMPTZ NOT NULL,
		CHECK (block_overridden = (override_reason IS NOT NULL AND override_by IS NOT NULL))
	)`,

	`CREATE TABLE IF NOT EXISTS daep_placement_audit_log (
		id                     TEXT PRIMARY KEY,
		incident_id            TEXT NOT NULL,
		chain_id               TEXT,
		step_id                TEXT,
		checklist_id           TEXT,
		action                 TEXT NOT NULL,
		performed_by           TEXT NOT NULL,
		performed_role         TEXT NOT NULL,
		performed_at           TIMESTAMPTZ NOT NULL,
		reason                 TEXT,
		incident_status_before incident_status,
		incident_status_after  incident_status,
		metadata               JSONB,
		seq                    BIGSERIAL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_daep_placement_audit_incident
		ON daep_placement_audit_log (incident_id, seq)`,

	`CREATE OR REPLACE FUNCTION daep_audit_immutable() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'daep_placement_audit_log is append-only';
	END $$ LANGUAGE plpgsql`,

	`DO $$ BEGIN
		CREATE TRIGGER daep_audit_no_mutation
			BEFORE UPDATE OR DELETE ON daep_placement_audit_log
			FOR EACH ROW EXECUTE FUNCTION daep_audit_immutable();
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, q Querier) error {
	for i, stmt := range migrations {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
