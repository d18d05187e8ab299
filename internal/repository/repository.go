// Package repository defines the transactional store the placement services
// run against, and its PostgreSQL implementation.
//
// Every mutating service operation runs inside one WithinTx call. Rows are
// locked in a fixed order (incident, then chain, then checklist) so
// concurrent operations on the same incident serialize instead of
// deadlocking.
package repository

import (
	"context"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
)

// Incidents reads and writes the incident fields the engine owns.
type Incidents interface {
	CreateIncident(ctx context.Context, inc *domain.Incident) error
	GetIncident(ctx context.Context, id string, forUpdate bool) (*domain.Incident, error)
	UpdateIncident(ctx context.Context, inc *domain.Incident) error
}

// Chains persists approval chains with their steps.
type Chains interface {
	CreateChain(ctx context.Context, snap *domain.ChainSnapshot) error
	GetChain(ctx context.Context, id string, forUpdate bool) (*domain.ChainSnapshot, error)
	// GetChainByIncident returns nil, nil when the incident has no chain.
	GetChainByIncident(ctx context.Context, incidentID string, forUpdate bool) (*domain.ChainSnapshot, error)
	FindChainByStep(ctx context.Context, stepID string) (chainID, incidentID string, err error)
	// SaveChain writes after over before. It fails with a StaleStep error
	// when the stored chain no longer matches before, and bumps
	// after.Chain.Version on success.
	SaveChain(ctx context.Context, before domain.ChainSnapshot, after *domain.ChainSnapshot) error
	ListWaitingSteps(ctx context.Context, role string) ([]domain.PendingStep, error)
}

// Checklists persists compliance checklists.
type Checklists interface {
	CreateChecklist(ctx context.Context, c *domain.ComplianceChecklist) error
	GetChecklist(ctx context.Context, id string, forUpdate bool) (*domain.ComplianceChecklist, error)
	// GetChecklistByIncident returns nil, nil when the incident has no checklist.
	GetChecklistByIncident(ctx context.Context, incidentID string, forUpdate bool) (*domain.ComplianceChecklist, error)
	SaveChecklist(ctx context.Context, c *domain.ComplianceChecklist) error
}

// AuditLog appends to and reads the immutable audit log.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, incidentID string) ([]*domain.AuditEntry, error)
}

// Tx is the set of repositories bound to one transaction.
type Tx interface {
	Incidents
	Chains
	Checklists
	AuditLog
}

// Store opens transactions.
type Store interface {
	// WithinTx runs fn in a transaction, committing when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ReadOnly runs fn against committed state. Locking reads are not
	// allowed inside it.
	ReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}
