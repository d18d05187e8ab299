package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-discipline-placements/internal/platform/database"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// Querier is satisfied by both the pool wrapper and a pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the Store backed by PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type pgTx struct {
	*IncidentRepository
	*ApprovalChainRepository
	*ComplianceChecklistRepository
	*ApprovalAuditRepository
}

func bind(q Querier) *pgTx {
	steps := NewApprovalStepsRepository(q)
	return &pgTx{
		IncidentRepository:            NewIncidentRepository(q),
		ApprovalChainRepository:       NewApprovalChainRepository(q, steps),
		ComplianceChecklistRepository: NewComplianceChecklistRepository(q),
		ApprovalAuditRepository:       NewApprovalAuditRepository(q),
	}
}

// WithinTx runs fn inside a read-committed transaction. Row locks taken
// with forUpdate reads plus the optimistic predicates in SaveChain make each
// step action linearizable.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(ctx, bind(tx))
	})
}

// ReadOnly runs fn directly on the pool, which always points at the primary.
func (s *PostgresStore) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return fn(ctx, bind(s.db))
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Pool.Ping(ctx)
}

const uniqueViolation = "23505"

// translate maps driver errors onto application errors.
func translate(err error, message string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrap(err, errors.ErrCodeConflict, message)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, message)
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
