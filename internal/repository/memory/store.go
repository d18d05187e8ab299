// Package memory provides an in-process transactional Store. It backs the
// memory STORE_DRIVER and the service tests.
//
// A transaction works on a private copy of the whole state under the store
// mutex and swaps it in on commit, so transactions are fully serialized and
// a failed one leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pesio-ai/be-discipline-placements/internal/approval"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/repository"
)

type state struct {
	incidents  map[string]domain.Incident
	chains     map[string]domain.ChainSnapshot
	checklists map[string]domain.ComplianceChecklist
	audit      []domain.AuditEntry
}

func newState() state {
	return state{
		incidents:  map[string]domain.Incident{},
		chains:     map[string]domain.ChainSnapshot{},
		checklists: map[string]domain.ComplianceChecklist{},
	}
}

func (s state) clone() state {
	out := state{
		incidents:  make(map[string]domain.Incident, len(s.incidents)),
		chains:     make(map[string]domain.ChainSnapshot, len(s.chains)),
		checklists: make(map[string]domain.ComplianceChecklist, len(s.checklists)),
		audit:      make([]domain.AuditEntry, len(s.audit)),
	}
	for k, v := range s.incidents {
		out.incidents[k] = v
	}
	for k, v := range s.chains {
		out.chains[k] = v.Clone()
	}
	for k, v := range s.checklists {
		out.checklists[k] = v.Clone()
	}
	copy(out.audit, s.audit)
	return out
}

// Store is the in-memory repository.Store.
type Store struct {
	mu    sync.Mutex
	state state
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// WithinTx runs fn against a copy of the state and commits it when fn
// returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, &tx{st: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// ReadOnly runs fn against a copy of the committed state. Writes made by
// fn are discarded.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	view := s.state.clone()
	s.mu.Unlock()
	return fn(ctx, &tx{st: &view})
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type tx struct {
	st *state
}

func (t *tx) CreateIncident(_ context.Context, inc *domain.Incident) error {
	if _, ok := t.st.incidents[inc.ID]; ok {
		return errors.Conflict(fmt.Sprintf("incident %q already exists", inc.ID))
	}
	t.st.incidents[inc.ID] = *inc
	return nil
}

func (t *tx) GetIncident(_ context.Context, id string, _ bool) (*domain.Incident, error) {
	inc, ok := t.st.incidents[id]
	if !ok {
		return nil, errors.NotFound("incident", id)
	}
	return &inc, nil
}

func (t *tx) UpdateIncident(_ context.Context, inc *domain.Incident) error {
	if _, ok := t.st.incidents[inc.ID]; !ok {
		return errors.NotFound("incident", inc.ID)
	}
	t.st.incidents[inc.ID] = *inc
	return nil
}

func (t *tx) CreateChain(_ context.Context, snap *domain.ChainSnapshot) error {
	if err := approval.Validate(*snap); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "refusing to store invalid approval chain")
	}
	if _, ok := t.st.incidents[snap.Chain.IncidentID]; !ok {
		return errors.NotFound("incident", snap.Chain.IncidentID)
	}
	for _, c := range t.st.chains {
		if c.Chain.IncidentID == snap.Chain.IncidentID {
			return errors.Conflict(fmt.Sprintf("incident %q already has an approval chain", snap.Chain.IncidentID))
		}
	}
	if _, ok := t.st.chains[snap.Chain.ID]; ok {
		return errors.Conflict(fmt.Sprintf("approval chain %q already exists", snap.Chain.ID))
	}
	t.st.chains[snap.Chain.ID] = snap.Clone()
	return nil
}

func (t *tx) GetChain(_ context.Context, id string, _ bool) (*domain.ChainSnapshot, error) {
	c, ok := t.st.chains[id]
	if !ok {
		return nil, errors.NotFound("approval_chain", id)
	}
	out := c.Clone()
	return &out, nil
}

func (t *tx) GetChainByIncident(_ context.Context, incidentID string, _ bool) (*domain.ChainSnapshot, error) {
	for _, c := range t.st.chains {
		if c.Chain.IncidentID == incidentID {
			out := c.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (t *tx) FindChainByStep(_ context.Context, stepID string) (string, string, error) {
	for _, c := range t.st.chains {
		if _, ok := c.StepIndex(stepID); ok {
			return c.Chain.ID, c.Chain.IncidentID, nil
		}
	}
	return "", "", errors.NotFound("approval_step", stepID)
}

// SaveChain applies the same version and step-status guards as the
// PostgreSQL store.
func (t *tx) SaveChain(_ context.Context, before domain.ChainSnapshot, after *domain.ChainSnapshot) error {
	cur, ok := t.st.chains[after.Chain.ID]
	if !ok {
		return errors.NotFound("approval_chain", after.Chain.ID)
	}
	if cur.Chain.Version != before.Chain.Version {
		return errors.StaleStep(fmt.Sprintf("approval chain %s changed concurrently; refetch the chain", after.Chain.ID))
	}
	if len(cur.Steps) != len(after.Steps) || len(before.Steps) != len(after.Steps) {
		return errors.New(errors.ErrCodeInternal, "approval chain step count changed")
	}
	for i := range cur.Steps {
		if cur.Steps[i].Status != before.Steps[i].Status {
			return errors.StaleStep(fmt.Sprintf("approval step %d is no longer %s; refetch the chain", cur.Steps[i].StepOrder, before.Steps[i].Status))
		}
	}
	if err := approval.Validate(*after); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "refusing to store invalid approval chain")
	}
	after.Chain.Version = cur.Chain.Version + 1
	t.st.chains[after.Chain.ID] = after.Clone()
	return nil
}

func (t *tx) ListWaitingSteps(_ context.Context, role string) ([]domain.PendingStep, error) {
	var chains []domain.ChainSnapshot
	for _, c := range t.st.chains {
		if c.Chain.Status == domain.ChainInProgress {
			chains = append(chains, c)
		}
	}
	sort.Slice(chains, func(i, j int) bool {
		if !chains[i].Chain.CreatedAt.Equal(chains[j].Chain.CreatedAt) {
			return chains[i].Chain.CreatedAt.Before(chains[j].Chain.CreatedAt)
		}
		return chains[i].Chain.ID < chains[j].Chain.ID
	})

	out := []domain.PendingStep{}
	for _, c := range chains {
		for _, st := range c.Steps {
			if st.Status == domain.StepWaiting && strings.EqualFold(st.StepRole, role) {
				out = append(out, domain.PendingStep{Step: st, IncidentID: c.Chain.IncidentID, ChainID: c.Chain.ID})
			}
		}
	}
	return out, nil
}

func (t *tx) CreateChecklist(_ context.Context, c *domain.ComplianceChecklist) error {
	if _, ok := t.st.incidents[c.IncidentID]; !ok {
		return errors.NotFound("incident", c.IncidentID)
	}
	for _, existing := range t.st.checklists {
		if existing.IncidentID == c.IncidentID {
			return errors.Conflict(fmt.Sprintf("incident %q already has a compliance checklist", c.IncidentID))
		}
	}
	t.st.checklists[c.ID] = c.Clone()
	return nil
}

func (t *tx) GetChecklist(_ context.Context, id string, _ bool) (*domain.ComplianceChecklist, error) {
	c, ok := t.st.checklists[id]
	if !ok {
		return nil, errors.NotFound("compliance_checklist", id)
	}
	out := c.Clone()
	return &out, nil
}

func (t *tx) GetChecklistByIncident(_ context.Context, incidentID string, _ bool) (*domain.ComplianceChecklist, error) {
	for _, c := range t.st.checklists {
		if c.IncidentID == incidentID {
			out := c.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (t *tx) SaveChecklist(_ context.Context, c *domain.ComplianceChecklist) error {
	if _, ok := t.st.checklists[c.ID]; !ok {
		return errors.NotFound("compliance_checklist", c.ID)
	}
	t.st.checklists[c.ID] = c.Clone()
	return nil
}

func (t *tx) AppendAudit(_ context.Context, entry *domain.AuditEntry) error {
	t.st.audit = append(t.st.audit, *entry)
	return nil
}

func (t *tx) ListAudit(_ context.Context, incidentID string) ([]*domain.AuditEntry, error) {
	out := []*domain.AuditEntry{}
	for i := range t.st.audit {
		if t.st.audit[i].IncidentID == incidentID {
			e := t.st.audit[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

var _ repository.Store = (*Store)(nil)
