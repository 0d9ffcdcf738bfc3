// Package memory provides an in-memory implementation of the ledger store and
// domain repositories. It backs service-level tests and keeps the same
// append-only discipline as the Postgres store: no update or delete path
// exists for events, audit entries, or review artifacts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
)

type Store struct {
	mu sync.Mutex

	entries []*domain.AuditEntry

	eventSeq    int64
	events      map[uuid.UUID]*domain.ServerEvent
	eventsByKey map[uuid.UUID]uuid.UUID
	eventOrder  []uuid.UUID

	reviews       map[uuid.UUID]*domain.ReviewArtifact
	reviewsByEvt  map[uuid.UUID][]uuid.UUID
	proofs        map[uuid.UUID]*domain.VerificationProof
	proofOrder    []uuid.UUID
	devices       map[uuid.UUID]*domain.Device
	reviewers     map[uuid.UUID]*domain.Reviewer
	reviewerEmail map[string]uuid.UUID
}

func New() *Store {
	return &Store{
		events:        make(map[uuid.UUID]*domain.ServerEvent),
		eventsByKey:   make(map[uuid.UUID]uuid.UUID),
		reviews:       make(map[uuid.UUID]*domain.ReviewArtifact),
		reviewsByEvt:  make(map[uuid.UUID][]uuid.UUID),
		proofs:        make(map[uuid.UUID]*domain.VerificationProof),
		devices:       make(map[uuid.UUID]*domain.Device),
		reviewers:     make(map[uuid.UUID]*domain.Reviewer),
		reviewerEmail: make(map[string]uuid.UUID),
	}
}

func (s *Store) Events() domain.EventRepository       { return &eventRepo{s} }
func (s *Store) Reviews() domain.ReviewRepository     { return &reviewRepo{s} }
func (s *Store) Proofs() domain.ProofRepository       { return &proofRepo{s} }
func (s *Store) Devices() domain.DeviceRepository     { return &deviceRepo{s} }
func (s *Store) Reviewers() domain.ReviewerRepository { return &reviewerRepo{s} }

// ---------------------------------------------------------------------------
// ledger.Store
// ---------------------------------------------------------------------------

type memTx struct {
	store   *Store
	entries []*domain.AuditEntry
	events  []*domain.ServerEvent
	reviews []*domain.ReviewArtifact
}

func (s *Store) WithAppendTx(_ context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		// Roll back any key reservations made by staged event appends.
		for _, ev := range tx.events {
			delete(s.eventsByKey, ev.IdempotencyKey)
			s.eventSeq--
		}
		return err
	}
	tx.commit()

	return nil
}

func (t *memTx) Head(_ context.Context) (int64, string, error) {
	if n := len(t.entries); n > 0 {
		last := t.entries[n-1]
		return last.Seq, last.EntryHash, nil
	}
	if n := len(t.store.entries); n > 0 {
		last := t.store.entries[n-1]
		return last.Seq, last.EntryHash, nil
	}
	return 0, "", nil
}

func (t *memTx) AppendEntry(_ context.Context, e *domain.AuditEntry) error {
	clone := *e
	t.entries = append(t.entries, &clone)
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, ev *domain.ServerEvent) error {
	if _, exists := t.store.eventsByKey[ev.IdempotencyKey]; exists {
		return fmt.Errorf("memory.AppendEvent: idempotency key %s: %w", ev.IdempotencyKey, domain.ErrConflict)
	}

	t.store.eventSeq++
	ev.Seq = t.store.eventSeq

	clone := *ev
	t.events = append(t.events, &clone)
	// Reserve the key so a second append in the same tx conflicts too.
	t.store.eventsByKey[ev.IdempotencyKey] = ev.ID

	return nil
}

func (t *memTx) AppendReview(_ context.Context, r *domain.ReviewArtifact) error {
	clone := *r
	t.reviews = append(t.reviews, &clone)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.entries = append(s.entries, t.entries...)
	for _, ev := range t.events {
		s.events[ev.ID] = ev
		s.eventOrder = append(s.eventOrder, ev.ID)
	}
	for _, r := range t.reviews {
		s.reviews[r.ID] = r
		s.reviewsByEvt[r.EventID] = append(s.reviewsByEvt[r.EventID], r.ID)
	}
}

func (s *Store) ListRange(_ context.Context, fromSeq, toSeq int64) ([]*domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.AuditEntry
	for _, e := range s.entries {
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })

	return out, nil
}

func (s *Store) MaxSeq(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return 0, nil
	}
	return s.entries[len(s.entries)-1].Seq, nil
}

// Corrupt overwrites a stored entry field in place. Test hook for chain
// integrity checks; real stores have no such path.
func (s *Store) Corrupt(seq int64, mutate func(e *domain.AuditEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Seq == seq {
			mutate(e)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// domain.EventRepository
// ---------------------------------------------------------------------------

type eventRepo struct{ s *Store }

func (r *eventRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.ServerEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ev, ok := r.s.events[id]
	if !ok {
		return nil, fmt.Errorf("memory.events.GetByID: %w", domain.ErrNotFound)
	}
	clone := *ev

	return &clone, nil
}

func (r *eventRepo) GetByIdempotencyKey(_ context.Context, key uuid.UUID) (*domain.ServerEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.eventsByKey[key]
	if !ok {
		return nil, fmt.Errorf("memory.events.GetByIdempotencyKey: %w", domain.ErrNotFound)
	}
	ev, ok := r.s.events[id]
	if !ok {
		return nil, fmt.Errorf("memory.events.GetByIdempotencyKey: %w", domain.ErrNotFound)
	}
	clone := *ev

	return &clone, nil
}

func (r *eventRepo) List(_ context.Context, filter domain.EventFilter) ([]*domain.ServerEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	idSet := make(map[uuid.UUID]bool, len(filter.IDs))
	for _, id := range filter.IDs {
		idSet[id] = true
	}

	var out []*domain.ServerEvent
	for _, id := range r.s.eventOrder {
		ev := r.s.events[id]
		if filter.DeviceID != uuid.Nil && ev.DeviceID != filter.DeviceID {
			continue
		}
		if filter.Kind != "" && ev.Kind != filter.Kind {
			continue
		}
		if !filter.From.IsZero() && ev.ReceivedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !ev.ReceivedAt.Before(filter.To) {
			continue
		}
		if len(idSet) > 0 && !idSet[ev.ID] {
			continue
		}
		clone := *ev
		out = append(out, &clone)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}

	return out, nil
}

func (r *eventRepo) History(_ context.Context, id uuid.UUID) ([]*domain.ServerEvent, error) {
	r.s.mu.Lock()
	chain := []*domain.ServerEvent{}
	current, ok := r.s.events[id]
	for ok {
		clone := *current
		chain = append([]*domain.ServerEvent{&clone}, chain...)
		if current.Corrects == nil {
			break
		}
		current, ok = r.s.events[*current.Corrects]
	}
	r.s.mu.Unlock()

	if len(chain) == 0 {
		return nil, fmt.Errorf("memory.events.History: %w", domain.ErrNotFound)
	}

	return chain, nil
}

func (r *eventRepo) DeviceSummary(_ context.Context, deviceID uuid.UUID) (*domain.DeviceSyncSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	summary := &domain.DeviceSyncSummary{DeviceID: deviceID}
	for _, ev := range r.s.events {
		if ev.DeviceID != deviceID {
			continue
		}
		summary.IngestedCount++
		if ev.Seq > summary.LastSeq {
			summary.LastSeq = ev.Seq
			received := ev.ReceivedAt
			summary.LastReceivedAt = &received
		}
	}

	return summary, nil
}

// ---------------------------------------------------------------------------
// domain.ReviewRepository
// ---------------------------------------------------------------------------

type reviewRepo struct{ s *Store }

func (r *reviewRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.ReviewArtifact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	artifact, ok := r.s.reviews[id]
	if !ok {
		return nil, fmt.Errorf("memory.reviews.GetByID: %w", domain.ErrNotFound)
	}
	clone := *artifact

	return &clone, nil
}

func (r *reviewRepo) ListByEvent(_ context.Context, eventID uuid.UUID) ([]*domain.ReviewArtifact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := r.s.reviewsByEvt[eventID]
	out := make([]*domain.ReviewArtifact, 0, len(ids))
	for _, id := range ids {
		clone := *r.s.reviews[id]
		out = append(out, &clone)
	}

	return out, nil
}

// ---------------------------------------------------------------------------
// domain.ProofRepository
// ---------------------------------------------------------------------------

type proofRepo struct{ s *Store }

func (r *proofRepo) Create(_ context.Context, p *domain.VerificationProof) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.proofs[p.ID]; exists {
		return fmt.Errorf("memory.proofs.Create: proof %s: %w", p.ID, domain.ErrConflict)
	}
	clone := *p
	r.s.proofs[p.ID] = &clone
	r.s.proofOrder = append(r.s.proofOrder, p.ID)

	return nil
}

func (r *proofRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.ProofStatus, blob []byte, lastError string, verifiedAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.proofs[id]
	if !ok {
		return fmt.Errorf("memory.proofs.UpdateStatus: %w", domain.ErrNotFound)
	}
	p.Status = status
	p.Blob = blob
	p.LastError = lastError
	p.VerifiedAt = verifiedAt
	p.Attempts++

	return nil
}

func (r *proofRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.VerificationProof, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.proofs[id]
	if !ok {
		return nil, fmt.Errorf("memory.proofs.GetByID: %w", domain.ErrNotFound)
	}
	clone := *p

	return &clone, nil
}

func (r *proofRepo) ListBySubject(_ context.Context, kind domain.ProofSubject, subjectID uuid.UUID) ([]*domain.VerificationProof, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.VerificationProof
	for _, id := range r.s.proofOrder {
		p := r.s.proofs[id]
		if p.SubjectKind == kind && p.SubjectID == subjectID {
			clone := *p
			out = append(out, &clone)
		}
	}

	return out, nil
}

func (r *proofRepo) ListUnresolved(_ context.Context, limit int) ([]*domain.VerificationProof, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.VerificationProof
	for _, id := range r.s.proofOrder {
		p := r.s.proofs[id]
		if p.Status == domain.ProofStatusVerified || p.Status == domain.ProofStatusFailed {
			continue
		}
		clone := *p
		out = append(out, &clone)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

// ---------------------------------------------------------------------------
// domain.DeviceRepository / domain.ReviewerRepository
// ---------------------------------------------------------------------------

type deviceRepo struct{ s *Store }

func (r *deviceRepo) Create(_ context.Context, d *domain.Device) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	clone := *d
	r.s.devices[d.ID] = &clone

	return nil
}

func (r *deviceRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.devices[id]
	if !ok {
		return nil, fmt.Errorf("memory.devices.GetByID: %w", domain.ErrNotFound)
	}
	clone := *d

	return &clone, nil
}

func (r *deviceRepo) GetByKeyPrefix(_ context.Context, prefix string) (*domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, d := range r.s.devices {
		if d.KeyPrefix == prefix {
			clone := *d
			return &clone, nil
		}
	}

	return nil, fmt.Errorf("memory.devices.GetByKeyPrefix: %w", domain.ErrNotFound)
}

func (r *deviceRepo) UpdateLastSeen(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.devices[id]
	if !ok {
		return fmt.Errorf("memory.devices.UpdateLastSeen: %w", domain.ErrNotFound)
	}
	now := time.Now()
	d.LastSeenAt = &now

	return nil
}

func (r *deviceRepo) List(_ context.Context) ([]*domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*domain.Device, 0, len(r.s.devices))
	for _, d := range r.s.devices {
		clone := *d
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

type reviewerRepo struct{ s *Store }

func (r *reviewerRepo) Create(_ context.Context, rv *domain.Reviewer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email := strings.ToLower(rv.Email)
	if _, exists := r.s.reviewerEmail[email]; exists {
		return fmt.Errorf("memory.reviewers.Create: %w", domain.ErrConflict)
	}
	clone := *rv
	r.s.reviewers[rv.ID] = &clone
	r.s.reviewerEmail[email] = rv.ID

	return nil
}

func (r *reviewerRepo) UpdateCredentialState(_ context.Context, id uuid.UUID, state string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rv, ok := r.s.reviewers[id]
	if !ok {
		return fmt.Errorf("memory.reviewers.UpdateCredentialState: %w", domain.ErrNotFound)
	}
	rv.CredentialState = state
	rv.UpdatedAt = time.Now()

	return nil
}

func (r *reviewerRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Reviewer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rv, ok := r.s.reviewers[id]
	if !ok {
		return nil, fmt.Errorf("memory.reviewers.GetByID: %w", domain.ErrNotFound)
	}
	clone := *rv

	return &clone, nil
}

func (r *reviewerRepo) GetByEmail(_ context.Context, email string) (*domain.Reviewer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.reviewerEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("memory.reviewers.GetByEmail: %w", domain.ErrNotFound)
	}
	clone := *r.s.reviewers[id]

	return &clone, nil
}
