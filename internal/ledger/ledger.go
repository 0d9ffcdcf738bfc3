// Package ledger maintains the hash-chained audit log. Sequence numbers are
// gapless and allocated under a single-writer discipline: every append runs
// inside a store transaction that holds the ledger lock, and an in-process
// mutex keeps concurrent appenders from even contending on it.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// Tx is the write surface available inside a ledger append transaction.
// Records written here land atomically with the audit entry that describes
// them: either both commit or neither does.
type Tx interface {
	// Head returns the current highest sequence number and its entry hash.
	// Returns (0, "") for an empty chain.
	Head(ctx context.Context) (int64, string, error)
	AppendEntry(ctx context.Context, e *domain.AuditEntry) error
	AppendEvent(ctx context.Context, ev *domain.ServerEvent) error
	AppendReview(ctx context.Context, r *domain.ReviewArtifact) error
}

// Store is the persistence boundary for the ledger.
type Store interface {
	// WithAppendTx runs fn inside a transaction holding the single-writer
	// ledger lock. Appends from concurrent processes serialize here.
	WithAppendTx(ctx context.Context, fn func(tx Tx) error) error
	ListRange(ctx context.Context, fromSeq, toSeq int64) ([]*domain.AuditEntry, error)
	MaxSeq(ctx context.Context) (int64, error)
}

// Input describes one state-changing action to record.
type Input struct {
	Action  domain.AuditAction
	Actor   string
	Target  string
	Payload any // canonicalized and digested; never stored raw
}

// Ledger is the only mutation point for the audit chain.
type Ledger struct {
	store Store
	mu    sync.Mutex
	now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Append records one action as the next chain entry.
func (l *Ledger) Append(ctx context.Context, in Input) (*domain.AuditEntry, error) {
	return l.AppendWith(ctx, in, nil)
}

// AppendWith records one action and, in the same transaction, runs extra
// against the store. This is how a ServerEvent or ReviewArtifact lands
// atomically with its audit entry, preserving gaplessness even on failure.
func (l *Ledger) AppendWith(ctx context.Context, in Input, extra func(tx Tx) error) (*domain.AuditEntry, error) {
	digest, err := domain.Digest(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("ledger.AppendWith: digest payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var entry *domain.AuditEntry

	err = l.store.WithAppendTx(ctx, func(tx Tx) error {
		if extra != nil {
			if extraErr := extra(tx); extraErr != nil {
				return extraErr
			}
		}

		headSeq, headHash, headErr := tx.Head(ctx)
		if headErr != nil {
			return fmt.Errorf("read head: %w", headErr)
		}

		entry = buildEntry(headSeq, headHash, in.Action, in.Actor, in.Target, digest, l.now())

		if appendErr := tx.AppendEntry(ctx, entry); appendErr != nil {
			return fmt.Errorf("append entry: %w", appendErr)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger.AppendWith: %w", err)
	}

	return entry, nil
}

// VerifyChain recomputes entry hashes over [fromSeq, toSeq] and checks
// linkage and gaplessness. Returns false on any mismatch. A false result is
// a fatal integrity condition for the affected region, never auto-healed.
func (l *Ledger) VerifyChain(ctx context.Context, fromSeq, toSeq int64) (bool, error) {
	if fromSeq < 1 || toSeq < fromSeq {
		return false, fmt.Errorf("ledger.VerifyChain: invalid range [%d, %d]", fromSeq, toSeq)
	}

	// Anchor the range: either genesis or the stored hash of the entry
	// immediately before the range.
	expectedPrev := GenesisHash
	if fromSeq > 1 {
		prior, err := l.store.ListRange(ctx, fromSeq-1, fromSeq-1)
		if err != nil {
			return false, fmt.Errorf("ledger.VerifyChain: load anchor: %w", err)
		}
		if len(prior) != 1 {
			return false, nil // anchor entry missing: the chain has a gap
		}
		expectedPrev = prior[0].EntryHash
	}

	entries, err := l.store.ListRange(ctx, fromSeq, toSeq)
	if err != nil {
		return false, fmt.Errorf("ledger.VerifyChain: load range: %w", err)
	}
	if int64(len(entries)) != toSeq-fromSeq+1 {
		return false, nil
	}

	expectedSeq := fromSeq
	for _, e := range entries {
		if e.Seq != expectedSeq {
			return false, nil
		}
		if e.PrevHash != expectedPrev {
			return false, nil
		}
		if Recompute(e) != e.EntryHash {
			return false, nil
		}
		expectedPrev = e.EntryHash
		expectedSeq++
	}

	return true, nil
}

// Entries returns the raw entries in [fromSeq, toSeq], ordered by sequence.
func (l *Ledger) Entries(ctx context.Context, fromSeq, toSeq int64) ([]*domain.AuditEntry, error) {
	entries, err := l.store.ListRange(ctx, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("ledger.Entries: %w", err)
	}
	return entries, nil
}

// MaxSeq returns the highest allocated sequence number, 0 when empty.
func (l *Ledger) MaxSeq(ctx context.Context) (int64, error) {
	seq, err := l.store.MaxSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger.MaxSeq: %w", err)
	}
	return seq, nil
}
