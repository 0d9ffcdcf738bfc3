package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
)

// Anchorer publishes one Merkle root and returns an anchor reference,
// typically a transaction id on a distributed ledger.
type Anchorer interface {
	SubmitRoot(ctx context.Context, root string) (ref string, err error)
}

// AnchorProvider batches payload hashes and anchors them under a single
// Merkle root, so many proofs share one anchor transaction. Proofs stay
// PENDING until their batch is flushed.
type AnchorProvider struct {
	anchorer  Anchorer
	batchSize int

	// flushMu serializes Flush end to end. The timer-driven flusher and a
	// batch-full flush on the ingest path may run concurrently; without it
	// both would copy the same batch, submit it twice, and the second trim
	// would slice past the end.
	flushMu sync.Mutex

	mu       sync.Mutex
	batch    []string
	anchored map[string]anchorRecord // payload hash -> batch outcome
}

type anchorRecord struct {
	Root string
	Ref  string
	Path []ledger.PathStep
}

type anchorBlob struct {
	OccurredAt time.Time         `json:"occurred_at"`
	Root       string            `json:"root,omitempty"`
	Ref        string            `json:"ref,omitempty"`
	Path       []ledger.PathStep `json:"path,omitempty"`
}

func NewAnchorProvider(anchorer Anchorer, batchSize int) *AnchorProvider {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &AnchorProvider{
		anchorer:  anchorer,
		batchSize: batchSize,
		anchored:  make(map[string]anchorRecord),
	}
}

func (p *AnchorProvider) Name() string { return "anchor" }

func (p *AnchorProvider) CreateProof(ctx context.Context, req Request) (*domain.VerificationProof, error) {
	blob, err := json.Marshal(anchorBlob{OccurredAt: req.OccurredAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("verify.anchor.CreateProof: %w", err)
	}

	p.mu.Lock()
	p.batch = append(p.batch, req.PayloadHash)
	full := len(p.batch) >= p.batchSize
	p.mu.Unlock()

	if full {
		if flushErr := p.Flush(ctx); flushErr != nil {
			// The hash stays queued; the retry worker resolves the proof
			// after a later successful flush.
			return nil, fmt.Errorf("verify.anchor.CreateProof: %w", flushErr)
		}
	}

	proof := newProof(p.Name(), req, domain.ProofStatusPending)
	proof.Blob = blob

	return proof, nil
}

// Flush anchors the current batch. Safe to call concurrently from the timer
// and the ingest path: a second caller waits, then re-reads the (now trimmed)
// batch. A failed submit leaves the batch intact for the next attempt.
func (p *AnchorProvider) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if len(p.batch) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := make([]string, len(p.batch))
	copy(batch, p.batch)
	p.mu.Unlock()

	root := ledger.MerkleRoot(batch)
	ref, err := p.anchorer.SubmitRoot(ctx, root)
	if err != nil {
		return fmt.Errorf("verify.anchor.Flush: %w", err)
	}

	p.mu.Lock()
	for i, hash := range batch {
		p.anchored[hash] = anchorRecord{
			Root: root,
			Ref:  ref,
			Path: ledger.MerklePath(batch, i),
		}
	}
	p.batch = p.batch[len(batch):]
	p.mu.Unlock()

	return nil
}

func (p *AnchorProvider) VerifyProof(_ context.Context, proof *domain.VerificationProof) (Result, error) {
	var blob anchorBlob
	if err := json.Unmarshal(proof.Blob, &blob); err != nil {
		return Result{Status: domain.ProofStatusFailed, Detail: "malformed proof blob"}, nil
	}

	// Already carries its inclusion proof: re-check it.
	if blob.Root != "" {
		if ledger.VerifyPath(proof.PayloadHash, blob.Path, blob.Root) {
			return Result{Status: domain.ProofStatusVerified, Blob: proof.Blob}, nil
		}
		return Result{Status: domain.ProofStatusFailed, Detail: "inclusion path does not reach anchored root"}, nil
	}

	p.mu.Lock()
	rec, ok := p.anchored[proof.PayloadHash]
	p.mu.Unlock()

	if !ok {
		// Batch not flushed yet.
		return Result{Status: domain.ProofStatusPending, Blob: proof.Blob}, nil
	}

	if !ledger.VerifyPath(proof.PayloadHash, rec.Path, rec.Root) {
		return Result{Status: domain.ProofStatusFailed, Detail: "inclusion path does not reach anchored root"}, nil
	}

	blob.Root = rec.Root
	blob.Ref = rec.Ref
	blob.Path = rec.Path
	updated, err := json.Marshal(blob)
	if err != nil {
		return Result{}, fmt.Errorf("verify.anchor.VerifyProof: %w", err)
	}

	return Result{Status: domain.ProofStatusVerified, Blob: updated}, nil
}
