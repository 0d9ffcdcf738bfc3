package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// TimestampProvider submits payload hashes to a third-party timestamping
// service. Proofs start PENDING and resolve on a later poll; which vendor
// sits behind the endpoint is deliberately outside this abstraction.
type TimestampProvider struct {
	baseURL string
	client  *http.Client
}

type timestampBlob struct {
	Token      string    `json:"token"`
	OccurredAt time.Time `json:"occurred_at"`
	Receipt    string    `json:"receipt,omitempty"`
}

func NewTimestampProvider(baseURL string, timeout time.Duration) *TimestampProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TimestampProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *TimestampProvider) Name() string { return "timestamp" }

func (p *TimestampProvider) CreateProof(ctx context.Context, req Request) (*domain.VerificationProof, error) {
	body, err := json.Marshal(map[string]string{
		"hash":        req.PayloadHash,
		"occurred_at": req.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("verify.timestamp.CreateProof: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/stamps", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("verify.timestamp.CreateProof: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("verify.timestamp.CreateProof: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("verify.timestamp.CreateProof: service returned %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("verify.timestamp.CreateProof: decode: %w", err)
	}

	blob, err := json.Marshal(timestampBlob{Token: out.Token, OccurredAt: req.OccurredAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("verify.timestamp.CreateProof: %w", err)
	}

	proof := newProof(p.Name(), req, domain.ProofStatusPending)
	proof.Blob = blob

	return proof, nil
}

func (p *TimestampProvider) VerifyProof(ctx context.Context, proof *domain.VerificationProof) (Result, error) {
	var blob timestampBlob
	if err := json.Unmarshal(proof.Blob, &blob); err != nil {
		return Result{Status: domain.ProofStatusFailed, Detail: "malformed proof blob"}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/stamps/"+blob.Token, nil)
	if err != nil {
		return Result{}, fmt.Errorf("verify.timestamp.VerifyProof: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("verify.timestamp.VerifyProof: poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{Status: domain.ProofStatusFailed, Detail: "stamp token unknown to service"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("verify.timestamp.VerifyProof: service returned %d", resp.StatusCode)
	}

	var out struct {
		Status  string `json:"status"` // "pending", "complete", "failed"
		Receipt string `json:"receipt"`
		Hash    string `json:"hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("verify.timestamp.VerifyProof: decode: %w", err)
	}

	switch out.Status {
	case "complete":
		if out.Hash != "" && out.Hash != proof.PayloadHash {
			return Result{Status: domain.ProofStatusFailed, Detail: "service receipt covers a different hash"}, nil
		}
		blob.Receipt = out.Receipt
		updated, marshalErr := json.Marshal(blob)
		if marshalErr != nil {
			return Result{}, fmt.Errorf("verify.timestamp.VerifyProof: %w", marshalErr)
		}
		return Result{Status: domain.ProofStatusVerified, Blob: updated}, nil
	case "failed":
		return Result{Status: domain.ProofStatusFailed, Detail: "timestamping service rejected the stamp"}, nil
	default:
		return Result{Status: domain.ProofStatusPending, Blob: proof.Blob}, nil
	}
}
