package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPAnchorer submits Merkle roots to an external anchoring service over
// HTTP. The service is expected to publish the root to a distributed ledger
// and return a transaction reference.
type HTTPAnchorer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAnchorer(baseURL string, timeout time.Duration) *HTTPAnchorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAnchorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type anchorSubmission struct {
	Root string `json:"root"`
}

type anchorReceipt struct {
	Ref string `json:"ref"`
}

// SubmitRoot posts the root to the anchoring service and returns its
// transaction reference.
func (a *HTTPAnchorer) SubmitRoot(ctx context.Context, root string) (string, error) {
	body, err := json.Marshal(anchorSubmission{Root: root})
	if err != nil {
		return "", fmt.Errorf("verify.SubmitRoot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/anchors", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("verify.SubmitRoot: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("verify.SubmitRoot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("verify.SubmitRoot: anchoring service returned %d", resp.StatusCode)
	}

	var receipt anchorReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return "", fmt.Errorf("verify.SubmitRoot: decode receipt: %w", err)
	}
	if receipt.Ref == "" {
		return "", fmt.Errorf("verify.SubmitRoot: anchoring service returned empty ref")
	}

	return receipt.Ref, nil
}
