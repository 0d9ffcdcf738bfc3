// Package client is the agent's HTTP client for the ingestion API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// ErrPermanent marks a server rejection that retrying the same payload can
// never fix. The sync engine moves the record to terminal FAILED; anything
// else is treated as transient and retried with backoff.
//
//nolint:gochecknoglobals // sentinel error
var ErrPermanent = errors.New("client: permanent rejection")

// IngestAck is the server's acknowledgment of a delivered capture.
type IngestAck struct {
	EventID        uuid.UUID `json:"event_id"`
	Seq            int64     `json:"seq"`
	ReceivedAt     time.Time `json:"received_at"`
	QualityFlags   []string  `json:"quality_flags,omitempty"`
	AlreadyExisted bool      `json:"already_existed"`
}

// SyncStatus mirrors the server's per-device ingestion summary.
type SyncStatus struct {
	DeviceID       uuid.UUID  `json:"device_id"`
	IngestedCount  int64      `json:"ingested_count"`
	LastReceivedAt *time.Time `json:"last_received_at,omitempty"`
	LastSeq        int64      `json:"last_seq"`
}

// Client talks to the fieldproof server with a device key.
type Client struct {
	baseURL   string
	deviceKey string
	http      *http.Client
}

// New creates a Client. baseURL has no trailing slash; deviceKey is the raw
// key issued at device registration.
func New(baseURL, deviceKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		deviceKey: deviceKey,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Ingest delivers one capture event. Sending the same event again is safe:
// the server resolves the local id to the already-ingested ServerEvent and
// acks with AlreadyExisted set.
func (c *Client) Ingest(ctx context.Context, event *domain.CaptureEvent) (*IngestAck, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("client.Ingest: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client.Ingest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.deviceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client.Ingest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classify(resp)
	}

	var ack IngestAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("client.Ingest: decode ack: %w", err)
	}

	return &ack, nil
}

// Status fetches the server-side sync summary for this device.
func (c *Client) Status(ctx context.Context) (*SyncStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/sync/status", nil)
	if err != nil {
		return nil, fmt.Errorf("client.Status: %w", err)
	}
	req.Header.Set("X-API-Key", c.deviceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client.Status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp)
	}

	var status SyncStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("client.Status: decode: %w", err)
	}

	return &status, nil
}

// classify maps an HTTP error response to transient or permanent.
// 4xx means the payload or credentials can never succeed as-is, except
// 408 and 429 which are retryable by nature.
func classify(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	permanent := resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout &&
		resp.StatusCode != http.StatusTooManyRequests

	if permanent {
		return fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, detail)
	}

	return fmt.Errorf("client: transient failure: status %d: %s", resp.StatusCode, detail)
}
