package domain

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventKindArrival     EventKind = "arrival"
	EventKindDeparture   EventKind = "departure"
	EventKindExplanation EventKind = "explanation"
)

// ValidEventKinds is the canonical set of known event kinds.
var ValidEventKinds = []EventKind{ //nolint:gochecknoglobals // canonical enum list
	EventKindArrival,
	EventKindDeparture,
	EventKindExplanation,
}

// LocationFlag records the device's location permission outcome at capture time.
type LocationFlag string

const (
	LocationGranted LocationFlag = "granted"
	LocationDenied  LocationFlag = "denied"
	LocationTimeout LocationFlag = "timeout"
)

// NoteMaxLen bounds the free-text note attached to a capture.
const NoteMaxLen = 2000

// SignalBundleVersion is the current quality-signal bundle schema version.
const SignalBundleVersion = 1

type Geolocation struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	AccuracyM float64  `json:"accuracy_m"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

// SignalBundle is the versioned quality-signal payload attached to a capture.
// Scores are measurements, not judgments; the core never interprets them
// beyond attaching derived quality flags at ingestion.
type SignalBundle struct {
	Version       int          `json:"version"`
	LocationFlag  LocationFlag `json:"location_flag"`
	LivenessScore *float64     `json:"liveness_score,omitempty"`
	LivenessModel string       `json:"liveness_model,omitempty"`
}

// CaptureEvent is one arrival/departure/explanation action as recorded on the
// device. It is never mutated after creation; LocalID doubles as the
// idempotency key for delivery.
type CaptureEvent struct {
	LocalID     uuid.UUID    `json:"local_id"`
	Kind        EventKind    `json:"kind"`
	DeviceTime  time.Time    `json:"device_time"`
	Location    Geolocation  `json:"location"`
	Signals     SignalBundle `json:"signals"`
	Note        string       `json:"note,omitempty"`
	ContentHash string       `json:"content_hash"`
}

// ComputeContentHash returns the hex digest over the canonicalized payload,
// excluding the ContentHash field itself.
func (e *CaptureEvent) ComputeContentHash() (string, error) {
	clone := *e
	clone.ContentHash = ""

	canonical, err := StableJSON(clone)
	if err != nil {
		return "", fmt.Errorf("domain.ComputeContentHash: %w", err)
	}

	return HashBytes(canonical), nil
}

// Validate checks structural well-formedness. Clock-skew policy is the
// ingestion service's concern, not the event's.
func (e *CaptureEvent) Validate() error {
	if e.LocalID == uuid.Nil {
		return fmt.Errorf("%w: missing local id", ErrValidation)
	}
	if !slices.Contains(ValidEventKinds, e.Kind) {
		return fmt.Errorf("%w: unknown event kind %q", ErrValidation, e.Kind)
	}
	if e.DeviceTime.IsZero() {
		return fmt.Errorf("%w: missing device timestamp", ErrValidation)
	}
	if e.Location.Lat < -90 || e.Location.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrValidation, e.Location.Lat)
	}
	if e.Location.Lng < -180 || e.Location.Lng > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrValidation, e.Location.Lng)
	}
	if e.Location.AccuracyM < 0 {
		return fmt.Errorf("%w: negative accuracy radius", ErrValidation)
	}
	if len(e.Note) > NoteMaxLen {
		return fmt.Errorf("%w: note exceeds %d characters", ErrValidation, NoteMaxLen)
	}
	if e.Signals.Version != SignalBundleVersion {
		return fmt.Errorf("%w: unsupported signal bundle version %d", ErrValidation, e.Signals.Version)
	}

	computed, err := e.ComputeContentHash()
	if err != nil {
		return err
	}
	if computed != e.ContentHash {
		return fmt.Errorf("%w: content hash mismatch", ErrValidation)
	}

	return nil
}

// ServerEvent is the ingested, authoritative form of a CaptureEvent.
// Immutable once created; corrections are new ServerEvents carrying a
// forward-only Corrects back-reference, never in-place edits.
type ServerEvent struct {
	ID             uuid.UUID    `json:"id"`
	Seq            int64        `json:"seq"`
	IdempotencyKey uuid.UUID    `json:"idempotency_key"`
	DeviceID       uuid.UUID    `json:"device_id"`
	Kind           EventKind    `json:"kind"`
	DeviceTime     time.Time    `json:"device_time"`
	ReceivedAt     time.Time    `json:"received_at"`
	Location       Geolocation  `json:"location"`
	Signals        SignalBundle `json:"signals"`
	Note           string       `json:"note,omitempty"`
	ContentHash    string       `json:"content_hash"`
	QualityFlags   []string     `json:"quality_flags,omitempty"`
	Corrects       *uuid.UUID   `json:"corrects,omitempty"`
}

// EventFilter narrows List queries. Zero values mean "no constraint".
type EventFilter struct {
	DeviceID uuid.UUID
	Kind     EventKind
	From     time.Time // server-receipt time, inclusive
	To       time.Time // server-receipt time, exclusive
	IDs      []uuid.UUID
	Limit    int
}

// DeviceSyncSummary is the per-device ingestion summary exposed to the
// sync-status endpoint.
type DeviceSyncSummary struct {
	DeviceID       uuid.UUID  `json:"device_id"`
	IngestedCount  int64      `json:"ingested_count"`
	LastReceivedAt *time.Time `json:"last_received_at,omitempty"`
	LastSeq        int64      `json:"last_seq"`
}

// EventRepository reads ingested events. There is deliberately no update or
// delete operation, and no standalone append: ServerEvents are written only
// inside a ledger transaction so the event and its audit entry land
// atomically.
type EventRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ServerEvent, error)
	GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*ServerEvent, error)
	List(ctx context.Context, filter EventFilter) ([]*ServerEvent, error)
	// History walks the forward-only corrects chain starting at id,
	// oldest ancestor first, ending with the event itself.
	History(ctx context.Context, id uuid.UUID) ([]*ServerEvent, error)
	DeviceSummary(ctx context.Context, deviceID uuid.UUID) (*DeviceSyncSummary, error)
}
