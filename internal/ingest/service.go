// Package ingest accepts capture events from devices and turns them into
// authoritative ServerEvents. Ingestion is idempotent per capture: delivering
// the same event any number of times yields the same stored identity.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
	"github.com/fieldproof/fieldproof/internal/verify"
)

const (
	// QualityFlagClockSkew marks captures whose device clock disagreed with
	// the server clock beyond the soft bound at receipt.
	QualityFlagClockSkew = "clock_skew"
	// QualityFlagGPSCoarse marks captures whose GPS fix was wider than 100m.
	QualityFlagGPSCoarse = "gps_coarse"

	coarseAccuracyM = 100.0

	defaultSoftSkew = 5 * time.Minute
	defaultHardSkew = 24 * time.Hour
)

// Options tune the ingestion policy. Zero values fall back to defaults.
type Options struct {
	// SoftSkew is the device/server clock disagreement beyond which the
	// event is flagged but still accepted.
	SoftSkew time.Duration
	// HardSkew is the disagreement beyond which the event is rejected.
	HardSkew time.Duration
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Event *domain.ServerEvent
	// AlreadyExisted reports that this capture was ingested by an earlier
	// delivery; Event carries the stored identity from that ingestion.
	AlreadyExisted bool
}

// Notifier fans an ingestion acknowledgement out to the device's listeners.
type Notifier interface {
	NotifyIngested(ctx context.Context, ev *domain.ServerEvent) error
}

// Service is the ingestion endpoint's core. The event row and its audit
// entry commit in one ledger transaction; proof requests and notifications
// run after commit and never affect the outcome.
type Service struct {
	events   domain.EventRepository
	ledger   *ledger.Ledger
	proofs   *verify.Service
	notifier Notifier
	softSkew time.Duration
	hardSkew time.Duration
	now      func() time.Time
}

func NewService(events domain.EventRepository, led *ledger.Ledger, proofs *verify.Service, notifier Notifier, opts Options) *Service {
	if opts.SoftSkew <= 0 {
		opts.SoftSkew = defaultSoftSkew
	}
	if opts.HardSkew <= 0 {
		opts.HardSkew = defaultHardSkew
	}
	return &Service{
		events:   events,
		ledger:   led,
		proofs:   proofs,
		notifier: notifier,
		softSkew: opts.SoftSkew,
		hardSkew: opts.HardSkew,
		now:      time.Now,
	}
}

// Ingest validates and stores one capture from the given device.
func (s *Service) Ingest(ctx context.Context, deviceID uuid.UUID, capture *domain.CaptureEvent) (*Result, error) {
	if err := capture.Validate(); err != nil {
		return nil, fmt.Errorf("ingest.Ingest: %w", err)
	}

	// Fast path: this capture was already delivered. Checked before the
	// skew bound, which compares against the current receipt time: a capture
	// ingested in time must keep resolving to its stored identity however
	// late it is redelivered.
	if existing, err := s.events.GetByIdempotencyKey(ctx, capture.LocalID); err == nil {
		return &Result{Event: existing, AlreadyExisted: true}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("ingest.Ingest: %w", err)
	}

	receivedAt := s.now().UTC()
	skew := receivedAt.Sub(capture.DeviceTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.hardSkew {
		return nil, fmt.Errorf("ingest.Ingest: %w: device time %s too far from server time %s",
			domain.ErrValidation, capture.DeviceTime.Format(time.RFC3339), receivedAt.Format(time.RFC3339))
	}

	ev := &domain.ServerEvent{
		ID:             uuid.New(),
		IdempotencyKey: capture.LocalID,
		DeviceID:       deviceID,
		Kind:           capture.Kind,
		DeviceTime:     capture.DeviceTime.UTC(),
		ReceivedAt:     receivedAt,
		Location:       capture.Location,
		Signals:        capture.Signals,
		Note:           capture.Note,
		ContentHash:    capture.ContentHash,
		QualityFlags:   s.qualityFlags(capture, skew),
	}

	_, err := s.ledger.AppendWith(ctx, ledger.Input{
		Action: domain.AuditActionEventIngested,
		Actor:  "device:" + deviceID.String(),
		Target: ev.ID.String(),
		Payload: map[string]any{
			"event_id":        ev.ID.String(),
			"device_id":       deviceID.String(),
			"idempotency_key": ev.IdempotencyKey.String(),
			"kind":            string(ev.Kind),
			"content_hash":    ev.ContentHash,
		},
	}, func(tx ledger.Tx) error {
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		// A concurrent delivery of the same capture won the race; its
		// stored identity is the answer for both.
		if errors.Is(err, domain.ErrConflict) {
			existing, fetchErr := s.events.GetByIdempotencyKey(ctx, capture.LocalID)
			if fetchErr != nil {
				return nil, fmt.Errorf("ingest.Ingest: conflict refetch: %w", fetchErr)
			}
			return &Result{Event: existing, AlreadyExisted: true}, nil
		}
		return nil, fmt.Errorf("ingest.Ingest: %w", err)
	}

	if s.proofs != nil {
		s.proofs.RequestProof(ctx, domain.ProofSubjectEvent, ev.ID, ev.ContentHash, ev.ReceivedAt)
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyIngested(ctx, ev); err != nil {
			log.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("ingest: ack fan-out failed")
		}
	}

	return &Result{Event: ev}, nil
}

func (s *Service) qualityFlags(capture *domain.CaptureEvent, skew time.Duration) []string {
	var flags []string
	if skew > s.softSkew {
		flags = append(flags, QualityFlagClockSkew)
	}
	if capture.Location.AccuracyM > coarseAccuracyM {
		flags = append(flags, QualityFlagGPSCoarse)
	}
	if capture.Signals.LocationFlag != domain.LocationGranted {
		flags = append(flags, "location_"+string(capture.Signals.LocationFlag))
	}
	return flags
}

// SyncStatus reports the per-device ingestion summary.
func (s *Service) SyncStatus(ctx context.Context, deviceID uuid.UUID) (*domain.DeviceSyncSummary, error) {
	summary, err := s.events.DeviceSummary(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("ingest.SyncStatus: %w", err)
	}
	return summary, nil
}
