// Package capture assembles device sensor readings into capture events.
// It holds no state and persists nothing; the durable queue owns storage.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldproof/fieldproof/internal/domain"
)

//nolint:gochecknoglobals // sentinel error
var ErrLocationDenied = errors.New("capture: location permission denied")

// LocationSource reads the device's current position. A timeout or a
// denied permission is reported through the returned flag, not as an
// error, so a capture still happens without a fix.
type LocationSource interface {
	Current(ctx context.Context) (domain.Geolocation, domain.LocationFlag, error)
}

// LivenessScorer is the opaque biometric quality model. The collector
// records its score verbatim and never interprets it.
type LivenessScorer interface {
	Score(ctx context.Context) (score float64, model string, err error)
}

// Collector builds versioned capture events from sensor inputs.
type Collector struct {
	location LocationSource
	liveness LivenessScorer // optional
	now      func() time.Time
}

// NewCollector creates a Collector. liveness may be nil when the device
// has no biometric capability.
func NewCollector(location LocationSource, liveness LivenessScorer) *Collector {
	return &Collector{
		location: location,
		liveness: liveness,
		now:      time.Now,
	}
}

// Capture reads the sensors and returns a sealed capture event with its
// content hash computed. The event is immutable from here on; tampering
// is detected by hash verification at ingestion.
func (c *Collector) Capture(ctx context.Context, kind domain.EventKind, note string) (*domain.CaptureEvent, error) {
	loc, flag, err := c.location.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture.Capture: read location: %w", err)
	}

	signals := domain.SignalBundle{
		Version:      domain.SignalBundleVersion,
		LocationFlag: flag,
	}

	if c.liveness != nil {
		score, model, err := c.liveness.Score(ctx)
		if err != nil {
			// A liveness failure degrades quality, it does not block
			// the capture.
			log.Warn().Err(err).Msg("liveness scoring failed, capturing without score")
		} else {
			signals.LivenessScore = &score
			signals.LivenessModel = model
		}
	}

	event := &domain.CaptureEvent{
		LocalID:    uuid.New(),
		Kind:       kind,
		DeviceTime: c.now().UTC(),
		Location:   loc,
		Signals:    signals,
		Note:       note,
	}

	hash, err := event.ComputeContentHash()
	if err != nil {
		return nil, fmt.Errorf("capture.Capture: %w", err)
	}
	event.ContentHash = hash

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("capture.Capture: %w", err)
	}

	return event, nil
}
