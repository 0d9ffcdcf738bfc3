// Package notify delivers operational alerts: chain integrity failures and
// verification proofs that exhausted their retries. Alerts are advisory;
// delivery failure is logged, never propagated into the triggering path.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Alerter delivers one operational alert.
type Alerter interface {
	Alert(ctx context.Context, subject, detail string) error
}

// LogAlerter writes alerts to the structured log. It is the fallback when no
// external channel is configured.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, subject, detail string) error {
	log.Warn().Str("subject", subject).Str("detail", detail).Msg("notify: alert")
	return nil
}

// Fanout delivers each alert to every configured alerter. A failing sink
// does not stop the others.
type Fanout []Alerter

func (f Fanout) Alert(ctx context.Context, subject, detail string) error {
	for _, a := range f {
		if err := a.Alert(ctx, subject, detail); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("notify: sink failed")
		}
	}
	return nil
}
