package ws

import (
	"time"

	"github.com/google/uuid"
)

// IngestAck is the real-time acknowledgement streamed to a device's
// listeners when one of its captures is ingested.
type IngestAck struct {
	Type         string    `json:"type"` // "ingested"
	EventID      uuid.UUID `json:"event_id"`
	LocalID      uuid.UUID `json:"local_id"`
	Seq          int64     `json:"seq"`
	ReceivedAt   time.Time `json:"received_at"`
	QualityFlags []string  `json:"quality_flags,omitempty"`
}
