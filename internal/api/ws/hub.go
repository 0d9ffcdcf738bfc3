package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/server/middleware"
	redisstore "github.com/fieldproof/fieldproof/internal/store/redis"
)

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	pubsub *redisstore.PubSub
}

// NewHub creates a new WebSocket hub.
func NewHub(pubsub *redisstore.PubSub) *Hub {
	return &Hub{pubsub: pubsub}
}

// ServeDevice handles WebSocket connections for a device's ingestion acks.
// Subscribes to Redis channel "device:<deviceID>". The path device id must
// match the authenticated device; a device cannot watch another's stream.
func (h *Hub) ServeDevice(w http.ResponseWriter, r *http.Request) {
	authedID, ok := middleware.DeviceIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing device", http.StatusBadRequest)
		return
	}

	deviceIDStr := chi.URLParam(r, "deviceID")
	deviceID, err := uuid.Parse(deviceIDStr)
	if err != nil {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	if deviceID != authedID {
		http.Error(w, "device mismatch", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	channel := redisstore.DeviceChannel(deviceID)

	messages, cleanup, err := h.pubsub.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}

// NotifyIngested publishes an ingestion ack on the event's device channel.
// Satisfies the ingestion service's notifier interface.
func (h *Hub) NotifyIngested(ctx context.Context, ev *domain.ServerEvent) error {
	ack := IngestAck{
		Type:         "ingested",
		EventID:      ev.ID,
		LocalID:      ev.IdempotencyKey,
		Seq:          ev.Seq,
		ReceivedAt:   ev.ReceivedAt,
		QualityFlags: ev.QualityFlags,
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("ws.Hub.NotifyIngested: %w", err)
	}

	if err := h.pubsub.Publish(ctx, redisstore.DeviceChannel(ev.DeviceID), payload); err != nil {
		return fmt.Errorf("ws.Hub.NotifyIngested: %w", err)
	}
	return nil
}
