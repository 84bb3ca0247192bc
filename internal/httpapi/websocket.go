package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/onchainrisk/monitor/internal/stream"
)

// WSBridge accepts websocket connections and relays Stream Hub messages for
// the topic named by the "topic" query parameter, grounded on the pack's
// nhooyr.io/websocket client usage adapted to the accept side.
type WSBridge struct {
	hub *stream.Hub
	log zerolog.Logger
}

// NewWSBridge wires a bridge onto hub.
func NewWSBridge(hub *stream.Hub, log zerolog.Logger) *WSBridge {
	return &WSBridge{hub: hub, log: log.With().Str("component", "ws_bridge").Logger()}
}

// ServeHTTP upgrades the connection and streams messages for ?topic=... until
// the client disconnects or the subscription is torn down.
func (b *WSBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "missing topic query parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := b.hub.Subscribe(topic)
	defer sub.Unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				b.log.Warn().Err(err).Msg("failed to marshal stream message")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
