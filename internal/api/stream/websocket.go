package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/app/broadcast"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	// Browser players are served from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWebSocket sends metadata as JSON text messages and audio as binary messages.
func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Err(err).Msg("stream: websocket upgrade failed")
		return
	}
	defer conn.Close()

	sink := h.engine.Attach()
	defer h.engine.Detach(sink.ID())
	zlog.Info().Msgf("stream: websocket listener connected: sink=%s remote=%s", sink.ID(), r.RemoteAddr)

	// Drain incoming messages (ping/pong, close frames) so control frames are handled.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			zlog.Info().Msgf("stream: websocket listener disconnected: sink=%s", sink.ID())
			return
		case <-sink.Done():
			zlog.Info().Msgf("stream: websocket listener dropped: sink=%s", sink.ID())
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "dropped"), time.Now().Add(time.Second))
			return
		case f := <-sink.Frames():
			if err := h.writeFrame(conn, f); err != nil {
				zlog.Debug().Err(err).Msgf("stream: websocket write failed: sink=%s", sink.ID())
				return
			}
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, f broadcast.Frame) error {
	if h.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout)); err != nil {
			return err
		}
	}

	switch f.Kind {
	case broadcast.FrameMetadata:
		if f.Metadata == nil {
			return nil
		}
		data, err := json.Marshal(f.Metadata)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	case broadcast.FrameAudio:
		return conn.WriteMessage(websocket.BinaryMessage, f.Data)
	}
	return nil
}
