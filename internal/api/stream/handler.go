// Package stream serves the listener-facing HTTP surface: the MP3 stream,
// the WebSocket feed, the queue view and the public skip endpoint.
package stream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/app/broadcast"
	"github.com/osa030/19radio/internal/app/queue"
	"github.com/osa030/19radio/internal/domain/track"
)

// Engine is the part of the station the listener surface talks to.
type Engine interface {
	Attach() *broadcast.Sink
	Detach(id string)
	Snapshot() queue.Snapshot
	Skip() error
}

// Config holds listener surface configuration.
type Config struct {
	Name         string        // icy-name
	Bitrate      int           // icy-br, in bits/sec
	MetaInt      int           // Audio bytes between ICY metadata blocks; 0 disables ICY metadata
	WriteTimeout time.Duration // Per-write deadline; 0 disables it
	Metrics      http.Handler  // Mounted on MetricsPath when set
	MetricsPath  string
}

// Handler routes listener requests.
type Handler struct {
	engine Engine
	config Config
	mux    *http.ServeMux
}

// NewHandler creates the listener HTTP handler.
func NewHandler(engine Engine, cfg Config) *Handler {
	h := &Handler{
		engine: engine,
		config: cfg,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/stream", http.StatusFound)
	})
	h.mux.HandleFunc("GET /stream", h.serveStream)
	h.mux.HandleFunc("GET /ws", h.serveWebSocket)
	h.mux.HandleFunc("GET /queue", h.serveQueue)
	h.mux.HandleFunc("GET /skip", h.serveSkip)
	h.mux.HandleFunc("POST /skip", h.serveSkip)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		h.mux.Handle("GET "+path, cfg.Metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// serveStream streams paced audio until the client leaves or its sink is dropped.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	wantsMetadata := r.Header.Get("Icy-MetaData") == "1" && h.config.MetaInt > 0

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("icy-name", h.config.Name)
	w.Header().Set("icy-br", strconv.Itoa(h.config.Bitrate/1000))
	if wantsMetadata {
		w.Header().Set("icy-metaint", strconv.Itoa(h.config.MetaInt))
	}
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		zlog.Debug().Err(err).Msg("stream: flush unsupported")
	}

	sink := h.engine.Attach()
	defer h.engine.Detach(sink.ID())
	zlog.Info().Msgf("stream: listener connected: sink=%s remote=%s icy=%t", sink.ID(), r.RemoteAddr, wantsMetadata)

	var icy *icyWriter
	if wantsMetadata {
		icy = newICYWriter(h.config.MetaInt)
	}

	for {
		select {
		case <-r.Context().Done():
			zlog.Info().Msgf("stream: listener disconnected: sink=%s", sink.ID())
			return
		case <-sink.Done():
			zlog.Info().Msgf("stream: listener dropped: sink=%s", sink.ID())
			return
		case f := <-sink.Frames():
			switch f.Kind {
			case broadcast.FrameMetadata:
				if icy != nil && f.Metadata != nil {
					icy.setTitle(f.Metadata.Title)
				}
			case broadcast.FrameAudio:
				data := f.Data
				if icy != nil {
					data = icy.frame(data)
				}
				h.setDeadline(rc)
				if _, err := w.Write(data); err != nil {
					zlog.Debug().Err(err).Msgf("stream: write failed: sink=%s", sink.ID())
					return
				}
				_ = rc.Flush()
			}
		}
	}
}

func (h *Handler) setDeadline(rc *http.ResponseController) {
	if h.config.WriteTimeout <= 0 {
		return
	}
	// Recorders and some wrappers do not support deadlines.
	_ = rc.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
}

type queueResponse struct {
	Current  *track.Track  `json:"current"`
	Previous *track.Track  `json:"previous"`
	Songlist []track.Track `json:"songlist"`
}

func (h *Handler) serveQueue(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	resp := queueResponse{
		Current:  snap.Current,
		Previous: snap.Previous,
		Songlist: snap.Pending,
	}
	if resp.Songlist == nil {
		resp.Songlist = []track.Track{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) serveSkip(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Skip(); err != nil {
		zlog.Warn().Err(err).Msg("stream: skip failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Skip successful"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("stream: failed to encode response")
	}
}
