package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/clip-engine/internal/events"
	"github.com/snarg/clip-engine/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// token auth only, no cookies
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamWebSocket pushes the same filtered events as StreamEvents over a
// websocket, one JSON event per text message. Messages from the client are
// read and discarded.
func (h *EventsHandler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.src == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}
	filter := parseFilter(r)
	lastID := r.URL.Query().Get("last_event_id")

	ch, cancel := h.src.Subscribe(filter)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		return
	}
	defer conn.Close()
	log := hlog.FromRequest(r)

	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if lastID != "" {
		for _, e := range h.src.ReplaySince(lastID, filter) {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
			lastID = e.ID
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	log.Info().Msg("websocket client connected")

	for {
		select {
		case <-closed:
			log.Info().Msg("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if lastID != "" && !events.Newer(e.ID, lastID) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
			metrics.EventsPublishedTotal.WithLabelValues("ws").Inc()
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
