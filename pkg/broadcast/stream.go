package broadcast

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bturcanu/georisk/pkg/types"
	"github.com/gorilla/websocket"
)

const (
	sseKeepAlive = 15 * time.Second

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func writeSubscribeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownTopic) {
		types.ErrNotFound(err.Error()).WriteJSON(w)
		return
	}
	(&types.APIError{Code: "UNAVAILABLE", Message: err.Error(), Retryable: true, HTTPCode: http.StatusServiceUnavailable}).WriteJSON(w)
}

// ServeSSE streams topic as server-sent events, one "data: <json>" frame per
// event, until the client goes away or the bus closes.
func (b *Bus) ServeSSE(topic Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := b.Subscribe(topic)
		if err != nil {
			writeSubscribeError(w, err)
			return
		}
		defer b.Unsubscribe(sub)

		rc := http.NewResponseController(w)
		// Streams outlive the server's WriteTimeout.
		_ = rc.SetWriteDeadline(time.Time{})

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			case msg, ok := <-sub.Events():
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
					b.log.DebugContext(ctx, "sse write failed", "topic", topic, "subscriber", sub.ID(), "error", err)
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			}
		}
	}
}

// ServeWS streams topic over a websocket, one text message per event.
// Client messages are read only to notice disconnects and pongs.
func (b *Bus) ServeWS(topic Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := b.Subscribe(topic)
		if err != nil {
			writeSubscribeError(w, err)
			return
		}
		defer b.Unsubscribe(sub)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.WarnContext(r.Context(), "websocket upgrade failed", "topic", topic, "error", err)
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go readPump(conn, done)

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case msg, ok := <-sub.Events():
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
