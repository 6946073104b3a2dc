package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rezerv/internal/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Ключ проверяется на уровне приложения, не по Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlFrame is what a connected client sends to manage subscriptions.
type controlFrame struct {
	Action  string `json:"action"` // subscribe, unsubscribe
	Channel string `json:"channel"`
}

// handleWebsocket upgrades the connection and bridges it to the hub.
// One goroutine pumps hub events to the socket, the request goroutine
// reads control frames until the client goes away.
func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	observerID := r.PathValue("observer")
	if observerID == "" {
		writeError(w, http.StatusBadRequest, "observer id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("observer_id", observerID).Msg("websocket upgrade failed")
		return
	}

	observer := s.hub.Attach(observerID)
	s.logger.Info().Str("observer_id", observerID).Msg("observer connected")

	go s.writePump(conn, observer)
	s.readPump(conn, observer)
}

func (s *HTTPServer) writePump(conn *websocket.Conn, observer *realtime.Observer) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload := <-observer.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.hub.Detach(observer)
				return
			}
		case <-observer.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "dropped"))
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Detach(observer)
				return
			}
		}
	}
}

func (s *HTTPServer) readPump(conn *websocket.Conn, observer *realtime.Observer) {
	defer func() {
		// Detach по экземпляру: устаревшее соединение не снимает
		// наблюдателя, который успел переподключиться под тем же id
		s.hub.Detach(observer)
		conn.Close()
		s.logger.Info().Str("observer_id", observer.ID).Msg("observer disconnected")
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Channel == "" {
			s.logger.Warn().Str("observer_id", observer.ID).Msg("malformed control frame")
			continue
		}

		switch frame.Action {
		case "subscribe":
			s.hub.Subscribe(observer.ID, frame.Channel)
		case "unsubscribe":
			s.hub.Unsubscribe(observer.ID, frame.Channel)
		default:
			s.logger.Warn().Str("observer_id", observer.ID).Str("action", frame.Action).Msg("unknown control action")
		}
	}
}
