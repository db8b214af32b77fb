package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to loopback; browser cross-origin access is not a
	// concern here
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// streamRunOutput upgrades to a websocket and forwards the live output
// lines of a running agent until the run ends or the client disconnects
func (s *Server) streamRunOutput(w http.ResponseWriter, r *http.Request, runID string) {
	if s.streamer == nil {
		writeError(w, http.StatusServiceUnavailable, "output streaming not available")
		return
	}

	ch, unsub := s.streamer.SubscribeOutput(runID)
	if ch == nil {
		writeError(w, http.StatusNotFound, "run is not active")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsub()
		s.logger.Debug("websocket upgrade failed", "run", runID, "error", err)
		return
	}
	defer conn.Close()
	defer unsub()

	// Drain reads so close frames and pings are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for line := range ch {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	// Run finished: say goodbye properly
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}
