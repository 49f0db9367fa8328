package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// session adapts one WebSocket connection to the hub's Sink interface. Data
// frames are serialized through a buffered queue drained by writePump; control
// frames (pings, close) go through WriteControl, which gorilla permits
// concurrently with a writer.
type session struct {
	ws   *websocket.Conn
	send chan []byte

	quit     chan struct{}
	quitOnce sync.Once
}

func newSession(ws *websocket.Conn, queueLen int) *session {
	return &session{
		ws:   ws,
		send: make(chan []byte, queueLen),
		quit: make(chan struct{}),
	}
}

// Send enqueues an encoded message. It reports false when the session is
// closing or its queue is full; a slow reader loses messages rather than
// stalling the hub.
func (s *session) Send(data []byte) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *session) Ping() bool {
	return s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)) == nil
}

// Terminate sends a close frame and tears the transport down. Safe from any
// goroutine and idempotent; the read loop observes the closed socket and
// unwinds the handler.
func (s *session) Terminate(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.close()
}

func (s *session) close() {
	s.quitOnce.Do(func() {
		close(s.quit)
		_ = s.ws.Close()
	})
}

func (s *session) writePump() {
	for {
		select {
		case data := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-s.quit:
			return
		}
	}
}
