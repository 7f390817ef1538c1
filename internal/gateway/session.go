package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendQueueSize bounds the per-session outbound queue. Overflow
	// frames are dropped; relay delivery is best-effort.
	sendQueueSize = 64

	writeTimeout = 10 * time.Second
)

// Session is the in-memory record of a live, authenticated socket. All
// outbound frames go through the send queue and are written by a single
// goroutine, so delivery from any one sender is FIFO.
type Session struct {
	ID        string
	DeviceID  string
	Role      Role
	DevicePub string // base64; set for role=device
	CreatedAt time.Time

	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *slog.Logger
}

func newSession(conn *websocket.Conn, deviceID string, role Role, devicePub string, logger *slog.Logger) *Session {
	s := &Session{
		ID:        generateID("sess"),
		DeviceID:  deviceID,
		Role:      role,
		DevicePub: devicePub,
		CreatedAt: time.Now(),
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		log:       logger,
	}
	go s.writeLoop()
	return s
}

// Send queues a frame for delivery. If the session is closing or its
// queue is full the frame is dropped.
func (s *Session) Send(frame []byte) {
	select {
	case <-s.done:
	case s.send <- frame:
	default:
		s.log.Info("outbound queue full, dropping frame", "device_id", s.DeviceID)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

// announceClose sends a close frame without tearing the socket down,
// giving the peer a chance to close its side first.
func (s *Session) announceClose(code int, reason string, deadline time.Time) {
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// Close sends a close frame and tears the socket down. Safe to call
// multiple times and from any goroutine.
func (s *Session) Close(code int, reason string) {
	s.once.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.conn.Close()
	})
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
