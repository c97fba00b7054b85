package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hailam/chessserve/internal/game"
	"github.com/hailam/chessserve/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

// wsSession wraps one websocket connection. Writes go through a buffered
// channel drained by writePump, so Send never blocks the caller; a full
// buffer means the client has stopped reading and Send reports false.
type wsSession struct {
	sid    string
	userID game.UserID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	log    *logrus.Entry
}

func newSession(conn *websocket.Conn, userID game.UserID, log *logrus.Logger) *wsSession {
	s := &wsSession{
		sid:    uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	s.log = log.WithFields(logrus.Fields{"sid": s.sid, "userId": userID})
	return s
}

func (s *wsSession) SID() string         { return s.sid }
func (s *wsSession) UserID() game.UserID { return s.userID }

func (s *wsSession) Send(msg wire.Outbound) bool {
	data, err := wire.Encode(msg)
	if err != nil {
		s.log.WithError(err).Error("encode outbound message")
		return false
	}
	select {
	case <-s.done:
		return false
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *wsSession) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes client frames and hands them to dispatch. Malformed
// frames earn the sender an ERROR without closing the connection; frames of
// a kind this server does not speak are logged and dropped. Returns when the
// connection dies.
func (s *wsSession) readPump(dispatch func(wire.Inbound)) {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("read error")
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownType) {
				s.log.WithError(err).Debug("unknown message type")
				continue
			}
			s.Send(wire.Error{Code: "INVALID_MESSAGE", Message: err.Error()})
			continue
		}
		dispatch(msg)
	}
}
