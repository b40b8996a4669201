package web

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"comfy-relay/server/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	maxInboundMessage = 4096
)

// Session relays bus events to one browser websocket.
type Session struct {
	ID     string
	conn   *websocket.Conn
	bus    *EventBus
	logger *zap.Logger
}

func NewSession(conn *websocket.Conn, bus *EventBus) *Session {
	id := uuid.NewString()
	return &Session{
		ID:     id,
		conn:   conn,
		bus:    bus,
		logger: zap.L().Named("session").With(zap.String("client_id", id)),
	}
}

// Run sends the greeting, subscribes to the bus and relays until the browser
// disconnects or a write fails. It blocks for the life of the session.
func (s *Session) Run() {
	defer s.conn.Close()
	s.logger.Info("websocket connected")

	greeting, err := models.Encode(models.Connected{ClientID: s.ID})
	if err != nil {
		s.logger.Error("failed to encode greeting", zap.Error(err))
		return
	}
	if err := s.write(websocket.TextMessage, greeting); err != nil {
		s.logger.Warn("failed to send greeting", zap.Error(err))
		return
	}

	sub := s.bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(sub)
	}()

	s.readPump()

	sub.Close()
	<-done
	s.logger.Info("websocket disconnected", zap.Int64("dropped", sub.Dropped()))
}

func (s *Session) write(messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// writePump forwards bus messages and keeps the connection alive with pings.
// It is the only writer after the greeting.
func (s *Session) writePump(sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.logger.Warn("error writing to client", zap.Error(err))
				// unblocks readPump
				s.conn.Close()
				return
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("error sending ping", zap.Error(err))
				s.conn.Close()
				return
			}
		}
	}
}

// readPump discards browser messages until the connection ends.
func (s *Session) readPump() {
	s.conn.SetReadLimit(maxInboundMessage)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		if messageType == websocket.TextMessage {
			s.logger.Debug("received from client", zap.ByteString("message", data))
		}
	}
}
