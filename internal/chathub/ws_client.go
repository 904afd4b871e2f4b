package chathub

import (
	"clinicmsg/backend/internal/config"
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketClient connects a Session to a gorilla websocket connection.
type WebSocketClient struct {
	Conn    *websocket.Conn
	Session *Session

	writerDone chan struct{}
}

func NewWebSocketClient(conn *websocket.Conn, s *Session) *WebSocketClient {
	return &WebSocketClient{Conn: conn, Session: s, writerDone: make(chan struct{})}
}

// Serve runs the handshake and then the read loop until the connection ends.
// handshakeTimeout bounds authentication and join together.
func (c *WebSocketClient) Serve(token string, handshakeTimeout time.Duration) {
	go c.writePump()

	if err := c.handshake(token, handshakeTimeout); err != nil {
		// the session is closed; wait for the writer to send the close frame
		<-c.writerDone
		return
	}

	c.readPump()
	<-c.writerDone
}

// Reject closes the connection without a handshake, with the close code for err.
func (c *WebSocketClient) Reject(err error) {
	go c.writePump()
	c.Session.Reject(err)
	<-c.writerDone
}

func (c *WebSocketClient) handshake(token string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.Session.Authenticate(ctx, token); err != nil {
		return err
	}
	if err := c.Session.Join(ctx); err != nil {
		return err
	}
	return c.Session.Activate()
}

// readPump читає фрейми клієнта і передає їх сесії. Фрейми обробляються по
// одному, тож повільний виклик сховища гальмує лише це з'єднання.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Session.Close(config.CloseNormal, "connection closed")
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.MaxFrameBytes)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.Session.log.Info().Err(err).Msg("connection dropped")
			}
			return
		}

		if err := c.Session.HandleFrame(c.Session.ctx, message); err != nil {
			return
		}
	}
}

// writePump пише події з черги сесії у WebSocket. Коли черга закрита,
// надсилає фрейм закриття з кодом сесії.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
		close(c.writerDone)
	}()

	send := c.Session.Send()
	for {
		select {
		case payload, ok := <-send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code, reason := c.Session.CloseInfo()
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Session.Close(config.CloseNormal, "write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Session.Close(config.CloseNormal, "ping failed")
				return
			}
		}
	}
}
