package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport dials ws://<host>:<port>/mqtt advertising the
// "mqtt" sub-protocol, per spec §4.5.
type WebSocketTransport struct {
	URL         string
	DialTimeout time.Duration
}

// NewWebSocketTransport builds a transport for the given URL (e.g.
// "ws://mqtt.vendor.example:8083/mqtt").
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{URL: url, DialTimeout: DefaultDialTimeout}
}

func (t *WebSocketTransport) dialTimeout() time.Duration {
	if t.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return t.DialTimeout
}

// Connect dials the WebSocket endpoint and starts the read pump.
func (t *WebSocketTransport) Connect(ctx context.Context) (Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.dialTimeout(),
		Subprotocols:     []string{"mqtt"},
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout())
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing websocket %s: %w", t.URL, err)
	}

	s := &wsStream{
		conn:   conn,
		data:   make(chan []byte),
		closed: make(chan struct{}),
		errc:   make(chan error, 1),
	}
	go s.readPump()
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn

	data   chan []byte
	closed chan struct{}
	errc   chan error

	closeOnce sync.Once
}

func (s *wsStream) Data() <-chan []byte     { return s.data }
func (s *wsStream) Closed() <-chan struct{} { return s.closed }
func (s *wsStream) Err() <-chan error       { return s.errc }

func (s *wsStream) readPump() {
	defer close(s.data)
	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				close(s.closed)
				return
			}
			s.errc <- fmt.Errorf("transport: websocket read: %w", err)
			return
		}
		if msgType == websocket.TextMessage {
			s.errc <- fmt.Errorf("transport: unexpected text frame from peer")
			return
		}
		s.data <- payload
	}
}

func (s *wsStream) Write(data []byte) error {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
