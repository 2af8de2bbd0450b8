package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPTransport is an ordinary non-blocking connect to host:port; bytes
// pass through unchanged, used for the local broker connection.
type TCPTransport struct {
	Addr        string
	DialTimeout time.Duration
}

// NewTCPTransport builds a transport for the given "host:port" address.
func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{Addr: addr, DialTimeout: DefaultDialTimeout}
}

func (t *TCPTransport) dialTimeout() time.Duration {
	if t.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return t.DialTimeout
}

// Connect dials the TCP endpoint and starts the read pump.
func (t *TCPTransport) Connect(ctx context.Context) (Stream, error) {
	dialer := net.Dialer{Timeout: t.dialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing tcp %s: %w", t.Addr, err)
	}

	s := &tcpStream{
		conn:   conn,
		data:   make(chan []byte),
		closed: make(chan struct{}),
		errc:   make(chan error, 1),
	}
	go s.readPump()
	return s, nil
}

type tcpStream struct {
	conn net.Conn

	data   chan []byte
	closed chan struct{}
	errc   chan error

	closeOnce  sync.Once
	closedSelf bool
	mu         sync.Mutex
}

func (s *tcpStream) Data() <-chan []byte     { return s.data }
func (s *tcpStream) Closed() <-chan struct{} { return s.closed }
func (s *tcpStream) Err() <-chan error       { return s.errc }

func (s *tcpStream) readPump() {
	defer close(s.data)
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.data <- chunk
		}
		if err != nil {
			s.mu.Lock()
			selfClosed := s.closedSelf
			s.mu.Unlock()
			if selfClosed {
				close(s.closed)
				return
			}
			s.errc <- fmt.Errorf("transport: tcp read: %w", err)
			return
		}
	}
}

func (s *tcpStream) Write(data []byte) error {
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("transport: tcp write: %w", err)
	}
	return nil
}

func (s *tcpStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closedSelf = true
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}
