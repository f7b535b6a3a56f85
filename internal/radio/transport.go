package radio

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport is the byte duplex to a locally attached module.
//
// Read blocks until bytes are available and must return an error once the
// transport is closed so the reader task can exit.
type Transport interface {
	io.ReadWriter
	Open() error
	Close() error
	IsOpen() bool
}

// Transport defaults.
const (
	// DefaultBaudRate is the factory baud rate of most modules.
	DefaultBaudRate = 9600

	// defaultDialTimeout bounds TCP connection setup.
	defaultDialTimeout = 10 * time.Second

	// defaultTCPPort is the conventional ser2net port for a radio module.
	defaultTCPPort = "2000"
)

// NewTransport creates a transport from a connection URL.
//
// Accepts formats:
//   - "serial:///dev/ttyUSB0?baud=115200": local serial port (baud defaults to 9600)
//   - "tcp://gateway.local:2000": raw TCP serial server such as ser2net
//
// Parameters:
//   - connURL: Connection URL
//
// Returns:
//   - Transport: Unopened transport
//   - error: ErrInvalidArgument if the URL cannot be used
func NewTransport(connURL string) (Transport, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrInvalidArgument, err)
	}

	switch u.Scheme {
	case "serial":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("%w: serial URL needs a device path", ErrInvalidArgument)
		}
		baud := DefaultBaudRate
		if b := u.Query().Get("baud"); b != "" {
			baud, err = strconv.Atoi(b)
			if err != nil || baud <= 0 {
				return nil, fmt.Errorf("%w: invalid baud rate %q", ErrInvalidArgument, b)
			}
		}
		return NewSerialTransport(path, baud), nil
	case "tcp":
		host := u.Host
		if host == "" {
			return nil, fmt.Errorf("%w: tcp URL needs a host", ErrInvalidArgument)
		}
		if u.Port() == "" {
			host = net.JoinHostPort(host, defaultTCPPort)
		}
		return NewTCPTransport(host), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q (use serial or tcp)", ErrInvalidArgument, u.Scheme)
	}
}

// SerialTransport talks to a module on a local serial port.
type SerialTransport struct {
	path string
	mode *serial.Mode

	mu   sync.RWMutex
	port serial.Port
}

// NewSerialTransport creates an unopened serial transport (8N1).
func NewSerialTransport(path string, baud int) *SerialTransport {
	return &SerialTransport{
		path: path,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
}

// Open opens the serial port.
func (s *SerialTransport) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return fmt.Errorf("%w: %s already open", ErrConnection, s.path)
	}

	port, err := serial.Open(s.path, s.mode)
	if err != nil {
		return fmt.Errorf("open serial %s: %w", s.path, err)
	}
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	s.port = port
	return nil
}

// Close closes the serial port. Closing a closed transport is a no-op.
func (s *SerialTransport) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	return port.Close()
}

// IsOpen reports whether the port is open.
func (s *SerialTransport) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port != nil
}

func (s *SerialTransport) Read(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, io.ErrClosedPipe
	}
	return port.Read(p)
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, io.ErrClosedPipe
	}
	return port.Write(p)
}

func (s *SerialTransport) current() serial.Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// String identifies the transport in logs.
func (s *SerialTransport) String() string {
	return fmt.Sprintf("serial://%s?baud=%d", s.path, s.mode.BaudRate)
}

// TCPTransport talks to a module exposed by a TCP serial server.
type TCPTransport struct {
	address     string
	dialTimeout time.Duration

	mu   sync.RWMutex
	conn net.Conn
}

// NewTCPTransport creates an unopened TCP transport for host:port.
func NewTCPTransport(address string) *TCPTransport {
	return &TCPTransport{address: address, dialTimeout: defaultDialTimeout}
}

// Open dials the serial server.
func (t *TCPTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("%w: %s already open", ErrConnection, t.address)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return fmt.Errorf("dial tcp://%s: %w", t.address, err)
	}

	t.conn = conn
	return nil
}

// Close closes the connection. Closing a closed transport is a no-op.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsOpen reports whether the connection is established.
func (t *TCPTransport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

func (t *TCPTransport) Read(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, io.ErrClosedPipe
	}
	return conn.Read(p)
}

func (t *TCPTransport) Write(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, io.ErrClosedPipe
	}
	return conn.Write(p)
}

func (t *TCPTransport) current() net.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// String identifies the transport in logs.
func (t *TCPTransport) String() string {
	return "tcp://" + t.address
}
