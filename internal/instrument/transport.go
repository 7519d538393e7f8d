package instrument

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout    = time.Second
	defaultTerminator = "\r\n"

	// maxReplyBytes bounds a single reply line.
	maxReplyBytes = 4096
)

// Transport sends one query string and returns the raw reply.
//
// Implementations are used by a single goroutine at a time; the Gateway
// serialises access per source.
type Transport interface {
	Open(ctx context.Context) error
	Query(ctx context.Context, cmd string) (string, error)
	Close() error
}

// TCPConfig configures a TCPTransport.
type TCPConfig struct {
	// Address is host:port of the instrument or GPIB bridge.
	Address string

	// GPIBAddress, when non-zero, selects a bus address on a Prologix-style
	// GPIB-Ethernet bridge. "++addr N" is sent before every query.
	GPIBAddress int

	// Timeout bounds connect, write, and read. Default: 1s.
	Timeout time.Duration

	// Terminator ends each command. Default: "\r\n".
	Terminator string
}

// TCPTransport speaks the Lake Shore line protocol over TCP: one command,
// one reply line.
type TCPTransport struct {
	cfg TCPConfig

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPTransport creates an unopened TCP transport.
func NewTCPTransport(cfg TCPConfig) *TCPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Terminator == "" {
		cfg.Terminator = defaultTerminator
	}
	return &TCPTransport{cfg: cfg}
}

// Open dials the instrument. Opening an open transport is a no-op.
func (t *TCPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", t.cfg.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.cfg.Address, err)
	}

	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, maxReplyBytes)

	if t.cfg.GPIBAddress > 0 {
		// Controller mode, read-after-write.
		if err := t.write(ctx, "++mode 1\n++auto 1\n"); err != nil {
			t.closeLocked()
			return fmt.Errorf("configuring gpib bridge: %w", err)
		}
	}
	return nil
}

// Query writes cmd and reads one reply line with CR/LF trimmed.
func (t *TCPTransport) Query(ctx context.Context, cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return "", ErrTransportClosed
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("query %q: %w", cmd, ctx.Err())
	default:
	}

	msg := cmd + t.cfg.Terminator
	if t.cfg.GPIBAddress > 0 {
		msg = fmt.Sprintf("++addr %d\n", t.cfg.GPIBAddress) + msg
	}
	if err := t.write(ctx, msg); err != nil {
		return "", fmt.Errorf("query %q: %w", cmd, err)
	}

	if err := t.conn.SetReadDeadline(t.deadline(ctx)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("query %q: read: %w", cmd, err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// Close closes the connection. Safe to call on a closed transport.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *TCPTransport) closeLocked() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	if err != nil {
		return fmt.Errorf("closing %s: %w", t.cfg.Address, err)
	}
	return nil
}

func (t *TCPTransport) write(ctx context.Context, msg string) error {
	if err := t.conn.SetWriteDeadline(t.deadline(ctx)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := t.conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// deadline uses the context deadline if it is sooner than the configured timeout.
func (t *TCPTransport) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}
