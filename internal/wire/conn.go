package wire

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrConnectionLost = errors.New("connection lost")
	ErrMalformedToken = errors.New("malformed token")
)

// Framing selects how tokens are delimited on the stream.
type Framing string

const (
	// FramingRaw reads whatever is available, up to ReadSize bytes, as one
	// token. It relies on both peers sending one token per read.
	FramingRaw Framing = "raw"
	// FramingLine buffers input until a newline.
	FramingLine Framing = "line"
	// FramingMsgpack wraps each token in a 4-byte big-endian length prefix
	// followed by a msgpack string.
	FramingMsgpack Framing = "msgpack"
)

const (
	DefaultReadSize = 1024
	maxFrameSize    = 1 << 20
)

// ParseFraming validates a framing name.
func ParseFraming(name string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(name))) {
	case "", FramingRaw:
		return FramingRaw, nil
	case FramingLine:
		return FramingLine, nil
	case FramingMsgpack:
		return FramingMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported framing: %s", name)
	}
}

type Options struct {
	Framing      Framing
	ReadSize     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{Framing: FramingRaw, ReadSize: DefaultReadSize}
}

// Conn exchanges text tokens with a single peer. It is not safe for
// concurrent use; the protocol is strictly request/response.
type Conn struct {
	conn   net.Conn
	opts   Options
	reader *bufio.Reader
	buf    []byte
}

func NewConn(conn net.Conn, opts Options) *Conn {
	if opts.Framing == "" {
		opts.Framing = FramingRaw
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	c := &Conn{conn: conn, opts: opts}
	switch opts.Framing {
	case FramingRaw:
		c.buf = make([]byte, opts.ReadSize)
	default:
		c.reader = bufio.NewReaderSize(conn, opts.ReadSize)
	}
	return c
}

// Framing reports the framing in use.
func (c *Conn) Framing() Framing { return c.opts.Framing }

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Close() error { return c.conn.Close() }

// Send writes one token. Raw and line framings terminate it with a newline.
func (c *Conn) Send(token string) error {
	var payload []byte
	switch c.opts.Framing {
	case FramingMsgpack:
		body, err := msgpack.Marshal(token)
		if err != nil {
			return fmt.Errorf("encode token: %w", err)
		}
		payload = make([]byte, 4+len(body))
		binary.BigEndian.PutUint32(payload[:4], uint32(len(body)))
		copy(payload[4:], body)
	default:
		payload = []byte(token + "\n")
	}

	if c.opts.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return lost(err)
		}
	}
	if _, err := c.conn.Write(payload); err != nil {
		return lost(err)
	}
	return nil
}

// Recv reads one token with surrounding whitespace removed.
func (c *Conn) Recv() (string, error) {
	if c.opts.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return "", lost(err)
		}
	}
	switch c.opts.Framing {
	case FramingLine:
		return c.recvLine()
	case FramingMsgpack:
		return c.recvFrame()
	default:
		return c.recvRaw()
	}
}

func (c *Conn) recvRaw() (string, error) {
	for {
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			return strings.TrimSpace(string(c.buf[:n])), nil
		}
		if err != nil {
			return "", lost(err)
		}
	}
}

func (c *Conn) recvLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", lost(err)
	}
	return strings.TrimSpace(line), nil
}

func (c *Conn) recvFrame() (string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.reader, hdr[:]); err != nil {
		return "", lost(err)
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > maxFrameSize {
		return "", lost(fmt.Errorf("%w: frame of %d bytes", ErrMalformedToken, length))
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return "", lost(err)
	}
	var token string
	// A frame that cannot be decoded means the peer does not speak this
	// framing; the connection is treated as lost.
	if err := msgpack.Unmarshal(body, &token); err != nil {
		return "", lost(fmt.Errorf("%w: %w", ErrMalformedToken, err))
	}
	return strings.TrimSpace(token), nil
}

func lost(err error) error {
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// Listen binds a TCP listener.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// AcceptOne waits for exactly one client and closes the listener afterwards.
// Cancelling ctx aborts the wait.
func AcceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		}
	}()

	conn, err := ln.Accept()
	_ = ln.Close()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return conn, nil
}

// Dial connects to a server as the optimizer side.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(conn, opts), nil
}
