package wire

import (
	"bufio"
	"io"
	"sync"

	"github.com/xtxerr/salesdb/config"
)

// Conn is a tagged transport over a duplex byte stream.
//
// Send calls are serialized against each other and Receive calls are
// serialized against each other, but a Send may run concurrently with a
// Receive. Conn does not correlate requests with responses.
type Conn struct {
	rw      io.ReadWriteCloser
	maxSize int

	sendMu sync.Mutex
	w      *bufio.Writer

	recvMu sync.Mutex
	r      *bufio.Reader
}

// NewConn creates a Conn from an io.ReadWriteCloser (e.g., net.Conn).
func NewConn(rw io.ReadWriteCloser) *Conn {
	return NewConnSize(rw, config.DefaultMaxFrameSize)
}

// NewConnSize creates a Conn that rejects inbound frames above maxSize.
func NewConnSize(rw io.ReadWriteCloser, maxSize int) *Conn {
	return &Conn{
		rw:      rw,
		maxSize: maxSize,
		w:       bufio.NewWriter(rw),
		r:       bufio.NewReader(rw),
	}
}

// Send writes and flushes one frame.
func (c *Conn) Send(f *Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := WriteFrame(c.w, f); err != nil {
		return err
	}
	return c.w.Flush()
}

// SendTo is shorthand for Send(&Frame{...}).
func (c *Conn) SendTo(tag int32, op Opcode, payload []byte) error {
	return c.Send(&Frame{Tag: tag, Opcode: op, Payload: payload})
}

// Receive blocks until the next frame arrives.
func (c *Conn) Receive() (*Frame, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	return ReadFrame(c.r, c.maxSize)
}

// Close closes the underlying stream. Blocked Receive calls return an error.
func (c *Conn) Close() error {
	return c.rw.Close()
}
