package client

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/logging"
	salesSync "github.com/xtxerr/salesdb/internal/sync"
	"github.com/xtxerr/salesdb/internal/wire"
)

var log = logging.Component("client")

// ErrTagsExhausted is returned once every positive tag has been used on a
// connection. Reconnect to continue.
var ErrTagsExhausted = errors.New("request tags exhausted")

// Demux turns one tagged transport into independent concurrent
// request/response calls.
//
// Every Send gets a fresh, strictly increasing tag and a one-slot channel
// registered under that tag. A single reader goroutine routes each inbound
// frame to its slot; frames whose tag has no slot (the caller gave up) are
// dropped. When the transport fails, every pending and future Send returns
// an error wrapping ErrConnectionClosed.
type Demux struct {
	conn *wire.Conn

	mu      sync.Mutex
	lastTag int32
	pending map[int32]chan *wire.Frame

	failed     salesSync.ErrLatch
	readerDone chan struct{}
}

// NewDemux starts the reader goroutine on conn. The Demux owns conn from
// now on.
func NewDemux(conn *wire.Conn) *Demux {
	d := &Demux{
		conn:       conn,
		pending:    make(map[int32]chan *wire.Frame),
		readerDone: make(chan struct{}),
	}
	go d.readLoop()
	return d
}

// Send writes one request and blocks until the response with the same tag
// arrives, the transport fails or ctx is done. An ERROR response is
// returned as *errors.RemoteError.
func (d *Demux) Send(ctx context.Context, op wire.Opcode, payload []byte) ([]byte, error) {
	tag, slot, err := d.register()
	if err != nil {
		return nil, err
	}

	if err := d.conn.SendTo(tag, op, payload); err != nil {
		d.deregister(tag)
		d.fail(err)
		return nil, d.failed.Err()
	}

	select {
	case resp := <-slot:
		return decodeResponse(resp)

	case <-d.failed.Done():
		d.deregister(tag)
		// The response may have been routed just before the failure.
		select {
		case resp := <-slot:
			return decodeResponse(resp)
		default:
		}
		return nil, d.failed.Err()

	case <-ctx.Done():
		d.deregister(tag)
		return nil, ctx.Err()
	}
}

func (d *Demux) register() (int32, chan *wire.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failed.Err(); err != nil {
		return 0, nil, err
	}
	if d.lastTag == math.MaxInt32 {
		return 0, nil, ErrTagsExhausted
	}
	d.lastTag++
	slot := make(chan *wire.Frame, 1)
	d.pending[d.lastTag] = slot
	return d.lastTag, slot, nil
}

func (d *Demux) deregister(tag int32) {
	d.mu.Lock()
	delete(d.pending, tag)
	d.mu.Unlock()
}

// Pending returns the number of requests awaiting a response.
func (d *Demux) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Demux) readLoop() {
	defer close(d.readerDone)

	for {
		f, err := d.conn.Receive()
		if err != nil {
			d.fail(err)
			return
		}

		d.mu.Lock()
		slot, ok := d.pending[f.Tag]
		if ok {
			delete(d.pending, f.Tag)
		}
		d.mu.Unlock()

		if !ok {
			log.Debug("dropping response for unknown tag", "tag", f.Tag, "opcode", f.Opcode)
			continue
		}
		slot <- f // buffered, never blocks
	}
}

// fail trips the latch, closes the transport and forgets every pending
// slot. Blocked senders observe the latch.
func (d *Demux) fail(cause error) {
	err := cause
	if !errors.Is(err, errors.ErrConnectionClosed) {
		err = fmt.Errorf("%w: %v", errors.ErrConnectionClosed, cause)
	}
	if !d.failed.Trip(err) {
		return
	}

	d.conn.Close()

	d.mu.Lock()
	n := len(d.pending)
	clear(d.pending)
	d.mu.Unlock()

	if n > 0 {
		log.Warn("connection failed", "pending", n, "error", cause)
	}
}

// Err returns the error that failed the transport, or nil.
func (d *Demux) Err() error {
	return d.failed.Err()
}

// Close fails every pending request with ErrConnectionClosed and waits for
// the reader to exit.
func (d *Demux) Close() error {
	d.fail(errors.ErrConnectionClosed)
	<-d.readerDone
	return nil
}

func decodeResponse(f *wire.Frame) ([]byte, error) {
	switch f.Opcode {
	case wire.OpOK:
		return f.Payload, nil
	case wire.OpError:
		msg, err := wire.DecodeString(f.Payload)
		if err != nil {
			msg = string(f.Payload)
		}
		return nil, &errors.RemoteError{Message: msg}
	default:
		return nil, fmt.Errorf("%w: unexpected response opcode %s", errors.ErrMalformedPayload, f.Opcode)
	}
}
