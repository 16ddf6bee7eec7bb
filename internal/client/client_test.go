package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/storage/types"
	"github.com/xtxerr/salesdb/internal/wire"
)

// fakeServer answers each frame with handle on its own goroutine. A nil
// response leaves the request unanswered.
type fakeServer struct {
	handle func(f *wire.Frame) *wire.Frame

	mu    sync.Mutex
	conns []*wire.Conn
	dials atomic.Int32
}

func (s *fakeServer) dial(ctx context.Context, addr string) (net.Conn, error) {
	a, b := net.Pipe()
	conn := wire.NewConn(b)

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	s.dials.Add(1)

	go func() {
		for {
			f, err := conn.Receive()
			if err != nil {
				return
			}
			go func() {
				if resp := s.handle(f); resp != nil {
					resp.Tag = f.Tag
					conn.Send(resp)
				}
			}()
		}
	}()
	return a, nil
}

func (s *fakeServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func ok(payload []byte) *wire.Frame { return &wire.Frame{Opcode: wire.OpOK, Payload: payload} }

func okString(s string) *wire.Frame {
	b, _ := wire.EncodeString(s)
	return ok(b)
}

func newTestClient(t *testing.T, srv *fakeServer) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "pipe"
	cfg.Dial = srv.dial

	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		srv.closeAll()
	})
	return c
}

func TestClient_TypedCalls(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	srv := &fakeServer{handle: func(f *wire.Frame) *wire.Frame {
		switch f.Opcode {
		case wire.OpLogin:
			creds, err := wire.DecodeCredentials(f.Payload)
			if err != nil {
				return nil
			}
			return okString(wire.StatusWelcome + creds.User)
		case wire.OpAddEvent:
			return okString(wire.StatusRecorded)
		case wire.OpGetQuantity:
			return ok(wire.EncodeInt64(15))
		case wire.OpGetVolume:
			return ok(wire.EncodeFloat64(35))
		case wire.OpFilterEvents:
			b, _ := wire.EncodeFilterResult(map[string]types.Series{
				"apples": {{Quantity: 10, Price: 2, Timestamp: ts}},
			})
			return ok(b)
		case wire.OpStatus:
			return ok(wire.Status{Epoch: 3, DayID: 4, Retained: 3, Resident: 2}.Encode())
		}
		return nil
	}}
	c := newTestClient(t, srv)
	ctx := context.Background()

	msg, err := c.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "welcome alice", msg)

	msg, err = c.AddEvent(ctx, "apples", 10, 2)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusRecorded, msg)

	qty, err := c.TotalQuantity(ctx, "apples", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(15), qty)

	vol, err := c.TotalVolume(ctx, "apples", 1)
	require.NoError(t, err)
	assert.Equal(t, 35.0, vol)

	events, err := c.FilteredEvents(ctx, 1, []string{"apples"})
	require.NoError(t, err)
	assert.Equal(t, map[string]types.Series{"apples": {{Quantity: 10, Price: 2, Timestamp: ts}}}, events)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Epoch)
	assert.Equal(t, int32(2), st.Resident)
}

func TestClient_BlockingCallDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	srv := &fakeServer{handle: func(f *wire.Frame) *wire.Frame {
		switch f.Opcode {
		case wire.OpConsecutiveSales:
			<-release
			return okString(wire.StatusConsecutive)
		case wire.OpGetQuantity:
			return ok(wire.EncodeInt64(1))
		}
		return nil
	}}
	c := newTestClient(t, srv)
	ctx := context.Background()

	waited := make(chan error, 1)
	go func() {
		_, err := c.AwaitConsecutive(ctx, "apples", 3)
		waited <- err
	}()

	for i := 0; i < 10; i++ {
		qty, err := c.TotalQuantity(ctx, "apples", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), qty)
	}

	select {
	case err := <-waited:
		t.Fatalf("wait returned early: %v", err)
	default:
	}

	close(release)
	require.NoError(t, <-waited)
}

func TestClient_RemoteError(t *testing.T) {
	srv := &fakeServer{handle: func(f *wire.Frame) *wire.Frame {
		b, _ := wire.EncodeString(errors.ErrNotAuthenticated.Error())
		return &wire.Frame{Opcode: wire.OpError, Payload: b}
	}}
	c := newTestClient(t, srv)

	_, err := c.TotalQuantity(context.Background(), "apples", 1)
	require.Error(t, err)
	assert.True(t, errors.IsRemote(err))
	assert.Equal(t, errors.ErrNotAuthenticated.Error(), err.Error())
}

func TestClient_ReconnectReplaysLogin(t *testing.T) {
	var logins atomic.Int32
	srv := &fakeServer{handle: func(f *wire.Frame) *wire.Frame {
		switch f.Opcode {
		case wire.OpLogin:
			logins.Add(1)
			return okString(wire.StatusWelcome + "bob")
		case wire.OpSimultaneousSales:
			return nil // never answered
		}
		return ok(wire.EncodeInt64(0))
	}}
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.Login(ctx, "bob", "pw")
	require.NoError(t, err)

	blocked := make(chan error, 1)
	go func() {
		_, err := c.AwaitSimultaneous(ctx, "a", "b")
		blocked <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.Reconnect(ctx))

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, errors.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("old caller not failed on reconnect")
	}

	assert.Equal(t, int32(2), srv.dials.Load())
	assert.Equal(t, int32(2), logins.Load())
	assert.True(t, c.IsConnected())

	_, err = c.TotalQuantity(ctx, "a", 1)
	assert.NoError(t, err)
}

func TestClient_States(t *testing.T) {
	srv := &fakeServer{handle: func(f *wire.Frame) *wire.Frame { return ok(nil) }}
	c := New(&Config{Addr: "pipe", Dial: srv.dial})
	defer srv.closeAll()

	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	_, err = c.Status(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.Reconnect(context.Background()), ErrClientClosed)
}
