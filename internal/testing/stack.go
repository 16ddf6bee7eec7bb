package testing

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtxerr/salesdb/internal/auth"
	"github.com/xtxerr/salesdb/internal/client"
	"github.com/xtxerr/salesdb/internal/server"
	"github.com/xtxerr/salesdb/internal/storage"
	"github.com/xtxerr/salesdb/internal/storage/config"
)

// Stack is a store and a server listening on a loopback port.
type Stack struct {
	Store  *storage.Store
	Server *server.Server
	Addr   string

	cancel context.CancelFunc
	done   chan error
}

// StackOption adjusts the stack before it starts.
type StackOption func(*config.Config, *server.Config)

// WithStorage mutates the storage config.
func WithStorage(fn func(*config.Config)) StackOption {
	return func(c *config.Config, _ *server.Config) { fn(c) }
}

// WithServer mutates the server config.
func WithServer(fn func(*server.Config)) StackOption {
	return func(_ *config.Config, c *server.Config) { fn(c) }
}

// StartStack starts a store in a temp dir and a server in front of it.
// Both are shut down by t.Cleanup.
func StartStack(t *testing.T, opts ...StackOption) *Stack {
	t.Helper()

	storeCfg := config.DefaultConfig()
	storeCfg.DataDir = t.TempDir()
	srvCfg := &server.Config{ShutdownTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(storeCfg, srvCfg)
	}

	st, err := storage.New(storeCfg, auth.NewMemoryDirectory(bcrypt.MinCost))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stack{
		Store:  st,
		Server: server.New(srvCfg, st),
		Addr:   ln.Addr().String(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { s.done <- s.Server.Serve(ctx, ln) }()

	t.Cleanup(func() {
		require.NoError(t, s.Stop())
		st.Close()
	})
	return s
}

// Stop shuts the server down and returns the error Serve returned. It is
// safe to call more than once.
func (s *Stack) Stop() error {
	s.cancel()
	err, ok := <-s.done
	if ok {
		close(s.done)
	}
	return err
}

// Dial connects a new client. It is closed by t.Cleanup.
func (s *Stack) Dial(t *testing.T) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Addr = s.Addr
	c, err := client.Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// Login dials, registers user if needed and logs in.
func (s *Stack) Login(t *testing.T, user string) *client.Client {
	t.Helper()
	c := s.Dial(t)
	ctx := context.Background()
	_, _ = c.Register(ctx, user, user+"-pw")
	_, err := c.Login(ctx, user, user+"-pw")
	require.NoError(t, err)
	return c
}
