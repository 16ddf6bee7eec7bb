package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	salestest "github.com/xtxerr/salesdb/internal/testing"
)

// syncBuffer guards a bytes.Buffer written from background commands.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestShell(t *testing.T) (*shell, *syncBuffer, *salestest.Stack) {
	t.Helper()
	stack := salestest.StartStack(t)
	out := &syncBuffer{}
	sh := newShell(stack.Dial(t), out, func(string) (string, error) { return "pw", nil })
	return sh, out, stack
}

func TestShell_Session(t *testing.T) {
	sh, out, stack := newTestShell(t)
	ctx := context.Background()

	require.NoError(t, sh.execute(ctx, "register dana"))
	require.NoError(t, sh.execute(ctx, "login dana"))
	assert.Equal(t, "dana", sh.user())

	require.NoError(t, sh.execute(ctx, "add apples 10 2"))
	require.NoError(t, sh.execute(ctx, "add apples 5 3"))
	require.NoError(t, sh.execute(ctx, "today apples"))

	_, err := stack.Store.AdvanceDay()
	require.NoError(t, err)

	require.NoError(t, sh.execute(ctx, "qty apples 1"))
	require.NoError(t, sh.execute(ctx, "volume apples 1"))
	require.NoError(t, sh.execute(ctx, "filter 1 apples"))
	require.NoError(t, sh.execute(ctx, "status"))

	got := out.String()
	assert.Contains(t, got, "welcome dana")
	assert.Contains(t, got, "today apples: 2 events, quantity 15, volume 35.00")
	assert.Contains(t, got, "quantity of apples over 1 days: 15")
	assert.Contains(t, got, "volume of apples over 1 days: 35.0000")
	assert.Contains(t, got, "qty=10 price=2.00")
}

func TestShell_BackgroundWait(t *testing.T) {
	sh, out, _ := newTestShell(t)
	ctx := context.Background()

	require.NoError(t, sh.execute(ctx, "register erin"))
	require.NoError(t, sh.execute(ctx, "login erin"))
	require.NoError(t, sh.execute(ctx, "streak pears 2"))

	// The prompt stays usable while the wait is pending.
	require.NoError(t, sh.execute(ctx, "add pears 1 1"))
	require.NoError(t, sh.execute(ctx, "add pears 1 1"))

	done := make(chan struct{})
	go func() {
		sh.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background wait did not finish")
	}
	assert.Contains(t, out.String(), "[streak pears] consecutive sales detected")
}

func TestShell_Errors(t *testing.T) {
	sh, out, _ := newTestShell(t)
	ctx := context.Background()

	assert.Error(t, sh.execute(ctx, "qty apples 1"))
	assert.NoError(t, sh.execute(ctx, "qty apples"))
	assert.Error(t, sh.execute(ctx, "add apples ten 1"))
	assert.NoError(t, sh.execute(ctx, "bogus"))
	assert.Equal(t, errQuit, sh.execute(ctx, "quit"))

	got := out.String()
	assert.Contains(t, got, "error: not authenticated: login first")
	assert.Contains(t, got, "usage: qty <product> <days>")
	assert.Contains(t, got, `quantity: "ten" is not an integer`)
	assert.Contains(t, got, `unknown command "bogus"`)
}
