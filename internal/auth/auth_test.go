package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtxerr/salesdb/internal/errors"
)

func TestMemoryDirectory_RegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(bcrypt.MinCost)

	require.NoError(t, d.Register(ctx, "alice", "secret"))
	assert.ErrorIs(t, d.Register(ctx, "alice", "other"), errors.ErrUserExists)

	assert.NoError(t, d.Authenticate(ctx, "alice", "secret"))
	assert.ErrorIs(t, d.Authenticate(ctx, "alice", "wrong"), errors.ErrInvalidCredentials)
	assert.ErrorIs(t, d.Authenticate(ctx, "bob", "secret"), errors.ErrInvalidCredentials)
}

func TestMemoryDirectory_StoresHashNotPassword(t *testing.T) {
	d := NewMemoryDirectory(bcrypt.MinCost)
	require.NoError(t, d.Register(context.Background(), "alice", "secret"))

	d.mu.RLock()
	defer d.mu.RUnlock()
	assert.NotEqual(t, "secret", string(d.users["alice"]))
	assert.NoError(t, bcrypt.CompareHashAndPassword(d.users["alice"], []byte("secret")))
}

func TestMemoryDirectory_ConcurrentRegisterIsWriteOnce(t *testing.T) {
	d := NewMemoryDirectory(bcrypt.MinCost)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Register(context.Background(), "carol", "pw") == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, 1, d.Len())
}

func TestMemoryDirectory_Validation(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(bcrypt.MinCost)

	assert.ErrorIs(t, d.Register(ctx, "", "pw"), errors.ErrInvalidUsername)
	assert.ErrorIs(t, d.Register(ctx, "dave", ""), errors.ErrInvalidCredentials)
	assert.ErrorIs(t, d.Register(ctx, "dave", strings.Repeat("x", 80)), errors.ErrInvalidCredentials)
}

func TestHasher_DummyHashMatchesCost(t *testing.T) {
	for _, h := range []Hasher{{Cost: bcrypt.MinCost}, {Cost: bcrypt.MinCost + 2}, {}} {
		cost, err := bcrypt.Cost(h.dummyHash())
		require.NoError(t, err)
		assert.Equal(t, h.cost(), cost)
	}
	assert.Equal(t, bcrypt.DefaultCost, Hasher{}.cost())
}

func TestMemoryDirectory_UnknownUserUsesDirectoryCost(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(bcrypt.MinCost + 1)
	require.NoError(t, d.Register(ctx, "alice", "secret"))

	assert.ErrorIs(t, d.Authenticate(ctx, "mallory", "secret"), errors.ErrInvalidCredentials)

	stored, err := bcrypt.Cost(d.users["alice"])
	require.NoError(t, err)
	dummy, err := bcrypt.Cost(d.hasher.dummyHash())
	require.NoError(t, err)
	assert.Equal(t, stored, dummy)
}
