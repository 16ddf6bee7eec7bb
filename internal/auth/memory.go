package auth

import (
	"context"
	"sync"

	"github.com/xtxerr/salesdb/internal/errors"
)

// MemoryDirectory keeps users in process memory.
type MemoryDirectory struct {
	hasher Hasher

	mu    sync.RWMutex
	users map[string][]byte
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory(cost int) *MemoryDirectory {
	return &MemoryDirectory{
		hasher: Hasher{Cost: cost},
		users:  make(map[string][]byte),
	}
}

// Register implements Directory. Hashing happens outside the lock.
func (d *MemoryDirectory) Register(_ context.Context, user, pass string) error {
	if err := validateCredentials(user, pass); err != nil {
		return err
	}

	d.mu.RLock()
	_, exists := d.users[user]
	d.mu.RUnlock()
	if exists {
		return errors.ErrUserExists
	}

	hash, err := d.hasher.Hash(pass)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.users[user]; exists {
		return errors.ErrUserExists
	}
	d.users[user] = hash
	return nil
}

// Authenticate implements Directory.
func (d *MemoryDirectory) Authenticate(_ context.Context, user, pass string) error {
	d.mu.RLock()
	hash, ok := d.users[user]
	d.mu.RUnlock()

	if !ok {
		return d.hasher.RejectUnknown(pass)
	}
	return d.hasher.Verify(hash, pass)
}

// Len returns the number of registered users.
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
