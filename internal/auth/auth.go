// Package auth holds the user directory: write-once usernames mapped to
// salted bcrypt password hashes.
package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/validation"
)

// Directory stores users. Implementations are expected to be thread safe.
type Directory interface {
	// Register creates a user. It returns ErrUserExists if the name is taken.
	Register(ctx context.Context, user, pass string) error
	// Authenticate returns ErrInvalidCredentials unless pass matches.
	Authenticate(ctx context.Context, user, pass string) error
}

// Hasher turns passwords into stored hashes and checks them.
type Hasher struct {
	Cost int
}

func (h Hasher) cost() int {
	if h.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

// Hash returns a salted bcrypt hash of pass.
func (h Hasher) Hash(pass string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), h.cost())
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password longer than 72 bytes", errors.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Verify returns ErrInvalidCredentials unless pass matches hash.
func (h Hasher) Verify(hash []byte, pass string) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(pass)); err != nil {
		return errors.ErrInvalidCredentials
	}
	return nil
}

// dummyHashes caches one hash per cost, generated on first use.
var dummyHashes sync.Map // int -> []byte

// dummyHash returns a hash at the hasher's cost. Unknown users are checked
// against it so they take as long to reject as a wrong password.
func (h Hasher) dummyHash() []byte {
	cost := h.cost()
	if v, ok := dummyHashes.Load(cost); ok {
		return v.([]byte)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("salesdb-dummy-password"), cost)
	if err != nil {
		// Only an out-of-range cost fails, and Hash rejects that too.
		hash, _ = bcrypt.GenerateFromPassword([]byte("salesdb-dummy-password"), bcrypt.DefaultCost)
	}
	v, _ := dummyHashes.LoadOrStore(cost, hash)
	return v.([]byte)
}

// RejectUnknown burns the same bcrypt work as a real check and returns
// ErrInvalidCredentials.
func (h Hasher) RejectUnknown(pass string) error {
	_ = h.Verify(h.dummyHash(), pass)
	return errors.ErrInvalidCredentials
}

func validateCredentials(user, pass string) error {
	if err := validation.ValidateUsername(user); err != nil {
		return err
	}
	if pass == "" {
		return fmt.Errorf("%w: empty password", errors.ErrInvalidCredentials)
	}
	return nil
}
