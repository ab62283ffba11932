package credit

import (
	"errors"
	"fmt"

	"stakevault/core/types"
)

var (
	// ErrNilStore is returned when the registry has no persistence layer wired.
	ErrNilStore = errors.New("credit registry: store not configured")
	// ErrAlreadyLocked is returned when a token is locked twice.
	ErrAlreadyLocked = errors.New("credit registry: token already locked")
	// ErrNotLocked is returned when an unlock or score adjustment targets an unlocked token.
	ErrNotLocked = errors.New("credit registry: token not locked")
	// ErrUnauthorized is returned when a privileged call lacks the owner capability.
	ErrUnauthorized = errors.New("credit registry: caller is not the owner")
)

// Lock records a collateralized identity token and the account it is bound to.
type Lock struct {
	TokenID uint64
	Account types.Address
}

// Store is the persistence surface consumed by the registry.
type Store interface {
	GetScore(addr types.Address) (uint64, error)
	PutScore(addr types.Address, score uint64) error
	GetLock(tokenID uint64) (*Lock, error)
	PutLock(lock *Lock) error
	DeleteLock(tokenID uint64) error
}

// Registry implements the credit capability: a per-account score consulted for
// loan eligibility, and the lock state pinning identity tokens while they back
// an outstanding loan.
type Registry struct {
	store Store
	owner types.Address
}

// NewRegistry constructs a registry administered by the given owner.
func NewRegistry(store Store, owner types.Address) *Registry {
	return &Registry{store: store, owner: owner}
}

// CreditBalance returns the score for the account; unknown accounts score zero.
func (r *Registry) CreditBalance(addr types.Address) (uint64, error) {
	if r == nil || r.store == nil {
		return 0, ErrNilStore
	}
	return r.store.GetScore(addr)
}

// SetScore overwrites an account's score. Requires the owner capability; this
// is the administrative seeding path, organic movement goes through AdjustScore.
func (r *Registry) SetScore(caller, addr types.Address, score uint64) error {
	if r == nil || r.store == nil {
		return ErrNilStore
	}
	if caller != r.owner {
		return ErrUnauthorized
	}
	return r.store.PutScore(addr, score)
}

// Lock pins a token to the account it collateralizes.
func (r *Registry) Lock(tokenID uint64, addr types.Address) error {
	if r == nil || r.store == nil {
		return ErrNilStore
	}
	existing, err := r.store.GetLock(tokenID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %d", ErrAlreadyLocked, tokenID)
	}
	return r.store.PutLock(&Lock{TokenID: tokenID, Account: addr})
}

// Unlock releases a locked token.
func (r *Registry) Unlock(tokenID uint64) error {
	if r == nil || r.store == nil {
		return ErrNilStore
	}
	existing, err := r.store.GetLock(tokenID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %d", ErrNotLocked, tokenID)
	}
	return r.store.DeleteLock(tokenID)
}

// AdjustScore moves the score of the account bound to a locked token. Negative
// deltas floor at zero rather than underflowing.
func (r *Registry) AdjustScore(tokenID uint64, delta int64) error {
	if r == nil || r.store == nil {
		return ErrNilStore
	}
	lock, err := r.store.GetLock(tokenID)
	if err != nil {
		return err
	}
	if lock == nil {
		return fmt.Errorf("%w: %d", ErrNotLocked, tokenID)
	}
	score, err := r.store.GetScore(lock.Account)
	if err != nil {
		return err
	}
	if delta < 0 {
		decrease := uint64(-delta)
		if decrease >= score {
			return r.store.PutScore(lock.Account, 0)
		}
		return r.store.PutScore(lock.Account, score-decrease)
	}
	return r.store.PutScore(lock.Account, score+uint64(delta))
}
