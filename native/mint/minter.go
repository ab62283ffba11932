package mint

import (
	"errors"
	"math/big"

	"stakevault/core/types"
)

var (
	// ErrNilStore is returned when the minter has no persistence layer wired.
	ErrNilStore = errors.New("reward mint: store not configured")
	// ErrInvalidAmount is returned when a non-positive amount is minted.
	ErrInvalidAmount = errors.New("reward mint: amount must be positive")
)

// Store is the persistence surface consumed by the minter.
type Store interface {
	GetRewardBalance(addr types.Address) (*big.Int, error)
	PutRewardBalance(addr types.Address, balance *big.Int) error
}

// Minter implements the reward-currency capability. Reward balances are a
// separate currency from the staked value and only ever grow through mints.
type Minter struct {
	store Store
}

// NewMinter constructs a minter over the given store.
func NewMinter(store Store) *Minter {
	return &Minter{store: store}
}

// Mint credits freshly issued reward currency to the recipient.
func (m *Minter) Mint(to types.Address, amount *big.Int) error {
	if m == nil || m.store == nil {
		return ErrNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := m.store.GetRewardBalance(to)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	return m.store.PutRewardBalance(to, new(big.Int).Add(balance, amount))
}

// BalanceOf returns the accumulated reward balance for the address.
func (m *Minter) BalanceOf(addr types.Address) (*big.Int, error) {
	if m == nil || m.store == nil {
		return nil, ErrNilStore
	}
	balance, err := m.store.GetRewardBalance(addr)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	return balance, nil
}
