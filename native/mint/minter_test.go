package mint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"stakevault/core/types"
)

type memStore struct {
	balances map[types.Address]*big.Int
}

func (m *memStore) GetRewardBalance(addr types.Address) (*big.Int, error) {
	if balance, ok := m.balances[addr]; ok {
		return new(big.Int).Set(balance), nil
	}
	return nil, nil
}

func (m *memStore) PutRewardBalance(addr types.Address, balance *big.Int) error {
	m.balances[addr] = new(big.Int).Set(balance)
	return nil
}

func TestMintAccumulates(t *testing.T) {
	minter := NewMinter(&memStore{balances: make(map[types.Address]*big.Int)})
	var addr types.Address
	addr[19] = 0xA1

	require.NoError(t, minter.Mint(addr, big.NewInt(100)))
	require.NoError(t, minter.Mint(addr, big.NewInt(50)))

	balance, err := minter.BalanceOf(addr)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(150)))

	require.ErrorIs(t, minter.Mint(addr, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, minter.Mint(addr, nil), ErrInvalidAmount)
}
