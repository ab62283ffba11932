package credit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"stakevault/core/types"
)

type memStore struct {
	scores map[types.Address]uint64
	locks  map[uint64]*Lock
}

func newMemStore() *memStore {
	return &memStore{
		scores: make(map[types.Address]uint64),
		locks:  make(map[uint64]*Lock),
	}
}

func (m *memStore) GetScore(addr types.Address) (uint64, error) { return m.scores[addr], nil }

func (m *memStore) PutScore(addr types.Address, score uint64) error {
	m.scores[addr] = score
	return nil
}

func (m *memStore) GetLock(tokenID uint64) (*Lock, error) {
	if lock, ok := m.locks[tokenID]; ok {
		clone := *lock
		return &clone, nil
	}
	return nil, nil
}

func (m *memStore) PutLock(lock *Lock) error {
	clone := *lock
	m.locks[lock.TokenID] = &clone
	return nil
}

func (m *memStore) DeleteLock(tokenID uint64) error {
	delete(m.locks, tokenID)
	return nil
}

func makeAddress(suffix byte) types.Address {
	var addr types.Address
	addr[len(addr)-1] = suffix
	return addr
}

func TestLockUnlockLifecycle(t *testing.T) {
	registry := NewRegistry(newMemStore(), makeAddress(0x01))
	borrower := makeAddress(0xA1)

	require.NoError(t, registry.Lock(1, borrower))
	require.ErrorIs(t, registry.Lock(1, borrower), ErrAlreadyLocked)
	require.NoError(t, registry.Unlock(1))
	require.ErrorIs(t, registry.Unlock(1), ErrNotLocked)
}

func TestAdjustScoreFloorsAtZero(t *testing.T) {
	owner := makeAddress(0x01)
	registry := NewRegistry(newMemStore(), owner)
	borrower := makeAddress(0xA1)

	require.NoError(t, registry.SetScore(owner, borrower, 2))
	require.NoError(t, registry.Lock(7, borrower))

	require.NoError(t, registry.AdjustScore(7, 3))
	score, err := registry.CreditBalance(borrower)
	require.NoError(t, err)
	require.Equal(t, uint64(5), score)

	require.NoError(t, registry.AdjustScore(7, -10))
	score, err = registry.CreditBalance(borrower)
	require.NoError(t, err)
	require.Zero(t, score)

	require.ErrorIs(t, registry.AdjustScore(8, 1), ErrNotLocked)
}

func TestSetScoreOwnerGated(t *testing.T) {
	owner := makeAddress(0x01)
	registry := NewRegistry(newMemStore(), owner)
	require.ErrorIs(t, registry.SetScore(makeAddress(0xA1), makeAddress(0xA1), 9), ErrUnauthorized)
	require.NoError(t, registry.SetScore(owner, makeAddress(0xA1), 9))
}
