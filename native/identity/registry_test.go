package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"stakevault/core/types"
)

type memStore struct {
	tokens  map[uint64]*Token
	counter uint64
	baseURI string
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[uint64]*Token)}
}

func (m *memStore) GetToken(id uint64) (*Token, error) {
	if token, ok := m.tokens[id]; ok {
		clone := *token
		return &clone, nil
	}
	return nil, nil
}

func (m *memStore) PutToken(token *Token) error {
	clone := *token
	m.tokens[token.ID] = &clone
	return nil
}

func (m *memStore) DeleteToken(id uint64) error {
	delete(m.tokens, id)
	return nil
}

func (m *memStore) TokenCounter() (uint64, error) { return m.counter, nil }

func (m *memStore) PutTokenCounter(next uint64) error {
	m.counter = next
	return nil
}

func (m *memStore) BaseURI() (string, error) { return m.baseURI, nil }

func (m *memStore) PutBaseURI(uri string) error {
	m.baseURI = uri
	return nil
}

func makeAddress(suffix byte) types.Address {
	var addr types.Address
	addr[len(addr)-1] = suffix
	return addr
}

func TestMintBurnNeverReusesIDs(t *testing.T) {
	registry := NewRegistry(newMemStore(), makeAddress(0x01))
	holder := makeAddress(0xA1)

	first, err := registry.Mint(holder)
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)

	require.NoError(t, registry.Burn(first))
	exists, err := registry.Exists(first)
	require.NoError(t, err)
	require.False(t, exists)

	second, err := registry.Mint(holder)
	require.NoError(t, err)
	require.Equal(t, uint64(2), second, "burned ids must not be reissued")

	owner, err := registry.OwnerOf(second)
	require.NoError(t, err)
	require.Equal(t, holder, owner)
}

func TestBurnMissingToken(t *testing.T) {
	registry := NewRegistry(newMemStore(), makeAddress(0x01))
	require.ErrorIs(t, registry.Burn(42), ErrTokenNotFound)
	_, err := registry.OwnerOf(42)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestBaseURIOwnerGated(t *testing.T) {
	owner := makeAddress(0x01)
	registry := NewRegistry(newMemStore(), owner)
	holder := makeAddress(0xA1)

	require.ErrorIs(t, registry.SetBaseURI(holder, "https://tokens.example/"), ErrUnauthorized)
	require.NoError(t, registry.SetBaseURI(owner, "https://tokens.example/"))

	id, err := registry.Mint(holder)
	require.NoError(t, err)
	uri, err := registry.TokenURI(id)
	require.NoError(t, err)
	require.Equal(t, "https://tokens.example/1", uri)

	_, err = registry.TokenURI(99)
	require.ErrorIs(t, err, ErrTokenNotFound)
}
