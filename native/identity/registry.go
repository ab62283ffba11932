package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stakevault/core/types"
)

var (
	// ErrNilStore is returned when the registry has no persistence layer wired.
	ErrNilStore = errors.New("identity registry: store not configured")
	// ErrTokenNotFound is returned when a token id has never been minted or was burned.
	ErrTokenNotFound = errors.New("identity registry: token does not exist")
	// ErrUnauthorized is returned when a privileged call lacks the owner capability.
	ErrUnauthorized = errors.New("identity registry: caller is not the owner")
)

// Token is a single identity token binding an address to a staking position.
// Ids are issued from a monotonic counter and never reused.
type Token struct {
	ID    uint64
	Owner types.Address
}

// Store is the persistence surface consumed by the registry.
type Store interface {
	GetToken(id uint64) (*Token, error)
	PutToken(token *Token) error
	DeleteToken(id uint64) error
	TokenCounter() (uint64, error)
	PutTokenCounter(next uint64) error
	BaseURI() (string, error)
	PutBaseURI(uri string) error
}

// Registry implements the identity-token capability: one token per staking
// position, minted on first stake and burned on full exit or default.
type Registry struct {
	store Store
	owner types.Address
}

// NewRegistry constructs a registry administered by the given owner.
func NewRegistry(store Store, owner types.Address) *Registry {
	return &Registry{store: store, owner: owner}
}

// Mint issues the next token id to the holder.
func (r *Registry) Mint(holder types.Address) (uint64, error) {
	if r == nil || r.store == nil {
		return 0, ErrNilStore
	}
	counter, err := r.store.TokenCounter()
	if err != nil {
		return 0, err
	}
	id := counter + 1
	if err := r.store.PutToken(&Token{ID: id, Owner: holder}); err != nil {
		return 0, err
	}
	if err := r.store.PutTokenCounter(id); err != nil {
		return 0, err
	}
	return id, nil
}

// Burn removes a live token.
func (r *Registry) Burn(id uint64) error {
	if r == nil || r.store == nil {
		return ErrNilStore
	}
	token, err := r.store.GetToken(id)
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("%w: %d", ErrTokenNotFound, id)
	}
	return r.store.DeleteToken(id)
}

// Exists reports whether the token id is live.
func (r *Registry) Exists(id uint64) (bool, error) {
	if r == nil || r.store == nil {
		return false, ErrNilStore
	}
	token, err := r.store.GetToken(id)
	if err != nil {
		return false, err
	}
	return token != nil, nil
}

// OwnerOf resolves the holder of a live token.
func (r *Registry) OwnerOf(id uint64) (types.Address, error) {
	if r == nil || r.store == nil {
		return types.Address{}, ErrNilStore
	}
	token, err := r.store.GetToken(id)
	if err != nil {
		return types.Address{}, err
	}
	if token == nil {
		return types.Address{}, fmt.Errorf("%w: %d", ErrTokenNotFound, id)
	}
	return token.Owner, nil
}

// SetBaseURI updates the metadata base URI. Requires the owner capability.
func (r *Registry) SetBaseURI(caller types.Address, uri string) error {
	if r == nil || r.store == nil {
		return ErrNilStore
	}
	if caller != r.owner {
		return ErrUnauthorized
	}
	return r.store.PutBaseURI(strings.TrimSpace(uri))
}

// TokenURI renders the metadata URI for a live token.
func (r *Registry) TokenURI(id uint64) (string, error) {
	if r == nil || r.store == nil {
		return "", ErrNilStore
	}
	exists, err := r.Exists(id)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %d", ErrTokenNotFound, id)
	}
	base, err := r.store.BaseURI()
	if err != nil {
		return "", err
	}
	if base == "" {
		return "", nil
	}
	return strings.TrimSuffix(base, "/") + "/" + strconv.FormatUint(id, 10), nil
}
