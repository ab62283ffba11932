package types

import "math/big"

// Account holds the spendable value balance for an address. Ledger positions
// (stake, loans) live in the ledger module; this is purely the settlement
// balance moved by transfers.
type Account struct {
	Balance *big.Int
}

// NewAccount returns an account with a zeroed balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}
