package ledger

import (
	"math/big"

	"stakevault/core/types"
)

// Account maintains the staking and loan position for a single participant.
// Amounts are integer ledger units held as big integers, matching the
// settlement balances. A missing account is equivalent to the all-zero value;
// entries are created lazily on first stake and never physically deleted.
type Account struct {
	// Address is the unique participant identifier.
	Address types.Address
	// Staked is the collateral currently deposited.
	Staked *big.Int
	// UnstakedTotal accumulates every withdrawal for auditing; nothing else
	// consumes it.
	UnstakedTotal *big.Int
	// TokenID is the identity token bound to the position, zero when none is
	// minted. Token ids are issued from 1 and never reused.
	TokenID uint64
	// LastClaimedAt is the unix time of the first stake or the most recent
	// reward claim, zero when unset.
	LastClaimedAt uint64
	// LoanBalance is the outstanding principal plus reserved interest. Zero
	// means no active loan.
	LoanBalance *big.Int
	// LoanIssuedAt is the unix time the active loan was issued, zero when no
	// loan is active.
	LoanIssuedAt uint64
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{
		Address:       a.Address,
		TokenID:       a.TokenID,
		LastClaimedAt: a.LastClaimedAt,
		LoanIssuedAt:  a.LoanIssuedAt,
	}
	if a.Staked != nil {
		clone.Staked = new(big.Int).Set(a.Staked)
	}
	if a.UnstakedTotal != nil {
		clone.UnstakedTotal = new(big.Int).Set(a.UnstakedTotal)
	}
	if a.LoanBalance != nil {
		clone.LoanBalance = new(big.Int).Set(a.LoanBalance)
	}
	return clone
}

// Treasury captures the aggregate totals backing administrative withdrawal
// limits. Both counters move in lockstep with account mutations so that the
// held value minus (TotalStaked + TotalLoaned) is always the sweepable excess.
type Treasury struct {
	TotalStaked *big.Int
	TotalLoaned *big.Int
}

// LoanState tags the lifecycle position of an account's loan.
type LoanState uint8

const (
	// LoanStateNone indicates no outstanding loan.
	LoanStateNone LoanState = iota
	// LoanStateActive indicates a loan inside its repayment window.
	LoanStateActive
	// LoanStateOverdue indicates the repayment window has elapsed.
	LoanStateOverdue
)

// String renders the state for logs and RPC responses.
func (s LoanState) String() string {
	switch s {
	case LoanStateActive:
		return "active"
	case LoanStateOverdue:
		return "overdue"
	default:
		return "none"
	}
}

// LoanStatus reports an account's loan lifecycle position. Remaining carries
// the seconds left in the repayment window and is only meaningful for
// LoanStateActive.
type LoanStatus struct {
	State     LoanState
	Remaining uint64
}

// Legacy renders the status in the historical signed-duration form: -1 for no
// loan, 0 for overdue, otherwise the strictly positive seconds remaining.
func (s LoanStatus) Legacy() int64 {
	switch s.State {
	case LoanStateActive:
		return int64(s.Remaining)
	case LoanStateOverdue:
		return 0
	default:
		return -1
	}
}

// BalanceChange pairs a settlement account with its mutated state.
type BalanceChange struct {
	Addr    types.Address
	Account *types.Account
}

// ChangeSet collects every record mutated by a single engine operation. The
// state layer commits the whole set atomically, so a storage failure cannot
// strand a subset of an operation's writes.
type ChangeSet struct {
	Users    []*Account
	Balances []BalanceChange
	Treasury *Treasury
}

func (cs *ChangeSet) putUser(user *Account) {
	cs.Users = append(cs.Users, user)
}

func (cs *ChangeSet) putBalance(addr types.Address, account *types.Account) {
	cs.Balances = append(cs.Balances, BalanceChange{Addr: addr, Account: account})
}

// RepayResult reports the outcome of a repayment attempt.
type RepayResult struct {
	// Refund is the value returned to the caller: the full payment when the
	// loan was already overdue, otherwise the payment net of interest.
	Refund *big.Int
	// Interest is the portion retained by the treasury, zero on default.
	Interest *big.Int
	// Defaulted reports whether the call terminated an overdue loan instead
	// of settling it.
	Defaulted bool
}
