package events

import (
	"math/big"
	"strconv"

	"stakevault/core/types"
)

const (
	// TypeStaked is emitted when collateral is deposited.
	TypeStaked = "ledger.staked"
	// TypeUnstaked is emitted when collateral is withdrawn.
	TypeUnstaked = "ledger.unstaked"
	// TypeRewardsClaimed is emitted when pending rewards are minted to an account.
	TypeRewardsClaimed = "ledger.rewardsClaimed"
	// TypeLoanTaken is emitted when a loan is issued against staked collateral.
	TypeLoanTaken = "ledger.loanTaken"
	// TypeLoanRepaid is emitted when a loan is settled in good standing.
	TypeLoanRepaid = "ledger.loanRepaid"
	// TypeLoanDefaulted is emitted when an overdue loan is terminated and the
	// collateral forfeited.
	TypeLoanDefaulted = "ledger.loanDefaulted"
	// TypeExcessWithdrawn is emitted when the owner sweeps unencumbered value.
	TypeExcessWithdrawn = "ledger.excessWithdrawn"
	// TypeOverdueSwept is emitted when the owner collects a range of overdue loans.
	TypeOverdueSwept = "ledger.overdueSwept"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Staked captures a collateral deposit.
type Staked struct {
	Account  types.Address
	Amount   *big.Int
	NewStake *big.Int
	TokenID  uint64
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	return &types.Event{Type: TypeStaked, Attributes: map[string]string{
		"addr":     e.Account.String(),
		"amount":   formatAmount(e.Amount),
		"newStake": formatAmount(e.NewStake),
		"tokenId":  strconv.FormatUint(e.TokenID, 10),
	}}
}

// Unstaked captures a collateral withdrawal.
type Unstaked struct {
	Account   types.Address
	Amount    *big.Int
	Remaining *big.Int
	Closed    bool
}

// EventType satisfies the Event interface.
func (Unstaked) EventType() string { return TypeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e Unstaked) Event() *types.Event {
	return &types.Event{Type: TypeUnstaked, Attributes: map[string]string{
		"addr":      e.Account.String(),
		"amount":    formatAmount(e.Amount),
		"remaining": formatAmount(e.Remaining),
		"closed":    strconv.FormatBool(e.Closed),
	}}
}

// RewardsClaimed captures a reward mint triggered by a claim or a closing unstake.
type RewardsClaimed struct {
	Account types.Address
	Amount  *big.Int
}

// EventType satisfies the Event interface.
func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e RewardsClaimed) Event() *types.Event {
	return &types.Event{Type: TypeRewardsClaimed, Attributes: map[string]string{
		"addr":   e.Account.String(),
		"amount": formatAmount(e.Amount),
	}}
}

// LoanTaken captures a loan issuance.
type LoanTaken struct {
	Account   types.Address
	Principal *big.Int
	Owed      *big.Int
	TokenID   uint64
	DueAt     uint64
}

// EventType satisfies the Event interface.
func (LoanTaken) EventType() string { return TypeLoanTaken }

// Event converts the structured payload into a broadcastable event.
func (e LoanTaken) Event() *types.Event {
	return &types.Event{Type: TypeLoanTaken, Attributes: map[string]string{
		"addr":      e.Account.String(),
		"principal": formatAmount(e.Principal),
		"owed":      formatAmount(e.Owed),
		"tokenId":   strconv.FormatUint(e.TokenID, 10),
		"dueAt":     strconv.FormatUint(e.DueAt, 10),
	}}
}

// LoanRepaid captures a good-standing repayment.
type LoanRepaid struct {
	Account  types.Address
	Paid     *big.Int
	Interest *big.Int
	Refund   *big.Int
}

// EventType satisfies the Event interface.
func (LoanRepaid) EventType() string { return TypeLoanRepaid }

// Event converts the structured payload into a broadcastable event.
func (e LoanRepaid) Event() *types.Event {
	return &types.Event{Type: TypeLoanRepaid, Attributes: map[string]string{
		"addr":     e.Account.String(),
		"paid":     formatAmount(e.Paid),
		"interest": formatAmount(e.Interest),
		"refund":   formatAmount(e.Refund),
	}}
}

// LoanDefaulted captures a forced termination of an overdue loan.
type LoanDefaulted struct {
	Account          types.Address
	ForfeitedStake   *big.Int
	ForfeitedBalance *big.Int
	TokenID          uint64
}

// EventType satisfies the Event interface.
func (LoanDefaulted) EventType() string { return TypeLoanDefaulted }

// Event converts the structured payload into a broadcastable event.
func (e LoanDefaulted) Event() *types.Event {
	return &types.Event{Type: TypeLoanDefaulted, Attributes: map[string]string{
		"addr":             e.Account.String(),
		"forfeitedStake":   formatAmount(e.ForfeitedStake),
		"forfeitedBalance": formatAmount(e.ForfeitedBalance),
		"tokenId":          strconv.FormatUint(e.TokenID, 10),
	}}
}

// ExcessWithdrawn captures an owner sweep of unencumbered value.
type ExcessWithdrawn struct {
	Recipient types.Address
	Amount    *big.Int
}

// EventType satisfies the Event interface.
func (ExcessWithdrawn) EventType() string { return TypeExcessWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e ExcessWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeExcessWithdrawn, Attributes: map[string]string{
		"recipient": e.Recipient.String(),
		"amount":    formatAmount(e.Amount),
	}}
}

// OverdueSwept captures an owner collection of overdue loans across a token range.
type OverdueSwept struct {
	Recipient types.Address
	StartID   uint64
	EndID     uint64
	Collected *big.Int
	Loans     uint64
}

// EventType satisfies the Event interface.
func (OverdueSwept) EventType() string { return TypeOverdueSwept }

// Event converts the structured payload into a broadcastable event.
func (e OverdueSwept) Event() *types.Event {
	return &types.Event{Type: TypeOverdueSwept, Attributes: map[string]string{
		"recipient": e.Recipient.String(),
		"startId":   strconv.FormatUint(e.StartID, 10),
		"endId":     strconv.FormatUint(e.EndID, 10),
		"collected": formatAmount(e.Collected),
		"loans":     strconv.FormatUint(e.Loans, 10),
	}}
}
