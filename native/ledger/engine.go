package ledger

import (
	"errors"
	"math/big"
	"time"

	"stakevault/core/events"
	"stakevault/core/types"
	nativecommon "stakevault/native/common"
)

var (
	// ErrNilState is returned when the engine has no persistence layer wired.
	ErrNilState = errors.New("ledger engine: state not configured")
	// ErrNilCapability is returned when a required external capability is missing.
	ErrNilCapability = errors.New("ledger engine: capability not configured")
	// ErrInvalidAmount is returned when a positive amount is required.
	ErrInvalidAmount = errors.New("ledger engine: amount must be positive")
	// ErrInsufficientBalance is returned when the caller cannot cover a transfer.
	ErrInsufficientBalance = errors.New("ledger engine: insufficient balance")
	// ErrInsufficientStake is returned when an unstake exceeds the staked amount.
	ErrInsufficientStake = errors.New("ledger engine: unstake exceeds staked balance")
	// ErrActiveLoan is returned when an operation is blocked by an outstanding loan.
	ErrActiveLoan = errors.New("ledger engine: operation blocked by active loan")
	// ErrLoanOverdue is returned by unstake after an overdue loan was discovered
	// and terminated; the forfeiture persists even though the unstake fails.
	ErrLoanOverdue = errors.New("ledger engine: loan overdue, collateral forfeited")
	// ErrNoActiveLoan is returned when a repayment targets an account without debt.
	ErrNoActiveLoan = errors.New("ledger engine: no outstanding loan")
	// ErrLoanNotEligible is returned when loan preconditions are not met.
	ErrLoanNotEligible = errors.New("ledger engine: account not eligible for loan")
	// ErrInsufficientPayment is returned when a repayment does not cover the debt.
	ErrInsufficientPayment = errors.New("ledger engine: payment below outstanding balance")
	// ErrNothingToClaim is returned when no rewards have accrued.
	ErrNothingToClaim = errors.New("ledger engine: no pending rewards")
	// ErrNoExcess is returned when no unencumbered value is available to sweep.
	ErrNoExcess = errors.New("ledger engine: no withdrawable excess")
	// ErrNoOverdueLoans is returned when a sweep range contains no overdue loans.
	ErrNoOverdueLoans = errors.New("ledger engine: no overdue loans in range")
	// ErrInvalidRange is returned when a sweep range is malformed.
	ErrInvalidRange = errors.New("ledger engine: invalid token id range")
	// ErrUnauthorized is returned when a privileged operation lacks the owner capability.
	ErrUnauthorized = errors.New("ledger engine: caller is not the owner")
)

const moduleName = "ledger"

// IdentityToken is the external capability minting and burning the one-per-account
// identity tokens that bind a staking position to its holder.
type IdentityToken interface {
	Mint(owner types.Address) (uint64, error)
	Burn(tokenID uint64) error
	Exists(tokenID uint64) (bool, error)
	OwnerOf(tokenID uint64) (types.Address, error)
}

// CreditRegistry is the external capability tracking per-account creditworthiness
// and the lock state of collateralized identity tokens.
type CreditRegistry interface {
	CreditBalance(addr types.Address) (uint64, error)
	Lock(tokenID uint64, addr types.Address) error
	Unlock(tokenID uint64) error
	AdjustScore(tokenID uint64, delta int64) error
}

// RewardMint is the external capability issuing the reward currency.
type RewardMint interface {
	Mint(to types.Address, amount *big.Int) error
}

// engineState is the persistence surface consumed by the engine. Reads return
// fresh copies; writes flow through Apply, which commits a whole operation's
// change set atomically.
type engineState interface {
	GetUserAccount(addr types.Address) (*Account, error)
	GetAccount(addr types.Address) (*types.Account, error)
	GetTreasury() (*Treasury, error)
	Apply(cs *ChangeSet) error
}

// Engine orchestrates the staking, reward accrual and loan lifecycle state
// transitions. All value is settled against balance accounts held in the same
// store; the module address acts as the vault holding staked collateral and
// loan liquidity.
type Engine struct {
	state         engineState
	identity      IdentityToken
	credit        CreditRegistry
	rewards       RewardMint
	moduleAddress types.Address
	owner         types.Address
	params        Params
	pauses        nativecommon.PauseView
	guard         nativecommon.CallGuard
	emitter       events.Emitter
	nowFunc       func() uint64
}

// NewEngine constructs a ledger engine bound to the vault address and owner.
func NewEngine(moduleAddr, owner types.Address, params Params) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		owner:         owner,
		params:        params,
		emitter:       events.NoopEmitter{},
		nowFunc:       func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCapabilities wires the identity, credit and reward-mint collaborators.
func (e *Engine) SetCapabilities(identity IdentityToken, credit CreditRegistry, rewards RewardMint) {
	if e == nil {
		return
	}
	e.identity = identity
	e.credit = credit
	e.rewards = rewards
}

// SetPauses installs the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets to a no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the wall clock used for accrual and loan deadlines.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil || now == nil {
		return
	}
	e.nowFunc = now
}

// Owner returns the configured owner address.
func (e *Engine) Owner() types.Address {
	if e == nil {
		return types.Address{}
	}
	return e.owner
}

// Stake deposits collateral from the caller into the vault. The first stake
// mints the account's identity token and initialises the accrual clock so the
// deposit does not generate backdated rewards.
func (e *Engine) Stake(caller types.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	release, err := e.guard.Enter("stake")
	if err != nil {
		return err
	}
	defer release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.identity == nil {
		return ErrNilCapability
	}

	callerAcc, err := e.loadBalance(caller)
	if err != nil {
		return err
	}
	if callerAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	moduleAcc, err := e.loadBalance(e.moduleAddress)
	if err != nil {
		return err
	}

	user, err := e.ensureUserAccount(caller)
	if err != nil {
		return err
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return err
	}

	// Repeated stakes reuse the live identity token; only a fresh position
	// mints a new one.
	if user.TokenID == 0 {
		tokenID, err := e.identity.Mint(caller)
		if err != nil {
			return err
		}
		user.TokenID = tokenID
	}
	now := e.now()
	if user.LastClaimedAt == 0 {
		user.LastClaimedAt = now
	}

	callerAcc.Balance = new(big.Int).Sub(callerAcc.Balance, amount)
	moduleAcc.Balance = new(big.Int).Add(moduleAcc.Balance, amount)
	user.Staked = new(big.Int).Add(user.Staked, amount)
	treasury.TotalStaked = new(big.Int).Add(treasury.TotalStaked, amount)

	cs := &ChangeSet{Treasury: treasury}
	cs.putUser(user)
	cs.putBalance(caller, callerAcc)
	cs.putBalance(e.moduleAddress, moduleAcc)
	if err := e.state.Apply(cs); err != nil {
		return err
	}

	e.emitter.Emit(events.Staked{
		Account:  caller,
		Amount:   new(big.Int).Set(amount),
		NewStake: new(big.Int).Set(user.Staked),
		TokenID:  user.TokenID,
	})
	return nil
}

// Unstake withdraws collateral. An active loan blocks the withdrawal outright;
// an overdue loan is terminated as a side effect and the withdrawal still
// fails, forfeiting the collateral. A withdrawal that empties the position
// auto-claims pending rewards and burns the identity token.
func (e *Engine) Unstake(caller types.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	release, err := e.guard.Enter("unstake")
	if err != nil {
		return err
	}
	defer release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.identity == nil || e.rewards == nil {
		return ErrNilCapability
	}

	user, err := e.ensureUserAccount(caller)
	if err != nil {
		return err
	}
	if user.Staked.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return err
	}

	now := e.now()
	switch e.loanStatusAt(user, now).State {
	case LoanStateActive:
		return ErrActiveLoan
	case LoanStateOverdue:
		// Punitive path: the forfeiture commits even though the unstake
		// itself is rejected.
		defaulted, err := e.terminate(user, treasury)
		if err != nil {
			return err
		}
		cs := &ChangeSet{Treasury: treasury}
		cs.putUser(user)
		if err := e.state.Apply(cs); err != nil {
			return err
		}
		e.emitter.Emit(defaulted)
		return ErrLoanOverdue
	}

	moduleAcc, err := e.loadBalance(e.moduleAddress)
	if err != nil {
		return err
	}
	if moduleAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	callerAcc, err := e.loadBalance(caller)
	if err != nil {
		return err
	}

	closing := user.Staked.Cmp(amount) == 0
	var pending *big.Int
	if closing {
		pending = e.pendingAt(user, now)
		if pending.Sign() > 0 {
			if err := e.rewards.Mint(caller, pending); err != nil {
				return err
			}
		}
		user.LastClaimedAt = now
	}

	user.Staked = new(big.Int).Sub(user.Staked, amount)
	user.UnstakedTotal = new(big.Int).Add(user.UnstakedTotal, amount)
	treasury.TotalStaked = new(big.Int).Sub(treasury.TotalStaked, amount)

	if closing && user.TokenID != 0 {
		if err := e.identity.Burn(user.TokenID); err != nil {
			return err
		}
		user.TokenID = 0
	}

	moduleAcc.Balance = new(big.Int).Sub(moduleAcc.Balance, amount)
	callerAcc.Balance = new(big.Int).Add(callerAcc.Balance, amount)

	cs := &ChangeSet{Treasury: treasury}
	cs.putUser(user)
	cs.putBalance(e.moduleAddress, moduleAcc)
	cs.putBalance(caller, callerAcc)
	if err := e.state.Apply(cs); err != nil {
		return err
	}

	if closing && pending != nil && pending.Sign() > 0 {
		e.emitter.Emit(events.RewardsClaimed{Account: caller, Amount: new(big.Int).Set(pending)})
	}
	e.emitter.Emit(events.Unstaked{
		Account:   caller,
		Amount:    new(big.Int).Set(amount),
		Remaining: new(big.Int).Set(user.Staked),
		Closed:    closing,
	})
	return nil
}

// PendingRewards computes the reward accrued since the last claim: a simple
// interest on the current stake, truncated toward zero. Dust stakes or short
// intervals rounding to zero is accepted behaviour.
func (e *Engine) PendingRewards(addr types.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	user, err := e.ensureUserAccount(addr)
	if err != nil {
		return nil, err
	}
	return e.pendingAt(user, e.now()), nil
}

// ClaimRewards mints the accrued rewards to the caller and resets the accrual
// clock. Claims are blocked while a loan is outstanding, forcing repayment
// before reward extraction.
func (e *Engine) ClaimRewards(caller types.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	release, err := e.guard.Enter("claimRewards")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.rewards == nil {
		return nil, ErrNilCapability
	}

	user, err := e.ensureUserAccount(caller)
	if err != nil {
		return nil, err
	}
	if user.LoanBalance.Sign() > 0 {
		return nil, ErrActiveLoan
	}
	now := e.now()
	pending := e.pendingAt(user, now)
	if pending.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	if err := e.rewards.Mint(caller, pending); err != nil {
		return nil, err
	}
	user.LastClaimedAt = now
	cs := &ChangeSet{}
	cs.putUser(user)
	if err := e.state.Apply(cs); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.RewardsClaimed{Account: caller, Amount: new(big.Int).Set(pending)})
	return pending, nil
}

// LoanStatus reports the loan lifecycle position for the account.
func (e *Engine) LoanStatus(addr types.Address) (LoanStatus, error) {
	if e == nil || e.state == nil {
		return LoanStatus{}, ErrNilState
	}
	user, err := e.ensureUserAccount(addr)
	if err != nil {
		return LoanStatus{}, err
	}
	return e.loanStatusAt(user, e.now()), nil
}

// CanTakeLoan reports loan eligibility: live stake, no outstanding loan, a live
// identity token, and a positive credit balance in the external registry.
func (e *Engine) CanTakeLoan(addr types.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	if e.identity == nil || e.credit == nil {
		return false, ErrNilCapability
	}
	user, err := e.ensureUserAccount(addr)
	if err != nil {
		return false, err
	}
	if user.Staked.Sign() == 0 || user.LoanBalance.Sign() > 0 || user.TokenID == 0 {
		return false, nil
	}
	exists, err := e.identity.Exists(user.TokenID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	credit, err := e.credit.CreditBalance(addr)
	if err != nil {
		return false, err
	}
	return credit > 0, nil
}

// TakeLoan issues a loan against the caller's stake. The principal is a fixed
// percentage of the stake; interest is reserved up front so the stored balance
// is the full amount owed. The identity token is locked in the credit registry
// for the life of the loan and the principal is transferred to the borrower.
func (e *Engine) TakeLoan(caller types.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	release, err := e.guard.Enter("takeLoan")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	eligible, err := e.CanTakeLoan(caller)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrLoanNotEligible
	}

	user, err := e.ensureUserAccount(caller)
	if err != nil {
		return nil, err
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return nil, err
	}

	principal := new(big.Int).Mul(user.Staked, new(big.Int).SetUint64(e.params.LoanPercent))
	principal = principal.Quo(principal, big.NewInt(100))
	if principal.Sign() == 0 {
		return nil, ErrLoanNotEligible
	}
	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(e.params.InterestPercent))
	interest = interest.Quo(interest, big.NewInt(100))
	owed := new(big.Int).Add(principal, interest)

	moduleAcc, err := e.loadBalance(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.Balance.Cmp(principal) < 0 {
		return nil, ErrInsufficientBalance
	}
	borrowerAcc, err := e.loadBalance(caller)
	if err != nil {
		return nil, err
	}

	if err := e.credit.Lock(user.TokenID, caller); err != nil {
		return nil, err
	}

	now := e.now()
	user.LoanBalance = owed
	user.LoanIssuedAt = now
	treasury.TotalLoaned = new(big.Int).Add(treasury.TotalLoaned, owed)
	moduleAcc.Balance = new(big.Int).Sub(moduleAcc.Balance, principal)
	borrowerAcc.Balance = new(big.Int).Add(borrowerAcc.Balance, principal)

	cs := &ChangeSet{Treasury: treasury}
	cs.putUser(user)
	cs.putBalance(e.moduleAddress, moduleAcc)
	cs.putBalance(caller, borrowerAcc)
	if err := e.state.Apply(cs); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.LoanTaken{
		Account:   caller,
		Principal: new(big.Int).Set(principal),
		Owed:      new(big.Int).Set(owed),
		TokenID:   user.TokenID,
		DueAt:     now + e.params.LoanDurationSeconds,
	})
	return principal, nil
}

// PayBackLoan settles an active loan. Payments against an overdue loan are
// rejected: the loan is terminated, the collateral forfeited and the entire
// payment refunded. Good-standing repayment requires the payment to cover the
// full balance (partial repayment is rejected outright); the treasury retains
// the interest portion and the remainder of the payment is refunded.
func (e *Engine) PayBackLoan(caller types.Address, payment *big.Int) (*RepayResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	release, err := e.guard.Enter("payBackLoan")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if payment == nil || payment.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.credit == nil || e.identity == nil {
		return nil, ErrNilCapability
	}

	user, err := e.ensureUserAccount(caller)
	if err != nil {
		return nil, err
	}
	if user.LoanBalance.Sign() == 0 {
		return nil, ErrNoActiveLoan
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return nil, err
	}

	now := e.now()
	if e.loanStatusAt(user, now).State == LoanStateOverdue {
		// Hard cutoff: repayment past the deadline forfeits the position and
		// the payment is returned untouched.
		defaulted, err := e.terminate(user, treasury)
		if err != nil {
			return nil, err
		}
		cs := &ChangeSet{Treasury: treasury}
		cs.putUser(user)
		if err := e.state.Apply(cs); err != nil {
			return nil, err
		}
		e.emitter.Emit(defaulted)
		return &RepayResult{
			Refund:    new(big.Int).Set(payment),
			Interest:  big.NewInt(0),
			Defaulted: true,
		}, nil
	}

	// Sufficiency is validated before the credit unlock and score bump so no
	// partial state change can survive a rejected repayment.
	if payment.Cmp(user.LoanBalance) < 0 {
		return nil, ErrInsufficientPayment
	}
	callerAcc, err := e.loadBalance(caller)
	if err != nil {
		return nil, err
	}
	if callerAcc.Balance.Cmp(payment) < 0 {
		return nil, ErrInsufficientBalance
	}
	moduleAcc, err := e.loadBalance(e.moduleAddress)
	if err != nil {
		return nil, err
	}

	// Back-solve the interest component from the owed total.
	owed := new(big.Int).Set(user.LoanBalance)
	interest := new(big.Int).Mul(owed, new(big.Int).SetUint64(e.params.InterestPercent))
	interest = interest.Quo(interest, new(big.Int).SetUint64(100+e.params.InterestPercent))
	refund := new(big.Int).Sub(payment, interest)

	if err := e.credit.AdjustScore(user.TokenID, e.params.RepaymentScoreDelta); err != nil {
		return nil, err
	}
	if err := e.credit.Unlock(user.TokenID); err != nil {
		return nil, err
	}

	user.LoanBalance = big.NewInt(0)
	user.LoanIssuedAt = 0
	treasury.TotalLoaned = new(big.Int).Sub(treasury.TotalLoaned, owed)

	// Net settlement: the treasury keeps the interest, the rest of the payment
	// bounces straight back to the caller.
	callerAcc.Balance = new(big.Int).Sub(callerAcc.Balance, interest)
	moduleAcc.Balance = new(big.Int).Add(moduleAcc.Balance, interest)

	cs := &ChangeSet{Treasury: treasury}
	cs.putUser(user)
	cs.putBalance(caller, callerAcc)
	cs.putBalance(e.moduleAddress, moduleAcc)
	if err := e.state.Apply(cs); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.LoanRepaid{
		Account:  caller,
		Paid:     new(big.Int).Set(payment),
		Interest: new(big.Int).Set(interest),
		Refund:   new(big.Int).Set(refund),
	})
	return &RepayResult{Refund: refund, Interest: interest}, nil
}

// WithdrawExcess transfers value held above the staked and loaned aggregates to
// the owner. Requires the owner capability.
func (e *Engine) WithdrawExcess(caller types.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	treasury, err := e.loadTreasury()
	if err != nil {
		return err
	}
	moduleAcc, err := e.loadBalance(e.moduleAddress)
	if err != nil {
		return err
	}
	encumbered := new(big.Int).Add(treasury.TotalStaked, treasury.TotalLoaned)
	excess := new(big.Int).Sub(moduleAcc.Balance, encumbered)
	if excess.Sign() <= 0 || excess.Cmp(amount) < 0 {
		return ErrNoExcess
	}

	ownerAcc, err := e.loadBalance(e.owner)
	if err != nil {
		return err
	}
	moduleAcc.Balance = new(big.Int).Sub(moduleAcc.Balance, amount)
	ownerAcc.Balance = new(big.Int).Add(ownerAcc.Balance, amount)

	cs := &ChangeSet{}
	cs.putBalance(e.moduleAddress, moduleAcc)
	cs.putBalance(e.owner, ownerAcc)
	if err := e.state.Apply(cs); err != nil {
		return err
	}

	e.emitter.Emit(events.ExcessWithdrawn{Recipient: e.owner, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawOverdueLoans terminates every overdue loan whose identity token falls
// in the inclusive id range and transfers the accumulated forfeited balances to
// the owner. The range is caller-chosen because the scan cost is linear in its
// size. Requires the owner capability.
func (e *Engine) WithdrawOverdueLoans(caller types.Address, startID, endID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if caller != e.owner {
		return nil, ErrUnauthorized
	}
	if startID == 0 || endID < startID {
		return nil, ErrInvalidRange
	}
	if e.identity == nil {
		return nil, ErrNilCapability
	}

	treasury, err := e.loadTreasury()
	if err != nil {
		return nil, err
	}
	now := e.now()
	collected := big.NewInt(0)
	cs := &ChangeSet{}
	var defaults []events.LoanDefaulted
	for id := startID; id <= endID; id++ {
		exists, err := e.identity.Exists(id)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		holder, err := e.identity.OwnerOf(id)
		if err != nil {
			return nil, err
		}
		user, err := e.ensureUserAccount(holder)
		if err != nil {
			return nil, err
		}
		if e.loanStatusAt(user, now).State != LoanStateOverdue {
			continue
		}
		forfeited := new(big.Int).Set(user.LoanBalance)
		defaulted, err := e.terminate(user, treasury)
		if err != nil {
			return nil, err
		}
		cs.putUser(user)
		defaults = append(defaults, defaulted)
		collected = collected.Add(collected, forfeited)
	}
	if collected.Sign() == 0 {
		return nil, ErrNoOverdueLoans
	}

	moduleAcc, err := e.loadBalance(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.Balance.Cmp(collected) < 0 {
		return nil, ErrInsufficientBalance
	}
	ownerAcc, err := e.loadBalance(e.owner)
	if err != nil {
		return nil, err
	}
	moduleAcc.Balance = new(big.Int).Sub(moduleAcc.Balance, collected)
	ownerAcc.Balance = new(big.Int).Add(ownerAcc.Balance, collected)

	cs.Treasury = treasury
	cs.putBalance(e.moduleAddress, moduleAcc)
	cs.putBalance(e.owner, ownerAcc)
	if err := e.state.Apply(cs); err != nil {
		return nil, err
	}

	for _, defaulted := range defaults {
		e.emitter.Emit(defaulted)
	}
	e.emitter.Emit(events.OverdueSwept{
		Recipient: e.owner,
		StartID:   startID,
		EndID:     endID,
		Collected: new(big.Int).Set(collected),
		Loans:     uint64(len(defaults)),
	})
	return collected, nil
}

// Account returns a copy of the ledger position for the address.
func (e *Engine) Account(addr types.Address) (*Account, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	user, err := e.ensureUserAccount(addr)
	if err != nil {
		return nil, err
	}
	return user.Clone(), nil
}

// Totals returns a copy of the treasury aggregates.
func (e *Engine) Totals() (*Treasury, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	treasury, err := e.loadTreasury()
	if err != nil {
		return nil, err
	}
	return &Treasury{
		TotalStaked: new(big.Int).Set(treasury.TotalStaked),
		TotalLoaned: new(big.Int).Set(treasury.TotalLoaned),
	}, nil
}

// HeldValue returns the vault balance backing the treasury aggregates.
func (e *Engine) HeldValue() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	moduleAcc, err := e.loadBalance(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(moduleAcc.Balance), nil
}

// terminate forfeits an overdue position: the loan balance and collateral are
// zeroed, the aggregates are decremented in lockstep, and the identity token is
// burned. The forfeited value stays in the vault and becomes sweepable excess.
// Callers commit the mutated account and treasury and emit the returned event
// once the change set is applied.
func (e *Engine) terminate(user *Account, treasury *Treasury) (events.LoanDefaulted, error) {
	defaulted := events.LoanDefaulted{
		Account:          user.Address,
		ForfeitedStake:   new(big.Int).Set(user.Staked),
		ForfeitedBalance: new(big.Int).Set(user.LoanBalance),
		TokenID:          user.TokenID,
	}

	treasury.TotalLoaned = new(big.Int).Sub(treasury.TotalLoaned, user.LoanBalance)
	treasury.TotalStaked = new(big.Int).Sub(treasury.TotalStaked, user.Staked)
	user.LoanBalance = big.NewInt(0)
	user.LoanIssuedAt = 0
	user.Staked = big.NewInt(0)

	if user.TokenID != 0 {
		if err := e.identity.Burn(user.TokenID); err != nil {
			return events.LoanDefaulted{}, err
		}
		user.TokenID = 0
	}
	return defaulted, nil
}

func (e *Engine) loanStatusAt(user *Account, now uint64) LoanStatus {
	if user == nil || user.LoanBalance == nil || user.LoanBalance.Sign() == 0 {
		return LoanStatus{State: LoanStateNone}
	}
	deadline := user.LoanIssuedAt + e.params.LoanDurationSeconds
	if now > deadline {
		return LoanStatus{State: LoanStateOverdue}
	}
	return LoanStatus{State: LoanStateActive, Remaining: deadline - now}
}

func (e *Engine) pendingAt(user *Account, now uint64) *big.Int {
	if user == nil || user.Staked == nil || user.Staked.Sign() == 0 {
		return big.NewInt(0)
	}
	if user.LastClaimedAt == 0 || now <= user.LastClaimedAt {
		return big.NewInt(0)
	}
	elapsed := now - user.LastClaimedAt
	pending := new(big.Int).Mul(user.Staked, new(big.Int).SetUint64(elapsed))
	pending = pending.Mul(pending, new(big.Int).SetUint64(e.params.RewardMultiplier))
	return pending.Quo(pending, new(big.Int).SetUint64(SecondsPerYear))
}

func (e *Engine) ensureUserAccount(addr types.Address) (*Account, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	user, err := e.state.GetUserAccount(addr)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &Account{Address: addr}
	}
	if user.Staked == nil {
		user.Staked = big.NewInt(0)
	}
	if user.UnstakedTotal == nil {
		user.UnstakedTotal = big.NewInt(0)
	}
	if user.LoanBalance == nil {
		user.LoanBalance = big.NewInt(0)
	}
	return user, nil
}

func (e *Engine) loadBalance(addr types.Address) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc, nil
}

func (e *Engine) loadTreasury() (*Treasury, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	treasury, err := e.state.GetTreasury()
	if err != nil {
		return nil, err
	}
	if treasury == nil {
		treasury = &Treasury{}
	}
	if treasury.TotalStaked == nil {
		treasury.TotalStaked = big.NewInt(0)
	}
	if treasury.TotalLoaned == nil {
		treasury.TotalLoaned = big.NewInt(0)
	}
	return treasury, nil
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFunc == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFunc()
}
