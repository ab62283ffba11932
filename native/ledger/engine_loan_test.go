package ledger

import (
	"errors"
	"math/big"
	"testing"
)

func setupBorrower(t *testing.T, h *testHarness, addr [20]byte, funding int64) {
	t.Helper()
	h.state.fund(addr, funding)
	h.credit.scores[addr] = 5
	h.mustStake(t, addr, funding)
}

func TestTakeLoanAmounts(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	setupBorrower(t, h, alice, 1000)

	principal, err := h.engine.TakeLoan(alice)
	if err != nil {
		t.Fatalf("take loan failed: %v", err)
	}
	if principal.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected principal 900, got %s", principal)
	}
	user := h.user(t, alice)
	if user.LoanBalance.Cmp(big.NewInt(945)) != 0 {
		t.Fatalf("expected owed 945, got %s", user.LoanBalance)
	}
	if user.LoanIssuedAt != h.now {
		t.Fatalf("expected loan issued at %d, got %d", h.now, user.LoanIssuedAt)
	}
	if got := h.state.balance(alice); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected borrower balance 900, got %s", got)
	}
	if _, locked := h.credit.locks[user.TokenID]; !locked {
		t.Fatal("expected identity token locked in credit registry")
	}
	totals, _ := h.engine.Totals()
	if totals.TotalLoaned.Cmp(big.NewInt(945)) != 0 {
		t.Fatalf("expected total loaned 945, got %s", totals.TotalLoaned)
	}
	status, err := h.engine.LoanStatus(alice)
	if err != nil {
		t.Fatalf("loan status failed: %v", err)
	}
	if status.State != LoanStateActive || status.Remaining != DefaultParams().LoanDurationSeconds {
		t.Fatalf("expected active loan with full window, got %+v", status)
	}
}

func TestCanTakeLoanPreconditions(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)

	// No stake, no token, no credit.
	if ok, err := h.engine.CanTakeLoan(alice); err != nil || ok {
		t.Fatalf("expected ineligible empty account, got ok=%v err=%v", ok, err)
	}

	h.state.fund(alice, 1000)
	h.mustStake(t, alice, 1000)
	// Staked with a live token but zero credit.
	if ok, err := h.engine.CanTakeLoan(alice); err != nil || ok {
		t.Fatalf("expected ineligible without credit, got ok=%v err=%v", ok, err)
	}

	h.credit.scores[alice] = 1
	if ok, err := h.engine.CanTakeLoan(alice); err != nil || !ok {
		t.Fatalf("expected eligible, got ok=%v err=%v", ok, err)
	}

	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}
	// Outstanding loan blocks a second issuance.
	if ok, err := h.engine.CanTakeLoan(alice); err != nil || ok {
		t.Fatalf("expected ineligible with active loan, got ok=%v err=%v", ok, err)
	}
	if _, err := h.engine.TakeLoan(alice); !errors.Is(err, ErrLoanNotEligible) {
		t.Fatalf("expected ErrLoanNotEligible, got %v", err)
	}
}

func TestUnstakeBlockedByActiveLoan(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	setupBorrower(t, h, alice, 1000)
	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}

	if err := h.engine.Unstake(alice, big.NewInt(100)); !errors.Is(err, ErrActiveLoan) {
		t.Fatalf("expected ErrActiveLoan, got %v", err)
	}
	user := h.user(t, alice)
	if user.Staked.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected stake untouched, got %s", user.Staked)
	}
}

func TestUnstakeOverdueLoanForfeits(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	setupBorrower(t, h, alice, 1000)
	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}
	h.advance(DefaultParams().LoanDurationSeconds + 1)

	err := h.engine.Unstake(alice, big.NewInt(1000))
	if !errors.Is(err, ErrLoanOverdue) {
		t.Fatalf("expected ErrLoanOverdue, got %v", err)
	}

	// The forfeiture persists even though the unstake failed.
	user := h.user(t, alice)
	if user.Staked.Sign() != 0 || user.LoanBalance.Sign() != 0 || user.TokenID != 0 {
		t.Fatalf("expected forfeited position, got %+v", user)
	}
	if exists, _ := h.identity.Exists(1); exists {
		t.Fatal("expected identity token burned on default")
	}
	totals, _ := h.engine.Totals()
	if totals.TotalStaked.Sign() != 0 || totals.TotalLoaned.Sign() != 0 {
		t.Fatalf("expected aggregates zeroed, got staked=%s loaned=%s", totals.TotalStaked, totals.TotalLoaned)
	}
	// The borrower keeps the principal but the collateral stays in the vault.
	if got := h.state.balance(alice); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected borrower balance 900, got %s", got)
	}
	if got := h.state.balance(vaultAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected vault balance 100, got %s", got)
	}
}

func TestPayBackLoanExact(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	setupBorrower(t, h, alice, 1000)
	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}
	h.state.fund(alice, 945)

	result, err := h.engine.PayBackLoan(alice, big.NewInt(945))
	if err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	if result.Defaulted {
		t.Fatal("expected good-standing repayment")
	}
	if result.Interest.Cmp(big.NewInt(45)) != 0 {
		t.Fatalf("expected interest 45, got %s", result.Interest)
	}
	if result.Refund.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected refund 900, got %s", result.Refund)
	}

	user := h.user(t, alice)
	if user.LoanBalance.Sign() != 0 || user.LoanIssuedAt != 0 {
		t.Fatalf("expected loan cleared, got balance=%s issuedAt=%d", user.LoanBalance, user.LoanIssuedAt)
	}
	if _, locked := h.credit.locks[user.TokenID]; locked {
		t.Fatal("expected identity token unlocked after repayment")
	}
	if got := h.credit.scores[alice]; got != 6 {
		t.Fatalf("expected credit score bumped to 6, got %d", got)
	}
	// Funded 945 for repayment, retained interest is 45.
	if got := h.state.balance(alice); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected caller balance 900, got %s", got)
	}
	totals, _ := h.engine.Totals()
	if totals.TotalLoaned.Sign() != 0 {
		t.Fatalf("expected total loaned zeroed, got %s", totals.TotalLoaned)
	}
	status, _ := h.engine.LoanStatus(alice)
	if status.State != LoanStateNone {
		t.Fatalf("expected no loan, got %v", status.State)
	}
}

func TestPayBackLoanOverpayment(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	setupBorrower(t, h, alice, 1000)
	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}
	h.state.fund(alice, 1000)

	result, err := h.engine.PayBackLoan(alice, big.NewInt(1000))
	if err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	if result.Refund.Cmp(big.NewInt(955)) != 0 {
		t.Fatalf("expected refund 955, got %s", result.Refund)
	}
	if got := h.state.balance(alice); got.Cmp(big.NewInt(955)) != 0 {
		t.Fatalf("expected caller balance 955, got %s", got)
	}
}

func TestPayBackLoanPartialRejected(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	setupBorrower(t, h, alice, 1000)
	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}
	h.state.fund(alice, 944)

	if _, err := h.engine.PayBackLoan(alice, big.NewInt(944)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}

	// A rejected repayment leaves no partial state change behind: the token
	// stays locked and the score stays flat.
	user := h.user(t, alice)
	if user.LoanBalance.Cmp(big.NewInt(945)) != 0 {
		t.Fatalf("expected loan untouched, got %s", user.LoanBalance)
	}
	if _, locked := h.credit.locks[user.TokenID]; !locked {
		t.Fatal("expected identity token still locked")
	}
	if got := h.credit.scores[alice]; got != 5 {
		t.Fatalf("expected credit score unchanged at 5, got %d", got)
	}
}

func TestPayBackLoanOverdueDefaults(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	setupBorrower(t, h, alice, 1000)
	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}
	h.advance(DefaultParams().LoanDurationSeconds + 1)

	result, err := h.engine.PayBackLoan(alice, big.NewInt(10))
	if err != nil {
		t.Fatalf("repay on overdue loan failed: %v", err)
	}
	if !result.Defaulted {
		t.Fatal("expected default result")
	}
	if result.Refund.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected full payment refunded, got %s", result.Refund)
	}
	user := h.user(t, alice)
	if user.Staked.Sign() != 0 || user.LoanBalance.Sign() != 0 || user.TokenID != 0 {
		t.Fatalf("expected forfeited position, got %+v", user)
	}
	// Payment never left the caller: balance still holds the loan principal.
	if got := h.state.balance(alice); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected balance 900, got %s", got)
	}
}

func TestPayBackLoanWithoutLoan(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	if _, err := h.engine.PayBackLoan(alice, big.NewInt(10)); !errors.Is(err, ErrNoActiveLoan) {
		t.Fatalf("expected ErrNoActiveLoan, got %v", err)
	}
}

func TestLoanStatusTransitions(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)

	status, err := h.engine.LoanStatus(alice)
	if err != nil {
		t.Fatalf("loan status failed: %v", err)
	}
	if status.State != LoanStateNone || status.Legacy() != -1 {
		t.Fatalf("expected none/-1, got %+v legacy=%d", status, status.Legacy())
	}

	setupBorrower(t, h, alice, 1000)
	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}
	h.advance(100)
	status, _ = h.engine.LoanStatus(alice)
	want := DefaultParams().LoanDurationSeconds - 100
	if status.State != LoanStateActive || status.Remaining != want {
		t.Fatalf("expected active with %d remaining, got %+v", want, status)
	}
	if status.Legacy() != int64(want) {
		t.Fatalf("expected legacy %d, got %d", want, status.Legacy())
	}

	h.advance(DefaultParams().LoanDurationSeconds)
	status, _ = h.engine.LoanStatus(alice)
	if status.State != LoanStateOverdue || status.Legacy() != 0 {
		t.Fatalf("expected overdue/0, got %+v legacy=%d", status, status.Legacy())
	}
}

func TestAggregatesMatchAccountSums(t *testing.T) {
	h := newTestHarness(t)
	alice := makeAddress(0xA1)
	bob := makeAddress(0xB2)
	setupBorrower(t, h, alice, 1000)
	setupBorrower(t, h, bob, 500)
	if _, err := h.engine.TakeLoan(alice); err != nil {
		t.Fatalf("take loan failed: %v", err)
	}

	check := func() {
		t.Helper()
		totals, _ := h.engine.Totals()
		staked := new(big.Int).Add(h.user(t, alice).Staked, h.user(t, bob).Staked)
		loaned := new(big.Int).Add(h.user(t, alice).LoanBalance, h.user(t, bob).LoanBalance)
		if totals.TotalStaked.Cmp(staked) != 0 {
			t.Fatalf("total staked %s diverges from account sum %s", totals.TotalStaked, staked)
		}
		if totals.TotalLoaned.Cmp(loaned) != 0 {
			t.Fatalf("total loaned %s diverges from account sum %s", totals.TotalLoaned, loaned)
		}
	}

	check()
	// Default must keep the aggregates pinned to the per-account sums.
	h.advance(DefaultParams().LoanDurationSeconds + 1)
	if _, err := h.engine.PayBackLoan(alice, big.NewInt(1)); err != nil {
		t.Fatalf("default repay failed: %v", err)
	}
	check()
	if err := h.engine.Unstake(bob, big.NewInt(500)); err != nil {
		t.Fatalf("unstake failed: %v", err)
	}
	check()
}
