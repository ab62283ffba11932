package ledger

import "fmt"

// SecondsPerYear is the accrual denominator for simple-interest rewards.
const SecondsPerYear uint64 = 31_536_000

// Params groups the tunable financial constants governing accrual and loans.
type Params struct {
	// RewardMultiplier is the annual reward factor applied to staked value.
	RewardMultiplier uint64
	// LoanPercent is the loan principal as a percentage of staked collateral.
	LoanPercent uint64
	// InterestPercent is the up-front interest charged on the principal.
	InterestPercent uint64
	// LoanDurationSeconds is the fixed repayment window.
	LoanDurationSeconds uint64
	// RepaymentScoreDelta is the credit score adjustment applied on a
	// good-standing repayment.
	RepaymentScoreDelta int64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		RewardMultiplier:    20,
		LoanPercent:         90,
		InterestPercent:     5,
		LoanDurationSeconds: 30 * 24 * 60 * 60,
		RepaymentScoreDelta: 1,
	}
}

// Validate ensures the parameter set is internally consistent.
func (p Params) Validate() error {
	if p.LoanPercent == 0 || p.LoanPercent > 100 {
		return fmt.Errorf("ledger params: loan percent must be within (0, 100], got %d", p.LoanPercent)
	}
	if p.InterestPercent > 100 {
		return fmt.Errorf("ledger params: interest percent must not exceed 100, got %d", p.InterestPercent)
	}
	if p.LoanDurationSeconds == 0 {
		return fmt.Errorf("ledger params: loan duration must be positive")
	}
	return nil
}
