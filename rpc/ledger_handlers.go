package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"stakevault/core/types"
	nativecommon "stakevault/native/common"
	"stakevault/native/credit"
	"stakevault/native/identity"
	"stakevault/native/ledger"
)

func (s *Server) dispatch(r *http.Request, req *rpcRequest) (any, error) {
	switch req.Method {
	case "ledger_stake":
		return s.handleStake(req.Params)
	case "ledger_unstake":
		return s.handleUnstake(req.Params)
	case "ledger_claimRewards":
		return s.handleClaimRewards(req.Params)
	case "ledger_takeLoan":
		return s.handleTakeLoan(req.Params)
	case "ledger_payBackLoan":
		return s.handlePayBackLoan(req.Params)
	case "ledger_loanStatus":
		return s.handleLoanStatus(req.Params)
	case "ledger_canTakeLoan":
		return s.handleCanTakeLoan(req.Params)
	case "ledger_getAccount":
		return s.handleGetAccount(req.Params)
	case "ledger_totals":
		return s.handleTotals()
	case "ledger_withdrawExcess":
		if err := s.requireAuth(r); err != nil {
			return nil, err
		}
		return s.handleWithdrawExcess(req.Params)
	case "ledger_withdrawOverdueLoans":
		if err := s.requireAuth(r); err != nil {
			return nil, err
		}
		return s.handleWithdrawOverdueLoans(req.Params)
	case "identity_setBaseURI":
		if err := s.requireAuth(r); err != nil {
			return nil, err
		}
		return s.handleSetBaseURI(req.Params)
	case "identity_tokenURI":
		return s.handleTokenURI(req.Params)
	case "credit_setScore":
		if err := s.requireAuth(r); err != nil {
			return nil, err
		}
		return s.handleSetScore(req.Params)
	case "credit_score":
		return s.handleScore(req.Params)
	case "bank_deposit":
		if err := s.requireAuth(r); err != nil {
			return nil, err
		}
		return s.handleDeposit(req.Params)
	case "bank_balance":
		return s.handleBalance(req.Params)
	default:
		return nil, &rpcError{code: codeMethodNotFound, message: "unknown method: " + req.Method}
	}
}

// errorCode maps engine and registry sentinel failures to JSON-RPC codes.
// Authorization failures surface as -32001 so clients can distinguish them
// from business-rule rejections.
func errorCode(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized),
		errors.Is(err, identity.ErrUnauthorized),
		errors.Is(err, credit.ErrUnauthorized):
		return codeUnauthorized
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidRange):
		return codeInvalidParams
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, nativecommon.ErrReentrantCall):
		return codeServerError
	default:
		return codeServerError
	}
}

type addressParam struct {
	Address string `json:"address"`
}

type callerAmountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return errInvalidParams("params are required")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return errInvalidParams("malformed params: " + err.Error())
	}
	return nil
}

func parseAddress(value string) (types.Address, error) {
	addr, err := types.ParseAddress(value)
	if err != nil {
		return types.Address{}, errInvalidParams("invalid address: " + value)
	}
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, errInvalidParams("invalid amount: " + value)
	}
	return amount, nil
}

type accountResult struct {
	Address        string `json:"address"`
	Staked         string `json:"staked"`
	UnstakedTotal  string `json:"unstakedTotal"`
	TokenID        uint64 `json:"tokenId"`
	LastClaimedAt  uint64 `json:"lastClaimedAt"`
	LoanBalance    string `json:"loanBalance"`
	LoanIssuedAt   uint64 `json:"loanIssuedAt"`
	PendingRewards string `json:"pendingRewards"`
	RewardBalance  string `json:"rewardBalance"`
	CreditScore    uint64 `json:"creditScore"`
}

type loanStatusResult struct {
	State            string `json:"state"`
	RemainingSeconds uint64 `json:"remainingSeconds"`
	Legacy           int64  `json:"legacy"`
}

func (s *Server) handleStake(raw json.RawMessage) (any, error) {
	var params callerAmountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Stake(caller, amount); err != nil {
		return nil, err
	}
	return s.renderAccount(caller)
}

func (s *Server) handleUnstake(raw json.RawMessage) (any, error) {
	var params callerAmountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Unstake(caller, amount); err != nil {
		return nil, err
	}
	return s.renderAccount(caller)
}

func (s *Server) handleClaimRewards(raw json.RawMessage) (any, error) {
	var params callerParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	claimed, err := s.engine.ClaimRewards(caller)
	if err != nil {
		return nil, err
	}
	return map[string]string{"claimed": claimed.String()}, nil
}

func (s *Server) handleTakeLoan(raw json.RawMessage) (any, error) {
	var params callerParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	principal, err := s.engine.TakeLoan(caller)
	if err != nil {
		return nil, err
	}
	account, err := s.engine.Account(caller)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"principal": principal.String(),
		"owed":      account.LoanBalance.String(),
	}, nil
}

func (s *Server) handlePayBackLoan(raw json.RawMessage) (any, error) {
	var params struct {
		Caller  string `json:"caller"`
		Payment string `json:"payment"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.PayBackLoan(caller, payment)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"refund":    result.Refund.String(),
		"interest":  result.Interest.String(),
		"defaulted": result.Defaulted,
	}, nil
}

func (s *Server) handleLoanStatus(raw json.RawMessage) (any, error) {
	var params addressParam
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	status, err := s.engine.LoanStatus(addr)
	if err != nil {
		return nil, err
	}
	return loanStatusResult{
		State:            status.State.String(),
		RemainingSeconds: status.Remaining,
		Legacy:           status.Legacy(),
	}, nil
}

func (s *Server) handleCanTakeLoan(raw json.RawMessage) (any, error) {
	var params addressParam
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	eligible, err := s.engine.CanTakeLoan(addr)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"eligible": eligible}, nil
}

func (s *Server) handleGetAccount(raw json.RawMessage) (any, error) {
	var params addressParam
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	return s.renderAccount(addr)
}

func (s *Server) renderAccount(addr types.Address) (any, error) {
	account, err := s.engine.Account(addr)
	if err != nil {
		return nil, err
	}
	pending, err := s.engine.PendingRewards(addr)
	if err != nil {
		return nil, err
	}
	rewards, err := s.rewards.BalanceOf(addr)
	if err != nil {
		return nil, err
	}
	score, err := s.credit.CreditBalance(addr)
	if err != nil {
		return nil, err
	}
	return accountResult{
		Address:        addr.String(),
		Staked:         account.Staked.String(),
		UnstakedTotal:  account.UnstakedTotal.String(),
		TokenID:        account.TokenID,
		LastClaimedAt:  account.LastClaimedAt,
		LoanBalance:    account.LoanBalance.String(),
		LoanIssuedAt:   account.LoanIssuedAt,
		PendingRewards: pending.String(),
		RewardBalance:  rewards.String(),
		CreditScore:    score,
	}, nil
}

func (s *Server) handleTotals() (any, error) {
	totals, err := s.engine.Totals()
	if err != nil {
		return nil, err
	}
	held, err := s.engine.HeldValue()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"totalStaked": totals.TotalStaked.String(),
		"totalLoaned": totals.TotalLoaned.String(),
		"heldValue":   held.String(),
	}, nil
}

func (s *Server) handleWithdrawExcess(raw json.RawMessage) (any, error) {
	var params struct {
		Amount string `json:"amount"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.WithdrawExcess(s.engine.Owner(), amount); err != nil {
		return nil, err
	}
	return map[string]string{"withdrawn": amount.String()}, nil
}

func (s *Server) handleWithdrawOverdueLoans(raw json.RawMessage) (any, error) {
	var params struct {
		StartID uint64 `json:"startId"`
		EndID   uint64 `json:"endId"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	collected, err := s.engine.WithdrawOverdueLoans(s.engine.Owner(), params.StartID, params.EndID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"collected": collected.String()}, nil
}

func (s *Server) handleSetBaseURI(raw json.RawMessage) (any, error) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := s.identity.SetBaseURI(s.engine.Owner(), params.URI); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleTokenURI(raw json.RawMessage) (any, error) {
	var params struct {
		TokenID uint64 `json:"tokenId"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	uri, err := s.identity.TokenURI(params.TokenID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"uri": uri}, nil
}

func (s *Server) handleSetScore(raw json.RawMessage) (any, error) {
	var params struct {
		Address string `json:"address"`
		Score   uint64 `json:"score"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.credit.SetScore(s.engine.Owner(), addr, params.Score); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleScore(raw json.RawMessage) (any, error) {
	var params addressParam
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	score, err := s.credit.CreditBalance(addr)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"score": score}, nil
}

// bank_deposit credits a settlement balance out of band. It exists so operators
// can provision participant balances and pre-fund the vault's loan liquidity;
// it never touches the staking or loan ledgers.
func (s *Server) handleDeposit(raw json.RawMessage) (any, error) {
	var params struct {
		Address string `json:"address"`
		Amount  string `json:"amount"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, errInvalidParams("amount must be positive")
	}
	account, err := s.bank.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = types.NewAccount()
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	if err := s.bank.PutAccount(addr, account); err != nil {
		return nil, err
	}
	return map[string]string{"balance": account.Balance.String()}, nil
}

func (s *Server) handleBalance(raw json.RawMessage) (any, error) {
	var params addressParam
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, err
	}
	account, err := s.bank.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	balance := big.NewInt(0)
	if account != nil && account.Balance != nil {
		balance = account.Balance
	}
	return map[string]string{"balance": balance.String()}, nil
}
