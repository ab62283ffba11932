package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"stakevault/core/types"
	"stakevault/native/credit"
	"stakevault/native/identity"
	"stakevault/native/ledger"
	"stakevault/storage"
)

const (
	userAccountKeyFormat   = "ledger/account/%s"
	balanceKeyFormat       = "bank/account/%s"
	treasuryKey            = "ledger/treasury"
	tokenKeyFormat         = "identity/token/%020d"
	tokenCounterKey        = "identity/counter"
	baseURIKey             = "identity/baseURI"
	creditScoreKeyFormat   = "credit/score/%s"
	creditLockKeyFormat    = "credit/lock/%020d"
	rewardBalanceKeyFormat = "mint/balance/%s"
)

// LedgerStore persists the engine and capability state as RLP records in a
// key-value database. Every read decodes a fresh copy, so callers can mutate
// returned values freely until they put them back.
type LedgerStore struct {
	db storage.Database
}

// NewLedgerStore wraps the database.
func NewLedgerStore(db storage.Database) *LedgerStore {
	return &LedgerStore{db: db}
}

type userAccountRecord struct {
	Staked        *big.Int
	UnstakedTotal *big.Int
	TokenID       uint64
	LastClaimedAt uint64
	LoanBalance   *big.Int
	LoanIssuedAt  uint64
}

type balanceRecord struct {
	Balance *big.Int
}

type treasuryRecord struct {
	TotalStaked *big.Int
	TotalLoaned *big.Int
}

type tokenRecord struct {
	Owner [20]byte
}

type lockRecord struct {
	Account [20]byte
}

func (s *LedgerStore) get(key string) ([]byte, bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func addrHex(addr types.Address) string {
	return hex.EncodeToString(addr[:])
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// GetUserAccount loads the ledger position for the address; a missing record
// reports nil so the engine applies its lazy all-zero semantics.
func (s *LedgerStore) GetUserAccount(addr types.Address) (*ledger.Account, error) {
	raw, ok, err := s.get(fmt.Sprintf(userAccountKeyFormat, addrHex(addr)))
	if err != nil || !ok {
		return nil, err
	}
	var record userAccountRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("state: decode ledger account: %w", err)
	}
	return &ledger.Account{
		Address:       addr,
		Staked:        record.Staked,
		UnstakedTotal: record.UnstakedTotal,
		TokenID:       record.TokenID,
		LastClaimedAt: record.LastClaimedAt,
		LoanBalance:   record.LoanBalance,
		LoanIssuedAt:  record.LoanIssuedAt,
	}, nil
}

func encodeUserAccount(account *ledger.Account) ([]byte, error) {
	record := userAccountRecord{
		Staked:        nonNil(account.Staked),
		UnstakedTotal: nonNil(account.UnstakedTotal),
		TokenID:       account.TokenID,
		LastClaimedAt: account.LastClaimedAt,
		LoanBalance:   nonNil(account.LoanBalance),
		LoanIssuedAt:  account.LoanIssuedAt,
	}
	raw, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return nil, fmt.Errorf("state: encode ledger account: %w", err)
	}
	return raw, nil
}

// PutUserAccount persists the ledger position.
func (s *LedgerStore) PutUserAccount(account *ledger.Account) error {
	if account == nil {
		return nil
	}
	raw, err := encodeUserAccount(account)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(fmt.Sprintf(userAccountKeyFormat, addrHex(account.Address))), raw)
}

// GetAccount loads the settlement balance for the address.
func (s *LedgerStore) GetAccount(addr types.Address) (*types.Account, error) {
	raw, ok, err := s.get(fmt.Sprintf(balanceKeyFormat, addrHex(addr)))
	if err != nil || !ok {
		return nil, err
	}
	var record balanceRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("state: decode balance: %w", err)
	}
	return &types.Account{Balance: record.Balance}, nil
}

func encodeBalance(account *types.Account) ([]byte, error) {
	raw, err := rlp.EncodeToBytes(&balanceRecord{Balance: nonNil(account.Balance)})
	if err != nil {
		return nil, fmt.Errorf("state: encode balance: %w", err)
	}
	return raw, nil
}

// PutAccount persists the settlement balance.
func (s *LedgerStore) PutAccount(addr types.Address, account *types.Account) error {
	if account == nil {
		return nil
	}
	raw, err := encodeBalance(account)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(fmt.Sprintf(balanceKeyFormat, addrHex(addr))), raw)
}

// GetTreasury loads the aggregate totals.
func (s *LedgerStore) GetTreasury() (*ledger.Treasury, error) {
	raw, ok, err := s.get(treasuryKey)
	if err != nil || !ok {
		return nil, err
	}
	var record treasuryRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("state: decode treasury: %w", err)
	}
	return &ledger.Treasury{TotalStaked: record.TotalStaked, TotalLoaned: record.TotalLoaned}, nil
}

func encodeTreasury(treasury *ledger.Treasury) ([]byte, error) {
	raw, err := rlp.EncodeToBytes(&treasuryRecord{
		TotalStaked: nonNil(treasury.TotalStaked),
		TotalLoaned: nonNil(treasury.TotalLoaned),
	})
	if err != nil {
		return nil, fmt.Errorf("state: encode treasury: %w", err)
	}
	return raw, nil
}

// PutTreasury persists the aggregate totals.
func (s *LedgerStore) PutTreasury(treasury *ledger.Treasury) error {
	if treasury == nil {
		return nil
	}
	raw, err := encodeTreasury(treasury)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(treasuryKey), raw)
}

// Apply commits an engine change set as one batch write. Encoding happens
// before any key is touched, so a failure anywhere leaves every record as it
// was.
func (s *LedgerStore) Apply(cs *ledger.ChangeSet) error {
	if cs == nil {
		return nil
	}
	batch := new(storage.Batch)
	for _, user := range cs.Users {
		raw, err := encodeUserAccount(user)
		if err != nil {
			return err
		}
		batch.Put([]byte(fmt.Sprintf(userAccountKeyFormat, addrHex(user.Address))), raw)
	}
	for _, change := range cs.Balances {
		raw, err := encodeBalance(change.Account)
		if err != nil {
			return err
		}
		batch.Put([]byte(fmt.Sprintf(balanceKeyFormat, addrHex(change.Addr))), raw)
	}
	if cs.Treasury != nil {
		raw, err := encodeTreasury(cs.Treasury)
		if err != nil {
			return err
		}
		batch.Put([]byte(treasuryKey), raw)
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Write(batch)
}

// GetToken loads a live identity token; burned or unminted ids report nil.
func (s *LedgerStore) GetToken(id uint64) (*identity.Token, error) {
	raw, ok, err := s.get(fmt.Sprintf(tokenKeyFormat, id))
	if err != nil || !ok {
		return nil, err
	}
	var record tokenRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("state: decode token: %w", err)
	}
	return &identity.Token{ID: id, Owner: record.Owner}, nil
}

// PutToken persists an identity token.
func (s *LedgerStore) PutToken(token *identity.Token) error {
	if token == nil {
		return nil
	}
	raw, err := rlp.EncodeToBytes(&tokenRecord{Owner: token.Owner})
	if err != nil {
		return fmt.Errorf("state: encode token: %w", err)
	}
	return s.db.Put([]byte(fmt.Sprintf(tokenKeyFormat, token.ID)), raw)
}

// DeleteToken removes a burned token.
func (s *LedgerStore) DeleteToken(id uint64) error {
	return s.db.Delete([]byte(fmt.Sprintf(tokenKeyFormat, id)))
}

// TokenCounter returns the highest issued token id, zero before the first mint.
func (s *LedgerStore) TokenCounter() (uint64, error) {
	raw, ok, err := s.get(tokenCounterKey)
	if err != nil || !ok {
		return 0, err
	}
	var counter uint64
	if err := rlp.DecodeBytes(raw, &counter); err != nil {
		return 0, fmt.Errorf("state: decode token counter: %w", err)
	}
	return counter, nil
}

// PutTokenCounter persists the highest issued token id.
func (s *LedgerStore) PutTokenCounter(next uint64) error {
	raw, err := rlp.EncodeToBytes(next)
	if err != nil {
		return fmt.Errorf("state: encode token counter: %w", err)
	}
	return s.db.Put([]byte(tokenCounterKey), raw)
}

// BaseURI returns the configured metadata base URI, empty when unset.
func (s *LedgerStore) BaseURI() (string, error) {
	raw, ok, err := s.get(baseURIKey)
	if err != nil || !ok {
		return "", err
	}
	return string(raw), nil
}

// PutBaseURI persists the metadata base URI.
func (s *LedgerStore) PutBaseURI(uri string) error {
	return s.db.Put([]byte(baseURIKey), []byte(uri))
}

// GetScore returns the credit score for the address, zero when unset.
func (s *LedgerStore) GetScore(addr types.Address) (uint64, error) {
	raw, ok, err := s.get(fmt.Sprintf(creditScoreKeyFormat, addrHex(addr)))
	if err != nil || !ok {
		return 0, err
	}
	var score uint64
	if err := rlp.DecodeBytes(raw, &score); err != nil {
		return 0, fmt.Errorf("state: decode credit score: %w", err)
	}
	return score, nil
}

// PutScore persists the credit score.
func (s *LedgerStore) PutScore(addr types.Address, score uint64) error {
	raw, err := rlp.EncodeToBytes(score)
	if err != nil {
		return fmt.Errorf("state: encode credit score: %w", err)
	}
	return s.db.Put([]byte(fmt.Sprintf(creditScoreKeyFormat, addrHex(addr))), raw)
}

// GetLock loads the lock entry for a token id, nil when unlocked.
func (s *LedgerStore) GetLock(tokenID uint64) (*credit.Lock, error) {
	raw, ok, err := s.get(fmt.Sprintf(creditLockKeyFormat, tokenID))
	if err != nil || !ok {
		return nil, err
	}
	var record lockRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("state: decode credit lock: %w", err)
	}
	return &credit.Lock{TokenID: tokenID, Account: record.Account}, nil
}

// PutLock persists a lock entry.
func (s *LedgerStore) PutLock(lock *credit.Lock) error {
	if lock == nil {
		return nil
	}
	raw, err := rlp.EncodeToBytes(&lockRecord{Account: lock.Account})
	if err != nil {
		return fmt.Errorf("state: encode credit lock: %w", err)
	}
	return s.db.Put([]byte(fmt.Sprintf(creditLockKeyFormat, lock.TokenID)), raw)
}

// DeleteLock removes a lock entry.
func (s *LedgerStore) DeleteLock(tokenID uint64) error {
	return s.db.Delete([]byte(fmt.Sprintf(creditLockKeyFormat, tokenID)))
}

// GetRewardBalance returns the accrued reward currency for the address.
func (s *LedgerStore) GetRewardBalance(addr types.Address) (*big.Int, error) {
	raw, ok, err := s.get(fmt.Sprintf(rewardBalanceKeyFormat, addrHex(addr)))
	if err != nil || !ok {
		return nil, err
	}
	var record balanceRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("state: decode reward balance: %w", err)
	}
	return record.Balance, nil
}

// PutRewardBalance persists the reward currency balance.
func (s *LedgerStore) PutRewardBalance(addr types.Address, balance *big.Int) error {
	raw, err := rlp.EncodeToBytes(&balanceRecord{Balance: nonNil(balance)})
	if err != nil {
		return fmt.Errorf("state: encode reward balance: %w", err)
	}
	return s.db.Put([]byte(fmt.Sprintf(rewardBalanceKeyFormat, addrHex(addr))), raw)
}
