package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"stakevault/core/types"
)

type mockEngineState struct {
	users    map[types.Address]*Account
	accounts map[types.Address]*types.Account
	treasury *Treasury
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		users:    make(map[types.Address]*Account),
		accounts: make(map[types.Address]*types.Account),
	}
}

// Gets hand out copies so failed operations cannot leak in-flight mutations,
// matching the decode-fresh behaviour of the persistent store.
func (m *mockEngineState) GetUserAccount(addr types.Address) (*Account, error) {
	if user, ok := m.users[addr]; ok {
		return user.Clone(), nil
	}
	return nil, nil
}

func (m *mockEngineState) GetAccount(addr types.Address) (*types.Account, error) {
	if acc, ok := m.accounts[addr]; ok {
		return &types.Account{Balance: new(big.Int).Set(acc.Balance)}, nil
	}
	return nil, nil
}

func (m *mockEngineState) GetTreasury() (*Treasury, error) {
	if m.treasury == nil {
		return nil, nil
	}
	return &Treasury{
		TotalStaked: new(big.Int).Set(m.treasury.TotalStaked),
		TotalLoaned: new(big.Int).Set(m.treasury.TotalLoaned),
	}, nil
}

// Apply commits a whole operation's change set, cloning the same way the gets do.
func (m *mockEngineState) Apply(cs *ChangeSet) error {
	if cs == nil {
		return nil
	}
	for _, user := range cs.Users {
		m.users[user.Address] = user.Clone()
	}
	for _, change := range cs.Balances {
		m.accounts[change.Addr] = &types.Account{Balance: new(big.Int).Set(change.Account.Balance)}
	}
	if cs.Treasury != nil {
		m.treasury = &Treasury{
			TotalStaked: new(big.Int).Set(cs.Treasury.TotalStaked),
			TotalLoaned: new(big.Int).Set(cs.Treasury.TotalLoaned),
		}
	}
	return nil
}

func (m *mockEngineState) fund(addr types.Address, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockEngineState) balance(addr types.Address) *big.Int {
	if acc, ok := m.accounts[addr]; ok {
		return acc.Balance
	}
	return big.NewInt(0)
}

type fakeIdentity struct {
	owners map[uint64]types.Address
	nextID uint64
	mints  int
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{owners: make(map[uint64]types.Address)}
}

func (f *fakeIdentity) Mint(owner types.Address) (uint64, error) {
	f.nextID++
	f.owners[f.nextID] = owner
	f.mints++
	return f.nextID, nil
}

func (f *fakeIdentity) Burn(tokenID uint64) error {
	if _, ok := f.owners[tokenID]; !ok {
		return fmt.Errorf("identity fake: token %d does not exist", tokenID)
	}
	delete(f.owners, tokenID)
	return nil
}

func (f *fakeIdentity) Exists(tokenID uint64) (bool, error) {
	_, ok := f.owners[tokenID]
	return ok, nil
}

func (f *fakeIdentity) OwnerOf(tokenID uint64) (types.Address, error) {
	owner, ok := f.owners[tokenID]
	if !ok {
		return types.Address{}, fmt.Errorf("identity fake: token %d does not exist", tokenID)
	}
	return owner, nil
}

type fakeCredit struct {
	scores map[types.Address]uint64
	locks  map[uint64]types.Address
}

func newFakeCredit() *fakeCredit {
	return &fakeCredit{
		scores: make(map[types.Address]uint64),
		locks:  make(map[uint64]types.Address),
	}
}

func (f *fakeCredit) CreditBalance(addr types.Address) (uint64, error) {
	return f.scores[addr], nil
}

func (f *fakeCredit) Lock(tokenID uint64, addr types.Address) error {
	if _, ok := f.locks[tokenID]; ok {
		return errors.New("credit fake: token already locked")
	}
	f.locks[tokenID] = addr
	return nil
}

func (f *fakeCredit) Unlock(tokenID uint64) error {
	if _, ok := f.locks[tokenID]; !ok {
		return errors.New("credit fake: token not locked")
	}
	delete(f.locks, tokenID)
	return nil
}

func (f *fakeCredit) AdjustScore(tokenID uint64, delta int64) error {
	addr, ok := f.locks[tokenID]
	if !ok {
		return errors.New("credit fake: token not locked")
	}
	if delta < 0 && uint64(-delta) > f.scores[addr] {
		f.scores[addr] = 0
		return nil
	}
	f.scores[addr] = uint64(int64(f.scores[addr]) + delta)
	return nil
}

type fakeMint struct {
	minted map[types.Address]*big.Int
}

func newFakeMint() *fakeMint {
	return &fakeMint{minted: make(map[types.Address]*big.Int)}
}

func (f *fakeMint) Mint(to types.Address, amount *big.Int) error {
	total, ok := f.minted[to]
	if !ok {
		total = big.NewInt(0)
	}
	f.minted[to] = new(big.Int).Add(total, amount)
	return nil
}

func (f *fakeMint) mintedFor(addr types.Address) *big.Int {
	if total, ok := f.minted[addr]; ok {
		return total
	}
	return big.NewInt(0)
}

type testHarness struct {
	engine   *Engine
	state    *mockEngineState
	identity *fakeIdentity
	credit   *fakeCredit
	mint     *fakeMint
	now      uint64
}

var (
	vaultAddr = makeAddress(0x01)
	ownerAddr = makeAddress(0x02)
)

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		state:    newMockEngineState(),
		identity: newFakeIdentity(),
		credit:   newFakeCredit(),
		mint:     newFakeMint(),
		now:      1_700_000_000,
	}
	h.engine = NewEngine(vaultAddr, ownerAddr, DefaultParams())
	h.engine.SetState(h.state)
	h.engine.SetCapabilities(h.identity, h.credit, h.mint)
	h.engine.SetNowFunc(func() uint64 { return h.now })
	return h
}

func (h *testHarness) advance(seconds uint64) {
	h.now += seconds
}

func (h *testHarness) mustStake(t *testing.T, addr types.Address, amount int64) {
	t.Helper()
	if err := h.engine.Stake(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("stake failed: %v", err)
	}
}

func (h *testHarness) user(t *testing.T, addr types.Address) *Account {
	t.Helper()
	user, err := h.engine.Account(addr)
	if err != nil {
		t.Fatalf("account read failed: %v", err)
	}
	return user
}

func makeAddress(suffix byte) types.Address {
	var addr types.Address
	addr[len(addr)-1] = suffix
	return addr
}
