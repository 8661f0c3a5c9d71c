package token

import (
	"bytes"
	"errors"
	"sort"
	"testing"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

type mockState struct {
	tokens     map[string]*Metadata
	balances   map[string]*uint256.Int
	allowances map[string]*uint256.Int
}

func newMockState() *mockState {
	return &mockState{
		tokens:     make(map[string]*Metadata),
		balances:   make(map[string]*uint256.Int),
		allowances: make(map[string]*uint256.Int),
	}
}

func (m *mockState) GetTokenMeta(token string) (*Metadata, error) {
	return m.tokens[token].Clone(), nil
}

func (m *mockState) PutTokenMeta(meta *Metadata) error {
	m.tokens[meta.Address] = meta.Clone()
	return nil
}

func (m *mockState) ListTokens() ([]string, error) {
	out := make([]string, 0, len(m.tokens))
	for addr := range m.tokens {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockState) GetBalance(token string, addr crypto.Address) (*uint256.Int, error) {
	if v, ok := m.balances[token+":"+addr.String()]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

func (m *mockState) PutBalance(token string, addr crypto.Address, amount *uint256.Int) error {
	m.balances[token+":"+addr.String()] = new(uint256.Int).Set(amount)
	return nil
}

func (m *mockState) GetAllowance(token string, owner, spender crypto.Address) (*uint256.Int, error) {
	if v, ok := m.allowances[token+":"+owner.String()+":"+spender.String()]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

func (m *mockState) PutAllowance(token string, owner, spender crypto.Address, amount *uint256.Int) error {
	m.allowances[token+":"+owner.String()+":"+spender.String()] = new(uint256.Int).Set(amount)
	return nil
}

type stubPauseView map[string]bool

func (s stubPauseView) IsPaused(module string) bool { return s[module] }

func makeAddress(b byte) crypto.Address {
	return crypto.NewAddress(crypto.LendPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func setup(t *testing.T) (*Engine, *mockState, *events.Recorder) {
	t.Helper()
	engine := NewEngine()
	state := newMockState()
	recorder := &events.Recorder{}
	engine.SetState(state)
	engine.SetEmitter(recorder)
	if _, err := engine.RegisterToken("token-t", "tok", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	return engine, state, recorder
}

func balanceOf(t *testing.T, engine *Engine, addr crypto.Address) uint64 {
	t.Helper()
	balance, err := engine.Balance("token-t", addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance.Uint64()
}

func TestRegisterToken(t *testing.T) {
	engine, _, _ := setup(t)
	meta, err := engine.Token("token-t")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if meta.Symbol != "TOK" || meta.Decimals != 6 || !meta.Supply.IsZero() {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if _, err := engine.RegisterToken("token-t", "dup", 0); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
	if _, err := engine.RegisterToken("  ", "x", 0); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	listed, err := engine.Tokens()
	if err != nil || len(listed) != 1 || listed[0] != "token-t" {
		t.Fatalf("unexpected token list %v %v", listed, err)
	}
}

func TestMintAndTransfer(t *testing.T) {
	engine, _, recorder := setup(t)
	alice, bob := makeAddress(0x01), makeAddress(0x02)

	if err := engine.Mint("token-t", alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Transfer("token-t", alice, bob, uint256.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if balanceOf(t, engine, alice) != 70 || balanceOf(t, engine, bob) != 30 {
		t.Fatalf("unexpected balances alice=%d bob=%d", balanceOf(t, engine, alice), balanceOf(t, engine, bob))
	}
	if err := engine.Transfer("token-t", bob, alice, uint256.NewInt(31)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := engine.Transfer("token-t", alice, bob, uint256.NewInt(0)); !errors.Is(err, ErrInvalidZeroAmount) {
		t.Fatalf("expected ErrInvalidZeroAmount, got %v", err)
	}
	if err := engine.Transfer("token-x", alice, bob, uint256.NewInt(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
	emitted := recorder.Events()
	if len(emitted) != 2 || emitted[1].EventType() != "token.transfer" {
		t.Fatalf("unexpected events %+v", emitted)
	}
	meta, _ := engine.Token("token-t")
	if meta.Supply.Uint64() != 100 {
		t.Fatalf("expected supply 100, got %s", meta.Supply)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	engine, _, _ := setup(t)
	owner, spender, recipient := makeAddress(0x01), makeAddress(0x02), makeAddress(0x03)
	if err := engine.Mint("token-t", owner, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := engine.TransferFrom("token-t", spender, owner, recipient, uint256.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := engine.Approve("token-t", owner, spender, uint256.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.TransferFrom("token-t", spender, owner, recipient, uint256.NewInt(60)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, err := engine.Allowance("token-t", owner, spender)
	if err != nil || allowance.Uint64() != 90 {
		t.Fatalf("expected allowance 90, got %v %v", allowance, err)
	}
	if err := engine.TransferFrom("token-t", spender, owner, recipient, uint256.NewInt(50)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	allowance, _ = engine.Allowance("token-t", owner, spender)
	if allowance.Uint64() != 90 {
		t.Fatalf("failed transfer must leave allowance unchanged, got %s", allowance)
	}
	if balanceOf(t, engine, recipient) != 60 || balanceOf(t, engine, owner) != 40 {
		t.Fatalf("unexpected balances after transfer from")
	}
}

func TestMintOverflow(t *testing.T) {
	engine, _, _ := setup(t)
	ceiling := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	if err := engine.Mint("token-t", makeAddress(0x01), ceiling); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := engine.Mint("token-t", makeAddress(0x02), uint256.NewInt(1)); !errors.Is(err, ErrSupplyOverflow) {
		t.Fatalf("expected ErrSupplyOverflow, got %v", err)
	}
}

func TestPausedTokenModule(t *testing.T) {
	engine, _, _ := setup(t)
	engine.SetPauses(stubPauseView{ModuleName: true})
	if err := engine.Mint("token-t", makeAddress(0x01), uint256.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := engine.Balance("token-t", makeAddress(0x01)); err != nil {
		t.Fatalf("queries must remain available while paused: %v", err)
	}
}

func TestRejectsMissingAccounts(t *testing.T) {
	engine, _, _ := setup(t)
	if err := engine.Mint("token-t", crypto.Address{}, uint256.NewInt(1)); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}
