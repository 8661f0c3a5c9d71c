package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/core/types"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

// ModuleName is the pause-guard identifier of the token ledger.
const ModuleName = "token"

var (
	errNilState = errors.New("token: state not configured")

	ErrUnknownToken          = errors.New("token: unknown token")
	ErrTokenExists           = errors.New("token: already registered")
	ErrInvalidToken          = errors.New("token: token address must not be empty")
	ErrInvalidZeroAmount     = errors.New("token: invalid zero amount")
	ErrInvalidAmount         = errors.New("token: invalid amount")
	ErrInsufficientFunds     = errors.New("token: insufficient funds")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAccount        = errors.New("token: account identity missing")
	ErrSupplyOverflow        = errors.New("token: supply overflow")
)

// Metadata describes a registered fungible token.
type Metadata struct {
	Address  string
	Symbol   string
	Decimals uint8
	Supply   *uint256.Int
}

// Clone returns a deep copy of the metadata.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Supply = types.CloneAmount(m.Supply)
	return &clone
}

type engineState interface {
	GetTokenMeta(token string) (*Metadata, error)
	PutTokenMeta(meta *Metadata) error
	ListTokens() ([]string, error)
	GetBalance(token string, addr crypto.Address) (*uint256.Int, error)
	PutBalance(token string, addr crypto.Address, amount *uint256.Int) error
	GetAllowance(token string, owner, spender crypto.Address) (*uint256.Int, error)
	PutAllowance(token string, owner, spender crypto.Address, amount *uint256.Int) error
}

// Engine is a CW20-style fungible token ledger addressed by token contract
// identifier.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the sink for token events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, ModuleName)
}

func (e *Engine) emit(kind string, attrs map[string]string) {
	if e.emitter == nil {
		return
	}
	attrs["action"] = kind
	e.emitter.Emit(tokenEvent{evt: &types.Event{Type: "token." + kind, Attributes: attrs}})
}

func checkAmount(amount *uint256.Int) error {
	if !types.FitsAmount(amount) {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return ErrInvalidZeroAmount
	}
	return nil
}

func checkAccount(addr crypto.Address) error {
	if addr.IsZero() {
		return ErrInvalidAccount
	}
	return nil
}

func (e *Engine) loadToken(token string) (*Metadata, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	meta, err := e.state.GetTokenMeta(token)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return meta, nil
}

// RegisterToken records the metadata of a new token with zero supply.
func (e *Engine) RegisterToken(address, symbol string, decimals uint8) (*Metadata, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrInvalidToken
	}
	existing, err := e.state.GetTokenMeta(address)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenExists, address)
	}
	meta := &Metadata{
		Address:  address,
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Decimals: decimals,
		Supply:   new(uint256.Int),
	}
	if err := e.state.PutTokenMeta(meta); err != nil {
		return nil, err
	}
	return meta.Clone(), nil
}

// Mint credits recipient with newly issued units of token.
func (e *Engine) Mint(token string, recipient crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := checkAccount(recipient); err != nil {
		return err
	}
	meta, err := e.loadToken(token)
	if err != nil {
		return err
	}
	supply, err := types.CheckedAdd(meta.Supply, amount)
	if err != nil {
		return ErrSupplyOverflow
	}
	balance, err := e.state.GetBalance(token, recipient)
	if err != nil {
		return err
	}
	updated, err := types.CheckedAdd(balance, amount)
	if err != nil {
		return ErrSupplyOverflow
	}
	meta.Supply = supply
	if err := e.state.PutTokenMeta(meta); err != nil {
		return err
	}
	if err := e.state.PutBalance(token, recipient, updated); err != nil {
		return err
	}
	e.emit("mint", map[string]string{
		"token_address": token,
		"recipient":     recipient.String(),
		"amount":        types.FormatAmount(amount),
	})
	return nil
}

// Approve sets the allowance spender may draw from owner's balance.
func (e *Engine) Approve(token string, owner, spender crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !types.FitsAmount(amount) {
		return ErrInvalidAmount
	}
	if err := checkAccount(owner); err != nil {
		return err
	}
	if err := checkAccount(spender); err != nil {
		return err
	}
	if _, err := e.loadToken(token); err != nil {
		return err
	}
	if err := e.state.PutAllowance(token, owner, spender, types.CloneAmount(amount)); err != nil {
		return err
	}
	e.emit("approve", map[string]string{
		"token_address": token,
		"owner":         owner.String(),
		"spender":       spender.String(),
		"amount":        types.FormatAmount(amount),
	})
	return nil
}

// Transfer moves amount of token from sender to recipient.
func (e *Engine) Transfer(token string, sender, recipient crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if _, err := e.loadToken(token); err != nil {
		return err
	}
	if err := e.move(token, sender, recipient, amount); err != nil {
		return err
	}
	e.emit("transfer", map[string]string{
		"token_address": token,
		"from":          sender.String(),
		"to":            recipient.String(),
		"amount":        types.FormatAmount(amount),
	})
	return nil
}

// TransferFrom moves amount of token from owner to recipient on behalf of
// spender, consuming spender's allowance.
func (e *Engine) TransferFrom(token string, spender, owner, recipient crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := checkAccount(spender); err != nil {
		return err
	}
	if _, err := e.loadToken(token); err != nil {
		return err
	}
	allowance, err := e.state.GetAllowance(token, owner, spender)
	if err != nil {
		return err
	}
	remaining, err := types.CheckedSub(allowance, amount)
	if err != nil {
		return ErrInsufficientAllowance
	}
	if err := e.move(token, owner, recipient, amount); err != nil {
		return err
	}
	if err := e.state.PutAllowance(token, owner, spender, remaining); err != nil {
		return err
	}
	e.emit("transfer_from", map[string]string{
		"token_address": token,
		"from":          owner.String(),
		"to":            recipient.String(),
		"by":            spender.String(),
		"amount":        types.FormatAmount(amount),
	})
	return nil
}

func (e *Engine) move(token string, from, to crypto.Address, amount *uint256.Int) error {
	if err := checkAccount(from); err != nil {
		return err
	}
	if err := checkAccount(to); err != nil {
		return err
	}
	fromBalance, err := e.state.GetBalance(token, from)
	if err != nil {
		return err
	}
	debited, err := types.CheckedSub(fromBalance, amount)
	if err != nil {
		return ErrInsufficientFunds
	}
	if err := e.state.PutBalance(token, from, debited); err != nil {
		return err
	}
	toBalance, err := e.state.GetBalance(token, to)
	if err != nil {
		return err
	}
	credited, err := types.CheckedAdd(toBalance, amount)
	if err != nil {
		return ErrSupplyOverflow
	}
	return e.state.PutBalance(token, to, credited)
}

// Balance returns the balance of addr in token.
func (e *Engine) Balance(token string, addr crypto.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadToken(token); err != nil {
		return nil, err
	}
	balance, err := e.state.GetBalance(token, addr)
	if err != nil {
		return nil, err
	}
	return types.CloneAmount(balance), nil
}

// Allowance returns how much spender may still draw from owner.
func (e *Engine) Allowance(token string, owner, spender crypto.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadToken(token); err != nil {
		return nil, err
	}
	allowance, err := e.state.GetAllowance(token, owner, spender)
	if err != nil {
		return nil, err
	}
	return types.CloneAmount(allowance), nil
}

// Token returns the metadata of a registered token.
func (e *Engine) Token(token string) (*Metadata, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	meta, err := e.loadToken(token)
	if err != nil {
		return nil, err
	}
	return meta.Clone(), nil
}

// Tokens lists every registered token address in sorted order.
func (e *Engine) Tokens() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.ListTokens()
}

type tokenEvent struct {
	evt *types.Event
}

func (t tokenEvent) EventType() string {
	if t.evt == nil {
		return ""
	}
	return t.evt.Type
}

func (t tokenEvent) Event() *types.Event { return t.evt }
