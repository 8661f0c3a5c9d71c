package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/core/types"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

// ModuleName is the pause-guard identifier of the ledger.
const ModuleName = "ledger"

// engineState is the persistence contract of the ledger. A missing record is
// reported as (nil, nil).
type engineState interface {
	GetAdminProfile() (*AdminProfile, error)
	PutAdminProfile(profile *AdminProfile) error
	GetUserProfile(addr crypto.Address) (*UserProfile, error)
	PutUserProfile(profile *UserProfile) error
	GetLoan(addr crypto.Address) (*Loan, error)
	PutLoan(addr crypto.Address, loan *Loan) error
	GetAcceptedCollateral(admin crypto.Address) (*AcceptedCollateral, error)
	PutAcceptedCollateral(admin crypto.Address, collateral *AcceptedCollateral) error
	ListAcceptedCollateral() ([]*AcceptedCollateral, error)
}

// Engine owns every state transition of the collateral ledger.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	custody crypto.Address
}

// NewEngine constructs a ledger engine whose deposits settle into custody.
func NewEngine(custody crypto.Address) *Engine {
	return &Engine{custody: custody, emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the sink for ledger events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Custody returns the account that holds deposited collateral.
func (e *Engine) Custody() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.custody
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) guard(caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if caller.IsZero() {
		return fmt.Errorf("%w: caller identity missing", ErrUnauthorized)
	}
	return nil
}

func validAmount(amount *uint256.Int) error {
	if !types.FitsAmount(amount) {
		return ErrInvalidAmount
	}
	return nil
}

func (e *Engine) loadUser(caller crypto.Address) (*UserProfile, error) {
	profile, err := e.state.GetUserProfile(caller)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: user profile %s", ErrNotFound, caller)
	}
	return profile, nil
}

// Initialize creates the admin profile owned by caller. The admin slot can be
// populated exactly once.
func (e *Engine) Initialize(caller crypto.Address) (*AdminProfile, error) {
	if err := e.guard(caller); err != nil {
		return nil, err
	}
	existing, err := e.state.GetAdminProfile()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyInitialized
	}
	profile := &AdminProfile{Authority: caller, CollateralCount: 0}
	if err := e.state.PutAdminProfile(profile); err != nil {
		return nil, err
	}
	e.emit(initializeEvent(caller))
	return profile.Clone(), nil
}

// InitializeUser creates a fresh profile for caller. Any previous profile for
// the same identity, including its deposits, is overwritten.
func (e *Engine) InitializeUser(caller crypto.Address) (*UserProfile, error) {
	if err := e.guard(caller); err != nil {
		return nil, err
	}
	profile := &UserProfile{
		Authority:      caller,
		CanBorrow:      true,
		CanDeposit:     true,
		CoinsLent:      []LentCoin{},
		CoinsDeposited: []DepositedCollateral{},
	}
	if err := e.state.PutUserProfile(profile); err != nil {
		return nil, err
	}
	e.emit(initializeUserEvent(caller))
	return profile.Clone(), nil
}

// AddAcceptedCollateral registers a collateral type. Only the admin may call
// it, and the entry is stored in the admin's slot, replacing any prior entry.
func (e *Engine) AddAcceptedCollateral(caller crypto.Address, ticker, mintAddress, poolAddress, image string) (*AcceptedCollateral, error) {
	if err := e.guard(caller); err != nil {
		return nil, err
	}
	admin, err := e.state.GetAdminProfile()
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, fmt.Errorf("%w: admin profile", ErrNotFound)
	}
	if !admin.Authority.Equal(caller) {
		return nil, ErrUnauthorized
	}
	entry := &AcceptedCollateral{
		Ticker:      ticker,
		MintAddress: mintAddress,
		PoolAddress: poolAddress,
		Image:       image,
		Authority:   caller,
	}
	if err := e.state.PutAcceptedCollateral(caller, entry); err != nil {
		return nil, err
	}
	admin.CollateralCount++
	if err := e.state.PutAdminProfile(admin); err != nil {
		return nil, err
	}
	e.emit(addCollateralEvent(ticker, caller))
	return entry.Clone(), nil
}

// DepositCollateral appends a deposit line item for caller and returns the
// instruction pulling amount of token into custody.
func (e *Engine) DepositCollateral(caller crypto.Address, amount *uint256.Int, token string) (*UserProfile, *TransferInstruction, error) {
	if err := e.guard(caller); err != nil {
		return nil, nil, err
	}
	if err := validAmount(amount); err != nil {
		return nil, nil, err
	}
	profile, err := e.loadUser(caller)
	if err != nil {
		return nil, nil, err
	}
	if !profile.CanDeposit {
		return nil, nil, ErrCapabilityDisabled
	}
	profile.CoinsDeposited = append(profile.CoinsDeposited, DepositedCollateral{
		Ticker:      DepositTicker,
		MintAddress: token,
		PoolAddress: DepositPool,
		Amount:      types.CloneAmount(amount),
		Authority:   caller,
	})
	if err := e.state.PutUserProfile(profile); err != nil {
		return nil, nil, err
	}
	instruction := &TransferInstruction{
		Kind:      TransferKindTransferFrom,
		Token:     token,
		Owner:     caller,
		Recipient: e.custody,
		Amount:    types.CloneAmount(amount),
	}
	e.emit(collateralMovementEvent(ActionDepositCollateral, caller, amount, token))
	return profile.Clone(), instruction, nil
}

// WithdrawCollateral debits the first deposit line item for token that can
// cover amount on its own, and returns the instruction paying it out.
func (e *Engine) WithdrawCollateral(caller crypto.Address, amount *uint256.Int, token string) (*UserProfile, *TransferInstruction, error) {
	if err := e.guard(caller); err != nil {
		return nil, nil, err
	}
	if err := validAmount(amount); err != nil {
		return nil, nil, err
	}
	profile, err := e.loadUser(caller)
	if err != nil {
		return nil, nil, err
	}
	selected := -1
	for i, item := range profile.CoinsDeposited {
		if item.MintAddress == token && item.Amount != nil && item.Amount.Cmp(amount) >= 0 {
			selected = i
			break
		}
	}
	if selected < 0 {
		return nil, nil, ErrInsufficientBalance
	}
	remaining, err := types.CheckedSub(profile.CoinsDeposited[selected].Amount, amount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrArithmetic, err)
	}
	profile.CoinsDeposited[selected].Amount = remaining
	if err := e.state.PutUserProfile(profile); err != nil {
		return nil, nil, err
	}
	instruction := &TransferInstruction{
		Kind:      TransferKindTransfer,
		Token:     token,
		Owner:     e.custody,
		Recipient: caller,
		Amount:    types.CloneAmount(amount),
	}
	e.emit(collateralMovementEvent(ActionWithdrawCollateral, caller, amount, token))
	return profile.Clone(), instruction, nil
}

// CreateLoan stores an open loan in caller's loan slot, replacing any prior
// loan, and advances the profile's loan counters.
func (e *Engine) CreateLoan(caller crypto.Address, duration, interestRate uint64, amount *uint256.Int, token string) (*Loan, error) {
	if err := e.guard(caller); err != nil {
		return nil, err
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	profile, err := e.loadUser(caller)
	if err != nil {
		return nil, err
	}
	if !profile.CanBorrow {
		return nil, ErrCapabilityDisabled
	}
	loan := &Loan{
		InterestRate: interestRate,
		Lender:       caller,
		Amount:       types.CloneAmount(amount),
		Status:       LoanStatusOpen,
		Duration:     duration,
		Authority:    caller,
		TokenAddress: token,
		Idx:          profile.LastLoan,
	}
	if err := e.state.PutLoan(caller, loan); err != nil {
		return nil, err
	}
	profile.LoanCount++
	profile.LastLoan++
	if err := e.state.PutUserProfile(profile); err != nil {
		return nil, err
	}
	e.emit(loanEvent(ActionCreateLoan, caller, loan.Idx, token))
	return loan.Clone(), nil
}

// AcceptLoan marks the loan in caller's slot as accepted. loanIdx is only
// echoed in the emitted event.
func (e *Engine) AcceptLoan(caller crypto.Address, loanIdx uint64, token string) (*Loan, error) {
	if err := e.guard(caller); err != nil {
		return nil, err
	}
	loan, err := e.state.GetLoan(caller)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, fmt.Errorf("%w: loan for %s", ErrNotFound, caller)
	}
	if loan.TokenAddress != token {
		return nil, ErrTokenMismatch
	}
	if !loan.Status.CanTransition(LoanStatusAccepted) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, loan.Status, LoanStatusAccepted)
	}
	loan.Status = LoanStatusAccepted
	if err := e.state.PutLoan(caller, loan); err != nil {
		return nil, err
	}
	e.emit(loanEvent(ActionAcceptLoan, caller, loanIdx, token))
	return loan.Clone(), nil
}

// AdminProfile returns the stored admin profile.
func (e *Engine) AdminProfile() (*AdminProfile, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	profile, err := e.state.GetAdminProfile()
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: admin profile", ErrNotFound)
	}
	return profile.Clone(), nil
}

// UserProfile returns the stored profile for addr.
func (e *Engine) UserProfile(addr crypto.Address) (*UserProfile, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	profile, err := e.loadUser(addr)
	if err != nil {
		return nil, err
	}
	return profile.Clone(), nil
}

// Loan returns the loan stored in addr's slot.
func (e *Engine) Loan(addr crypto.Address) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.state.GetLoan(addr)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, fmt.Errorf("%w: loan for %s", ErrNotFound, addr)
	}
	return loan.Clone(), nil
}

// AcceptedCollaterals lists every registry entry ordered by ticker.
func (e *Engine) AcceptedCollaterals() ([]*AcceptedCollateral, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entries, err := e.state.ListAcceptedCollateral()
	if err != nil {
		return nil, err
	}
	out := make([]*AcceptedCollateral, 0, len(entries))
	for _, entry := range entries {
		if entry != nil {
			out = append(out, entry.Clone())
		}
	}
	sortCollaterals(out)
	return out, nil
}

func sortCollaterals(entries []*AcceptedCollateral) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if at, bt := strings.ToUpper(a.Ticker), strings.ToUpper(b.Ticker); at != bt {
			return at < bt
		}
		return a.Authority.String() < b.Authority.String()
	})
}
