package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/core/genesis"
	"lendledger/core/state"
	"lendledger/core/types"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
	"lendledger/native/ledger"
	"lendledger/native/token"
	"lendledger/observability"
	"lendledger/storage"
)

// CustodyModule names the module account that holds deposited collateral.
const CustodyModule = "custody"

// ActionApprove and ActionBootstrap complement the ledger actions in receipts.
const (
	ActionApprove   = "approve"
	ActionBootstrap = "bootstrap"
)

var (
	// ErrTransferFailed wraps token ledger failures raised while settling a
	// ledger operation. The token sentinel remains reachable through
	// errors.Is.
	ErrTransferFailed = errors.New("host: token transfer failed")
	// ErrQuotaExceeded is returned when a caller exhausts its call quota.
	ErrQuotaExceeded = errors.New("host: call quota exceeded")

	errNilDatabase = errors.New("host: database must not be nil")
)

// Options tunes a Host. Zero values select safe defaults.
type Options struct {
	Logger *slog.Logger
	// Hub sequences committed records and fans them out to subscribers.
	Hub *events.Hub
	// Emitter receives every committed record after the hub.
	Emitter events.Emitter
	Pauses  nativecommon.PauseView
	Quota   nativecommon.Quota
	Metrics *observability.LedgerMetricsRegistry
	Clock   func() time.Time
}

// Receipt summarises a committed call.
type Receipt struct {
	CallID   string                      `json:"callId"`
	Action   string                      `json:"action"`
	Events   []events.Record             `json:"events"`
	Transfer *ledger.TransferInstruction `json:"transfer,omitempty"`
	Digest   [32]byte                    `json:"-"`
}

// DigestHex returns the write-set digest as lowercase hex.
func (r *Receipt) DigestHex() string {
	if r == nil {
		return ""
	}
	return hex.EncodeToString(r.Digest[:])
}

// Host is the execution environment of the ledger. It binds the caller
// identity, serializes mutating calls, and applies each ledger operation
// together with its token transfer as one atomic write.
type Host struct {
	mu      sync.Mutex
	db      storage.Database
	custody crypto.Address
	pauses  nativecommon.PauseView
	quota   *nativecommon.QuotaTracker
	hub     *events.Hub
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.LedgerMetricsRegistry
	now     func() time.Time
}

// NewHost wires a host over db.
func NewHost(db storage.Database, opts Options) (*Host, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	h := &Host{
		db:      db,
		custody: crypto.ModuleAddress(CustodyModule),
		pauses:  opts.Pauses,
		hub:     opts.Hub,
		emitter: opts.Emitter,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Clock,
	}
	if h.emitter == nil {
		h.emitter = events.NoopEmitter{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if opts.Quota.MaxRequestsPerWindow > 0 {
		h.quota = nativecommon.NewQuotaTracker(opts.Quota)
		h.quota.SetClock(h.now)
	}
	return h, nil
}

// Custody returns the account holding deposited collateral.
func (h *Host) Custody() crypto.Address {
	return h.custody
}

// callScope carries the engines bound to one call's overlay.
type callScope struct {
	ledger   *ledger.Engine
	token    *token.Engine
	recorder *events.Recorder
}

func (h *Host) newScope(store state.KVStore) *callScope {
	manager := state.NewManager(store)
	recorder := &events.Recorder{}

	ledgerEngine := ledger.NewEngine(h.custody)
	ledgerEngine.SetState(manager)
	ledgerEngine.SetEmitter(recorder)
	ledgerEngine.SetPauses(h.pauses)

	tokenEngine := token.NewEngine()
	tokenEngine.SetState(manager)
	tokenEngine.SetEmitter(recorder)
	tokenEngine.SetPauses(h.pauses)

	return &callScope{ledger: ledgerEngine, token: tokenEngine, recorder: recorder}
}

// settle executes instruction against the token ledger with the custody
// account acting as spender or sender.
func (h *Host) settle(scope *callScope, instruction *ledger.TransferInstruction) error {
	if instruction == nil {
		return nil
	}
	var err error
	switch instruction.Kind {
	case ledger.TransferKindTransferFrom:
		err = scope.token.TransferFrom(instruction.Token, h.custody, instruction.Owner, instruction.Recipient, instruction.Amount)
	case ledger.TransferKindTransfer:
		err = scope.token.Transfer(instruction.Token, h.custody, instruction.Recipient, instruction.Amount)
	default:
		err = fmt.Errorf("unknown transfer kind %q", instruction.Kind)
	}
	h.metrics.RecordTransfer(string(instruction.Kind), err == nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

type operation func(scope *callScope) (*ledger.TransferInstruction, error)

func (h *Host) execute(ctx context.Context, action string, caller crypto.Address, op operation) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := h.now()
	callID := uuid.NewString()
	logger := h.logger.With(
		slog.String("call_id", callID),
		slog.String("action", action),
		slog.String("caller", caller.String()),
	)

	receipt, err := h.run(action, callID, caller, op)
	duration := h.now().Sub(start)
	outcome := outcomeFor(err)
	h.metrics.ObserveCall(action, outcome, duration)
	if err != nil {
		logger.Warn("ledger call rejected",
			slog.String("outcome", outcome),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, err
	}
	logger.Info("ledger call committed",
		slog.String("outcome", outcome),
		slog.Duration("duration", duration),
		slog.Int("events", len(receipt.Events)),
		slog.String("digest", receipt.DigestHex()))
	return receipt, nil
}

func (h *Host) run(action, callID string, caller crypto.Address, op operation) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.quota != nil {
		if err := h.quota.Consume(caller.String()); err != nil {
			h.metrics.RecordRejection("quota_exceeded")
			return nil, fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		}
	}

	overlay := state.NewOverlay(h.db)
	scope := h.newScope(overlay)
	instruction, err := op(scope)
	if err == nil {
		err = h.settle(scope, instruction)
	}
	if err != nil {
		overlay.Discard()
		if errors.Is(err, nativecommon.ErrModulePaused) {
			h.metrics.RecordRejection("paused")
		}
		return nil, err
	}
	digest, err := overlay.Commit()
	if err != nil {
		return nil, fmt.Errorf("host: commit: %w", err)
	}

	receipt := &Receipt{
		CallID:   callID,
		Action:   action,
		Transfer: instruction,
		Digest:   digest,
		Events:   h.publish(action, callID, caller, scope.recorder.Drain()),
	}
	return receipt, nil
}

// publish stamps the buffered events with call metadata and forwards them to
// the hub and emitter. It runs only after a successful commit.
func (h *Host) publish(action, callID string, caller crypto.Address, buffered []events.Event) []events.Record {
	timestamp := h.now().UTC()
	records := make([]events.Record, 0, len(buffered))
	for _, evt := range buffered {
		payload, ok := evt.(events.Payload)
		if !ok {
			continue
		}
		body := payload.Event()
		if body == nil {
			continue
		}
		record := events.Record{
			CallID:     callID,
			Index:      len(records),
			Action:     action,
			Caller:     caller.String(),
			Type:       body.Type,
			Attributes: body.Attributes,
			Timestamp:  timestamp,
		}
		if h.hub != nil {
			record = h.hub.Publish(record)
		}
		h.emitter.Emit(record)
		records = append(records, record)
	}
	h.metrics.RecordPublished(len(records))
	return records
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Initialize claims the admin slot for caller.
func (h *Host) Initialize(ctx context.Context, caller crypto.Address) (*Receipt, error) {
	return h.execute(ctx, ledger.ActionInitialize, caller, func(scope *callScope) (*ledger.TransferInstruction, error) {
		_, err := scope.ledger.Initialize(caller)
		return nil, err
	})
}

// InitializeUser creates or resets caller's profile.
func (h *Host) InitializeUser(ctx context.Context, caller crypto.Address) (*Receipt, error) {
	return h.execute(ctx, ledger.ActionInitializeUser, caller, func(scope *callScope) (*ledger.TransferInstruction, error) {
		_, err := scope.ledger.InitializeUser(caller)
		return nil, err
	})
}

// AddAcceptedCollateral registers a collateral type on behalf of the admin.
func (h *Host) AddAcceptedCollateral(ctx context.Context, caller crypto.Address, ticker, mintAddress, poolAddress, image string) (*Receipt, error) {
	return h.execute(ctx, ledger.ActionAddCollateral, caller, func(scope *callScope) (*ledger.TransferInstruction, error) {
		_, err := scope.ledger.AddAcceptedCollateral(caller, ticker, mintAddress, poolAddress, image)
		return nil, err
	})
}

// DepositCollateral records a deposit and pulls the tokens into custody.
func (h *Host) DepositCollateral(ctx context.Context, caller crypto.Address, amount *uint256.Int, tokenAddress string) (*Receipt, error) {
	return h.execute(ctx, ledger.ActionDepositCollateral, caller, func(scope *callScope) (*ledger.TransferInstruction, error) {
		_, instruction, err := scope.ledger.DepositCollateral(caller, amount, tokenAddress)
		return instruction, err
	})
}

// WithdrawCollateral debits a deposit and pays the tokens out of custody.
func (h *Host) WithdrawCollateral(ctx context.Context, caller crypto.Address, amount *uint256.Int, tokenAddress string) (*Receipt, error) {
	return h.execute(ctx, ledger.ActionWithdrawCollateral, caller, func(scope *callScope) (*ledger.TransferInstruction, error) {
		_, instruction, err := scope.ledger.WithdrawCollateral(caller, amount, tokenAddress)
		return instruction, err
	})
}

// CreateLoan opens a loan in caller's slot.
func (h *Host) CreateLoan(ctx context.Context, caller crypto.Address, duration, interestRate uint64, amount *uint256.Int, tokenAddress string) (*Receipt, error) {
	return h.execute(ctx, ledger.ActionCreateLoan, caller, func(scope *callScope) (*ledger.TransferInstruction, error) {
		_, err := scope.ledger.CreateLoan(caller, duration, interestRate, amount, tokenAddress)
		return nil, err
	})
}

// AcceptLoan accepts the loan in caller's slot.
func (h *Host) AcceptLoan(ctx context.Context, caller crypto.Address, loanIdx uint64, tokenAddress string) (*Receipt, error) {
	return h.execute(ctx, ledger.ActionAcceptLoan, caller, func(scope *callScope) (*ledger.TransferInstruction, error) {
		_, err := scope.ledger.AcceptLoan(caller, loanIdx, tokenAddress)
		return nil, err
	})
}

// Approve sets the allowance the custody account holds over caller's balance
// of tokenAddress.
func (h *Host) Approve(ctx context.Context, caller crypto.Address, tokenAddress string, amount *uint256.Int) (*Receipt, error) {
	return h.execute(ctx, ActionApprove, caller, func(scope *callScope) (*ledger.TransferInstruction, error) {
		return nil, scope.token.Approve(tokenAddress, caller, h.custody, amount)
	})
}

// Bootstrap applies spec to an empty ledger. It returns (nil, nil) when the
// admin slot is already populated.
func (h *Host) Bootstrap(ctx context.Context, spec *genesis.Spec) (*Receipt, error) {
	if spec == nil {
		return nil, errors.New("host: genesis spec must not be nil")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	admin, ok := spec.AdminAddress()
	if !ok {
		return nil, errors.New("host: genesis admin required")
	}
	existing, err := h.AdminProfile()
	switch {
	case err == nil:
		h.logger.Info("genesis already applied", slog.String("admin", existing.Authority.String()))
		return nil, nil
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}
	receipt, err := h.execute(ctx, ActionBootstrap, admin, func(scope *callScope) (*ledger.TransferInstruction, error) {
		return nil, h.applyGenesis(scope, admin, spec)
	})
	if errors.Is(err, ledger.ErrAlreadyInitialized) {
		// A concurrent bootstrap committed first.
		return nil, nil
	}
	return receipt, err
}

func (h *Host) applyGenesis(scope *callScope, admin crypto.Address, spec *genesis.Spec) error {
	if _, err := scope.ledger.AdminProfile(); err == nil {
		return ledger.ErrAlreadyInitialized
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	for _, tk := range spec.Tokens {
		if _, err := scope.token.RegisterToken(tk.Address, tk.Symbol, tk.Decimals); err != nil {
			return fmt.Errorf("genesis token %s: %w", tk.Address, err)
		}
	}
	for _, bal := range spec.Balances {
		account, err := crypto.ParseIdentity(bal.Account)
		if err != nil {
			return err
		}
		amount, err := types.ParseAmount(bal.Amount)
		if err != nil {
			return err
		}
		if err := scope.token.Mint(bal.Token, account, amount); err != nil {
			return fmt.Errorf("genesis balance %s: %w", bal.Account, err)
		}
	}
	for _, allowance := range spec.Allowances {
		owner, err := crypto.ParseIdentity(allowance.Owner)
		if err != nil {
			return err
		}
		spender := h.custody
		if strings.TrimSpace(allowance.Spender) != "" {
			if spender, err = crypto.ParseIdentity(allowance.Spender); err != nil {
				return err
			}
		}
		amount, err := types.ParseAmount(allowance.Amount)
		if err != nil {
			return err
		}
		if err := scope.token.Approve(allowance.Token, owner, spender, amount); err != nil {
			return fmt.Errorf("genesis allowance %s: %w", allowance.Owner, err)
		}
	}
	if _, err := scope.ledger.Initialize(admin); err != nil {
		return err
	}
	for _, c := range spec.Collaterals {
		if _, err := scope.ledger.AddAcceptedCollateral(admin, c.Ticker, c.MintAddress, c.PoolAddress, c.Image); err != nil {
			return fmt.Errorf("genesis collateral %s: %w", c.Ticker, err)
		}
	}
	return nil
}

// readScope binds engines directly to committed state for queries.
func (h *Host) readScope() *callScope {
	return h.newScope(h.db)
}

// AdminProfile returns the committed admin profile. It fails with
// ledger.ErrNotFound before the ledger is initialized.
func (h *Host) AdminProfile() (*ledger.AdminProfile, error) {
	return h.readScope().ledger.AdminProfile()
}

// UserProfile returns the committed profile of addr.
func (h *Host) UserProfile(addr crypto.Address) (*ledger.UserProfile, error) {
	return h.readScope().ledger.UserProfile(addr)
}

// Loan returns the committed loan in addr's slot.
func (h *Host) Loan(addr crypto.Address) (*ledger.Loan, error) {
	return h.readScope().ledger.Loan(addr)
}

// AcceptedCollaterals lists the committed collateral registry.
func (h *Host) AcceptedCollaterals() ([]*ledger.AcceptedCollateral, error) {
	return h.readScope().ledger.AcceptedCollaterals()
}

// Balance returns the committed token balance of addr.
func (h *Host) Balance(tokenAddress string, addr crypto.Address) (*uint256.Int, error) {
	return h.readScope().token.Balance(tokenAddress, addr)
}

// Allowance returns the committed allowance spender holds over owner.
func (h *Host) Allowance(tokenAddress string, owner, spender crypto.Address) (*uint256.Int, error) {
	return h.readScope().token.Allowance(tokenAddress, owner, spender)
}

// Token returns the metadata of a registered token.
func (h *Host) Token(tokenAddress string) (*token.Metadata, error) {
	return h.readScope().token.Token(tokenAddress)
}

// Tokens lists the registered tokens.
func (h *Host) Tokens() ([]*token.Metadata, error) {
	scope := h.readScope()
	addresses, err := scope.token.Tokens()
	if err != nil {
		return nil, err
	}
	out := make([]*token.Metadata, 0, len(addresses))
	for _, addr := range addresses {
		meta, err := scope.token.Token(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}
