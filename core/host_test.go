package core

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendledger/core/events"
	"lendledger/core/genesis"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
	"lendledger/native/ledger"
	"lendledger/native/token"
	"lendledger/storage"
)

const tokenT = "token-t"

func identity(b byte) crypto.Address {
	return crypto.NewAddress(crypto.LendPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

type hostFixture struct {
	host    *Host
	db      *storage.MemDB
	hub     *events.Hub
	journal *events.Recorder
	pauses  *nativecommon.PauseSet
	admin   crypto.Address
	alice   crypto.Address
	bob     crypto.Address
}

func newHostFixture(t *testing.T, quota nativecommon.Quota) *hostFixture {
	t.Helper()
	f := &hostFixture{
		db:      storage.NewMemDB(),
		hub:     events.NewHub(0),
		journal: &events.Recorder{},
		pauses:  nativecommon.NewPauseSet(),
		admin:   identity(0x0a),
		alice:   identity(0x01),
		bob:     identity(0x02),
	}
	host, err := NewHost(f.db, Options{
		Hub:     f.hub,
		Emitter: f.journal,
		Pauses:  f.pauses,
		Quota:   quota,
	})
	require.NoError(t, err)
	f.host = host

	spec := &genesis.Spec{
		Admin:  f.admin.String(),
		Tokens: []genesis.TokenSpec{{Address: tokenT, Symbol: "T", Decimals: 6}},
		Balances: []genesis.BalanceSpec{
			{Token: tokenT, Account: f.alice.String(), Amount: "1000"},
			{Token: tokenT, Account: f.bob.String(), Amount: "50"},
		},
		Allowances: []genesis.AllowanceSpec{
			{Token: tokenT, Owner: f.alice.String(), Amount: "500"},
		},
		Collaterals: []genesis.CollateralSpec{
			{Ticker: "T", MintAddress: tokenT, PoolAddress: "pool", Image: "t.png"},
		},
	}
	receipt, err := host.Bootstrap(context.Background(), spec)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	return f
}

func (f *hostFixture) balance(t *testing.T, addr crypto.Address) uint64 {
	t.Helper()
	bal, err := f.host.Balance(tokenT, addr)
	require.NoError(t, err)
	return bal.Uint64()
}

func TestBootstrapSeedsLedgerOnce(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx := context.Background()

	admin, err := f.host.AdminProfile()
	require.NoError(t, err)
	require.NotNil(t, admin)
	require.True(t, admin.Authority.Equal(f.admin))
	require.EqualValues(t, 1, admin.CollateralCount)

	require.EqualValues(t, 1000, f.balance(t, f.alice))
	allowance, err := f.host.Allowance(tokenT, f.alice, f.host.Custody())
	require.NoError(t, err)
	require.EqualValues(t, 500, allowance.Uint64())

	collaterals, err := f.host.AcceptedCollaterals()
	require.NoError(t, err)
	require.Len(t, collaterals, 1)

	tokens, err := f.host.Tokens()
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, "T", tokens[0].Symbol)

	keys := len(f.db.Keys())
	receipt, err := f.host.Bootstrap(ctx, &genesis.Spec{Admin: f.bob.String()})
	require.NoError(t, err)
	require.Nil(t, receipt)
	require.Len(t, f.db.Keys(), keys)
}

func TestBootstrapOnEmptyStore(t *testing.T) {
	host, err := NewHost(storage.NewMemDB(), Options{})
	require.NoError(t, err)

	_, err = host.AdminProfile()
	require.ErrorIs(t, err, ledger.ErrNotFound)

	admin := identity(0x0b)
	receipt, err := host.Bootstrap(context.Background(), &genesis.Spec{Admin: admin.String()})
	require.NoError(t, err)
	require.NotNil(t, receipt)

	profile, err := host.AdminProfile()
	require.NoError(t, err)
	require.True(t, profile.Authority.Equal(admin))
}

func TestConcurrentBootstrapAppliesOnce(t *testing.T) {
	host, err := NewHost(storage.NewMemDB(), Options{})
	require.NoError(t, err)
	spec := &genesis.Spec{
		Admin:  identity(0x0c).String(),
		Tokens: []genesis.TokenSpec{{Address: tokenT, Symbol: "T", Decimals: 6}},
	}

	const callers = 8
	receipts := make([]*Receipt, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = host.Bootstrap(context.Background(), spec)
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if receipts[i] != nil {
			applied++
		}
	}
	require.Equal(t, 1, applied)
}

func TestDepositAndWithdrawSettleThroughCustody(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx := context.Background()

	_, err := f.host.InitializeUser(ctx, f.alice)
	require.NoError(t, err)

	receipt, err := f.host.DepositCollateral(ctx, f.alice, uint256.NewInt(100), tokenT)
	require.NoError(t, err)
	require.Equal(t, ledger.ActionDepositCollateral, receipt.Action)
	require.NotNil(t, receipt.Transfer)
	require.Equal(t, ledger.TransferKindTransferFrom, receipt.Transfer.Kind)
	require.Len(t, receipt.Events, 2)
	require.Equal(t, ledger.EventType(ledger.ActionDepositCollateral), receipt.Events[0].Type)
	require.Equal(t, "100", receipt.Events[0].Attributes["amount"])
	require.Equal(t, 0, receipt.Events[0].Index)
	require.NotEmpty(t, receipt.DigestHex())

	require.EqualValues(t, 900, f.balance(t, f.alice))
	require.EqualValues(t, 100, f.balance(t, f.host.Custody()))

	_, err = f.host.WithdrawCollateral(ctx, f.alice, uint256.NewInt(40), tokenT)
	require.NoError(t, err)
	profile, err := f.host.UserProfile(f.alice)
	require.NoError(t, err)
	require.Len(t, profile.CoinsDeposited, 1)
	require.EqualValues(t, 60, profile.CoinsDeposited[0].Amount.Uint64())
	require.EqualValues(t, 940, f.balance(t, f.alice))
	require.EqualValues(t, 60, f.balance(t, f.host.Custody()))
}

func TestFailedTransferLeavesNoTrace(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx := context.Background()

	_, err := f.host.InitializeUser(ctx, f.bob)
	require.NoError(t, err)
	published := len(f.journal.Events())
	before, err := f.host.UserProfile(f.bob)
	require.NoError(t, err)

	// bob never approved custody
	_, err = f.host.DepositCollateral(ctx, f.bob, uint256.NewInt(10), tokenT)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)

	after, err := f.host.UserProfile(f.bob)
	require.NoError(t, err)
	require.Equal(t, len(before.CoinsDeposited), len(after.CoinsDeposited))
	require.Len(t, f.journal.Events(), published)
	require.EqualValues(t, 50, f.balance(t, f.bob))

	_, err = f.host.DepositCollateral(ctx, f.bob, uint256.NewInt(0), tokenT)
	require.ErrorIs(t, err, token.ErrInvalidZeroAmount)
	after, err = f.host.UserProfile(f.bob)
	require.NoError(t, err)
	require.Empty(t, after.CoinsDeposited)
}

func TestApproveThenDeposit(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx := context.Background()

	_, err := f.host.InitializeUser(ctx, f.bob)
	require.NoError(t, err)
	_, err = f.host.Approve(ctx, f.bob, tokenT, uint256.NewInt(50))
	require.NoError(t, err)
	_, err = f.host.DepositCollateral(ctx, f.bob, uint256.NewInt(50), tokenT)
	require.NoError(t, err)
	require.EqualValues(t, 0, f.balance(t, f.bob))

	_, err = f.host.WithdrawCollateral(ctx, f.bob, uint256.NewInt(51), tokenT)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestLoanLifecycleThroughHost(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx := context.Background()

	_, err := f.host.InitializeUser(ctx, f.alice)
	require.NoError(t, err)
	receipt, err := f.host.CreateLoan(ctx, f.alice, 30, 5, uint256.NewInt(250), tokenT)
	require.NoError(t, err)
	require.Nil(t, receipt.Transfer)
	require.Equal(t, "0", receipt.Events[0].Attributes["loan_id"])

	_, err = f.host.AcceptLoan(ctx, f.alice, 0, "token-u")
	require.ErrorIs(t, err, ledger.ErrTokenMismatch)
	_, err = f.host.AcceptLoan(ctx, f.alice, 0, tokenT)
	require.NoError(t, err)

	loan, err := f.host.Loan(f.alice)
	require.NoError(t, err)
	require.Equal(t, ledger.LoanStatusAccepted, loan.Status)

	_, err = f.host.AcceptLoan(ctx, f.bob, 0, tokenT)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAdminOnlyCollateralRegistration(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx := context.Background()

	_, err := f.host.AddAcceptedCollateral(ctx, f.alice, "U", "token-u", "pool", "")
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = f.host.Initialize(ctx, f.alice)
	require.ErrorIs(t, err, ledger.ErrAlreadyInitialized)
	_, err = f.host.AddAcceptedCollateral(ctx, f.admin, "U", "token-u", "pool", "")
	require.NoError(t, err)

	admin, err := f.host.AdminProfile()
	require.NoError(t, err)
	require.EqualValues(t, 2, admin.CollateralCount)
}

func TestPausedLedgerRejectsCalls(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx := context.Background()

	f.pauses.SetPaused(ledger.ModuleName, true)
	_, err := f.host.InitializeUser(ctx, f.alice)
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))

	f.pauses.SetPaused(ledger.ModuleName, false)
	_, err = f.host.InitializeUser(ctx, f.alice)
	require.NoError(t, err)
}

func TestQuotaLimitsCallsPerIdentity(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{MaxRequestsPerWindow: 2, WindowSeconds: 3600})
	ctx := context.Background()
	now := time.Unix(7200, 0)
	f.host.quota.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		_, err := f.host.InitializeUser(ctx, f.bob)
		require.NoError(t, err)
	}
	_, err := f.host.InitializeUser(ctx, f.bob)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = f.host.InitializeUser(ctx, f.alice)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = f.host.InitializeUser(ctx, f.bob)
	require.NoError(t, err)
}

func TestHubSequencesCommittedEvents(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx := context.Background()

	updates, cancel, _ := f.hub.Subscribe(ctx, "")
	defer cancel()

	first, err := f.host.InitializeUser(ctx, f.alice)
	require.NoError(t, err)
	second, err := f.host.InitializeUser(ctx, f.bob)
	require.NoError(t, err)
	require.Greater(t, second.Events[0].Sequence, first.Events[0].Sequence)

	select {
	case record := <-updates:
		require.Equal(t, first.CallID, record.CallID)
		require.Equal(t, f.alice.String(), record.Caller)
	case <-time.After(time.Second):
		t.Fatal("expected live record")
	}
}

func TestCanceledContextSkipsCall(t *testing.T) {
	f := newHostFixture(t, nativecommon.Quota{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.host.InitializeUser(ctx, f.alice)
	require.ErrorIs(t, err, context.Canceled)
	profile, err := f.host.UserProfile(f.alice)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.Nil(t, profile)
}
