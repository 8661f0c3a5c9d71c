package state

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendledger/crypto"
	"lendledger/native/ledger"
	"lendledger/native/token"
	"lendledger/storage"
)

func makeAddress(b byte) crypto.Address {
	return crypto.NewAddress(crypto.LendPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func TestManagerKVRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	type record struct {
		Name  string
		Count uint64
	}
	ok, err := mgr.KVGet([]byte("missing"), &record{})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.KVPut([]byte("rec"), &record{Name: "a", Count: 3}))
	var out record
	ok, err = mgr.KVGet([]byte("rec"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record{Name: "a", Count: 3}, out)

	require.NoError(t, mgr.KVAppend([]byte("list"), []byte("x")))
	require.NoError(t, mgr.KVAppend([]byte("list"), []byte("x")))
	require.NoError(t, mgr.KVAppend([]byte("list"), []byte("y")))
	var list [][]byte
	require.NoError(t, mgr.KVGetList([]byte("list"), &list))
	require.Equal(t, [][]byte{[]byte("x"), []byte("y")}, list)

	var empty [][]byte
	require.NoError(t, mgr.KVGetList([]byte("none"), &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)

	require.NoError(t, mgr.KVDelete([]byte("rec")))
	ok, err = mgr.KVGet([]byte("rec"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = mgr.KVGet(nil, nil)
	require.Error(t, err)
}

func TestManagerLedgerRecords(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	admin := makeAddress(0xA1)
	user := makeAddress(0x11)

	got, err := mgr.GetAdminProfile()
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, mgr.PutAdminProfile(&ledger.AdminProfile{Authority: admin, CollateralCount: 2}))
	got, err = mgr.GetAdminProfile()
	require.NoError(t, err)
	require.True(t, got.Authority.Equal(admin))
	require.EqualValues(t, 2, got.CollateralCount)

	profile := &ledger.UserProfile{
		Authority:  user,
		LoanCount:  1,
		LastLoan:   1,
		CanBorrow:  true,
		CanDeposit: true,
		CoinsDeposited: []ledger.DepositedCollateral{{
			Ticker:      ledger.DepositTicker,
			MintAddress: "token-t",
			PoolAddress: ledger.DepositPool,
			Amount:      uint256.NewInt(60),
			Authority:   user,
		}},
	}
	require.NoError(t, mgr.PutUserProfile(profile))
	loaded, err := mgr.GetUserProfile(user)
	require.NoError(t, err)
	require.True(t, loaded.Authority.Equal(user))
	require.True(t, loaded.CanBorrow)
	require.Len(t, loaded.CoinsDeposited, 1)
	require.Equal(t, "60", loaded.CoinsDeposited[0].Amount.Dec())
	require.Equal(t, "token-t", loaded.CoinsDeposited[0].MintAddress)
	require.True(t, loaded.CoinsDeposited[0].Authority.Equal(user))
	require.Empty(t, loaded.CoinsLent)

	missing, err := mgr.GetUserProfile(admin)
	require.NoError(t, err)
	require.Nil(t, missing)

	loan := &ledger.Loan{
		InterestRate: 5,
		Lender:       user,
		Amount:       uint256.NewInt(100),
		Status:       ledger.LoanStatusAccepted,
		Duration:     30,
		Authority:    user,
		TokenAddress: "token-t",
		Idx:          4,
	}
	require.NoError(t, mgr.PutLoan(user, loan))
	storedLoan, err := mgr.GetLoan(user)
	require.NoError(t, err)
	require.Equal(t, ledger.LoanStatusAccepted, storedLoan.Status)
	require.EqualValues(t, 4, storedLoan.Idx)
	require.Equal(t, "100", storedLoan.Amount.Dec())
	require.True(t, storedLoan.Lender.Equal(user))
}

func TestManagerCollateralIndex(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	adminA := makeAddress(0xA1)
	adminB := makeAddress(0xB2)

	entries, err := mgr.ListAcceptedCollateral()
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, mgr.PutAcceptedCollateral(adminA, &ledger.AcceptedCollateral{Ticker: "USDC", Authority: adminA}))
	require.NoError(t, mgr.PutAcceptedCollateral(adminA, &ledger.AcceptedCollateral{Ticker: "ATOM", Authority: adminA}))
	require.NoError(t, mgr.PutAcceptedCollateral(adminB, &ledger.AcceptedCollateral{Ticker: "OSMO", Authority: adminB}))

	entries, err = mgr.ListAcceptedCollateral()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "ATOM", entries[0].Ticker)
	require.Equal(t, "OSMO", entries[1].Ticker)
}

func TestManagerTokenBalances(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	owner := makeAddress(0x01)
	spender := makeAddress(0x02)

	require.NoError(t, mgr.PutTokenMeta(&token.Metadata{Address: "token-b", Symbol: "B", Supply: uint256.NewInt(0)}))
	require.NoError(t, mgr.PutTokenMeta(&token.Metadata{Address: "token-a", Symbol: "A", Decimals: 6, Supply: uint256.NewInt(10)}))
	tokens, err := mgr.ListTokens()
	require.NoError(t, err)
	require.Equal(t, []string{"token-a", "token-b"}, tokens)

	meta, err := mgr.GetTokenMeta("token-a")
	require.NoError(t, err)
	require.EqualValues(t, 6, meta.Decimals)
	require.Equal(t, "10", meta.Supply.Dec())

	balance, err := mgr.GetBalance("token-a", owner)
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	require.NoError(t, mgr.PutBalance("token-a", owner, uint256.NewInt(42)))
	balance, err = mgr.GetBalance("token-a", owner)
	require.NoError(t, err)
	require.Equal(t, "42", balance.Dec())

	other, err := mgr.GetBalance("token-b", owner)
	require.NoError(t, err)
	require.True(t, other.IsZero())

	require.NoError(t, mgr.PutAllowance("token-a", owner, spender, uint256.NewInt(7)))
	allowance, err := mgr.GetAllowance("token-a", owner, spender)
	require.NoError(t, err)
	require.Equal(t, "7", allowance.Dec())
	reverse, err := mgr.GetAllowance("token-a", spender, owner)
	require.NoError(t, err)
	require.True(t, reverse.IsZero())
}

func TestManagerOverOverlay(t *testing.T) {
	db := storage.NewMemDB()
	overlay := NewOverlay(db)
	mgr := NewManager(overlay)
	require.NoError(t, mgr.PutAdminProfile(&ledger.AdminProfile{Authority: makeAddress(0xA1)}))

	committed, err := NewManager(db).GetAdminProfile()
	require.NoError(t, err)
	require.Nil(t, committed)

	_, err = overlay.Commit()
	require.NoError(t, err)
	committed, err = NewManager(db).GetAdminProfile()
	require.NoError(t, err)
	require.NotNil(t, committed)
}
