package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendledger/core"
	"lendledger/core/genesis"
	"lendledger/crypto"
	"lendledger/services/ledgerd/middleware"
	"lendledger/services/ledgerd/server"
	"lendledger/storage"
)

const testSecret = "0123456789abcdef-secret"

func identity(b byte) crypto.Address {
	return crypto.NewAddress(crypto.LendPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func startDaemon(t *testing.T, admin crypto.Address, holder crypto.Address) string {
	t.Helper()
	host, err := core.NewHost(storage.NewMemDB(), core.Options{})
	require.NoError(t, err)
	_, err = host.Bootstrap(context.Background(), &genesis.Spec{
		Admin:    admin.String(),
		Tokens:   []genesis.TokenSpec{{Address: "token-t", Symbol: "T"}},
		Balances: []genesis.BalanceSpec{{Token: "token-t", Account: holder.String(), Amount: "500"}},
	})
	require.NoError(t, err)
	srv, err := server.New(server.Config{
		Ledger: host,
		Auth:   middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testSecret}, nil),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestClientRoundTrip(t *testing.T) {
	admin, alice := identity(0x0a), identity(0x01)
	base := startDaemon(t, admin, alice)
	token, err := middleware.IssueToken(testSecret, alice, "", "", time.Minute)
	require.NoError(t, err)

	c, err := New(base+"/", WithToken(token))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	receipt, err := c.InitializeUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "initialize_user", receipt.Action)

	_, err = c.Approve(ctx, "token-t", "200")
	require.NoError(t, err)
	receipt, err = c.DepositCollateral(ctx, "200", "token-t")
	require.NoError(t, err)
	require.Equal(t, "200", receipt.Profile.CoinsDeposited[0].Amount)

	_, err = c.WithdrawCollateral(ctx, "50", "token-t")
	require.NoError(t, err)

	balance, err := c.Balance(ctx, "token-t", alice.String())
	require.NoError(t, err)
	require.Equal(t, "350", balance.Balance)

	_, err = c.CreateLoan(ctx, LoanParams{Duration: 10, InterestRate: 3, Amount: "70", TokenAddress: "token-t"})
	require.NoError(t, err)
	accepted, err := c.AcceptLoan(ctx, 0, "token-t")
	require.NoError(t, err)
	require.Equal(t, "accepted", accepted.Loan.Status)

	loan, err := c.Loan(ctx, alice.String())
	require.NoError(t, err)
	require.Equal(t, "70", loan.Amount)

	profile, err := c.UserProfile(ctx, alice.String())
	require.NoError(t, err)
	require.EqualValues(t, 1, profile.LoanCount)

	adminView, err := c.Admin(ctx)
	require.NoError(t, err)
	require.Equal(t, admin.String(), adminView.Authority)

	_, err = c.AddAcceptedCollateral(ctx, CollateralParams{Ticker: "T"})
	require.True(t, IsStatus(err, http.StatusForbidden), "unexpected error %v", err)

	collaterals, err := c.AcceptedCollaterals(ctx)
	require.NoError(t, err)
	require.Empty(t, collaterals)

	_, err = c.Events(ctx, EventQuery{Limit: 10})
	require.True(t, IsStatus(err, http.StatusServiceUnavailable), "journal is not configured: %v", err)
}

func TestClientWithoutTokenIsRejected(t *testing.T) {
	base := startDaemon(t, identity(0x0a), identity(0x01))
	c, err := New(base)
	require.NoError(t, err)
	_, err = c.InitializeUser(context.Background())
	require.True(t, IsStatus(err, http.StatusUnauthorized))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)
}
