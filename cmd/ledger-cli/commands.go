package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"lendledger/cmd/internal/passphrase"
	"lendledger/crypto"
	"lendledger/services/ledgerd/client"
	"lendledger/services/ledgerd/middleware"
	"lendledger/services/ledgerd/server"
)

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) parse(fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

// require takes flag name and value pairs and reports the first empty one.
func (c *cli) require(pairs ...string) bool {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			fmt.Fprintf(c.stderr, "Error: --%s is required\n", pairs[i])
			return false
		}
	}
	return true
}

func (c *cli) runKeygen(args []string) int {
	fs := c.newFlagSet("keygen")
	var out, keystorePath string
	fs.StringVar(&out, "out", "", "write the hex private key to this file")
	fs.StringVar(&keystorePath, "keystore", "", "write an encrypted v3 keystore to this file")
	if !c.parse(fs, args) {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(fmt.Errorf("generate key: %w", err))
	}
	result := map[string]string{"address": key.PubKey().Address().String()}
	switch {
	case strings.TrimSpace(keystorePath) != "":
		secret, err := keystorePassphrase().Get()
		if err != nil {
			return c.fail(err)
		}
		if err := crypto.SaveToKeystore(strings.TrimSpace(keystorePath), key, secret); err != nil {
			return c.fail(fmt.Errorf("write keystore: %w", err))
		}
		result["keystore"] = strings.TrimSpace(keystorePath)
	case strings.TrimSpace(out) != "":
		if err := os.WriteFile(strings.TrimSpace(out), []byte(hex.EncodeToString(key.Bytes())+"\n"), 0o600); err != nil {
			return c.fail(fmt.Errorf("write key: %w", err))
		}
		result["keyFile"] = strings.TrimSpace(out)
	default:
		result["privateKey"] = hex.EncodeToString(key.Bytes())
	}
	return c.writeResult(result)
}

func (c *cli) runAddress(args []string) int {
	fs := c.newFlagSet("address")
	var keystorePath string
	fs.StringVar(&keystorePath, "keystore", "", "encrypted v3 keystore file")
	if !c.parse(fs, args) || !c.require("keystore", keystorePath) {
		return 1
	}
	secret, err := keystorePassphrase().Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.LoadFromKeystore(strings.TrimSpace(keystorePath), secret)
	if err != nil {
		return c.fail(fmt.Errorf("open keystore: %w", err))
	}
	return c.writeResult(map[string]string{"address": key.PubKey().Address().String()})
}

func keystorePassphrase() *passphrase.Source {
	return passphrase.NewSource("LEDGER_KEYSTORE_PASSPHRASE", "keystore passphrase")
}

func (c *cli) runToken(args []string) int {
	fs := c.newFlagSet("token")
	var identity, issuer, audience, secret string
	var ttl time.Duration
	fs.StringVar(&identity, "identity", "", "lend address carried in the sub claim")
	fs.StringVar(&issuer, "issuer", "", "iss claim expected by ledgerd")
	fs.StringVar(&audience, "audience", "", "aud claim expected by ledgerd")
	fs.StringVar(&secret, "secret", "", "HMAC secret (defaults to LEDGERD_HMAC_SECRET or a prompt)")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime; zero disables expiry")
	if !c.parse(fs, args) {
		return 1
	}
	if !c.require("identity", identity) {
		return 1
	}
	addr, err := crypto.ParseIdentity(strings.TrimSpace(identity))
	if err != nil {
		return c.fail(fmt.Errorf("identity: %w", err))
	}
	source := passphrase.NewSource("LEDGERD_HMAC_SECRET", "ledgerd HMAC secret")
	if strings.TrimSpace(secret) != "" {
		source = passphrase.Static(secret)
	}
	resolved, err := source.Get()
	if err != nil {
		return c.fail(err)
	}
	token, err := middleware.IssueToken(resolved, addr, strings.TrimSpace(issuer), strings.TrimSpace(audience), ttl)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, token)
	return 0
}

func (c *cli) runHealth(args []string) int {
	if !c.parse(c.newFlagSet("health"), args) {
		return 1
	}
	api, err := c.apiClient(false)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	if err := api.Health(ctx); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, "ok")
	return 0
}

// call runs an authenticated mutation and prints its receipt.
func (c *cli) call(fn func(api *client.Client) (*server.ReceiptView, error)) int {
	api, err := c.apiClient(true)
	if err != nil {
		return c.fail(err)
	}
	receipt, err := fn(api)
	if err != nil {
		return c.fail(err)
	}
	return c.writeResult(receipt)
}

func (c *cli) runInitialize(args []string) int {
	if !c.parse(c.newFlagSet("init"), args) {
		return 1
	}
	return c.call(func(api *client.Client) (*server.ReceiptView, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.Initialize(ctx)
	})
}

func (c *cli) runInitializeUser(args []string) int {
	if !c.parse(c.newFlagSet("init-user"), args) {
		return 1
	}
	return c.call(func(api *client.Client) (*server.ReceiptView, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.InitializeUser(ctx)
	})
}

func (c *cli) runAddCollateral(args []string) int {
	fs := c.newFlagSet("add-collateral")
	var params client.CollateralParams
	fs.StringVar(&params.Ticker, "ticker", "", "collateral ticker")
	fs.StringVar(&params.MintAddress, "mint", "", "token address of the collateral")
	fs.StringVar(&params.PoolAddress, "pool", "", "pool address")
	fs.StringVar(&params.Image, "image", "", "image URL")
	if !c.parse(fs, args) {
		return 1
	}
	if !c.require("ticker", params.Ticker, "mint", params.MintAddress) {
		return 1
	}
	return c.call(func(api *client.Client) (*server.ReceiptView, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.AddAcceptedCollateral(ctx, params)
	})
}

func (c *cli) runMovement(name string, args []string) int {
	fs := c.newFlagSet(name)
	var amount, tokenAddress string
	fs.StringVar(&amount, "amount", "", "decimal amount in base units")
	fs.StringVar(&tokenAddress, "token", "", "token address")
	if !c.parse(fs, args) {
		return 1
	}
	if !c.require("amount", amount, "token", tokenAddress) {
		return 1
	}
	return c.call(func(api *client.Client) (*server.ReceiptView, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		if name == "withdraw" {
			return api.WithdrawCollateral(ctx, amount, tokenAddress)
		}
		return api.DepositCollateral(ctx, amount, tokenAddress)
	})
}

func (c *cli) runCreateLoan(args []string) int {
	fs := c.newFlagSet("create-loan")
	var params client.LoanParams
	fs.Uint64Var(&params.Duration, "duration", 0, "loan duration")
	fs.Uint64Var(&params.InterestRate, "rate", 0, "interest rate")
	fs.StringVar(&params.Amount, "amount", "", "decimal amount in base units")
	fs.StringVar(&params.TokenAddress, "token", "", "token address")
	if !c.parse(fs, args) {
		return 1
	}
	if !c.require("amount", params.Amount, "token", params.TokenAddress) {
		return 1
	}
	return c.call(func(api *client.Client) (*server.ReceiptView, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.CreateLoan(ctx, params)
	})
}

func (c *cli) runAcceptLoan(args []string) int {
	fs := c.newFlagSet("accept-loan")
	var idx uint64
	var tokenAddress string
	fs.Uint64Var(&idx, "idx", 0, "loan index")
	fs.StringVar(&tokenAddress, "token", "", "token address the loan was requested in")
	if !c.parse(fs, args) {
		return 1
	}
	if !c.require("token", tokenAddress) {
		return 1
	}
	return c.call(func(api *client.Client) (*server.ReceiptView, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.AcceptLoan(ctx, idx, tokenAddress)
	})
}

func (c *cli) runApprove(args []string) int {
	fs := c.newFlagSet("approve")
	var amount, tokenAddress string
	fs.StringVar(&amount, "amount", "", "allowance granted to custody")
	fs.StringVar(&tokenAddress, "token", "", "token address")
	if !c.parse(fs, args) {
		return 1
	}
	if !c.require("amount", amount, "token", tokenAddress) {
		return 1
	}
	return c.call(func(api *client.Client) (*server.ReceiptView, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.Approve(ctx, tokenAddress, amount)
	})
}

// query runs an unauthenticated read and prints the result.
func (c *cli) query(fn func(api *client.Client) (interface{}, error)) int {
	api, err := c.apiClient(false)
	if err != nil {
		return c.fail(err)
	}
	result, err := fn(api)
	if err != nil {
		return c.fail(err)
	}
	return c.writeResult(result)
}

func (c *cli) runAdmin(args []string) int {
	if !c.parse(c.newFlagSet("admin"), args) {
		return 1
	}
	return c.query(func(api *client.Client) (interface{}, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.Admin(ctx)
	})
}

func (c *cli) runProfile(args []string) int {
	fs := c.newFlagSet("profile")
	var addr string
	fs.StringVar(&addr, "addr", "", "lend address of the user")
	if !c.parse(fs, args) || !c.require("addr", addr) {
		return 1
	}
	return c.query(func(api *client.Client) (interface{}, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.UserProfile(ctx, strings.TrimSpace(addr))
	})
}

func (c *cli) runLoan(args []string) int {
	fs := c.newFlagSet("loan")
	var addr string
	fs.StringVar(&addr, "addr", "", "lend address of the borrower")
	if !c.parse(fs, args) || !c.require("addr", addr) {
		return 1
	}
	return c.query(func(api *client.Client) (interface{}, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.Loan(ctx, strings.TrimSpace(addr))
	})
}

func (c *cli) runCollaterals(args []string) int {
	if !c.parse(c.newFlagSet("collaterals"), args) {
		return 1
	}
	return c.query(func(api *client.Client) (interface{}, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.AcceptedCollaterals(ctx)
	})
}

func (c *cli) runBalance(args []string) int {
	fs := c.newFlagSet("balance")
	var addr, tokenAddress string
	fs.StringVar(&addr, "addr", "", "lend address of the holder")
	fs.StringVar(&tokenAddress, "token", "", "token address")
	if !c.parse(fs, args) || !c.require("addr", addr, "token", tokenAddress) {
		return 1
	}
	return c.query(func(api *client.Client) (interface{}, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.Balance(ctx, strings.TrimSpace(tokenAddress), strings.TrimSpace(addr))
	})
}

func (c *cli) eventFlags(fs *flag.FlagSet, q *client.EventQuery) {
	fs.StringVar(&q.Action, "action", "", "only events produced by this action")
	fs.StringVar(&q.Caller, "caller", "", "only events produced by this caller")
	fs.StringVar(&q.CallID, "call-id", "", "only events produced by this call")
	fs.Uint64Var(&q.After, "after", 0, "only events after this sequence")
	fs.IntVar(&q.Limit, "limit", 0, "page size")
}

func (c *cli) runEvents(args []string) int {
	fs := c.newFlagSet("events")
	var q client.EventQuery
	c.eventFlags(fs, &q)
	if !c.parse(fs, args) {
		return 1
	}
	return c.query(func(api *client.Client) (interface{}, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return api.Events(ctx, q)
	})
}
