package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"lendledger/cmd/internal/passphrase"
	"lendledger/services/ledgerd/client"
)

const (
	defaultAPIEndpoint = "http://127.0.0.1:8470"
	requestTimeout     = 30 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries the global settings shared by every subcommand.
type cli struct {
	endpoint string
	tokens   *passphrase.Source
	stdout   io.Writer
	stderr   io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{
		endpoint: defaultEndpoint(),
		tokens:   passphrase.NewSource("LEDGER_TOKEN", "ledger API token"),
		stdout:   stdout,
		stderr:   stderr,
	}
	args, err := c.applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	command, rest := args[0], args[1:]
	switch command {
	case "keygen":
		return c.runKeygen(rest)
	case "address":
		return c.runAddress(rest)
	case "token":
		return c.runToken(rest)
	case "health":
		return c.runHealth(rest)
	case "init":
		return c.runInitialize(rest)
	case "init-user":
		return c.runInitializeUser(rest)
	case "add-collateral":
		return c.runAddCollateral(rest)
	case "deposit":
		return c.runMovement("deposit", rest)
	case "withdraw":
		return c.runMovement("withdraw", rest)
	case "create-loan":
		return c.runCreateLoan(rest)
	case "accept-loan":
		return c.runAcceptLoan(rest)
	case "approve":
		return c.runApprove(rest)
	case "admin":
		return c.runAdmin(rest)
	case "profile":
		return c.runProfile(rest)
	case "loan":
		return c.runLoan(rest)
	case "collaterals":
		return c.runCollaterals(rest)
	case "balance":
		return c.runBalance(rest)
	case "events":
		return c.runEvents(rest)
	case "export":
		return c.runExport(rest)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultEndpoint() string {
	if value := strings.TrimSpace(os.Getenv("LEDGER_API_URL")); value != "" {
		return value
	}
	return defaultAPIEndpoint
}

func (c *cli) applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--api" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --api")
			}
			c.endpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--api=") {
			c.endpoint = strings.TrimPrefix(arg, "--api=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

// apiClient builds an API client. Mutating commands need a bearer token.
func (c *cli) apiClient(authenticated bool) (*client.Client, error) {
	opts := []client.Option{}
	if authenticated {
		token, err := c.tokens.Get()
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithToken(token))
	}
	return client.New(c.endpoint, opts...)
}

func (c *cli) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func (c *cli) writeResult(v interface{}) int {
	encoder := json.NewEncoder(c.stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(c.stderr, "Error: encode result: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) fail(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(c.stderr, "Error: ledgerd returned %d: %s\n", apiErr.Status, apiErr.Message)
		return 1
	}
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func usage() string {
	return strings.TrimSpace(`
Usage: ledger-cli [--api URL] <command> [flags]

Local commands:
  keygen          generate a secp256k1 key and print its lend address
  address         print the lend address held in a keystore
  token           mint a development bearer token for an identity

Ledger calls (require LEDGER_TOKEN or an interactive prompt):
  init            claim the ledger admin role
  init-user       create the caller's user profile
  add-collateral  register an accepted collateral (admin only)
  deposit         deposit collateral into custody
  withdraw        withdraw collateral from custody
  create-loan     record a loan request
  accept-loan     accept a requested loan
  approve         approve the custody account to pull tokens

Queries:
  health          check daemon liveness
  admin           show the admin profile
  profile         show a user profile
  loan            show a user's loan
  collaterals     list accepted collaterals
  balance         show a token balance
  events          list journaled events
  export          export journaled events as csv or jsonl
`)
}
