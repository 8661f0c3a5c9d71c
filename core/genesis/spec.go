package genesis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"lendledger/core/types"
	"lendledger/crypto"
)

// Spec is the TOML bootstrap document applied once to an empty ledger.
type Spec struct {
	Admin       string           `toml:"admin"`
	Tokens      []TokenSpec      `toml:"tokens"`
	Balances    []BalanceSpec    `toml:"balances"`
	Allowances  []AllowanceSpec  `toml:"allowances"`
	Collaterals []CollateralSpec `toml:"collaterals"`
}

type TokenSpec struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// BalanceSpec mints Amount of Token to Account.
type BalanceSpec struct {
	Token   string `toml:"token"`
	Account string `toml:"account"`
	Amount  string `toml:"amount"`
}

// AllowanceSpec grants Spender an allowance over Owner's balance. An empty
// spender designates the ledger custody account.
type AllowanceSpec struct {
	Token   string `toml:"token"`
	Owner   string `toml:"owner"`
	Spender string `toml:"spender,omitempty"`
	Amount  string `toml:"amount"`
}

// CollateralSpec is registered by the admin during bootstrap.
type CollateralSpec struct {
	Ticker      string `toml:"ticker"`
	MintAddress string `toml:"mint_address"`
	PoolAddress string `toml:"pool_address"`
	Image       string `toml:"image"`
}

// Load decodes and validates the genesis file at path.
func Load(path string) (*Spec, error) {
	spec := &Spec{}
	meta, err := toml.DecodeFile(path, spec)
	if err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis %s: unknown key %s", path, undecoded[0].String())
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Parse decodes and validates a genesis document held in memory.
func Parse(data string) (*Spec, error) {
	spec := &Spec{}
	if _, err := toml.Decode(data, spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks every identity, token reference and amount.
func (s *Spec) Validate() error {
	if s == nil {
		return errors.New("genesis: spec must not be nil")
	}
	if strings.TrimSpace(s.Admin) != "" {
		if _, err := crypto.ParseIdentity(s.Admin); err != nil {
			return fmt.Errorf("genesis: admin: %w", err)
		}
	}
	known := make(map[string]struct{}, len(s.Tokens))
	for i, token := range s.Tokens {
		addr := strings.TrimSpace(token.Address)
		if addr == "" {
			return fmt.Errorf("genesis: tokens[%d]: address must not be empty", i)
		}
		if _, dup := known[addr]; dup {
			return fmt.Errorf("genesis: tokens[%d]: duplicate token %s", i, addr)
		}
		known[addr] = struct{}{}
	}
	for i, bal := range s.Balances {
		if _, ok := known[bal.Token]; !ok {
			return fmt.Errorf("genesis: balances[%d]: unknown token %s", i, bal.Token)
		}
		if _, err := crypto.ParseIdentity(bal.Account); err != nil {
			return fmt.Errorf("genesis: balances[%d]: account: %w", i, err)
		}
		if _, err := parsePositive(bal.Amount); err != nil {
			return fmt.Errorf("genesis: balances[%d]: %w", i, err)
		}
	}
	for i, allowance := range s.Allowances {
		if _, ok := known[allowance.Token]; !ok {
			return fmt.Errorf("genesis: allowances[%d]: unknown token %s", i, allowance.Token)
		}
		if _, err := crypto.ParseIdentity(allowance.Owner); err != nil {
			return fmt.Errorf("genesis: allowances[%d]: owner: %w", i, err)
		}
		if strings.TrimSpace(allowance.Spender) != "" {
			if _, err := crypto.ParseIdentity(allowance.Spender); err != nil {
				return fmt.Errorf("genesis: allowances[%d]: spender: %w", i, err)
			}
		}
		if _, err := types.ParseAmount(allowance.Amount); err != nil {
			return fmt.Errorf("genesis: allowances[%d]: %w", i, err)
		}
	}
	if len(s.Collaterals) > 0 && strings.TrimSpace(s.Admin) == "" {
		return errors.New("genesis: collaterals require an admin")
	}
	for i, c := range s.Collaterals {
		if strings.TrimSpace(c.Ticker) == "" {
			return fmt.Errorf("genesis: collaterals[%d]: ticker must not be empty", i)
		}
	}
	return nil
}

// AdminAddress returns the configured admin identity, if any.
func (s *Spec) AdminAddress() (crypto.Address, bool) {
	if s == nil || strings.TrimSpace(s.Admin) == "" {
		return crypto.Address{}, false
	}
	addr, err := crypto.ParseIdentity(s.Admin)
	if err != nil {
		return crypto.Address{}, false
	}
	return addr, true
}

func parsePositive(value string) (*uint256.Int, error) {
	amount, err := types.ParseAmount(value)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}
