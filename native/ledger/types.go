package ledger

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendledger/core/types"
	"lendledger/crypto"
)

const (
	// DepositTicker is recorded on every deposit line item. Deposits do not
	// consult the accepted-collateral registry.
	DepositTicker = "TOKEN"
	// DepositPool is the pool placeholder recorded on every deposit line item.
	DepositPool = "pool_address"
)

// LoanStatus enumerates the lifecycle states of a loan.
type LoanStatus uint8

const (
	LoanStatusOpen LoanStatus = iota
	LoanStatusAccepted
	LoanStatusClosed
)

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusOpen:
		return "open"
	case LoanStatusAccepted:
		return "accepted"
	case LoanStatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the status is one of the defined lifecycle states.
func (s LoanStatus) Valid() bool {
	return s <= LoanStatusClosed
}

// CanTransition reports whether moving from s to next respects the
// forward-only lifecycle. Re-asserting the current state is allowed.
func (s LoanStatus) CanTransition(next LoanStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next >= s && s != LoanStatusClosed
}

// MarshalText renders the status as its lowercase name.
func (s LoanStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("ledger: invalid loan status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a lowercase status name.
func (s *LoanStatus) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "open":
		*s = LoanStatusOpen
	case "accepted":
		*s = LoanStatusAccepted
	case "closed":
		*s = LoanStatusClosed
	default:
		return fmt.Errorf("ledger: unknown loan status %q", string(text))
	}
	return nil
}

// AdminProfile is the singleton record naming the privileged account.
type AdminProfile struct {
	Authority       crypto.Address
	CollateralCount uint64
}

// Clone returns a deep copy of the profile.
func (p *AdminProfile) Clone() *AdminProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// DepositedCollateral is a single deposit line item held on a user profile.
type DepositedCollateral struct {
	Ticker      string
	MintAddress string
	PoolAddress string
	Amount      *uint256.Int
	Authority   crypto.Address
}

// LentCoin describes funds lent out by a user. No operation populates it yet.
type LentCoin struct {
	Ticker       string
	Amount       *uint256.Int
	TokenAddress string
}

// UserProfile tracks a user's counters, capabilities and deposits.
type UserProfile struct {
	Authority      crypto.Address
	LoanCount      uint64
	LastLoan       uint64
	CanBorrow      bool
	CanDeposit     bool
	CoinsLent      []LentCoin
	CoinsDeposited []DepositedCollateral
}

// Clone returns a deep copy of the profile including every amount.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	clone := *p
	if p.CoinsLent != nil {
		clone.CoinsLent = make([]LentCoin, len(p.CoinsLent))
		for i, coin := range p.CoinsLent {
			coin.Amount = types.CloneAmount(coin.Amount)
			clone.CoinsLent[i] = coin
		}
	}
	if p.CoinsDeposited != nil {
		clone.CoinsDeposited = make([]DepositedCollateral, len(p.CoinsDeposited))
		for i, item := range p.CoinsDeposited {
			item.Amount = types.CloneAmount(item.Amount)
			clone.CoinsDeposited[i] = item
		}
	}
	return &clone
}

// DepositedBalance sums every line item recorded for token.
func (p *UserProfile) DepositedBalance(token string) *uint256.Int {
	total := new(uint256.Int)
	if p == nil {
		return total
	}
	for _, item := range p.CoinsDeposited {
		if item.MintAddress == token && item.Amount != nil {
			total.Add(total, item.Amount)
		}
	}
	return total
}

// AcceptedCollateral is a registry entry describing an eligible token.
type AcceptedCollateral struct {
	Ticker      string
	MintAddress string
	PoolAddress string
	Image       string
	Authority   crypto.Address
}

// Clone returns a copy of the entry.
func (c *AcceptedCollateral) Clone() *AcceptedCollateral {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Loan records a loan request created by a user.
type Loan struct {
	InterestRate uint64
	Lender       crypto.Address
	Amount       *uint256.Int
	Status       LoanStatus
	Duration     uint64
	Authority    crypto.Address
	TokenAddress string
	Idx          uint64
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Amount = types.CloneAmount(l.Amount)
	return &clone
}

// TransferKind distinguishes the two token ledger instructions.
type TransferKind string

const (
	// TransferKindTransfer moves funds out of the custody account.
	TransferKindTransfer TransferKind = "transfer"
	// TransferKindTransferFrom pulls funds from an owner into custody using
	// the custody account's allowance.
	TransferKindTransferFrom TransferKind = "transfer_from"
)

// TransferInstruction is an order for the token ledger. The ledger core only
// produces instructions; the host executes them atomically with the call.
type TransferInstruction struct {
	Kind      TransferKind
	Token     string
	Owner     crypto.Address
	Recipient crypto.Address
	Amount    *uint256.Int
}
