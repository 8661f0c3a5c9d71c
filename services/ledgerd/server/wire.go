package server

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"lendledger/core"
	"lendledger/core/events"
	"lendledger/core/types"
	"lendledger/native/ledger"
)

type collateralRequest struct {
	Ticker      string `json:"ticker"`
	MintAddress string `json:"mintAddress"`
	PoolAddress string `json:"poolAddress"`
	Image       string `json:"image"`
}

type movementRequest struct {
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress"`
}

type createLoanRequest struct {
	Duration     uint64 `json:"duration"`
	InterestRate uint64 `json:"interestRate"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress"`
}

type acceptLoanRequest struct {
	LoanIdx      uint64 `json:"loanIdx"`
	TokenAddress string `json:"tokenAddress"`
}

type approveRequest struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
}

// AdminView is the JSON form of the admin profile.
type AdminView struct {
	Authority       string `json:"authority"`
	CollateralCount uint64 `json:"collateralCount"`
}

// DepositView is the JSON form of a deposited collateral line item.
type DepositView struct {
	Ticker      string `json:"ticker"`
	MintAddress string `json:"mintAddress"`
	PoolAddress string `json:"poolAddress"`
	Amount      string `json:"amount"`
	Authority   string `json:"authority"`
}

// LentCoinView is the JSON form of a lent coin entry.
type LentCoinView struct {
	Ticker       string `json:"ticker"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress"`
}

// UserView is the JSON form of a user profile.
type UserView struct {
	Authority      string         `json:"authority"`
	LoanCount      uint64         `json:"loanCount"`
	LastLoan       uint64         `json:"lastLoan"`
	CanBorrow      bool           `json:"canBorrow"`
	CanDeposit     bool           `json:"canDeposit"`
	CoinsLent      []LentCoinView `json:"coinsLent"`
	CoinsDeposited []DepositView  `json:"coinsDeposited"`
}

// CollateralView is the JSON form of an accepted collateral entry.
type CollateralView struct {
	Ticker      string `json:"ticker"`
	MintAddress string `json:"mintAddress"`
	PoolAddress string `json:"poolAddress"`
	Image       string `json:"image"`
	Authority   string `json:"authority"`
}

// LoanView is the JSON form of a loan.
type LoanView struct {
	InterestRate uint64 `json:"interestRate"`
	Lender       string `json:"lender"`
	Amount       string `json:"amount"`
	Status       string `json:"status"`
	Duration     uint64 `json:"duration"`
	Authority    string `json:"authority"`
	TokenAddress string `json:"tokenAddress"`
	Idx          uint64 `json:"idx"`
}

// TransferView is the JSON form of a settled transfer instruction.
type TransferView struct {
	Kind      string `json:"kind"`
	Token     string `json:"token"`
	Owner     string `json:"owner"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// ReceiptView is returned by every mutating route.
type ReceiptView struct {
	CallID   string          `json:"callId"`
	Action   string          `json:"action"`
	Digest   string          `json:"digest"`
	Events   []events.Record `json:"events"`
	Transfer *TransferView   `json:"transfer,omitempty"`
	Profile  *UserView       `json:"profile,omitempty"`
	Loan     *LoanView       `json:"loan,omitempty"`
	Admin    *AdminView      `json:"admin,omitempty"`
}

// BalanceView reports a token balance.
type BalanceView struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Balance string `json:"balance"`
	Symbol  string `json:"symbol,omitempty"`
	// Formatted scales Balance by Decimals, e.g. "12.5" for 12500000 base
	// units of a 6-decimal token.
	Decimals  uint8  `json:"decimals"`
	Formatted string `json:"formatted,omitempty"`
}

func formatUnits(amount *uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(types.CloneAmount(amount).ToBig(), -int32(decimals)).String()
}

// EventsView wraps a page of journaled events.
type EventsView struct {
	Events []events.Record `json:"events"`
}

func adminView(p *ledger.AdminProfile) *AdminView {
	if p == nil {
		return nil
	}
	return &AdminView{Authority: p.Authority.String(), CollateralCount: p.CollateralCount}
}

func userView(p *ledger.UserProfile) *UserView {
	if p == nil {
		return nil
	}
	view := &UserView{
		Authority:      p.Authority.String(),
		LoanCount:      p.LoanCount,
		LastLoan:       p.LastLoan,
		CanBorrow:      p.CanBorrow,
		CanDeposit:     p.CanDeposit,
		CoinsLent:      make([]LentCoinView, 0, len(p.CoinsLent)),
		CoinsDeposited: make([]DepositView, 0, len(p.CoinsDeposited)),
	}
	for _, coin := range p.CoinsLent {
		view.CoinsLent = append(view.CoinsLent, LentCoinView{
			Ticker:       coin.Ticker,
			Amount:       types.FormatAmount(coin.Amount),
			TokenAddress: coin.TokenAddress,
		})
	}
	for _, item := range p.CoinsDeposited {
		view.CoinsDeposited = append(view.CoinsDeposited, DepositView{
			Ticker:      item.Ticker,
			MintAddress: item.MintAddress,
			PoolAddress: item.PoolAddress,
			Amount:      types.FormatAmount(item.Amount),
			Authority:   item.Authority.String(),
		})
	}
	return view
}

func collateralView(c *ledger.AcceptedCollateral) CollateralView {
	return CollateralView{
		Ticker:      c.Ticker,
		MintAddress: c.MintAddress,
		PoolAddress: c.PoolAddress,
		Image:       c.Image,
		Authority:   c.Authority.String(),
	}
}

func loanView(l *ledger.Loan) *LoanView {
	if l == nil {
		return nil
	}
	return &LoanView{
		InterestRate: l.InterestRate,
		Lender:       l.Lender.String(),
		Amount:       types.FormatAmount(l.Amount),
		Status:       l.Status.String(),
		Duration:     l.Duration,
		Authority:    l.Authority.String(),
		TokenAddress: l.TokenAddress,
		Idx:          l.Idx,
	}
}

func receiptView(r *core.Receipt) *ReceiptView {
	view := &ReceiptView{
		CallID: r.CallID,
		Action: r.Action,
		Digest: r.DigestHex(),
		Events: r.Events,
	}
	if view.Events == nil {
		view.Events = []events.Record{}
	}
	if t := r.Transfer; t != nil {
		view.Transfer = &TransferView{
			Kind:      string(t.Kind),
			Token:     t.Token,
			Owner:     t.Owner.String(),
			Recipient: t.Recipient.String(),
			Amount:    types.FormatAmount(t.Amount),
		}
	}
	return view
}
