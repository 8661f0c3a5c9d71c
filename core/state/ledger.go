package state

import (
	"github.com/holiman/uint256"

	"lendledger/core/types"
	"lendledger/crypto"
	"lendledger/native/ledger"
)

var (
	ledgerAdminKey           = []byte("ledger/admin")
	ledgerUserPrefix         = []byte("ledger/user/")
	ledgerLoanPrefix         = []byte("ledger/loan/")
	ledgerCollateralPrefix   = []byte("ledger/collateral/")
	ledgerCollateralIndexKey = []byte("ledger/collateral-index")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return buf
}

func ledgerUserKey(addr crypto.Address) []byte {
	return prefixedKey(ledgerUserPrefix, addr.Bytes())
}

func ledgerLoanKey(addr crypto.Address) []byte {
	return prefixedKey(ledgerLoanPrefix, addr.Bytes())
}

func ledgerCollateralKey(admin crypto.Address) []byte {
	return prefixedKey(ledgerCollateralPrefix, admin.Bytes())
}

func addressFromBytes(b []byte) crypto.Address {
	if len(b) != crypto.AddressLength {
		return crypto.Address{}
	}
	return crypto.NewAddress(crypto.LendPrefix, b)
}

func addressBytes(addr crypto.Address) []byte {
	return append([]byte(nil), addr.Bytes()...)
}

type storedAdminProfile struct {
	Authority       []byte
	CollateralCount uint64
}

type storedDeposit struct {
	Ticker      string
	MintAddress string
	PoolAddress string
	Amount      *uint256.Int
	Authority   []byte
}

type storedLentCoin struct {
	Ticker       string
	Amount       *uint256.Int
	TokenAddress string
}

type storedUserProfile struct {
	Authority      []byte
	LoanCount      uint64
	LastLoan       uint64
	CanBorrow      bool
	CanDeposit     bool
	CoinsLent      []storedLentCoin
	CoinsDeposited []storedDeposit
}

type storedCollateral struct {
	Ticker      string
	MintAddress string
	PoolAddress string
	Image       string
	Authority   []byte
}

type storedLoan struct {
	InterestRate uint64
	Lender       []byte
	Amount       *uint256.Int
	Status       uint8
	Duration     uint64
	Authority    []byte
	TokenAddress string
	Idx          uint64
}

func newStoredUserProfile(p *ledger.UserProfile) *storedUserProfile {
	stored := &storedUserProfile{
		Authority:      addressBytes(p.Authority),
		LoanCount:      p.LoanCount,
		LastLoan:       p.LastLoan,
		CanBorrow:      p.CanBorrow,
		CanDeposit:     p.CanDeposit,
		CoinsLent:      make([]storedLentCoin, len(p.CoinsLent)),
		CoinsDeposited: make([]storedDeposit, len(p.CoinsDeposited)),
	}
	for i, coin := range p.CoinsLent {
		stored.CoinsLent[i] = storedLentCoin{
			Ticker:       coin.Ticker,
			Amount:       types.CloneAmount(coin.Amount),
			TokenAddress: coin.TokenAddress,
		}
	}
	for i, item := range p.CoinsDeposited {
		stored.CoinsDeposited[i] = storedDeposit{
			Ticker:      item.Ticker,
			MintAddress: item.MintAddress,
			PoolAddress: item.PoolAddress,
			Amount:      types.CloneAmount(item.Amount),
			Authority:   addressBytes(item.Authority),
		}
	}
	return stored
}

func (s *storedUserProfile) toProfile() *ledger.UserProfile {
	profile := &ledger.UserProfile{
		Authority:      addressFromBytes(s.Authority),
		LoanCount:      s.LoanCount,
		LastLoan:       s.LastLoan,
		CanBorrow:      s.CanBorrow,
		CanDeposit:     s.CanDeposit,
		CoinsLent:      make([]ledger.LentCoin, len(s.CoinsLent)),
		CoinsDeposited: make([]ledger.DepositedCollateral, len(s.CoinsDeposited)),
	}
	for i, coin := range s.CoinsLent {
		profile.CoinsLent[i] = ledger.LentCoin{
			Ticker:       coin.Ticker,
			Amount:       types.CloneAmount(coin.Amount),
			TokenAddress: coin.TokenAddress,
		}
	}
	for i, item := range s.CoinsDeposited {
		profile.CoinsDeposited[i] = ledger.DepositedCollateral{
			Ticker:      item.Ticker,
			MintAddress: item.MintAddress,
			PoolAddress: item.PoolAddress,
			Amount:      types.CloneAmount(item.Amount),
			Authority:   addressFromBytes(item.Authority),
		}
	}
	return profile
}

// GetAdminProfile returns the singleton admin profile or nil when unset.
func (m *Manager) GetAdminProfile() (*ledger.AdminProfile, error) {
	var stored storedAdminProfile
	ok, err := m.KVGet(ledgerAdminKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.AdminProfile{
		Authority:       addressFromBytes(stored.Authority),
		CollateralCount: stored.CollateralCount,
	}, nil
}

// PutAdminProfile persists the singleton admin profile.
func (m *Manager) PutAdminProfile(profile *ledger.AdminProfile) error {
	if profile == nil {
		return m.KVDelete(ledgerAdminKey)
	}
	return m.KVPut(ledgerAdminKey, &storedAdminProfile{
		Authority:       addressBytes(profile.Authority),
		CollateralCount: profile.CollateralCount,
	})
}

// GetUserProfile returns the profile registered for addr or nil.
func (m *Manager) GetUserProfile(addr crypto.Address) (*ledger.UserProfile, error) {
	var stored storedUserProfile
	ok, err := m.KVGet(ledgerUserKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toProfile(), nil
}

// PutUserProfile persists profile under its authority.
func (m *Manager) PutUserProfile(profile *ledger.UserProfile) error {
	if profile == nil {
		return nil
	}
	return m.KVPut(ledgerUserKey(profile.Authority), newStoredUserProfile(profile))
}

// GetLoan returns the loan held in addr's slot or nil.
func (m *Manager) GetLoan(addr crypto.Address) (*ledger.Loan, error) {
	var stored storedLoan
	ok, err := m.KVGet(ledgerLoanKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.Loan{
		InterestRate: stored.InterestRate,
		Lender:       addressFromBytes(stored.Lender),
		Amount:       types.CloneAmount(stored.Amount),
		Status:       ledger.LoanStatus(stored.Status),
		Duration:     stored.Duration,
		Authority:    addressFromBytes(stored.Authority),
		TokenAddress: stored.TokenAddress,
		Idx:          stored.Idx,
	}, nil
}

// PutLoan stores loan in addr's slot, replacing any previous loan.
func (m *Manager) PutLoan(addr crypto.Address, loan *ledger.Loan) error {
	if loan == nil {
		return m.KVDelete(ledgerLoanKey(addr))
	}
	return m.KVPut(ledgerLoanKey(addr), &storedLoan{
		InterestRate: loan.InterestRate,
		Lender:       addressBytes(loan.Lender),
		Amount:       types.CloneAmount(loan.Amount),
		Status:       uint8(loan.Status),
		Duration:     loan.Duration,
		Authority:    addressBytes(loan.Authority),
		TokenAddress: loan.TokenAddress,
		Idx:          loan.Idx,
	})
}

// GetAcceptedCollateral returns the registry entry in admin's slot or nil.
func (m *Manager) GetAcceptedCollateral(admin crypto.Address) (*ledger.AcceptedCollateral, error) {
	var stored storedCollateral
	ok, err := m.KVGet(ledgerCollateralKey(admin), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.AcceptedCollateral{
		Ticker:      stored.Ticker,
		MintAddress: stored.MintAddress,
		PoolAddress: stored.PoolAddress,
		Image:       stored.Image,
		Authority:   addressFromBytes(stored.Authority),
	}, nil
}

// PutAcceptedCollateral stores the entry in admin's slot and indexes the slot.
func (m *Manager) PutAcceptedCollateral(admin crypto.Address, collateral *ledger.AcceptedCollateral) error {
	if collateral == nil {
		return nil
	}
	if err := m.KVPut(ledgerCollateralKey(admin), &storedCollateral{
		Ticker:      collateral.Ticker,
		MintAddress: collateral.MintAddress,
		PoolAddress: collateral.PoolAddress,
		Image:       collateral.Image,
		Authority:   addressBytes(collateral.Authority),
	}); err != nil {
		return err
	}
	return m.KVAppend(ledgerCollateralIndexKey, addressBytes(admin))
}

// ListAcceptedCollateral returns every indexed registry entry.
func (m *Manager) ListAcceptedCollateral() ([]*ledger.AcceptedCollateral, error) {
	var slots [][]byte
	if err := m.KVGetList(ledgerCollateralIndexKey, &slots); err != nil {
		return nil, err
	}
	out := make([]*ledger.AcceptedCollateral, 0, len(slots))
	for _, slot := range slots {
		entry, err := m.GetAcceptedCollateral(addressFromBytes(slot))
		if err != nil {
			return nil, err
		}
		if entry != nil {
			out = append(out, entry)
		}
	}
	return out, nil
}
