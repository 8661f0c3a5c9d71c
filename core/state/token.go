package state

import (
	"sort"

	"github.com/holiman/uint256"

	"lendledger/core/types"
	"lendledger/crypto"
	"lendledger/native/token"
)

var (
	tokenMetaPrefix      = []byte("token/meta/")
	tokenListKey         = []byte("token/list")
	tokenBalancePrefix   = []byte("token/balance/")
	tokenAllowancePrefix = []byte("token/allowance/")
)

type storedTokenMeta struct {
	Address  string
	Symbol   string
	Decimals uint8
	Supply   *uint256.Int
}

// GetTokenMeta returns the metadata registered for the token or nil.
func (m *Manager) GetTokenMeta(address string) (*token.Metadata, error) {
	var stored storedTokenMeta
	ok, err := m.KVGet(prefixedKey(tokenMetaPrefix, []byte(address)), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &token.Metadata{
		Address:  stored.Address,
		Symbol:   stored.Symbol,
		Decimals: stored.Decimals,
		Supply:   types.CloneAmount(stored.Supply),
	}, nil
}

// PutTokenMeta persists metadata and records the token in the token index.
func (m *Manager) PutTokenMeta(meta *token.Metadata) error {
	if meta == nil {
		return nil
	}
	if err := m.KVPut(prefixedKey(tokenMetaPrefix, []byte(meta.Address)), &storedTokenMeta{
		Address:  meta.Address,
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
		Supply:   types.CloneAmount(meta.Supply),
	}); err != nil {
		return err
	}
	return m.KVAppend(tokenListKey, []byte(meta.Address))
}

// ListTokens returns every registered token address in sorted order.
func (m *Manager) ListTokens() ([]string, error) {
	var raw [][]byte
	if err := m.KVGetList(tokenListKey, &raw); err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, entry := range raw {
		out[i] = string(entry)
	}
	sort.Strings(out)
	return out, nil
}

// GetBalance returns the balance of addr, zero when never credited.
func (m *Manager) GetBalance(address string, addr crypto.Address) (*uint256.Int, error) {
	balance := new(uint256.Int)
	if _, err := m.KVGet(prefixedKey(tokenBalancePrefix, []byte(address), addr.Bytes()), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// PutBalance stores the balance of addr.
func (m *Manager) PutBalance(address string, addr crypto.Address, amount *uint256.Int) error {
	return m.KVPut(prefixedKey(tokenBalancePrefix, []byte(address), addr.Bytes()), types.CloneAmount(amount))
}

// GetAllowance returns the allowance spender holds over owner's balance.
func (m *Manager) GetAllowance(address string, owner, spender crypto.Address) (*uint256.Int, error) {
	allowance := new(uint256.Int)
	key := prefixedKey(tokenAllowancePrefix, []byte(address), owner.Bytes(), spender.Bytes())
	if _, err := m.KVGet(key, allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

// PutAllowance stores the allowance spender holds over owner's balance.
func (m *Manager) PutAllowance(address string, owner, spender crypto.Address, amount *uint256.Int) error {
	key := prefixedKey(tokenAllowancePrefix, []byte(address), owner.Bytes(), spender.Bytes())
	return m.KVPut(key, types.CloneAmount(amount))
}
