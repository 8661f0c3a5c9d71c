package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of a bech32 identity.
type AddressPrefix string

const (
	// LendPrefix is the prefix carried by every ledger identity.
	LendPrefix AddressPrefix = "lend"
)

// AddressLength is the raw byte length of an identity.
const AddressLength = 20

var (
	ErrEmptyAddress     = errors.New("crypto: address must not be empty")
	ErrAddressPrefix    = errors.New("crypto: unexpected address prefix")
	ErrAddressLength    = errors.New("crypto: address must be 20 bytes long")
	errZeroAddressBytes = errors.New("crypto: address bytes are all zero")
)

// Address represents a 20-byte ledger identity with a human-readable prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

// Equal compares two addresses by prefix and raw bytes.
func (a Address) Equal(other Address) bool {
	return a.prefix == other.prefix && string(a.bytes) == string(other.bytes)
}

// MarshalText encodes the address as its bech32 string.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 identity produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return Address{}, ErrEmptyAddress
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, ErrAddressLength
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseIdentity decodes a bech32 string and requires the ledger prefix.
func ParseIdentity(addrStr string) (Address, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return Address{}, err
	}
	if addr.Prefix() != LendPrefix {
		return Address{}, fmt.Errorf("%w: %s", ErrAddressPrefix, addr.Prefix())
	}
	allZero := true
	for _, b := range addr.Bytes() {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return Address{}, errZeroAddressBytes
	}
	return addr, nil
}

// ModuleAddress derives the deterministic account owned by a named module,
// e.g. the custody account that holds deposited collateral.
func ModuleAddress(name string) Address {
	digest := crypto.Keccak256([]byte("module/" + strings.TrimSpace(name)))
	return NewAddress(LendPrefix, digest[len(digest)-AddressLength:])
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(LendPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
