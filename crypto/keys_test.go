package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, AddressLength)
	addr := NewAddress(LendPrefix, raw)

	encoded := addr.String()
	if encoded[:5] != "lend1" {
		t.Fatalf("expected lend1 prefix, got %s", encoded)
	}
	decoded, err := ParseIdentity(encoded)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
}

func TestParseIdentityRejectsForeignPrefix(t *testing.T) {
	other := NewAddress(AddressPrefix("wasm"), bytes.Repeat([]byte{0x01}, AddressLength))
	if _, err := ParseIdentity(other.String()); !errors.Is(err, ErrAddressPrefix) {
		t.Fatalf("expected ErrAddressPrefix, got %v", err)
	}
}

func TestParseIdentityRejectsGarbage(t *testing.T) {
	cases := []string{"", "   ", "lend1notbech32", "hello"}
	for _, input := range cases {
		if _, err := ParseIdentity(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestParseIdentityRejectsZeroBytes(t *testing.T) {
	zero := NewAddress(LendPrefix, make([]byte, AddressLength))
	if _, err := ParseIdentity(zero.String()); err == nil {
		t.Fatalf("expected zero address to be rejected")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("custody")
	b := ModuleAddress(" custody ")
	if !a.Equal(b) {
		t.Fatalf("expected module address to ignore surrounding whitespace")
	}
	if a.Equal(ModuleAddress("treasury")) {
		t.Fatalf("expected distinct module names to yield distinct addresses")
	}
}

func TestAddressTextMarshalling(t *testing.T) {
	addr := NewAddress(LendPrefix, bytes.Repeat([]byte{0x07}, AddressLength))
	text, err := addr.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Address
	if err := out.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Equal(addr) {
		t.Fatalf("expected %s, got %s", addr, out)
	}
}

func TestGeneratedKeyAddressUsesLedgerPrefix(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.Prefix() != LendPrefix {
		t.Fatalf("unexpected prefix %s", addr.Prefix())
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if !restored.PubKey().Address().Equal(addr) {
		t.Fatalf("restored key derived a different address")
	}
}
