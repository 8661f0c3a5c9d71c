package types

import (
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestParseAmount(t *testing.T) {
	maxU128 := "340282366920938463463374607431768211455"
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "simple", input: "100", want: "100"},
		{name: "whitespace", input: "  42 ", want: "42"},
		{name: "zero", input: "0", want: "0"},
		{name: "max", input: maxU128, want: maxU128},
		{name: "empty", input: "", wantErr: ErrAmountEmpty},
		{name: "negative", input: "-1", wantErr: ErrAmountSyntax},
		{name: "hex", input: "0x10", wantErr: ErrAmountSyntax},
		{name: "overflow", input: "340282366920938463463374607431768211456", wantErr: ErrAmountOverflow},
		{name: "far overflow", input: strings.Repeat("9", 90), wantErr: ErrAmountOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Dec() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Dec())
			}
		})
	}
}

func TestCheckedArithmetic(t *testing.T) {
	sum, err := CheckedAdd(uint256.NewInt(60), uint256.NewInt(40))
	if err != nil || sum.Uint64() != 100 {
		t.Fatalf("unexpected sum %v err %v", sum, err)
	}
	if _, err := CheckedAdd(MustAmount("340282366920938463463374607431768211455"), uint256.NewInt(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	diff, err := CheckedSub(uint256.NewInt(100), uint256.NewInt(40))
	if err != nil || diff.Uint64() != 60 {
		t.Fatalf("unexpected diff %v err %v", diff, err)
	}
	if _, err := CheckedSub(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrAmountUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestCheckedArithmeticDoesNotAliasInputs(t *testing.T) {
	a := uint256.NewInt(5)
	b := uint256.NewInt(3)
	if _, err := CheckedSub(a, b); err != nil {
		t.Fatalf("sub: %v", err)
	}
	if a.Uint64() != 5 || b.Uint64() != 3 {
		t.Fatalf("inputs were mutated: a=%s b=%s", a.Dec(), b.Dec())
	}
}

func TestFormatAmountNil(t *testing.T) {
	if FormatAmount(nil) != "0" {
		t.Fatalf("expected nil amount to format as 0")
	}
}

func TestEventCloneIsDeep(t *testing.T) {
	evt := &Event{Type: "ledger.deposit_collateral", Attributes: map[string]string{"amount": "1"}}
	clone := evt.Clone()
	clone.Attributes["amount"] = "2"
	if evt.Attributes["amount"] != "1" {
		t.Fatalf("clone shares attribute map with original")
	}
}
