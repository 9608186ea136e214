package money

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestFromDollars(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		cents   int64
	}{
		{"10", false, 1000},
		{"10.5", false, 1050},
		{"10.55", false, 1055},
		{"0.01", false, 1},
		{"0", false, 0},
		{"-1", true, 0},
		{"10.555", true, 0},
		{"abc", true, 0},
	}
	for _, c := range cases {
		got, err := FromDollars(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("FromDollars(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("FromDollars(%q): unexpected error %v", c.in, err)
		}
		if !got.Equals(FromCents(c.cents)) {
			t.Errorf("FromDollars(%q) = %v, want %d cents", c.in, got, c.cents)
		}
	}
}

func TestAddSubtractRoundTrip(t *testing.T) {
	a := FromCents(500)
	b := FromCents(125)
	if !a.Add(b).Subtract(b).Equals(a) {
		t.Fatal("add then subtract did not round-trip")
	}
}

func TestSubtractPastZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic subtracting past zero")
		}
	}()
	FromCents(1).Subtract(FromCents(2))
}

func TestCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on currency mismatch")
		}
	}()
	FromCents(1).Add(FromSatoshis(1))
}

func TestDisplayString(t *testing.T) {
	if got := FromCents(150).String(); got != "$1.50" {
		t.Errorf("got %q", got)
	}
	if got := FromCents(5).String(); got != "$0.05" {
		t.Errorf("got %q", got)
	}
	if got := FromSatoshis(200).String(); got != "200 sats" {
		t.Errorf("got %q", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	m := FromSatoshis(12345)
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back Money
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Equals(m) || back.Currency() != SATS {
		t.Errorf("round trip mismatch: %v", back)
	}
}

func TestCeilDivCents(t *testing.T) {
	cases := []struct {
		atomic int64
		want   int64
	}{
		{0, 0},
		{1, 1},
		{9999, 1},
		{10000, 1},
		{10001, 2},
		{20000, 2},
	}
	for _, c := range cases {
		got := CeilDivCents(big.NewInt(c.atomic), 10000)
		if !got.Equals(FromCents(c.want)) {
			t.Errorf("CeilDivCents(%d) = %v, want %d cents", c.atomic, got, c.want)
		}
	}
}
