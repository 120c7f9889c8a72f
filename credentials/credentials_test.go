package credentials

import (
	"strings"
	"testing"

	"github.com/barnettlynn/atvpair/pairerr"
)

func TestParseNull(t *testing.T) {
	c, err := Parse("")
	if err != nil {
		t.Fatalf("Parse(\"\") error: %v", err)
	}
	if c.Variant() != Null {
		t.Fatalf("Variant() = %v, want Null", c.Variant())
	}

	c2, err := Parse("null")
	if err != nil || c2.Variant() != Null {
		t.Fatalf("Parse(\"null\") = %+v, err=%v", c2, err)
	}
}

func TestParseLegacy(t *testing.T) {
	c, err := Parse("aa:bb")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if c.Variant() != Legacy {
		t.Fatalf("Variant() = %v, want Legacy", c.Variant())
	}
	if len(c.ClientId) != 1 || c.ClientId[0] != 0xaa {
		t.Fatalf("ClientId = %x", c.ClientId)
	}
	if len(c.LTSK) != 1 || c.LTSK[0] != 0xbb {
		t.Fatalf("LTSK = %x", c.LTSK)
	}
}

func TestParseHAP(t *testing.T) {
	ltpk := strings.Repeat("11", 32)
	ltsk := strings.Repeat("22", 32)
	atvID := strings.Repeat("33", 16)
	clientID := strings.Repeat("44", 16)

	c, err := Parse(strings.Join([]string{ltpk, ltsk, atvID, clientID}, ":"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if c.Variant() != HAP {
		t.Fatalf("Variant() = %v, want HAP", c.Variant())
	}
	if len(c.LTPK) != 32 || len(c.LTSK) != 32 || len(c.AtvId) != 16 || len(c.ClientId) != 16 {
		t.Fatalf("unexpected field lengths: %+v", c)
	}
}

func TestParseInvalidFieldCount(t *testing.T) {
	_, err := Parse("a:b:c")
	if err == nil {
		t.Fatal("expected InvalidCredentials error")
	}
	if !pairerr.Is(err, pairerr.InvalidCredentials) {
		t.Fatalf("expected InvalidCredentials kind, got %v", err)
	}
}

func TestParseInvalidHex(t *testing.T) {
	_, err := Parse("zz:11")
	if !pairerr.Is(err, pairerr.InvalidCredentials) {
		t.Fatalf("expected InvalidCredentials kind, got %v", err)
	}
}

func TestTransientRoundTrip(t *testing.T) {
	c := NewTransient()
	if c.Variant() != Transient {
		t.Fatalf("Variant() = %v, want Transient", c.Variant())
	}
	if c.String() != "transient" {
		t.Fatalf("String() = %q", c.String())
	}
	back, err := Parse(c.String())
	if err != nil || back.Variant() != Transient {
		t.Fatalf("round-trip failed: %+v, err=%v", back, err)
	}
}

func TestHAPStringRoundTrip(t *testing.T) {
	c := Credentials{
		LTPK:     []byte{0x01, 0x02},
		LTSK:     []byte{0x03, 0x04},
		AtvId:    []byte{0x05},
		ClientId: []byte{0x06},
	}
	s := c.String()
	back, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if back.Variant() != HAP {
		t.Fatalf("round-tripped Variant() = %v", back.Variant())
	}
	if back.String() != s {
		t.Fatalf("String() round-trip = %q, want %q", back.String(), s)
	}
}

func TestMixedPopulationRejected(t *testing.T) {
	c := Credentials{LTPK: []byte{0x01}, AtvId: []byte{0x02}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected InvalidCredentials for mixed population")
	}
}
