package aead

import (
	"bytes"
	"testing"
)

func key(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestRoundTrip8ByteNonce(t *testing.T) {
	k := key(0x6b)
	enc, err := New(k, k, Width8)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	dec, err := New(k, k, Width8)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ct := enc.Encrypt([]byte("test"), nil)
	pt, err := dec.Decrypt(ct, nil)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(pt, []byte("test")) {
		t.Fatalf("Decrypt() = %q, want %q", pt, "test")
	}
}

func TestRoundTrip12ByteNonce(t *testing.T) {
	outKey, inKey := key(0x01), key(0x02)
	client, err := New(outKey, inKey, Width12)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	server, err := New(inKey, outKey, Width12)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ct := client.Encrypt([]byte("hello accessory"), []byte("aad"))
	pt, err := server.Decrypt(ct, []byte("aad"))
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(pt, []byte("hello accessory")) {
		t.Fatalf("Decrypt() = %q", pt)
	}
}

func TestCounterAdvancesPerCall(t *testing.T) {
	k := key(0x03)
	enc, _ := New(k, k, Width12)
	dec, _ := New(k, k, Width12)

	for i := 0; i < 3; i++ {
		ct := enc.Encrypt([]byte("frame"), nil)
		if _, err := dec.Decrypt(ct, nil); err != nil {
			t.Fatalf("frame %d: Decrypt() error: %v", i, err)
		}
	}
	if enc.outCtr != 3 || dec.inCtr != 3 {
		t.Fatalf("counters = out:%d in:%d, want 3/3", enc.outCtr, dec.inCtr)
	}
}

func TestTamperedCiphertextFailsAuthentication(t *testing.T) {
	k := key(0x04)
	enc, _ := New(k, k, Width12)
	dec, _ := New(k, k, Width12)

	ct := enc.Encrypt([]byte("payload"), nil)
	ct[0] ^= 0xFF

	_, err := dec.Decrypt(ct, nil)
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	if _, ok := err.(*AuthenticationError); !ok {
		t.Fatalf("expected *AuthenticationError, got %T", err)
	}
}

func TestExplicitNonceDoesNotAdvanceCounter(t *testing.T) {
	k := key(0x05)
	enc, _ := New(k, k, Width12)
	dec, _ := New(k, k, Width12)

	ct := enc.EncryptExplicit([]byte("PS-Msg05"), []byte("setup"), nil)
	if enc.outCtr != 0 {
		t.Fatalf("outCtr = %d, want 0 after explicit-nonce encrypt", enc.outCtr)
	}
	pt, err := dec.DecryptExplicit([]byte("PS-Msg05"), ct, nil)
	if err != nil {
		t.Fatalf("DecryptExplicit() error: %v", err)
	}
	if !bytes.Equal(pt, []byte("setup")) {
		t.Fatalf("DecryptExplicit() = %q", pt)
	}
	if dec.inCtr != 0 {
		t.Fatalf("inCtr = %d, want 0 after explicit-nonce decrypt", dec.inCtr)
	}
}

func TestWrongAADFailsAuthentication(t *testing.T) {
	k := key(0x06)
	enc, _ := New(k, k, Width12)
	dec, _ := New(k, k, Width12)

	ct := enc.Encrypt([]byte("framed"), []byte("header-a"))
	_, err := dec.Decrypt(ct, []byte("header-b"))
	if err == nil {
		t.Fatal("expected authentication failure on mismatched AAD")
	}
}
