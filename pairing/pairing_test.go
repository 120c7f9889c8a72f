package pairing

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/barnettlynn/atvpair/aead"
	"github.com/barnettlynn/atvpair/pairerr"
	"github.com/barnettlynn/atvpair/srp"
	"github.com/barnettlynn/atvpair/tlv8"
)

// fakeAccessory is a minimal, in-process stand-in for an accessory
// implementing both Pair-Setup and Pair-Verify, used only to exercise
// the client state machines end to end.
type fakeAccessory struct {
	pin  string
	ltpk ed25519.PublicKey
	ltsk ed25519.PrivateKey

	srpServer  *srp.ServerSession
	salt       []byte
	sessionKey []byte

	identifier string
	clientLTPK []byte

	verifyPrivate *ecdh.PrivateKey
	verifyShared  []byte
}

func newFakeAccessory(t *testing.T, pin string) *fakeAccessory {
	t.Helper()
	ltpk, ltsk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return &fakeAccessory{pin: pin, ltpk: ltpk, ltsk: ltsk, identifier: uuid.New().String()}
}

func (a *fakeAccessory) handleM1(m1 Message) Message {
	salt, _ := srp.NewSalt()
	a.salt = salt
	verifier := srp.Verifier("Pair-Setup", a.pin, salt)
	server, err := srp.NewServerSession("Pair-Setup", verifier)
	if err != nil {
		panic(err)
	}
	a.srpServer = server

	m := tlv8.NewMap()
	m.Set(tlv8.TagSalt, salt)
	m.Set(tlv8.TagPublicKey, server.Public())
	m.SetByte(tlv8.TagSeqNo, SeqM2)
	return m
}

func (a *fakeAccessory) handleM3(m3 Message) Message {
	clientPublic, _ := m3.Get(tlv8.TagPublicKey)
	clientProof, _ := m3.Get(tlv8.TagProof)

	serverM2, err := a.srpServer.VerifyClientProof(a.salt, clientPublic, clientProof)
	if err != nil {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagSeqNo, SeqM4)
		m.SetByte(tlv8.TagError, byte(ErrorAuthentication))
		return m
	}
	a.sessionKey = a.srpServer.SessionKey()

	m := tlv8.NewMap()
	m.Set(tlv8.TagProof, serverM2)
	m.SetByte(tlv8.TagSeqNo, SeqM4)
	return m
}

func (a *fakeAccessory) handleM5(t *testing.T, m5 Message) Message {
	t.Helper()
	ciphertext, _ := m5.Get(tlv8.TagEncryptedData)

	encKey := hkdfSHA512(a.sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", 32)
	cipher, err := aead.New(encKey, encKey, aead.Width12)
	if err != nil {
		t.Fatalf("aead.New() error: %v", err)
	}
	plaintext, err := cipher.DecryptExplicit([]byte("PS-Msg05"), ciphertext, nil)
	if err != nil {
		t.Fatalf("decrypt M5 error: %v", err)
	}
	inner, err := tlv8.Decode(plaintext)
	if err != nil {
		t.Fatalf("decode inner M5 error: %v", err)
	}
	clientID, _ := inner.Get(tlv8.TagIdentifier)
	clientLTPK, _ := inner.Get(tlv8.TagPublicKey)
	clientSignature, _ := inner.Get(tlv8.TagSignature)
	a.clientLTPK = clientLTPK

	signSessionKey := hkdfSHA512(a.sessionKey, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info", 32)
	var deviceInfo []byte
	deviceInfo = append(deviceInfo, signSessionKey...)
	deviceInfo = append(deviceInfo, clientID...)
	deviceInfo = append(deviceInfo, clientLTPK...)
	if !ed25519.Verify(ed25519.PublicKey(clientLTPK), deviceInfo, clientSignature) {
		t.Fatal("client M5 signature failed to verify")
	}

	accessoryInner := tlv8.NewMap()
	accessoryInner.Set(tlv8.TagIdentifier, []byte(a.identifier))
	accessoryInner.Set(tlv8.TagPublicKey, a.ltpk)

	ct := cipher.EncryptExplicit([]byte("PS-Msg06"), tlv8.Encode(accessoryInner), nil)

	m := tlv8.NewMap()
	m.SetByte(tlv8.TagSeqNo, SeqM6)
	m.Set(tlv8.TagEncryptedData, ct)
	return m
}

func (a *fakeAccessory) handleV1(t *testing.T, v1 Message) Message {
	t.Helper()
	clientPublicBytes, _ := v1.Get(tlv8.TagPublicKey)
	clientPublic, err := ecdh.X25519().NewPublicKey(clientPublicBytes)
	if err != nil {
		t.Fatalf("NewPublicKey() error: %v", err)
	}

	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	a.verifyPrivate = key

	shared, err := key.ECDH(clientPublic)
	if err != nil {
		t.Fatalf("ECDH() error: %v", err)
	}
	a.verifyShared = shared

	ourPublic := key.PublicKey().Bytes()
	var info []byte
	info = append(info, ourPublic...)
	info = append(info, []byte(a.identifier)...)
	info = append(info, clientPublicBytes...)
	signature := ed25519.Sign(a.ltsk, info)

	inner := tlv8.NewMap()
	inner.Set(tlv8.TagIdentifier, []byte(a.identifier))
	inner.Set(tlv8.TagSignature, signature)

	sessionKey := hkdfSHA512(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)
	cipher, err := aead.New(sessionKey, sessionKey, aead.Width12)
	if err != nil {
		t.Fatalf("aead.New() error: %v", err)
	}
	ct := cipher.EncryptExplicit([]byte("PV-Msg02"), tlv8.Encode(inner), nil)

	m := tlv8.NewMap()
	m.SetByte(tlv8.TagSeqNo, SeqM2)
	m.Set(tlv8.TagPublicKey, ourPublic)
	m.Set(tlv8.TagEncryptedData, ct)
	return m
}

func (a *fakeAccessory) handleV3(t *testing.T, v3 Message, clientLTPK []byte, clientPublicBytes []byte, ourPublicBytes []byte) Message {
	t.Helper()
	ciphertext, _ := v3.Get(tlv8.TagEncryptedData)
	sessionKey := hkdfSHA512(a.verifyShared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)
	cipher, err := aead.New(sessionKey, sessionKey, aead.Width12)
	if err != nil {
		t.Fatalf("aead.New() error: %v", err)
	}
	plaintext, err := cipher.DecryptExplicit([]byte("PV-Msg03"), ciphertext, nil)
	if err != nil {
		t.Fatalf("decrypt V3 error: %v", err)
	}
	inner, err := tlv8.Decode(plaintext)
	if err != nil {
		t.Fatalf("decode inner V3 error: %v", err)
	}
	clientID, _ := inner.Get(tlv8.TagIdentifier)
	signature, _ := inner.Get(tlv8.TagSignature)

	var info []byte
	info = append(info, clientPublicBytes...)
	info = append(info, clientID...)
	info = append(info, ourPublicBytes...)
	if !ed25519.Verify(ed25519.PublicKey(clientLTPK), info, signature) {
		t.Fatal("client V3 signature failed to verify")
	}

	return tlv8.NewMap()
}

func TestFullPairSetupAgainstSimulatedAccessory(t *testing.T) {
	const pin = "1111"
	accessory := newFakeAccessory(t, pin)
	client, err := NewSetupClient(pin, SetupOptions{})
	if err != nil {
		t.Fatalf("NewSetupClient() error: %v", err)
	}

	m2 := accessory.handleM1(client.M1())
	m3, err := client.M3(m2)
	if err != nil {
		t.Fatalf("M3() error: %v", err)
	}
	m4 := accessory.handleM3(m3)
	m5, err := client.M5(m4)
	if err != nil {
		t.Fatalf("M5() error: %v", err)
	}
	m6 := accessory.handleM5(t, m5)
	creds, err := client.Finish(m6)
	if err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	if !bytes.Equal(creds.AtvId, []byte(accessory.identifier)) {
		t.Fatalf("AtvId = %q, want %q", creds.AtvId, accessory.identifier)
	}
	if !bytes.Equal(creds.LTPK, accessory.ltpk) {
		t.Fatal("Credentials.LTPK does not match accessory's LTPK")
	}
	if !bytes.Equal(accessory.clientLTPK, client.ltpk) {
		t.Fatal("accessory did not see the controller's real LTPK")
	}
}

func TestPairSetupWrongPINFailsAuthentication(t *testing.T) {
	accessory := newFakeAccessory(t, "1111")
	client, err := NewSetupClient("9999", SetupOptions{})
	if err != nil {
		t.Fatalf("NewSetupClient() error: %v", err)
	}

	m2 := accessory.handleM1(client.M1())
	m3, err := client.M3(m2)
	if err != nil {
		t.Fatalf("M3() error: %v", err)
	}
	m4 := accessory.handleM3(m3)
	_, err = client.M5(m4)
	if err == nil {
		t.Fatal("expected Authentication error for wrong PIN")
	}
	if !pairerr.Is(err, pairerr.Authentication) {
		t.Fatalf("expected Authentication kind, got %v", err)
	}
}

func TestFullPairVerifyAgainstSimulatedAccessory(t *testing.T) {
	const pin = "1111"
	accessory := newFakeAccessory(t, pin)
	setupClient, err := NewSetupClient(pin, SetupOptions{})
	if err != nil {
		t.Fatalf("NewSetupClient() error: %v", err)
	}
	m2 := accessory.handleM1(setupClient.M1())
	m3, _ := setupClient.M3(m2)
	m4 := accessory.handleM3(m3)
	m5, _ := setupClient.M5(m4)
	m6 := accessory.handleM5(t, m5)
	creds, err := setupClient.Finish(m6)
	if err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	verifyClient, err := NewVerifyClient(creds)
	if err != nil {
		t.Fatalf("NewVerifyClient() error: %v", err)
	}
	v1 := verifyClient.V1()
	clientPublicBytes, _ := v1.Get(tlv8.TagPublicKey)

	v2 := accessory.handleV1(t, v1)
	ourPublicBytes, _ := v2.Get(tlv8.TagPublicKey)

	v3, err := verifyClient.V3(v2)
	if err != nil {
		t.Fatalf("V3() error: %v", err)
	}

	v4 := accessory.handleV3(t, v3, accessory.clientLTPK, clientPublicBytes, ourPublicBytes)
	if err := verifyClient.Finish(v4); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	outKey, inKey := verifyClient.StreamKeys("", "ClientEncrypt-main", "ServerEncrypt-main")
	if len(outKey) != 32 || len(inKey) != 32 {
		t.Fatalf("StreamKeys() lengths = %d/%d, want 32/32", len(outKey), len(inKey))
	}
	if bytes.Equal(outKey, inKey) {
		t.Fatal("output and input stream keys must differ")
	}
}

func TestPairVerifyTamperedLTPKFailsAuthentication(t *testing.T) {
	const pin = "1111"
	accessory := newFakeAccessory(t, pin)
	setupClient, _ := NewSetupClient(pin, SetupOptions{})
	m2 := accessory.handleM1(setupClient.M1())
	m3, _ := setupClient.M3(m2)
	m4 := accessory.handleM3(m3)
	m5, _ := setupClient.M5(m4)
	m6 := accessory.handleM5(t, m5)
	creds, err := setupClient.Finish(m6)
	if err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	tampered := creds
	tampered.LTPK = append([]byte(nil), creds.LTPK...)
	tampered.LTPK[0] ^= 0xFF

	verifyClient, err := NewVerifyClient(tampered)
	if err != nil {
		t.Fatalf("NewVerifyClient() error: %v", err)
	}
	v1 := verifyClient.V1()
	v2 := accessory.handleV1(t, v1)

	_, err = verifyClient.V3(v2)
	if err == nil {
		t.Fatal("expected Authentication error for tampered LTPK")
	}
	if !pairerr.Is(err, pairerr.Authentication) {
		t.Fatalf("expected Authentication kind, got %v", err)
	}
}
