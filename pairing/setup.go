package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/barnettlynn/atvpair/aead"
	"github.com/barnettlynn/atvpair/credentials"
	"github.com/barnettlynn/atvpair/opack"
	"github.com/barnettlynn/atvpair/pairerr"
	"github.com/barnettlynn/atvpair/srp"
	"github.com/barnettlynn/atvpair/tlv8"
)

func hkdfSHA512(secret []byte, salt, info string, length int) []byte {
	out := make([]byte, length)
	r := hkdf.New(sha512.New, secret, []byte(salt), []byte(info))
	if _, err := r.Read(out); err != nil {
		panic("pairing: hkdf read failed: " + err.Error())
	}
	return out
}

// SetupOptions configures the optional pieces of a Pair-Setup run.
type SetupOptions struct {
	// Transient requests an ephemeral HAP session (HomePods over
	// AirPlay 2) rather than a persisted pairing.
	Transient bool
	// DisplayName, if non-empty, is sent as the optional Name field
	// on M5.
	DisplayName string
}

// SetupClient drives the controller side of Pair-Setup. Create one per
// pairing attempt; it is not safe for concurrent use.
type SetupClient struct {
	opts       SetupOptions
	srpSession *srp.ClientSession

	ltpk       ed25519.PublicKey
	ltsk       ed25519.PrivateKey
	pairingID  uuid.UUID
	sessionKey []byte // SRP K, set once M5 has verified the accessory's M4
}

// NewSetupClient generates the controller's long-term Ed25519 keypair
// and pairing identifier, and prepares an SRP client session against
// the given PIN.
func NewSetupClient(pin string, opts SetupOptions) (*SetupClient, error) {
	srpClient, err := srp.NewClientSession("Pair-Setup", pin)
	if err != nil {
		return nil, err
	}
	ltpk, ltsk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SetupClient{
		opts:       opts,
		srpSession: srpClient,
		ltpk:       ltpk,
		ltsk:       ltsk,
		pairingID:  uuid.New(),
	}, nil
}

// M1 builds the initial start-SRP message.
func (c *SetupClient) M1() Message {
	m := tlv8.NewMap()
	m.SetByte(tlv8.TagMethod, MethodPairSetup)
	m.SetByte(tlv8.TagSeqNo, SeqM1)
	if c.opts.Transient {
		m.SetByte(tlv8.TagFlags, FlagTransient)
	}
	return m
}

// M3 consumes the accessory's M2 (salt, public key B) and returns the
// client's SRP proof.
func (c *SetupClient) M3(m2 Message) (Message, error) {
	if err := checkError("M2", m2); err != nil {
		return nil, err
	}
	salt, ok := m2.Get(tlv8.TagSalt)
	if !ok {
		return nil, pairerr.New(pairerr.Protocol, "M2", "missing Salt")
	}
	serverPublic, ok := m2.Get(tlv8.TagPublicKey)
	if !ok {
		return nil, pairerr.New(pairerr.Protocol, "M2", "missing PublicKey")
	}

	clientM1, err := c.srpSession.ProcessChallenge(salt, serverPublic)
	if err != nil {
		return nil, pairerr.Wrap(pairerr.Authentication, "M2", err)
	}

	m := tlv8.NewMap()
	m.Set(tlv8.TagPublicKey, c.srpSession.Public())
	m.Set(tlv8.TagProof, clientM1)
	m.SetByte(tlv8.TagSeqNo, SeqM3)
	return m, nil
}

// M5 consumes the accessory's M4 (server SRP proof) and returns the
// encrypted device-identity message.
func (c *SetupClient) M5(m4 Message) (Message, error) {
	if err := checkError("M4", m4); err != nil {
		return nil, err
	}
	serverM2, ok := m4.Get(tlv8.TagProof)
	if !ok {
		return nil, pairerr.New(pairerr.Protocol, "M4", "missing Proof")
	}
	if err := c.srpSession.VerifyServerProof(serverM2); err != nil {
		return nil, pairerr.Wrap(pairerr.Authentication, "M4", err)
	}
	c.sessionKey = c.srpSession.SessionKey()

	signSessionKey := hkdfSHA512(c.sessionKey, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info", 32)

	var deviceInfo []byte
	deviceInfo = append(deviceInfo, signSessionKey...)
	deviceInfo = append(deviceInfo, []byte(c.pairingID.String())...)
	deviceInfo = append(deviceInfo, c.ltpk...)
	signature := ed25519.Sign(c.ltsk, deviceInfo)

	inner := tlv8.NewMap()
	inner.Set(tlv8.TagIdentifier, []byte(c.pairingID.String()))
	inner.Set(tlv8.TagPublicKey, c.ltpk)
	inner.Set(tlv8.TagSignature, signature)
	if c.opts.DisplayName != "" {
		nameBytes, err := opack.Pack(map[string]interface{}{"name": c.opts.DisplayName})
		if err != nil {
			return nil, pairerr.Wrap(pairerr.Protocol, "M5", err)
		}
		inner.Set(tlv8.TagName, nameBytes)
	}

	encKey := hkdfSHA512(c.sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", 32)
	cipher, err := aead.New(encKey, encKey, aead.Width12)
	if err != nil {
		return nil, err
	}
	ciphertext := cipher.EncryptExplicit([]byte("PS-Msg05"), tlv8.Encode(inner), nil)

	m := tlv8.NewMap()
	m.SetByte(tlv8.TagSeqNo, SeqM5)
	m.Set(tlv8.TagEncryptedData, ciphertext)
	return m, nil
}

// Finish consumes the accessory's M6 (encrypted accessory identity)
// and returns HAP Credentials binding the two long-term identities.
func (c *SetupClient) Finish(m6 Message) (credentials.Credentials, error) {
	if err := checkError("M6", m6); err != nil {
		return credentials.Credentials{}, err
	}
	ciphertext, ok := m6.Get(tlv8.TagEncryptedData)
	if !ok {
		return credentials.Credentials{}, pairerr.New(pairerr.Protocol, "M6", "missing EncryptedData")
	}

	encKey := hkdfSHA512(c.sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", 32)
	cipher, err := aead.New(encKey, encKey, aead.Width12)
	if err != nil {
		return credentials.Credentials{}, err
	}
	plaintext, err := cipher.DecryptExplicit([]byte("PS-Msg06"), ciphertext, nil)
	if err != nil {
		return credentials.Credentials{}, pairerr.Wrap(pairerr.Authentication, "M6", err)
	}

	inner, err := tlv8.Decode(plaintext)
	if err != nil {
		return credentials.Credentials{}, pairerr.Wrap(pairerr.Protocol, "M6", err)
	}
	accessoryID, ok := inner.Get(tlv8.TagIdentifier)
	if !ok {
		return credentials.Credentials{}, pairerr.New(pairerr.Protocol, "M6", "missing Identifier")
	}
	accessoryLTPK, ok := inner.Get(tlv8.TagPublicKey)
	if !ok {
		return credentials.Credentials{}, pairerr.New(pairerr.Protocol, "M6", "missing PublicKey")
	}

	return credentials.Credentials{
		LTPK:     accessoryLTPK,
		LTSK:     c.ltsk.Seed(),
		AtvId:    accessoryID,
		ClientId: []byte(c.pairingID.String()),
	}, nil
}
