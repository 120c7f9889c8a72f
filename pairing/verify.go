package pairing

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/barnettlynn/atvpair/aead"
	"github.com/barnettlynn/atvpair/credentials"
	"github.com/barnettlynn/atvpair/pairerr"
	"github.com/barnettlynn/atvpair/tlv8"
)

// VerifyClient drives the controller side of Pair-Verify against a
// previously stored HAP Credentials value. Create one per connection
// attempt; it is not safe for concurrent use.
type VerifyClient struct {
	creds credentials.Credentials

	private *ecdh.PrivateKey
	public  []byte

	shared []byte // set once V2 is processed
}

// NewVerifyClient generates an ephemeral X25519 keypair for this
// verify attempt.
func NewVerifyClient(creds credentials.Credentials) (*VerifyClient, error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &VerifyClient{creds: creds, private: key, public: key.PublicKey().Bytes()}, nil
}

// V1 builds the initial message carrying the client's ephemeral
// X25519 public key.
func (c *VerifyClient) V1() Message {
	m := tlv8.NewMap()
	m.SetByte(tlv8.TagSeqNo, SeqM1)
	m.Set(tlv8.TagPublicKey, c.public)
	return m
}

// V3 consumes the accessory's V2 (its ephemeral public key and an
// encrypted proof of its long-term identity) and returns the
// client's own encrypted proof.
func (c *VerifyClient) V3(v2 Message) (Message, error) {
	if err := checkError("V2", v2); err != nil {
		return nil, err
	}
	peerPublicBytes, ok := v2.Get(tlv8.TagPublicKey)
	if !ok {
		return nil, pairerr.New(pairerr.Protocol, "V2", "missing PublicKey")
	}
	encryptedData, ok := v2.Get(tlv8.TagEncryptedData)
	if !ok {
		return nil, pairerr.New(pairerr.Protocol, "V2", "missing EncryptedData")
	}

	peerPublic, err := ecdh.X25519().NewPublicKey(peerPublicBytes)
	if err != nil {
		return nil, pairerr.Wrap(pairerr.Protocol, "V2", err)
	}
	shared, err := c.private.ECDH(peerPublic)
	if err != nil {
		return nil, pairerr.Wrap(pairerr.Authentication, "V2", err)
	}
	c.shared = shared

	sessionKey := hkdfSHA512(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)
	cipher, err := aead.New(sessionKey, sessionKey, aead.Width12)
	if err != nil {
		return nil, err
	}
	plaintext, err := cipher.DecryptExplicit([]byte("PV-Msg02"), encryptedData, nil)
	if err != nil {
		return nil, pairerr.Wrap(pairerr.Authentication, "V2", err)
	}

	inner, err := tlv8.Decode(plaintext)
	if err != nil {
		return nil, pairerr.Wrap(pairerr.Protocol, "V2", err)
	}
	accessoryID, ok := inner.Get(tlv8.TagIdentifier)
	if !ok {
		return nil, pairerr.New(pairerr.Protocol, "V2", "missing Identifier")
	}
	signature, ok := inner.Get(tlv8.TagSignature)
	if !ok {
		return nil, pairerr.New(pairerr.Protocol, "V2", "missing Signature")
	}
	if !bytes.Equal(accessoryID, c.creds.AtvId) {
		return nil, pairerr.New(pairerr.Authentication, "V2", "accessory Identifier does not match stored AtvId")
	}

	var info []byte
	info = append(info, peerPublicBytes...)
	info = append(info, accessoryID...)
	info = append(info, c.public...)
	if !ed25519.Verify(ed25519.PublicKey(c.creds.LTPK), info, signature) {
		return nil, pairerr.New(pairerr.Authentication, "V2", "signature verification failed")
	}

	var ourInfo []byte
	ourInfo = append(ourInfo, c.public...)
	ourInfo = append(ourInfo, c.creds.ClientId...)
	ourInfo = append(ourInfo, peerPublicBytes...)
	ltsk := ed25519.NewKeyFromSeed(c.creds.LTSK)
	ourSignature := ed25519.Sign(ltsk, ourInfo)

	ourInner := tlv8.NewMap()
	ourInner.Set(tlv8.TagIdentifier, c.creds.ClientId)
	ourInner.Set(tlv8.TagSignature, ourSignature)

	ciphertext := cipher.EncryptExplicit([]byte("PV-Msg03"), tlv8.Encode(ourInner), nil)

	m := tlv8.NewMap()
	m.SetByte(tlv8.TagSeqNo, SeqM3)
	m.Set(tlv8.TagEncryptedData, ciphertext)
	return m, nil
}

// Finish consumes the accessory's V4, which carries no payload beyond
// confirming success; an Error tag here is classified by checkError
// (Authentication for an authentication failure, Pairing otherwise).
func (c *VerifyClient) Finish(v4 Message) error {
	return checkError("V4", v4)
}

// StreamKeys derives the pair of per-direction 32-byte AEAD keys for
// the secure channel, per the transport-supplied salt/info labels
// (e.g. Companion: salt="", infoOut="ClientEncrypt-main",
// infoIn="ServerEncrypt-main"; MRP: salt="MRP-Salt",
// infoOut="MRP-Write-Encryption-Key", infoIn="MRP-Read-Encryption-Key").
// Valid only after V3 has been processed successfully.
func (c *VerifyClient) StreamKeys(salt, infoOut, infoIn string) (outKey, inKey []byte) {
	outKey = hkdfSHA512(c.shared, salt, infoOut, 32)
	inKey = hkdfSHA512(c.shared, salt, infoIn, 32)
	return outKey, inKey
}
