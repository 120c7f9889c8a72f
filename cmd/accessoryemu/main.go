// Command accessoryemu simulates the accessory side of Pair-Setup and
// Pair-Verify over the MRP carrier: one TCP listener, one connection
// at a time, answering CryptoPairingMessage-wrapped TLV exactly as
// pairctl's MRP transport expects. It exists so the client-side
// library can be exercised end to end without a real Apple TV.
package main

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/barnettlynn/atvpair/aead"
	"github.com/barnettlynn/atvpair/pairing"
	"github.com/barnettlynn/atvpair/securechannel"
	"github.com/barnettlynn/atvpair/srp"
	"github.com/barnettlynn/atvpair/tlv8"
)

func main() {
	listen := flag.String("listen", ":7000", "address to accept MRP connections on")
	pin := flag.String("pin", "1111", "SRP setup PIN")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ltpk, ltsk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate accessory identity: %v\n", err)
		os.Exit(1)
	}
	acc := &accessory{pin: *pin, identifier: uuid.New().String(), ltpk: ltpk, ltsk: ltsk}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	slog.Info("accessoryemu listening", "address", ln.Addr(), "identifier", acc.identifier)

	for {
		conn, err := ln.Accept()
		if err != nil {
			slog.Error("accept failed", "error", err)
			continue
		}
		slog.Info("connection accepted", "remote", conn.RemoteAddr())
		handleConnection(acc, conn)
	}
}

func hkdfSHA512(secret []byte, salt, info string, length int) []byte {
	out := make([]byte, length)
	r := hkdf.New(sha512.New, secret, []byte(salt), []byte(info))
	if _, err := r.Read(out); err != nil {
		panic("accessoryemu: hkdf read failed: " + err.Error())
	}
	return out
}

// accessory holds the long-term identity and per-pairing state for
// one simulated device. The same value serves every connection: a
// fresh srpServer/salt is set at each Pair-Setup M1 (sessionKey at M3)
// and a fresh verify key pair and shared secret at each Pair-Verify
// V1; accessoryemu serves one pairing at a time, matching spec.md §5's
// "at most one pairing in progress per transport connection".
type accessory struct {
	pin  string
	ltpk ed25519.PublicKey
	ltsk ed25519.PrivateKey

	identifier string

	srpServer  *srp.ServerSession
	salt       []byte
	sessionKey []byte
	clientLTPK []byte

	verifyPrivate      *ecdh.PrivateKey
	verifyShared       []byte
	verifyClientPublic []byte
}

func handleConnection(acc *accessory, conn net.Conn) {
	defer conn.Close()
	channel := securechannel.NewMRPChannel()
	buf := make([]byte, 4096)

	for {
		body, ok, err := channel.Next()
		if err != nil {
			slog.Error("frame error", "error", err)
			return
		}
		if !ok {
			n, err := conn.Read(buf)
			if err != nil {
				slog.Info("connection closed", "remote", conn.RemoteAddr())
				return
			}
			channel.Feed(buf[:n])
			continue
		}

		pairingData, _, err := decodeCryptoPairingMessage(body)
		if err != nil {
			slog.Error("malformed CryptoPairingMessage", "error", err)
			return
		}
		msg, err := tlv8.Decode(pairingData)
		if err != nil {
			slog.Error("malformed TLV", "error", err)
			return
		}

		reply, done := acc.handle(msg)
		out := encodeCryptoPairingMessage(tlv8.Encode(reply), false)
		if _, err := conn.Write(channel.Encrypt(out)); err != nil {
			slog.Error("write failed", "error", err)
			return
		}
		if done {
			slog.Info("pairing complete", "remote", conn.RemoteAddr())
		}
	}
}

// handle dispatches msg by its SeqNo and returns the reply plus
// whether this was the pairing's terminal step.
//
// Pair-Verify's V1/V3 reuse Pair-Setup's SeqM1/SeqM3 tag values at the
// wire level, so SeqNo alone doesn't pick the handler: M1 carries a
// Method tag that V1 never sets, and M3 carries a Proof tag that V3
// never sets (V3 carries only EncryptedData).
func (a *accessory) handle(msg pairing.Message) (pairing.Message, bool) {
	seq, _ := msg.GetByte(tlv8.TagSeqNo)
	switch seq {
	case pairing.SeqM1:
		if _, hasMethod := msg.Get(tlv8.TagMethod); hasMethod {
			return a.handleM1(msg), false
		}
		return a.handleV1(msg), false
	case pairing.SeqM3:
		if _, hasProof := msg.Get(tlv8.TagProof); hasProof {
			return a.handleM3(msg), false
		}
		return a.handleV3(msg), true
	case pairing.SeqM5:
		return a.handleM5(msg), true
	default:
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagError, byte(pairing.ErrorUnknown))
		return m, true
	}
}

func (a *accessory) handleM1(m1 pairing.Message) pairing.Message {
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
	m.SetByte(tlv8.TagSeqNo, pairing.SeqM2)
	return m
}

func (a *accessory) handleM3(m3 pairing.Message) pairing.Message {
	clientPublic, _ := m3.Get(tlv8.TagPublicKey)
	clientProof, _ := m3.Get(tlv8.TagProof)

	serverM2, err := a.srpServer.VerifyClientProof(a.salt, clientPublic, clientProof)
	if err != nil {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagSeqNo, pairing.SeqM4)
		m.SetByte(tlv8.TagError, byte(pairing.ErrorAuthentication))
		return m
	}
	a.sessionKey = a.srpServer.SessionKey()

	m := tlv8.NewMap()
	m.Set(tlv8.TagProof, serverM2)
	m.SetByte(tlv8.TagSeqNo, pairing.SeqM4)
	return m
}

func (a *accessory) handleM5(m5 pairing.Message) pairing.Message {
	ciphertext, _ := m5.Get(tlv8.TagEncryptedData)

	encKey := hkdfSHA512(a.sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", 32)
	cipher, err := aead.New(encKey, encKey, aead.Width12)
	if err != nil {
		panic(err)
	}
	plaintext, err := cipher.DecryptExplicit([]byte("PS-Msg05"), ciphertext, nil)
	if err != nil {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagSeqNo, pairing.SeqM6)
		m.SetByte(tlv8.TagError, byte(pairing.ErrorAuthentication))
		return m
	}
	inner, err := tlv8.Decode(plaintext)
	if err != nil {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagSeqNo, pairing.SeqM6)
		m.SetByte(tlv8.TagError, byte(pairing.ErrorUnknown))
		return m
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
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagSeqNo, pairing.SeqM6)
		m.SetByte(tlv8.TagError, byte(pairing.ErrorAuthentication))
		return m
	}

	accessoryInner := tlv8.NewMap()
	accessoryInner.Set(tlv8.TagIdentifier, []byte(a.identifier))
	accessoryInner.Set(tlv8.TagPublicKey, a.ltpk)
	ct := cipher.EncryptExplicit([]byte("PS-Msg06"), tlv8.Encode(accessoryInner), nil)

	m := tlv8.NewMap()
	m.SetByte(tlv8.TagSeqNo, pairing.SeqM6)
	m.Set(tlv8.TagEncryptedData, ct)
	return m
}

func (a *accessory) handleV1(v1 pairing.Message) pairing.Message {
	clientPublicBytes, _ := v1.Get(tlv8.TagPublicKey)
	clientPublic, err := ecdh.X25519().NewPublicKey(clientPublicBytes)
	if err != nil {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagError, byte(pairing.ErrorAuthentication))
		return m
	}

	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	a.verifyPrivate = key

	shared, err := key.ECDH(clientPublic)
	if err != nil {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagError, byte(pairing.ErrorAuthentication))
		return m
	}
	a.verifyShared = shared
	a.verifyClientPublic = clientPublicBytes

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
		panic(err)
	}
	ct := cipher.EncryptExplicit([]byte("PV-Msg02"), tlv8.Encode(inner), nil)

	m := tlv8.NewMap()
	m.SetByte(tlv8.TagSeqNo, pairing.SeqM2)
	m.Set(tlv8.TagPublicKey, ourPublic)
	m.Set(tlv8.TagEncryptedData, ct)
	return m
}

func (a *accessory) handleV3(v3 pairing.Message) pairing.Message {
	ciphertext, _ := v3.Get(tlv8.TagEncryptedData)
	sessionKey := hkdfSHA512(a.verifyShared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)
	cipher, err := aead.New(sessionKey, sessionKey, aead.Width12)
	if err != nil {
		panic(err)
	}
	plaintext, err := cipher.DecryptExplicit([]byte("PV-Msg03"), ciphertext, nil)
	if err != nil {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagError, byte(pairing.ErrorAuthentication))
		return m
	}
	inner, err := tlv8.Decode(plaintext)
	if err != nil {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagError, byte(pairing.ErrorUnknown))
		return m
	}
	clientID, _ := inner.Get(tlv8.TagIdentifier)
	signature, _ := inner.Get(tlv8.TagSignature)

	var info []byte
	info = append(info, a.verifyClientPublic...)
	info = append(info, clientID...)
	info = append(info, a.verifyPrivate.PublicKey().Bytes()...)
	if !ed25519.Verify(ed25519.PublicKey(a.clientLTPK), info, signature) {
		m := tlv8.NewMap()
		m.SetByte(tlv8.TagError, byte(pairing.ErrorAuthentication))
		return m
	}
	return tlv8.NewMap()
}

const (
	cpmFieldPairingData protowire.Number = 1
	cpmFieldIsRetrying  protowire.Number = 2
)

func encodeCryptoPairingMessage(pairingData []byte, isRetrying bool) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, cpmFieldPairingData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, pairingData)
	if isRetrying {
		buf = protowire.AppendTag(buf, cpmFieldIsRetrying, protowire.VarintType)
		buf = protowire.AppendVarint(buf, 1)
	}
	return buf
}

func decodeCryptoPairingMessage(data []byte) (pairingData []byte, isRetrying bool, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, false, &securechannel.ProtocolError{Reason: "malformed CryptoPairingMessage tag"}
		}
		data = data[n:]
		switch {
		case num == cpmFieldPairingData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, false, &securechannel.ProtocolError{Reason: "malformed CryptoPairingMessage pairingData"}
			}
			pairingData = append([]byte(nil), v...)
			data = data[n:]
		case num == cpmFieldIsRetrying && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, false, &securechannel.ProtocolError{Reason: "malformed CryptoPairingMessage isRetrying"}
			}
			isRetrying = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, false, &securechannel.ProtocolError{Reason: "malformed CryptoPairingMessage field"}
			}
			data = data[n:]
		}
	}
	return pairingData, isRetrying, nil
}
