// Package srp implements the SRP-6a augmented password-authenticated
// key exchange fixed to SHA-512 and the RFC 5054 3072-bit group, as
// used by Pair-Setup.
package srp

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"

	"github.com/barnettlynn/atvpair/bigint"
)

const saltLen = 16

// AuthenticationError reports a rejected SRP parameter or a failed
// proof check. Every rejection path raises the same error type so a
// peer cannot distinguish which step failed.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return "srp: " + e.Reason }

func pad(n *big.Int) []byte { return bigint.PadToLen(n, NLen) }

// multiplier computes k = H(N || pad(g)).
func multiplier() *big.Int {
	return bigint.SHA512Int(N.Bytes(), pad(G))
}

func computeU(A, B *big.Int) *big.Int {
	return bigint.SHA512Int(pad(A), pad(B))
}

func computeX(salt []byte, username, password string) *big.Int {
	inner := bigint.SHA512([]byte(username + ":" + password))
	return bigint.SHA512Int(salt, inner)
}

// computeM1 = H( H(N) XOR H(g) || H(username) || salt || A || B || K )
func computeM1(username string, salt, A, B, K []byte) []byte {
	hn := bigint.SHA512(N.Bytes())
	hg := bigint.SHA512(pad(G))
	xored := make([]byte, len(hn))
	for i := range hn {
		xored[i] = hn[i] ^ hg[i]
	}
	hu := bigint.SHA512([]byte(username))
	return bigint.SHA512(xored, hu, salt, A, B, K)
}

// computeM2 = H( A || M1 || K )
func computeM2(A, M1, K []byte) []byte {
	return bigint.SHA512(A, M1, K)
}

func randomExponent() (*big.Int, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return bigint.FromBytes(buf), nil
}

// Verifier computes v = g^x mod N for a stored username/password,
// used by account provisioning to produce the value a server stores
// instead of the plaintext password.
func Verifier(username, password string, salt []byte) *big.Int {
	x := computeX(salt, username, password)
	return bigint.ModExp(G, x, N)
}

// ClientSession drives the client (controller) side of one SRP-6a
// exchange. Each session is single-use: create a new ClientSession per
// pairing attempt.
type ClientSession struct {
	username string
	password string
	a        *big.Int
	A        *big.Int

	K  []byte
	M1 []byte
}

// NewClientSession generates the client's ephemeral private key a and
// computes the public value A = g^a mod N.
func NewClientSession(username, password string) (*ClientSession, error) {
	a, err := randomExponent()
	if err != nil {
		return nil, err
	}
	return &ClientSession{
		username: username,
		password: password,
		a:        a,
		A:        bigint.ModExp(G, a, N),
	}, nil
}

// Public returns the client's public value A, padded to |N| bytes.
func (c *ClientSession) Public() []byte { return pad(c.A) }

// ProcessChallenge consumes the server's (salt, B) and computes the
// session key and client proof M1. It rejects B ≡ 0 (mod N), per the
// SRP-6a safeguard against a server proving knowledge of the password
// without actually knowing it.
func (c *ClientSession) ProcessChallenge(salt, serverPublic []byte) (m1 []byte, err error) {
	B := bigint.FromBytes(serverPublic)
	if new(big.Int).Mod(B, N).Sign() == 0 {
		return nil, &AuthenticationError{Reason: "server public value B is degenerate"}
	}

	x := computeX(salt, c.username, c.password)
	u := computeU(c.A, B)
	if u.Sign() == 0 {
		return nil, &AuthenticationError{Reason: "scrambling parameter u is zero"}
	}

	k := multiplier()
	gx := bigint.ModExp(G, x, N)
	kgx := new(big.Int).Mul(k, gx)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, N)

	ux := new(big.Int).Mul(u, x)
	exp := new(big.Int).Add(c.a, ux)

	S := bigint.ModExp(base, exp, N)
	c.K = bigint.SHA512(pad(S))
	c.M1 = computeM1(c.username, salt, pad(c.A), pad(B), c.K)
	return c.M1, nil
}

// VerifyServerProof checks the accessory's M2 against the session's
// recorded A, M1 and K.
func (c *ClientSession) VerifyServerProof(serverM2 []byte) error {
	want := computeM2(pad(c.A), c.M1, c.K)
	if subtle.ConstantTimeCompare(want, serverM2) != 1 {
		return &AuthenticationError{Reason: "server proof verification failed"}
	}
	return nil
}

// SessionKey returns K, valid only after ProcessChallenge succeeds.
func (c *ClientSession) SessionKey() []byte { return c.K }

// ServerSession drives the accessory side of one SRP-6a exchange
// against a stored verifier v.
type ServerSession struct {
	username string
	v        *big.Int
	b        *big.Int
	B        *big.Int

	K []byte
}

// NewServerSession generates the server's ephemeral private key b and
// computes B = (k*v + g^b) mod N.
func NewServerSession(username string, verifier *big.Int) (*ServerSession, error) {
	b, err := randomExponent()
	if err != nil {
		return nil, err
	}
	k := multiplier()
	kv := new(big.Int).Mul(k, verifier)
	gb := bigint.ModExp(G, b, N)
	B := new(big.Int).Add(kv, gb)
	B.Mod(B, N)

	return &ServerSession{username: username, v: verifier, b: b, B: B}, nil
}

// Public returns the server's public value B, padded to |N| bytes.
func (s *ServerSession) Public() []byte { return pad(s.B) }

// VerifyClientProof consumes the client's public value A and proof
// M1, computes the shared secret and checks M1, returning the
// accessory's own proof M2 on success.
func (s *ServerSession) VerifyClientProof(salt, clientPublic, clientM1 []byte) (m2 []byte, err error) {
	A := bigint.FromBytes(clientPublic)
	if new(big.Int).Mod(A, N).Sign() == 0 {
		return nil, &AuthenticationError{Reason: "client public value A is degenerate"}
	}

	u := computeU(A, s.B)
	if u.Sign() == 0 {
		return nil, &AuthenticationError{Reason: "scrambling parameter u is zero"}
	}

	vu := bigint.ModExp(s.v, u, N)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, N)
	S := bigint.ModExp(base, s.b, N)
	s.K = bigint.SHA512(pad(S))

	want := computeM1(s.username, salt, pad(A), pad(s.B), s.K)
	if subtle.ConstantTimeCompare(want, clientM1) != 1 {
		return nil, &AuthenticationError{Reason: "client proof verification failed"}
	}
	return computeM2(pad(A), clientM1, s.K), nil
}

// SessionKey returns K, valid only after VerifyClientProof succeeds.
func (s *ServerSession) SessionKey() []byte { return s.K }

// NewSalt generates a fresh 16-byte SRP salt for account provisioning.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	_, err := rand.Read(salt)
	return salt, err
}
