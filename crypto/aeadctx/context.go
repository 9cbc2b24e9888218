// Package aeadctx implements the AEAD context (C2) and the per-direction
// nonce generator (C3): a 256-bit-keyed ChaCha20-Poly1305 sealer/opener
// bound to a deterministic 96-bit nonce schedule, with key zeroization on
// drop and rekey-before-exhaustion detection.
//
// Grounded on session/session.go's use of golang.org/x/crypto/chacha20poly1305
// and on the frameencryption pipeline's dedicated NonceGenerator type kept
// separate from the cipher itself.
package aeadctx

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sage-x-project/securestream/errs"
)

// KeySize is the AEAD key size in bytes (ChaCha20-Poly1305, 256-bit). Each
// direction's key is taken whole, 32 bytes, from the HKDF output in
// crypto/keyschedule; there is no 128-bit key mode.
const KeySize = chacha20poly1305.KeySize

// NonceBaseSize is the size in bytes of the fixed half of the nonce.
const NonceBaseSize = 8

// rekeyThreshold is how close to wraparound the counter may get before
// Next reports exhaustion, so the session always has room to rekey
// before overflow.
const rekeyThreshold = 1<<32 - 1

// NonceGen produces nonce_base(8) || counter(4, big-endian) nonces for one
// direction. Single-owner per direction: concurrent calls to Next are not
// supported.
type NonceGen struct {
	base    [NonceBaseSize]byte
	counter uint32
}

// NewNonceGen creates a generator seeded with the given 8-byte base.
func NewNonceGen(base []byte) (*NonceGen, error) {
	if len(base) != NonceBaseSize {
		return nil, fmt.Errorf("aeadctx: nonce base must be %d bytes", NonceBaseSize)
	}
	ng := &NonceGen{}
	copy(ng.base[:], base)
	return ng, nil
}

// Next returns the next 12-byte nonce and advances the counter. It reports
// ErrNonceExhausted once the counter would wrap past rekeyThreshold so the
// caller can trigger a rekey strictly before reuse becomes possible.
func (g *NonceGen) Next() ([]byte, error) {
	if g.counter >= rekeyThreshold {
		return nil, errs.ErrNonceExhausted
	}
	nonce := make([]byte, NonceBaseSize+4)
	copy(nonce, g.base[:])
	binary.BigEndian.PutUint32(nonce[NonceBaseSize:], g.counter)
	g.counter++
	return nonce, nil
}

// Counter returns the next counter value that will be used.
func (g *NonceGen) Counter() uint32 { return g.counter }

// CheckExpected reports whether nonce's counter field equals the strictly
// expected next counter and its base matches this generator's base. Used
// by the receive path's P2 monotone-equality check; it does not advance
// the counter (call Advance after a successful AEAD open).
func (g *NonceGen) CheckExpected(nonce []byte) error {
	if len(nonce) != NonceBaseSize+4 {
		return fmt.Errorf("aeadctx: nonce must be %d bytes: %w", NonceBaseSize+4, errs.ErrMalformedRecord)
	}
	for i := 0; i < NonceBaseSize; i++ {
		if nonce[i] != g.base[i] {
			return fmt.Errorf("aeadctx: nonce base mismatch: %w", errs.ErrReplayOrReorder)
		}
	}
	got := binary.BigEndian.Uint32(nonce[NonceBaseSize:])
	if got != g.counter {
		return fmt.Errorf("aeadctx: counter %d != expected %d: %w", got, g.counter, errs.ErrReplayOrReorder)
	}
	return nil
}

// Advance moves the expected counter forward by one, called after a
// record at the current expected counter has been accepted.
func (g *NonceGen) Advance() {
	g.counter++
}

// Context is a key-bound AEAD sealer/opener for one direction. Construction
// picks the best AEAD backend available from chacha20poly1305.New, which
// already resolves to an assembly-optimized implementation on supported
// architectures.
type Context struct {
	aead cipher.AEAD
	key  []byte
	gen  *NonceGen
	wiped int32
}

// New builds an AEAD context bound to key (must be KeySize bytes) with a
// fresh NonceGen seeded from nonceBase.
func New(key, nonceBase []byte) (*Context, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aeadctx: key must be %d bytes", KeySize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aeadctx: new cipher: %w", err)
	}
	gen, err := NewNonceGen(nonceBase)
	if err != nil {
		return nil, err
	}
	owned := make([]byte, len(key))
	copy(owned, key)
	return &Context{aead: aead, key: owned, gen: gen}, nil
}

// Seal encrypts pt under the next nonce in sequence, returning the nonce
// used and ciphertext+tag. aad is empty unless bind_seq_aad is enabled by
// the caller, which passes the record's big-endian AEAD counter as aad.
func (c *Context) Seal(aad, pt []byte) (nonce, ct []byte, err error) {
	nonce, err = c.gen.Next()
	if err != nil {
		return nil, nil, err
	}
	ct = c.aead.Seal(nil, nonce, pt, aad)
	return nonce, ct, nil
}

// Open authenticates and decrypts ct under the given nonce and aad.
func (c *Context) Open(nonce, aad, ct []byte) ([]byte, error) {
	pt, err := c.aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("aeadctx: open: %w", errs.ErrAuthenticationFailure)
	}
	return pt, nil
}

// OpenExpected enforces the strict monotone-equality receive check (P2)
// before opening: nonce's counter must equal this context's expected
// counter exactly. On success the expected counter advances by one.
func (c *Context) OpenExpected(nonce, aad, ct []byte) ([]byte, error) {
	if err := c.gen.CheckExpected(nonce); err != nil {
		return nil, err
	}
	pt, err := c.Open(nonce, aad, ct)
	if err != nil {
		return nil, err
	}
	c.gen.Advance()
	return pt, nil
}

// ExpectedCounter returns the counter this context's NonceGen expects to
// produce/accept next, used by the session layer's strict monotone check.
func (c *Context) ExpectedCounter() uint32 { return c.gen.Counter() }

// Wipe zeroizes the key material. Safe to call more than once.
func (c *Context) Wipe() {
	if !atomic.CompareAndSwapInt32(&c.wiped, 0, 1) {
		return
	}
	for i := range c.key {
		c.key[i] = 0
	}
}
