// Package handshake implements the two C5/C6 key-establishment exchanges
// as session.Handshaker implementations, so a Session can run either one
// (or re-run it in-band for a rekey) without importing this package's
// concrete types.
//
// Grounded on crypto/keys/rsa_oaep.go and crypto/keys/ecdh.go for the
// primitives, and on session/session.go's original single-shot handshake
// framing style (explicit length-prefixed reads/writes over the raw conn)
// generalized into standalone wire steps.
package handshake

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"

	sagecrypto "github.com/sage-x-project/securestream/crypto"
	"github.com/sage-x-project/securestream/crypto/keys"
	"github.com/sage-x-project/securestream/crypto/keyschedule"
	"github.com/sage-x-project/securestream/errs"
	"github.com/sage-x-project/securestream/session"
)

const (
	maxPubDERBytes  = 16 * 1024
	maxWrappedBytes = 1024
	prekeySize      = 16
	saltSize        = 32
)

// KeyTransport implements session.Handshaker for the C5 key-transport
// mechanism. The listener side holds the long-lived RSA key pair; the
// initiator side needs no persistent key material.
type KeyTransport struct {
	listenerPriv *rsa.PrivateKey
	publicDER    []byte
}

// NewKeyTransportListener wraps an RSA identity key pair (as produced by
// crypto/keys.GenerateRSAKeyPair or loaded from storage) for the listener
// role of the C5 handshake.
func NewKeyTransportListener(kp sagecrypto.KeyPair) (*KeyTransport, error) {
	priv, ok := kp.PrivateKey().(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key-transport listener requires an RSA key pair", errs.ErrConfig)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %v", errs.ErrConfig, err)
	}
	return &KeyTransport{listenerPriv: priv, publicDER: der}, nil
}

// NewKeyTransportInitiator returns a KeyTransport usable for the initiator
// side, which holds no long-lived key.
func NewKeyTransportInitiator() *KeyTransport {
	return &KeyTransport{}
}

// Handshake runs the key-transport wire sequence over conn and returns the
// directional key schedule.
func (t *KeyTransport) Handshake(ctx context.Context, conn session.ReadWriter, isInitiator bool) (keyschedule.Keys, error) {
	if isInitiator {
		return t.handshakeInitiator(conn)
	}
	return t.handshakeListener(conn)
}

func (t *KeyTransport) handshakeListener(conn session.ReadWriter) (keyschedule.Keys, error) {
	if t.listenerPriv == nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: key-transport listener has no RSA key", errs.ErrConfig)
	}

	if err := writeLenPrefixed(conn, t.publicDER, maxPubDERBytes); err != nil {
		return keyschedule.Keys{}, err
	}

	wrapped, err := readLenPrefixed(conn, maxWrappedBytes)
	if err != nil {
		return keyschedule.Keys{}, err
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, t.listenerPriv, wrapped, nil)
	if err != nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: oaep unwrap: %v", errs.ErrHandshakeFailed, err)
	}
	if len(plaintext) != saltSize+prekeySize {
		return keyschedule.Keys{}, fmt.Errorf("%w: unwrapped payload has wrong length", errs.ErrHandshakeFailed)
	}
	salt := plaintext[:saltSize]
	z := append([]byte(nil), plaintext[saltSize:]...)
	defer keyschedule.WipeSecret(z)

	return keyschedule.Derive(z, salt)
}

func (t *KeyTransport) handshakeInitiator(conn session.ReadWriter) (keyschedule.Keys, error) {
	der, err := readLenPrefixed(conn, maxPubDERBytes)
	if err != nil {
		return keyschedule.Keys{}, err
	}
	pub, err := keys.ParseRSAPublicKeyDER(der)
	if err != nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: %v", errs.ErrHandshakeFailed, err)
	}

	buf := make([]byte, saltSize+prekeySize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: sample salt/prekey: %v", errs.ErrHandshakeFailed, err)
	}
	salt := append([]byte(nil), buf[:saltSize]...)
	z := append([]byte(nil), buf[saltSize:]...)
	defer keyschedule.WipeSecret(z)

	wrapped, wrapErr := keys.WrapOAEP(pub, buf)
	// buf still holds salt||z in the clear; zero it regardless of WrapOAEP's outcome.
	for i := range buf {
		buf[i] = 0
	}
	if wrapErr != nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: oaep wrap: %v", errs.ErrHandshakeFailed, wrapErr)
	}
	if err := writeLenPrefixed(conn, wrapped, maxWrappedBytes); err != nil {
		return keyschedule.Keys{}, err
	}

	return keyschedule.Derive(z, salt)
}

func writeLenPrefixed(w io.Writer, data []byte, max int) error {
	if len(data) > max {
		return fmt.Errorf("%w: payload exceeds %d bytes", errs.ErrHandshakeFailed, max)
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransportClosed, err)
	}
	return nil
}

func readLenPrefixed(r io.Reader, max int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransportClosed, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > max {
		return nil, fmt.Errorf("%w: length %d exceeds %d bytes", errs.ErrHandshakeFailed, n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransportClosed, err)
	}
	return buf, nil
}
