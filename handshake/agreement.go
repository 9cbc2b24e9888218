package handshake

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/sage-x-project/securestream/crypto/keys"
	"github.com/sage-x-project/securestream/crypto/keyschedule"
	"github.com/sage-x-project/securestream/errs"
	"github.com/sage-x-project/securestream/session"
)

// keyAgreementMsgSize is the fixed wire size of each side's message:
// 0x04 || X(32) || Y(32) || salt(32).
const keyAgreementMsgSize = 65 + saltSize

// KeyAgreement implements session.Handshaker for the C6 key-agreement
// mechanism. Both sides are symmetric: each generates a fresh ephemeral
// P-256 key pair and salt for every call, including rekey rounds.
//
// A pointer to the same KeyAgreement is reused across the initial handshake
// and every later rekey round (session.New is handed one instance per
// Session). That shared instance is what lets RekeyTieBreakValue and the
// Handshake call that follows it agree on the same ephemeral key: see
// takeEphemeral.
type KeyAgreement struct {
	mu               sync.Mutex
	pendingEphemeral *keys.ECDHP256KeyPair
}

// NewKeyAgreement returns a KeyAgreement handshaker.
func NewKeyAgreement() *KeyAgreement { return &KeyAgreement{} }

// RekeyTieBreakValue implements session.RekeyTieBreaker: it generates this
// round's ephemeral key pair early and returns its uncompressed public
// point as the tie-break value, caching the key pair so the Handshake call
// that (for the winning side) follows reuses the exact same ephemeral
// instead of generating a second, different one.
func (ka *KeyAgreement) RekeyTieBreakValue() ([]byte, error) {
	kpAny, err := keys.GenerateECDHP256KeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: generate ephemeral key: %v", errs.ErrHandshakeFailed, err)
	}
	kp := kpAny.(*keys.ECDHP256KeyPair)

	ka.mu.Lock()
	ka.pendingEphemeral = kp
	ka.mu.Unlock()
	return kp.PublicBytesUncompressed(), nil
}

// takeEphemeral returns a cached key pair left by a prior
// RekeyTieBreakValue call, or generates one if none is pending (the normal
// case for an initial handshake, and for a rekey round this side never
// offered a tie-break value for).
func (ka *KeyAgreement) takeEphemeral() (*keys.ECDHP256KeyPair, error) {
	ka.mu.Lock()
	kp := ka.pendingEphemeral
	ka.pendingEphemeral = nil
	ka.mu.Unlock()
	if kp != nil {
		return kp, nil
	}

	kpAny, err := keys.GenerateECDHP256KeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: generate ephemeral key: %v", errs.ErrHandshakeFailed, err)
	}
	return kpAny.(*keys.ECDHP256KeyPair), nil
}

// Handshake runs the key-agreement wire sequence over conn and returns the
// directional key schedule. Both peers send before either reads, so a
// slow peer cannot deadlock this exchange.
func (ka *KeyAgreement) Handshake(ctx context.Context, conn session.ReadWriter, isInitiator bool) (keyschedule.Keys, error) {
	kp, err := ka.takeEphemeral()
	if err != nil {
		return keyschedule.Keys{}, err
	}

	localSalt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, localSalt); err != nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: sample salt: %v", errs.ErrHandshakeFailed, err)
	}

	localMsg := make([]byte, keyAgreementMsgSize)
	copy(localMsg, kp.PublicBytesUncompressed())
	copy(localMsg[65:], localSalt)

	writeErr := make(chan error, 1)
	go func() {
		_, err := conn.Write(localMsg)
		if err != nil {
			writeErr <- fmt.Errorf("%w: %v", errs.ErrTransportClosed, err)
			return
		}
		writeErr <- nil
	}()

	peerMsg := make([]byte, keyAgreementMsgSize)
	_, readErr := io.ReadFull(conn, peerMsg)
	if werr := <-writeErr; werr != nil {
		return keyschedule.Keys{}, werr
	}
	if readErr != nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: %v", errs.ErrTransportClosed, readErr)
	}

	peerPub, err := keys.ParseECDHP256PublicKey(peerMsg[:65])
	if err != nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: %v", errs.ErrHandshakeFailed, err)
	}
	peerSalt := peerMsg[65:]

	z, err := kp.DeriveSharedSecretRaw(peerPub)
	if err != nil {
		return keyschedule.Keys{}, fmt.Errorf("%w: %v", errs.ErrHandshakeFailed, err)
	}
	defer keyschedule.WipeSecret(z)

	salt := xorBytes(localSalt, peerSalt)
	return keyschedule.Derive(z, salt)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
