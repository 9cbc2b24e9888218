package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	sagecrypto "github.com/sage-x-project/securestream/crypto"
)

// ECDHP256KeyPair implements the KeyPair interface for P-256 ECDH keys,
// used both as a long-lived identity key and as the per-handshake
// ephemeral key in the key-agreement mechanism (C6).
//
// Generalized from crypto/keys/x25519.go's X25519KeyPair: same shape
// (GenerateX25519KeyPair/PublicKey/DeriveSharedSecret), curve swapped from
// X25519 to P-256 for the key-agreement mechanism. Signing is unsupported,
// returning ErrSignNotSupported/ErrVerifyNotSupported for pure
// key-agreement keys.
type ECDHP256KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// ErrSignNotSupported is returned by Sign for key-agreement-only key pairs.
var ErrSignNotSupported = fmt.Errorf("keys: sign not supported for ECDH key pairs")

// ErrVerifyNotSupported is returned by Verify for key-agreement-only key pairs.
var ErrVerifyNotSupported = fmt.Errorf("keys: verify not supported for ECDH key pairs")

// GenerateECDHP256KeyPair generates a fresh P-256 ECDH key pair.
func GenerateECDHP256KeyPair() (sagecrypto.KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate P-256 key: %w", err)
	}
	return wrapECDHP256(priv), nil
}

func wrapECDHP256(priv *ecdh.PrivateKey) *ECDHP256KeyPair {
	pub := priv.PublicKey()
	hash := sha256.Sum256(pub.Bytes())
	return &ECDHP256KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         hex.EncodeToString(hash[:8]),
	}
}

// PublicKey returns the public key.
func (kp *ECDHP256KeyPair) PublicKey() crypto.PublicKey { return kp.publicKey }

// PrivateKey returns the private key.
func (kp *ECDHP256KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }

// Type returns the key type.
func (kp *ECDHP256KeyPair) Type() sagecrypto.KeyType { return sagecrypto.KeyTypeECDHP256 }

// ID returns a unique identifier for this key pair.
func (kp *ECDHP256KeyPair) ID() string { return kp.id }

// Sign is unsupported for pure key-agreement keys.
func (kp *ECDHP256KeyPair) Sign(message []byte) ([]byte, error) {
	return nil, ErrSignNotSupported
}

// Verify is unsupported for pure key-agreement keys.
func (kp *ECDHP256KeyPair) Verify(message, signature []byte) error {
	return ErrVerifyNotSupported
}

// PublicBytesUncompressed returns the 65-byte uncompressed point encoding
// (0x04 || X(32) || Y(32)) sent on the wire during key-agreement handshake.
func (kp *ECDHP256KeyPair) PublicBytesUncompressed() []byte {
	return kp.publicKey.Bytes()
}

// ParseECDHP256PublicKey parses a 65-byte uncompressed point into a P-256
// public key, rejecting malformed encodings, the identity point, and
// points not on the curve (all surfaced as a single parse error; the
// handshake layer maps it to ErrHandshakeFailed).
func ParseECDHP256PublicKey(uncompressed []byte) (*ecdh.PublicKey, error) {
	if len(uncompressed) != 65 || uncompressed[0] != 0x04 {
		return nil, fmt.Errorf("keys: malformed uncompressed point")
	}
	pub, err := ecdh.P256().NewPublicKey(uncompressed)
	if err != nil {
		return nil, fmt.Errorf("keys: point not on curve: %w", err)
	}
	return pub, nil
}

// DeriveSharedSecretRaw computes the raw ECDH shared point and returns its
// X-coordinate bytes directly as Z, unhashed — unlike x25519.go's
// DeriveSharedSecret, which SHA-256-hashes the raw output itself; that
// hashing belongs to the HKDF key-schedule step here, not to key
// agreement.
func (kp *ECDHP256KeyPair) DeriveSharedSecretRaw(peerPublic *ecdh.PublicKey) ([]byte, error) {
	shared, err := kp.privateKey.ECDH(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("keys: ECDH: %w", err)
	}
	if allZero(shared) {
		return nil, fmt.Errorf("keys: shared secret is identity point")
	}
	return shared, nil
}

// EncodePEM renders the key pair as a private-key PEM block, used by the
// file-backed identity key store, so an ECDH identity key can be written
// to disk and later reloaded with DecodeECDHP256PrivatePEM.
func (kp *ECDHP256KeyPair) EncodePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.privateKey)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodeECDHP256PrivatePEM parses a PEM-encoded PKCS#8 ECDH private key
// produced by EncodePEM back into a key pair.
func DecodeECDHP256PrivatePEM(data []byte) (*ECDHP256KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keys: no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	ecdhKey, ok := key.(*ecdh.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: PEM does not encode an ECDH private key")
	}
	return wrapECDHP256(ecdhKey), nil
}

// allZero reports whether every byte of b is zero, in constant time with
// respect to the byte values (the only secret-dependent thing here is
// whether the shared point was the identity, which this check exists to
// detect).
func allZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
