package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// maxPubDERBytes bounds the SubjectPublicKeyInfo DER the listener publishes
// during key-transport handshake (C5); larger encodings are rejected before
// parsing.
const maxPubDERBytes = 16 * 1024

// maxWrappedBytes bounds the RSA-OAEP ciphertext the initiator sends back.
const maxWrappedBytes = 1024

// PublicKeyDER marshals this key pair's public key as a DER-encoded
// SubjectPublicKeyInfo, the wire form the listener sends first in the
// key-transport handshake.
func (kp *rsaKeyPair) PublicKeyDER() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(kp.publicKey)
}

// ParseRSAPublicKeyDER parses a SubjectPublicKeyInfo DER blob into an RSA
// public key, enforcing the 16 KiB handshake bound.
func ParseRSAPublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	if len(der) > maxPubDERBytes {
		return nil, fmt.Errorf("keys: public key DER exceeds %d bytes", maxPubDERBytes)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key DER: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: DER does not encode an RSA public key")
	}
	return rsaPub, nil
}

// WrapOAEP wraps plaintext (the initiator's salt||prekey) under an RSA
// public key using RSA-OAEP with SHA-256 as both MGF and label hash, no
// label.
func WrapOAEP(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: OAEP wrap: %w", err)
	}
	return ct, nil
}

// UnwrapOAEP unwraps a ciphertext produced by WrapOAEP using this key
// pair's private key, enforcing the 1 KiB handshake bound.
func (kp *rsaKeyPair) UnwrapOAEP(wrapped []byte) ([]byte, error) {
	if len(wrapped) > maxWrappedBytes {
		return nil, fmt.Errorf("keys: wrapped prekey exceeds %d bytes", maxWrappedBytes)
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, kp.privateKey, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: OAEP unwrap: %w", err)
	}
	return pt, nil
}

// EncodePEM renders the key pair as a private-key PEM block, used by the
// file-backed identity key store.
func (kp *rsaKeyPair) EncodePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.privateKey)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodeRSAPrivatePEM parses a PEM-encoded PKCS#8 RSA private key into a
// key pair usable for key-transport handshake and rotation.
func DecodeRSAPrivatePEM(data []byte) (*rsaKeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keys: no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: PEM does not encode an RSA private key")
	}
	modBytes := rsaKey.PublicKey.N.Bytes()
	hash := sha256.Sum256(modBytes)
	return &rsaKeyPair{
		privateKey: rsaKey,
		publicKey:  &rsaKey.PublicKey,
		id:         fmt.Sprintf("%x", hash[:8]),
	}, nil
}

// GenerateRSAKeyPairSize generates an RSA key pair of the given bit size,
// per the rsa_bits configuration option (2048 or 3072).
func GenerateRSAKeyPairSize(bits int) (*rsaKeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	modBytes := privateKey.PublicKey.N.Bytes()
	hash := sha256.Sum256(modBytes)
	return &rsaKeyPair{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		id:         fmt.Sprintf("%x", hash[:8]),
	}, nil
}
