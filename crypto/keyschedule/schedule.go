// Package keyschedule derives directional AEAD keys and nonce bases from a
// shared secret via HKDF-SHA256 (C4).
//
// Grounded directly on session/session.go's deriveKeys (two hkdf.New calls
// keyed by distinct info labels) and DeriveSessionSeed (hkdf.Extract), and
// on the Qsafe session package's directionalKeys(role, keys) role-based
// send/recv assignment.
package keyschedule

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/sage-x-project/securestream/crypto/aeadctx"
)

// info is the fixed domain-separation label fed to HKDF-Expand for an
// ordinary pairwise session's key schedule.
const info = "securestream session keys v1"

// groupInfo is the distinct domain-separation label used when deriving the
// shared group stream's keys (C8) from a distributed group_secret, so a
// group key schedule can never collide with a pairwise one even if the same
// (Z, salt) pair were ever reused by mistake.
const groupInfo = "group"

// SaltSize is the required length of the handshake salt.
const SaltSize = 32

// okmSize is 2*(KeySize+NonceBaseSize): K_A->B || base_A->B || K_B->A || base_B->A.
const okmSize = 2 * (aeadctx.KeySize + aeadctx.NonceBaseSize)

// Keys holds the output of the key schedule before it is assigned by role.
type Keys struct {
	KeyAtoB  []byte
	BaseAtoB []byte
	KeyBtoA  []byte
	BaseBtoA []byte
}

// Derive runs HKDF-SHA256(salt, Z, info) and slices the output keying
// material. Z must be wiped by the caller immediately after this
// call returns, successful or not.
func Derive(z, salt []byte) (Keys, error) {
	return derive(z, salt, info)
}

// DeriveGroup runs the same HKDF expansion as Derive but under the
// group-distribution domain-separation label, used by group.Distribute and
// group.Join to turn the leader-sampled group_secret||salt into the shared
// (K_tx_group, K_rx_group, nonce_base_group) every member must agree on
// byte-for-byte. secret must be wiped by the caller immediately after this
// call returns, successful or not.
func DeriveGroup(secret, salt []byte) (Keys, error) {
	return derive(secret, salt, groupInfo)
}

func derive(z, salt []byte, label string) (Keys, error) {
	if len(salt) != SaltSize {
		return Keys{}, fmt.Errorf("keyschedule: salt must be %d bytes", SaltSize)
	}
	if len(z) == 0 {
		return Keys{}, fmt.Errorf("keyschedule: empty shared secret")
	}

	r := hkdf.New(sha256.New, z, salt, []byte(label))
	okm := make([]byte, okmSize)
	if _, err := io.ReadFull(r, okm); err != nil {
		return Keys{}, fmt.Errorf("keyschedule: expand: %w", err)
	}

	ks := aeadctx.KeySize
	nb := aeadctx.NonceBaseSize
	return Keys{
		KeyAtoB:  append([]byte(nil), okm[0:ks]...),
		BaseAtoB: append([]byte(nil), okm[ks:ks+nb]...),
		KeyBtoA:  append([]byte(nil), okm[ks+nb:ks+nb+ks]...),
		BaseBtoA: append([]byte(nil), okm[ks+nb+ks:ks+nb+ks+nb]...),
	}, nil
}

// ForRole returns (txKey, txBase, rxKey, rxBase) for this peer given
// whether it is the connection initiator ("A") or not ("B").
func (k Keys) ForRole(isInitiator bool) (txKey, txBase, rxKey, rxBase []byte) {
	if isInitiator {
		return k.KeyAtoB, k.BaseAtoB, k.KeyBtoA, k.BaseBtoA
	}
	return k.KeyBtoA, k.BaseBtoA, k.KeyAtoB, k.BaseAtoB
}

// Wipe zeroizes every slice in Keys.
func (k *Keys) Wipe() {
	for _, b := range [][]byte{k.KeyAtoB, k.BaseAtoB, k.KeyBtoA, k.BaseBtoA} {
		for i := range b {
			b[i] = 0
		}
	}
}

// WipeSecret zeroizes a raw shared secret / prekey buffer in place.
func WipeSecret(z []byte) {
	for i := range z {
		z[i] = 0
	}
}
