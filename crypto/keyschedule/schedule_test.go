package keyschedule

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/securestream/crypto/aeadctx"
)

func TestDeriveIsDeterministicAndFullLength(t *testing.T) {
	z := bytes.Repeat([]byte{0x5A}, 32)
	salt := bytes.Repeat([]byte{0xA5}, SaltSize)

	k1, err := Derive(z, salt)
	require.NoError(t, err)
	k2, err := Derive(z, salt)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "HKDF expand must be deterministic for the same inputs")
	assert.Len(t, k1.KeyAtoB, aeadctx.KeySize)
	assert.Len(t, k1.BaseAtoB, aeadctx.NonceBaseSize)
	assert.Len(t, k1.KeyBtoA, aeadctx.KeySize)
	assert.Len(t, k1.BaseBtoA, aeadctx.NonceBaseSize)

	assert.NotEqual(t, k1.KeyAtoB, k1.KeyBtoA, "the two directions must not share a key")
}

func TestDeriveDifferentSaltsProduceDifferentKeys(t *testing.T) {
	z := bytes.Repeat([]byte{0x42}, 32)
	saltA := bytes.Repeat([]byte{0x01}, SaltSize)
	saltB := bytes.Repeat([]byte{0x02}, SaltSize)

	kA, err := Derive(z, saltA)
	require.NoError(t, err)
	kB, err := Derive(z, saltB)
	require.NoError(t, err)

	assert.NotEqual(t, kA.KeyAtoB, kB.KeyAtoB)
}

func TestDeriveRejectsBadSaltSize(t *testing.T) {
	_, err := Derive([]byte("secret"), []byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDeriveRejectsEmptySecret(t *testing.T) {
	_, err := Derive(nil, bytes.Repeat([]byte{0}, SaltSize))
	assert.Error(t, err)
}

func TestForRoleAssignsDirectionsSymmetrically(t *testing.T) {
	z := bytes.Repeat([]byte{0x7E}, 32)
	salt := bytes.Repeat([]byte{0xE7}, SaltSize)
	k, err := Derive(z, salt)
	require.NoError(t, err)

	initTx, initTxBase, initRx, initRxBase := k.ForRole(true)
	respTx, respTxBase, respRx, respRxBase := k.ForRole(false)

	assert.Equal(t, initTx, respRx, "initiator's tx key must equal responder's rx key")
	assert.Equal(t, initTxBase, respRxBase)
	assert.Equal(t, initRx, respTx, "initiator's rx key must equal responder's tx key")
	assert.Equal(t, initRxBase, respTxBase)
}

func TestWipeZeroizesAllFourSlices(t *testing.T) {
	z := bytes.Repeat([]byte{0x99}, 32)
	salt := bytes.Repeat([]byte{0x88}, SaltSize)
	k, err := Derive(z, salt)
	require.NoError(t, err)

	k.Wipe()
	for _, b := range [][]byte{k.KeyAtoB, k.BaseAtoB, k.KeyBtoA, k.BaseBtoA} {
		for _, v := range b {
			assert.Zero(t, v)
		}
	}
}

func TestWipeSecret(t *testing.T) {
	secret := []byte{1, 2, 3, 4, 5}
	WipeSecret(secret)
	for _, v := range secret {
		assert.Zero(t, v)
	}
}

// TestDeriveGroupMatchesAcrossThreeMembers reproduces the group-distribution
// N=3 scenario literally: an all-0x5A group_secret and all-0xA5 salt, fed
// through DeriveGroup on three independent calls (standing in for leader
// plus two members, each running the same derivation locally), must all
// agree byte-for-byte on K_tx_group/K_rx_group/nonce_base_group.
func TestDeriveGroupMatchesAcrossThreeMembers(t *testing.T) {
	secret := bytes.Repeat([]byte{0x5A}, 32)
	salt := bytes.Repeat([]byte{0xA5}, SaltSize)

	leader, err := DeriveGroup(secret, salt)
	require.NoError(t, err)
	member1, err := DeriveGroup(secret, salt)
	require.NoError(t, err)
	member2, err := DeriveGroup(secret, salt)
	require.NoError(t, err)

	assert.Equal(t, leader, member1)
	assert.Equal(t, leader, member2)
	assert.Len(t, leader.KeyAtoB, aeadctx.KeySize)
	assert.Len(t, leader.BaseAtoB, aeadctx.NonceBaseSize)
}

// TestDeriveGroupUsesDistinctLabelFromPairwiseDerive confirms the group and
// pairwise key schedules never collide even when handed the same (Z, salt).
func TestDeriveGroupUsesDistinctLabelFromPairwiseDerive(t *testing.T) {
	z := bytes.Repeat([]byte{0x5A}, 32)
	salt := bytes.Repeat([]byte{0xA5}, SaltSize)

	pairwise, err := Derive(z, salt)
	require.NoError(t, err)
	group, err := DeriveGroup(z, salt)
	require.NoError(t, err)

	assert.NotEqual(t, pairwise.KeyAtoB, group.KeyAtoB)
}

func TestDeriveGroupRejectsBadSaltSize(t *testing.T) {
	_, err := DeriveGroup(bytes.Repeat([]byte{0x5A}, 32), []byte{0x01})
	assert.Error(t, err)
}
