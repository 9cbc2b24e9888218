package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapOAEPRoundTrip(t *testing.T) {
	kp, err := GenerateRSAKeyPairSize(2048)
	require.NoError(t, err)

	plaintext := append([]byte{0x5A}, []byte("salt-and-prekey-material")...)
	wrapped, err := WrapOAEP(kp.publicKey, plaintext)
	require.NoError(t, err)

	got, err := kp.UnwrapOAEP(wrapped)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestUnwrapOAEPRejectsOversizedCiphertext(t *testing.T) {
	kp, err := GenerateRSAKeyPairSize(2048)
	require.NoError(t, err)

	oversized := make([]byte, maxWrappedBytes+1)
	_, err = kp.UnwrapOAEP(oversized)
	assert.Error(t, err)
}

func TestPublicKeyDERRoundTrip(t *testing.T) {
	kp, err := GenerateRSAKeyPairSize(2048)
	require.NoError(t, err)

	der, err := kp.PublicKeyDER()
	require.NoError(t, err)

	pub, err := ParseRSAPublicKeyDER(der)
	require.NoError(t, err)
	assert.Equal(t, kp.publicKey.N, pub.N)
	assert.Equal(t, kp.publicKey.E, pub.E)
}

func TestParseRSAPublicKeyDERRejectsOversized(t *testing.T) {
	_, err := ParseRSAPublicKeyDER(make([]byte, maxPubDERBytes+1))
	assert.Error(t, err)
}

func TestEncodeDecodePEMRoundTrip(t *testing.T) {
	kp, err := GenerateRSAKeyPairSize(2048)
	require.NoError(t, err)

	pemBytes, err := kp.EncodePEM()
	require.NoError(t, err)

	decoded, err := DecodeRSAPrivatePEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, kp.ID(), decoded.ID())
	assert.Equal(t, kp.publicKey.N, decoded.publicKey.N)
}

func TestDecodeRSAPrivatePEMRejectsGarbage(t *testing.T) {
	_, err := DecodeRSAPrivatePEM([]byte("not a pem block"))
	assert.Error(t, err)
}

func TestGenerateRSAKeyPairSizeProducesRequestedModulus(t *testing.T) {
	kp, err := GenerateRSAKeyPairSize(2048)
	require.NoError(t, err)
	assert.Equal(t, 2048, kp.privateKey.N.BitLen())
}
