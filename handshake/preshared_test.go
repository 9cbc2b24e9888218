package handshake

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/securestream/crypto/keyschedule"
)

func TestPresharedHandshakeReturnsCopyOfWrappedKeys(t *testing.T) {
	keys := keyschedule.Keys{
		KeyAtoB:  []byte{1, 2, 3},
		BaseAtoB: []byte{4, 5, 6},
		KeyBtoA:  []byte{7, 8, 9},
		BaseBtoA: []byte{10, 11, 12},
	}
	p := NewPreshared(keys)

	conn, _ := net.Pipe()
	defer conn.Close()

	got, err := p.Handshake(context.Background(), conn, true)
	require.NoError(t, err)
	assert.Equal(t, keys, got)

	// Mutating the returned copy must not affect the wrapped keys or a
	// second Handshake call's result.
	got.KeyAtoB[0] = 0xFF
	got2, err := p.Handshake(context.Background(), conn, false)
	require.NoError(t, err)
	assert.Equal(t, keys, got2)
}
