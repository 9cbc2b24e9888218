package handshake

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/securestream/crypto/keyschedule"
)

func TestKeyAgreementHandshakeAgreesOnKeys(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	a := NewKeyAgreement()
	b := NewKeyAgreement()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		keys keyschedule.Keys
		err  error
	}
	chA := make(chan outcome, 1)
	chB := make(chan outcome, 1)

	go func() {
		k, err := a.Handshake(ctx, connA, true)
		chA <- outcome{k, err}
	}()
	go func() {
		k, err := b.Handshake(ctx, connB, false)
		chB <- outcome{k, err}
	}()

	ra := <-chA
	rb := <-chB
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Equal(t, ra.keys, rb.keys)
}

func TestKeyAgreementGeneratesFreshKeysEveryCall(t *testing.T) {
	connA1, connB1 := net.Pipe()
	defer connA1.Close()
	defer connB1.Close()
	connA2, connB2 := net.Pipe()
	defer connA2.Close()
	defer connB2.Close()

	a := NewKeyAgreement()
	b := NewKeyAgreement()
	ctx := context.Background()

	run := func(connA, connB net.Conn) (keyschedule.Keys, keyschedule.Keys) {
		type outcome struct {
			keys keyschedule.Keys
			err  error
		}
		chA := make(chan outcome, 1)
		chB := make(chan outcome, 1)
		go func() {
			k, err := a.Handshake(ctx, connA, true)
			chA <- outcome{k, err}
		}()
		go func() {
			k, err := b.Handshake(ctx, connB, false)
			chB <- outcome{k, err}
		}()
		ra := <-chA
		rb := <-chB
		require.NoError(t, ra.err)
		require.NoError(t, rb.err)
		return ra.keys, rb.keys
	}

	k1, _ := run(connA1, connB1)
	k2, _ := run(connA2, connB2)
	assert.NotEqual(t, k1, k2, "every handshake round must sample fresh ephemeral keys")
}

func TestRekeyTieBreakValueIsReusedByNextHandshakeCall(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	a := NewKeyAgreement()
	b := NewKeyAgreement()
	ctx := context.Background()

	tieBreak, err := a.RekeyTieBreakValue()
	require.NoError(t, err)
	require.Len(t, tieBreak, 65)

	type outcome struct {
		keys keyschedule.Keys
		err  error
	}
	chA := make(chan outcome, 1)
	chB := make(chan outcome, 1)
	go func() {
		k, err := a.Handshake(ctx, connA, true)
		chA <- outcome{k, err}
	}()
	go func() {
		k, err := b.Handshake(ctx, connB, false)
		chB <- outcome{k, err}
	}()
	ra := <-chA
	rb := <-chB
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Equal(t, ra.keys, rb.keys)

	// a's cached ephemeral (the one behind the tie-break value it handed
	// out) must have been consumed by Handshake, leaving nothing pending.
	a.mu.Lock()
	pending := a.pendingEphemeral
	a.mu.Unlock()
	assert.Nil(t, pending)
}

func TestRekeyTieBreakValueNotCalledStillHandshakesFine(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	a := NewKeyAgreement()
	b := NewKeyAgreement()
	ctx := context.Background()

	type outcome struct {
		keys keyschedule.Keys
		err  error
	}
	chA := make(chan outcome, 1)
	chB := make(chan outcome, 1)
	go func() {
		k, err := a.Handshake(ctx, connA, true)
		chA <- outcome{k, err}
	}()
	go func() {
		k, err := b.Handshake(ctx, connB, false)
		chB <- outcome{k, err}
	}()
	ra := <-chA
	rb := <-chB
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Equal(t, ra.keys, rb.keys)
}

func TestXorBytes(t *testing.T) {
	a := []byte{0xFF, 0x00, 0xAA}
	b := []byte{0x0F, 0xF0, 0x55}
	got := xorBytes(a, b)
	assert.Equal(t, []byte{0xF0, 0xF0, 0xFF}, got)
}
