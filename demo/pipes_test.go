package demo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerProducerEmitsCountThenEOF(t *testing.T) {
	p := NewTickerProducer(time.Millisecond, 8, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		au, ts, err := p.NextAU(ctx)
		require.NoError(t, err)
		assert.Len(t, au, 8)
		assert.NotZero(t, ts)
	}

	_, _, err := p.NextAU(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestTickerProducerUnboundedUntilCancelled(t *testing.T) {
	p := NewTickerProducer(time.Millisecond, 4, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := p.NextAU(ctx)
		require.NoError(t, err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err := p.NextAU(cctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTickerProducerRespectsContextDoneDuringWait(t *testing.T) {
	p := NewTickerProducer(time.Hour, 4, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := p.NextAU(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLoggingConsumerCountsAndWritesWhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	c := NewLoggingConsumer(&buf, true)

	require.NoError(t, c.Consume([]byte{1, 2, 3}, 42))
	require.NoError(t, c.Consume([]byte{4, 5}, 43))

	assert.Equal(t, 2, c.Count())
	out := buf.String()
	assert.True(t, strings.Contains(out, "recv AU #1"))
	assert.True(t, strings.Contains(out, "recv AU #2"))
}

func TestLoggingConsumerSilentWhenNotVerbose(t *testing.T) {
	var buf bytes.Buffer
	c := NewLoggingConsumer(&buf, false)

	require.NoError(t, c.Consume([]byte{1}, 1))
	assert.Equal(t, 1, c.Count())
	assert.Empty(t, buf.String())
}
