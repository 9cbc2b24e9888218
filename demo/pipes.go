// Package demo provides stand-in FrameProducer/FrameConsumer
// implementations for the CLI and tests — a synthetic traffic source and
// sink, not camera capture.
//
// Grounded on cmd/sage-crypto's command style of small, single-purpose
// helper types wired directly into cobra RunE functions.
package demo

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// TickerProducer emits a synthetic application unit of Size bytes every
// Interval, stamped with the wall-clock capture time in nanoseconds. It
// stops (returning io.EOF) after Count units, or when ctx is done.
type TickerProducer struct {
	Interval time.Duration
	Size     int
	Count    int

	mu   sync.Mutex
	sent int
}

// NewTickerProducer returns a TickerProducer that emits count AUs of size
// bytes, interval apart. count <= 0 means unbounded (runs until ctx.Done).
func NewTickerProducer(interval time.Duration, size, count int) *TickerProducer {
	return &TickerProducer{Interval: interval, Size: size, Count: count}
}

// NextAU implements session.FrameProducer.
func (p *TickerProducer) NextAU(ctx context.Context) ([]byte, uint64, error) {
	p.mu.Lock()
	if p.Count > 0 && p.sent >= p.Count {
		p.mu.Unlock()
		return nil, 0, io.EOF
	}
	p.sent++
	p.mu.Unlock()

	select {
	case <-time.After(p.Interval):
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	au := make([]byte, p.Size)
	for i := range au {
		au[i] = byte(i)
	}
	return au, uint64(time.Now().UnixNano()), nil
}

// LoggingConsumer counts and optionally prints every AU it receives.
type LoggingConsumer struct {
	Verbose bool
	Out     io.Writer

	mu    sync.Mutex
	count int
}

// NewLoggingConsumer returns a LoggingConsumer writing progress to out when
// verbose is true.
func NewLoggingConsumer(out io.Writer, verbose bool) *LoggingConsumer {
	return &LoggingConsumer{Out: out, Verbose: verbose}
}

// Consume implements session.FrameConsumer.
func (c *LoggingConsumer) Consume(au []byte, captureTsNs uint64) error {
	c.mu.Lock()
	c.count++
	n := c.count
	c.mu.Unlock()

	if c.Verbose && c.Out != nil {
		fmt.Fprintf(c.Out, "recv AU #%d: %d bytes, captured at %d\n", n, len(au), captureTsNs)
	}
	return nil
}

// Count returns the number of AUs received so far.
func (c *LoggingConsumer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
