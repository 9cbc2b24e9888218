// Package relay implements the C9 single-hop relay: a decrypt-then-
// re-encrypt pump between two independently-keyed Sessions. Neither side
// of the relay ever sees the other side's session keys; only AUs that
// authenticate on the upstream leg are forwarded downstream.
//
// Grounded on group/distributor.go's fan-out-and-await goroutine pairs,
// generalized to a bidirectional pump via golang.org/x/sync/errgroup for
// exactly this kind of "run N goroutines, return the first error" shape.
package relay

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/securestream/errs"
	"github.com/sage-x-project/securestream/session"
)

// au carries one decoded application unit between the relay's two pump
// goroutines, along with the capture timestamp the upstream producer
// observed.
type au struct {
	data []byte
	ts   uint64
}

// relayProducer feeds one direction's downstream Session by draining a
// channel the opposite direction's consumer fills.
type relayProducer struct {
	ch  <-chan au
	ctx context.Context
}

func (p *relayProducer) NextAU(ctx context.Context) ([]byte, uint64, error) {
	select {
	case item, ok := <-p.ch:
		if !ok {
			return nil, 0, io.EOF
		}
		return item.data, item.ts, nil
	case <-p.ctx.Done():
		return nil, 0, io.EOF
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// relayConsumer forwards every AU it authenticates on its upstream
// Session onto the channel the opposite direction's producer drains.
type relayConsumer struct {
	ch  chan<- au
	ctx context.Context
}

func (c *relayConsumer) Consume(data []byte, ts uint64) error {
	cp := append([]byte(nil), data...)
	select {
	case c.ch <- au{data: cp, ts: ts}:
		return nil
	case <-c.ctx.Done():
		// The relay is shutting down; stop pumping rather than block
		// recvLoop forever on a downstream leg that will never drain.
		return c.ctx.Err()
	}
}

// Relay pumps decrypted AUs in both directions between two already-wired
// Sessions (each already constructed over its own Transport, mechanism,
// and keys, not yet Run). Left and Right each install a relayProducer
// sourced from the opposite side's relayConsumer, so Run's normal
// seal/open path does the decrypt-then-re-encrypt transparently: a
// record that fails to authenticate on one leg is never forwarded on
// the other, since Consume is only ever called after a successful Open.
type Relay struct {
	Left  *session.Session
	Right *session.Session
}

// New wires Left and Right's producer/consumer pair. Call Run to drive
// both Sessions' handshakes and steady-state loops until both have ended.
//
// leftToRight/rightToLeft are bounded so one leg's AEAD rekey pause (which
// stops that leg's send loop, not its receive loop) cannot grow memory
// without bound; once full, Consume blocks the upstream recvLoop rather
// than drop an authenticated AU.
func New(ctx context.Context, left, right *session.Session) *Relay {
	const bufSize = 64
	leftToRight := make(chan au, bufSize)
	rightToLeft := make(chan au, bufSize)

	left.SetProducerConsumer(&relayProducer{ch: rightToLeft, ctx: ctx}, &relayConsumer{ch: leftToRight, ctx: ctx})
	right.SetProducerConsumer(&relayProducer{ch: leftToRight, ctx: ctx}, &relayConsumer{ch: rightToLeft, ctx: ctx})

	return &Relay{Left: left, Right: right}
}

// Run drives both legs concurrently, returns once both have returned, and
// reports the first non-nil error from either, per errgroup.Group
// semantics. An orderly Goodbye on one leg ends only that leg: nothing
// closes the relay channels, so the other leg's relayProducer reports
// io.EOF (and that leg winds down with nil) only once the ctx passed to
// New is done.
func (r *Relay) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Left.Run(gctx) })
	g.Go(func() error { return r.Right.Run(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransportClosed, err)
	}
	return nil
}
