package relay

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/securestream/crypto/keyschedule"
	"github.com/sage-x-project/securestream/session"
)

type pairHandshaker struct {
	keys keyschedule.Keys
}

func (h *pairHandshaker) Handshake(ctx context.Context, conn session.ReadWriter, isInitiator bool) (keyschedule.Keys, error) {
	return h.keys, nil
}

func relayTestKeys(t *testing.T, label byte) keyschedule.Keys {
	t.Helper()
	z := make([]byte, 32)
	for i := range z {
		z[i] = label
	}
	salt := make([]byte, keyschedule.SaltSize)
	for i := range salt {
		salt[i] = label ^ 0xFF
	}
	k, err := keyschedule.Derive(z, salt)
	require.NoError(t, err)
	return k
}

type fixedProducer struct {
	aus [][]byte
	i   int
}

func (p *fixedProducer) NextAU(ctx context.Context) ([]byte, uint64, error) {
	if p.i >= len(p.aus) {
		return nil, 0, io.EOF
	}
	au := p.aus[p.i]
	p.i++
	return au, uint64(p.i), nil
}

type gatedProducer struct {
	release chan struct{}
}

func newGatedProducer() *gatedProducer { return &gatedProducer{release: make(chan struct{})} }
func (p *gatedProducer) open()         { close(p.release) }

func (p *gatedProducer) NextAU(ctx context.Context) ([]byte, uint64, error) {
	select {
	case <-p.release:
		return nil, 0, io.EOF
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

type collectConsumer struct {
	mu  sync.Mutex
	aus [][]byte
}

func (c *collectConsumer) Consume(au []byte, ts uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aus = append(c.aus, append([]byte(nil), au...))
	return nil
}

func (c *collectConsumer) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.aus)
}

func (c *collectConsumer) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.aus))
	copy(out, c.aus)
	return out
}

func waitForCount(t *testing.T, c *collectConsumer, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.len() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d relayed AUs, got %d", n, c.len())
}

// TestRelayForwardsAUsAcrossLegs wires externalA <-> Left <-> Right <-> externalB,
// each leg independently keyed, and checks every AU externalA produces arrives
// at externalB only after surviving decrypt-then-re-encrypt on both legs.
func TestRelayForwardsAUsAcrossLegs(t *testing.T) {
	connA, connLeft := net.Pipe()
	connRight, connB := net.Pipe()

	leftKeys := relayTestKeys(t, 0x11)
	rightKeys := relayTestKeys(t, 0x22)
	cfg := session.Config{Mechanism: session.MechanismKeyAgreement}.WithDefaults()

	aus := [][]byte{[]byte("frame-0"), []byte("frame-1"), []byte("frame-2")}
	externalAProducer := &fixedProducer{aus: aus}
	externalBProducer := newGatedProducer()
	externalBConsumer := &collectConsumer{}

	externalA := session.New("externalA", session.RoleInitiator, session.MechanismKeyAgreement, connA, &pairHandshaker{keys: leftKeys}, true, externalAProducer, &collectConsumer{}, cfg, nil)
	left := session.New("left", session.RoleListener, session.MechanismKeyAgreement, connLeft, &pairHandshaker{keys: leftKeys}, false, nil, nil, cfg, nil)
	right := session.New("right", session.RoleInitiator, session.MechanismKeyAgreement, connRight, &pairHandshaker{keys: rightKeys}, true, nil, nil, cfg, nil)
	externalB := session.New("externalB", session.RoleListener, session.MechanismKeyAgreement, connB, &pairHandshaker{keys: rightKeys}, false, externalBProducer, externalBConsumer, cfg, nil)

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	r := New(relayCtx, left, right)

	var wg sync.WaitGroup
	wg.Add(3)
	var errA, errRelay, errB error
	go func() { defer wg.Done(); errA = externalA.Run(context.Background()) }()
	go func() { defer wg.Done(); errRelay = r.Run(context.Background()) }()
	go func() { defer wg.Done(); errB = externalB.Run(context.Background()) }()

	waitForCount(t, externalBConsumer, len(aus))
	cancelRelay()
	externalBProducer.open()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errRelay)
	require.NoError(t, errB)
	assert.Equal(t, aus, externalBConsumer.snapshot())
}
