package session_test

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
	"github.com/sage-x-project/securestream/handshake"
	"github.com/sage-x-project/securestream/session"
)

// fixedProducer emits a fixed slice of AUs, one per call, then io.EOF.
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

// gatedProducer blocks until release is closed, then reports EOF. Used on
// a receive-only side of a test Session: because sendLoop closes its own
// conn on producer EOF, a receive-only side must not report EOF until the
// test has confirmed every expected AU has already been consumed, or the
// early close would race recvLoop's still-pending reads.
type gatedProducer struct {
	release chan struct{}
}

func newGatedProducer() *gatedProducer { return &gatedProducer{release: make(chan struct{})} }

func (p *gatedProducer) NextAU(ctx context.Context) ([]byte, uint64, error) {
	select {
	case <-p.release:
		return nil, 0, io.EOF
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (p *gatedProducer) open() { close(p.release) }

// collectConsumer appends every AU it receives, in order.
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

func (c *collectConsumer) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.aus))
	copy(out, c.aus)
	return out
}

func (c *collectConsumer) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.aus)
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
	t.Fatalf("timed out waiting for %d AUs, got %d", n, c.len())
}

// pairHandshaker is a stub session.Handshaker that returns an already-
// derived key schedule without any wire round trip, used to isolate the
// session state-machine tests from the concrete C5/C6 implementations.
type pairHandshaker struct {
	keys keyschedule.Keys
}

func (h *pairHandshaker) Handshake(ctx context.Context, conn session.ReadWriter, isInitiator bool) (keyschedule.Keys, error) {
	return keyschedule.Keys{
		KeyAtoB:  append([]byte(nil), h.keys.KeyAtoB...),
		BaseAtoB: append([]byte(nil), h.keys.BaseAtoB...),
		KeyBtoA:  append([]byte(nil), h.keys.KeyBtoA...),
		BaseBtoA: append([]byte(nil), h.keys.BaseBtoA...),
	}, nil
}

func freshKeys(t *testing.T) keyschedule.Keys {
	t.Helper()
	z := []byte("0123456789abcdef0123456789abcdef")
	salt := make([]byte, keyschedule.SaltSize)
	for i := range salt {
		salt[i] = byte(i)
	}
	k, err := keyschedule.Derive(z, salt)
	require.NoError(t, err)
	return k
}

func TestSessionRunDeliversAllAUsThenCloses(t *testing.T) {
	connA, connB := net.Pipe()
	keys := freshKeys(t)

	aus := [][]byte{[]byte("au-0"), []byte("au-1"), []byte("au-2")}
	senderProducer := &fixedProducer{aus: aus}
	receiverConsumer := &collectConsumer{}
	receiverProducer := newGatedProducer()

	cfg := session.Config{Mechanism: session.MechanismKeyAgreement}.WithDefaults()

	initiator := session.New("initiator", session.RoleInitiator, session.MechanismKeyAgreement, connA, &pairHandshaker{keys: keys}, true, senderProducer, &collectConsumer{}, cfg, nil)
	listener := session.New("listener", session.RoleListener, session.MechanismKeyAgreement, connB, &pairHandshaker{keys: keys}, false, receiverProducer, receiverConsumer, cfg, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	var initErr, listenErr error
	go func() { defer wg.Done(); initErr = initiator.Run(context.Background()) }()
	go func() { defer wg.Done(); listenErr = listener.Run(context.Background()) }()

	waitForCount(t, receiverConsumer, len(aus))
	receiverProducer.open()
	wg.Wait()

	require.NoError(t, initErr)
	require.NoError(t, listenErr)
	assert.Equal(t, aus, receiverConsumer.snapshot())
	assert.Equal(t, session.StateClosed, initiator.State())
	assert.Equal(t, session.StateClosed, listener.State())
	assert.Equal(t, len(aus), initiator.GetMessageCount())
}

func TestSessionHandshakeOnlyDoesNotRunLoops(t *testing.T) {
	connA, connB := net.Pipe()
	keys := freshKeys(t)
	cfg := session.Config{Mechanism: session.MechanismKeyAgreement}.WithDefaults()

	a := session.New("a", session.RoleLeader, session.MechanismKeyAgreement, connA, &pairHandshaker{keys: keys}, true, nil, nil, cfg, nil)
	b := session.New("b", session.RoleMember, session.MechanismKeyAgreement, connB, &pairHandshaker{keys: keys}, false, nil, nil, cfg, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() { defer wg.Done(); errA = a.Handshake(context.Background()) }()
	go func() { defer wg.Done(); errB = b.Handshake(context.Background()) }()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, session.StateEstablished, a.State())
	assert.Equal(t, session.StateEstablished, b.State())

	connA.Close()
	connB.Close()
}

func TestSessionGroupSecretControlExchange(t *testing.T) {
	connA, connB := net.Pipe()
	keys := freshKeys(t)
	cfg := session.Config{Mechanism: session.MechanismGroup}.WithDefaults()

	leader := session.New("leader", session.RoleLeader, session.MechanismGroup, connA, &pairHandshaker{keys: keys}, true, nil, nil, cfg, nil)
	member := session.New("member", session.RoleMember, session.MechanismGroup, connB, &pairHandshaker{keys: keys}, false, nil, nil, cfg, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); require.NoError(t, leader.Handshake(context.Background())) }()
	go func() { defer wg.Done(); require.NoError(t, member.Handshake(context.Background())) }()
	wg.Wait()

	payload := append([]byte{0x5A, 0x5A}, bytesOfLen(64)...)

	var wg2 sync.WaitGroup
	wg2.Add(2)
	var sendErr, recvErr, readyErr, recvReadyErr error
	var gotPayload []byte
	go func() {
		defer wg2.Done()
		sendErr = leader.SendControlGroupSecret(payload)
		recvReadyErr = leader.RecvGroupReady()
	}()
	go func() {
		defer wg2.Done()
		gotPayload, recvErr = member.RecvControlGroupSecret()
		readyErr = member.SendGroupReady()
	}()
	wg2.Wait()

	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	require.NoError(t, readyErr)
	require.NoError(t, recvReadyErr)
	assert.Equal(t, payload, gotPayload)

	connA.Close()
	connB.Close()
}

func bytesOfLen(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSessionTriggersRekeyOnCounterThreshold(t *testing.T) {
	connA, connB := net.Pipe()

	aus := make([][]byte, 10)
	for i := range aus {
		aus[i] = []byte{byte(i)}
	}
	senderProducer := &fixedProducer{aus: aus}
	receiverConsumer := &collectConsumer{}
	receiverProducer := newGatedProducer()

	cfg := session.Config{
		Mechanism:             session.MechanismKeyAgreement,
		RekeyCounterThreshold: 3,
	}.WithDefaults()

	// Both sides use the real key-agreement handshaker here since rekey
	// re-invokes it mid-stream over the same conn; a canned-key stub would
	// mask whether the session actually re-derived a fresh schedule.
	a := session.New("a", session.RoleInitiator, session.MechanismKeyAgreement, connA, handshake.NewKeyAgreement(), true, senderProducer, &collectConsumer{}, cfg, nil)
	b := session.New("b", session.RoleListener, session.MechanismKeyAgreement, connB, handshake.NewKeyAgreement(), false, receiverProducer, receiverConsumer, cfg, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() { defer wg.Done(); errA = a.Run(context.Background()) }()
	go func() { defer wg.Done(); errB = b.Run(context.Background()) }()

	waitForCount(t, receiverConsumer, len(aus))
	receiverProducer.open()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, aus, receiverConsumer.snapshot())
}

func TestSessionConfigDefaults(t *testing.T) {
	cfg := session.Config{}.WithDefaults()
	assert.Equal(t, 2048, cfg.RSABits)
	assert.Equal(t, 600*time.Second, cfg.RekeyInterval)
	assert.Equal(t, uint32(1<<20), cfg.RekeyCounterThreshold)
	assert.Equal(t, uint32(1<<20), cfg.MaxRecordBytes)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
}
