package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sage-x-project/securestream/crypto/aeadctx"
	"github.com/sage-x-project/securestream/crypto/keyschedule"
	"github.com/sage-x-project/securestream/errs"
	"github.com/sage-x-project/securestream/record"
)

// Session drives one C7 state machine over a single transport: handshake,
// the mandatory Confirm exchange, steady-state send/receive loops, and
// in-band rekey. One Session owns its transport exclusively; the receive
// loop is the sole reader. Both loops write: the send loop writes data
// records and, via beginRekey, RekeyHello; the receive loop writes RekeyAck
// and the in-band rekey handshake bytes.
type Session struct {
	id          string
	role        Role
	mechanism   Mechanism
	isInitiator bool
	cfg         Config
	hs          Handshaker
	conn        Transport
	producer    FrameProducer
	consumer    FrameConsumer
	observer    Observer

	state      int32 // atomic, one of the State consts
	createdAt  time.Time
	keyMu      sync.RWMutex
	tx         *aeadctx.Context
	rx         *aeadctx.Context
	keyEpochAt time.Time // when the current tx/rx pair was installed

	sendSeq      uint32
	messageCount int64

	sendPauseMu sync.Mutex
	sendCond    *sync.Cond
	rekeying    bool

	closeOnce sync.Once
	doneCh    chan struct{}
	failErr   atomic.Value // error

	rekeyMu           sync.Mutex
	rekeyLocalPending bool
	rekeyLocalToken   []byte
}

// New constructs a Session in state Init. Call Run to drive it to
// completion (handshake, steady state, eventual Closed/Failed).
func New(id string, role Role, mechanism Mechanism, conn Transport, hs Handshaker, isInitiator bool, producer FrameProducer, consumer FrameConsumer, cfg Config, obs Observer) *Session {
	if obs == nil {
		obs = NoopObserver{}
	}
	s := &Session{
		id:          id,
		role:        role,
		mechanism:   mechanism,
		isInitiator: isInitiator,
		cfg:         cfg.WithDefaults(),
		hs:          hs,
		conn:        conn,
		producer:    producer,
		consumer:    consumer,
		observer:    obs,
		createdAt:   time.Now(),
		doneCh:      make(chan struct{}),
	}
	if mechanism == MechanismGroup {
		// A group stream re-derives identical keys on every handshake, so a
		// zero rekey trigger stays 0 (disabled) instead of taking the default.
		s.cfg.RekeyInterval = cfg.RekeyInterval
		s.cfg.RekeyCounterThreshold = cfg.RekeyCounterThreshold
	}
	s.sendCond = sync.NewCond(&s.sendPauseMu)
	atomic.StoreInt32(&s.state, int32(StateInit))
	return s
}

// SetProducerConsumer replaces the Session's FrameProducer/FrameConsumer.
// Valid only before Run is called (e.g. a relay wiring both legs of its
// pump immediately after New); it is not safe to call once the steady-
// state loops are running.
func (s *Session) SetProducerConsumer(producer FrameProducer, consumer FrameConsumer) {
	s.producer = producer
	s.consumer = consumer
}

func (s *Session) GetID() string        { return s.id }
func (s *Session) GetCreatedAt() time.Time { return s.createdAt }
func (s *Session) State() State         { return State(atomic.LoadInt32(&s.state)) }
func (s *Session) GetConfig() Config    { return s.cfg }
func (s *Session) GetMessageCount() int { return int(atomic.LoadInt64(&s.messageCount)) }

func (s *Session) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
}

func (s *Session) fail(err error) error {
	s.failErr.CompareAndSwap(nil, err)
	s.setState(StateFailed)
	s.observer.OnError(s.id, err)
	_ = s.conn.Close()
	s.closeOnce.Do(func() { close(s.doneCh) })
	return err
}

// Err returns the error that caused the session to fail, if any.
func (s *Session) Err() error {
	if v := s.failErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done is closed when the session reaches Closed or Failed.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Handshake drives Init -> Established and exchanges the mandatory
// Confirm record, then returns without starting the steady-state loops.
// It is used for pairwise group-distribution channels, which need an
// Established Session to exchange a handful of control records directly
// (see SendControlGroupSecret/RecvControlGroupSecret) but never run
// Run's send/receive loop pair.
func (s *Session) Handshake(ctx context.Context) error {
	return s.handshakeAndConfirm(ctx)
}

// SendControlGroupSecret seals and writes payload (group_secret||salt) as
// a single GroupSecret control record. The session must already be
// Established; callers do not otherwise drive this Session through Run.
func (s *Session) SendControlGroupSecret(payload []byte) error {
	if s.State() != StateEstablished {
		return fmt.Errorf("%w: session not established", errs.ErrHandshakeFailed)
	}
	return s.writeControl(recordGroupSecret, 0, 0, payload)
}

// RecvControlGroupSecret blocks for the next control record and returns
// its payload if it is a GroupSecret record, used by group members
// waiting on their leader's distribution.
func (s *Session) RecvControlGroupSecret() ([]byte, error) {
	rt, _, _, payload, err := s.readControl()
	if err != nil {
		return nil, err
	}
	if rt != recordGroupSecret {
		return nil, fmt.Errorf("%w: expected GroupSecret, got record type %d", errs.ErrMalformedRecord, rt)
	}
	return payload, nil
}

// SendGroupReady writes a GroupReady acknowledgement, used by a member to
// confirm it has received a GroupSecret record.
func (s *Session) SendGroupReady() error {
	if s.State() != StateEstablished {
		return fmt.Errorf("%w: session not established", errs.ErrHandshakeFailed)
	}
	return s.writeControl(recordGroupReady, 0, 0, nil)
}

// RecvGroupReady blocks for the next control record and confirms it is a
// GroupReady acknowledgement, used by a leader awaiting member confirmation.
func (s *Session) RecvGroupReady() error {
	rt, _, _, _, err := s.readControl()
	if err != nil {
		return err
	}
	if rt != recordGroupReady {
		return fmt.Errorf("%w: expected GroupReady, got record type %d", errs.ErrMalformedRecord, rt)
	}
	return nil
}

// Run drives Init -> Handshaking -> Established, exchanges the mandatory
// Confirm, then blocks running the send and receive loops until the
// session closes or fails. It returns the terminal error, or nil on an
// orderly Goodbye-initiated close.
func (s *Session) Run(ctx context.Context) error {
	if err := s.handshakeAndConfirm(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.recvLoop(ctx) }()
	go func() { errCh <- s.sendLoop(ctx) }()

	err1 := <-errCh
	err2 := <-errCh
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Session) handshakeAndConfirm(ctx context.Context) error {
	s.setState(StateHandshaking)
	s.observer.OnHandshakeStart(s.id, s.mechanism)

	hctx := ctx
	var cancel context.CancelFunc
	if s.cfg.HandshakeTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	keys, err := s.hs.Handshake(hctx, s.conn, s.isInitiator)
	if err != nil {
		s.observer.OnHandshakeEnd(s.id, s.mechanism, err)
		return s.fail(fmt.Errorf("%w: %v", errs.ErrHandshakeFailed, err))
	}

	s.installKeys(keys)
	s.observer.OnHandshakeEnd(s.id, s.mechanism, nil)
	s.setState(StateEstablished)
	s.keyEpochAt = time.Now()

	if err := s.exchangeConfirm(); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Session) installKeys(keys keyschedule.Keys) {
	txKey, txBase, rxKey, rxBase := keys.ForRole(s.isInitiator)
	tx, err := aeadctx.New(txKey, txBase)
	if err != nil {
		panic("session: invalid derived tx key material: " + err.Error())
	}
	rx, err := aeadctx.New(rxKey, rxBase)
	if err != nil {
		panic("session: invalid derived rx key material: " + err.Error())
	}
	keys.Wipe()

	s.keyMu.Lock()
	old := s.tx
	oldRx := s.rx
	s.tx = tx
	s.rx = rx
	s.keyMu.Unlock()

	if old != nil {
		old.Wipe()
	}
	if oldRx != nil {
		oldRx.Wipe()
	}
	atomic.StoreUint32(&s.sendSeq, 0)
}

// exchangeConfirm performs the mandatory post-handshake Confirm record
// exchange: plaintext = 16 zero bytes, seq=0, AEAD counter=0. Both sides
// write, then both read, so a slow peer cannot deadlock a fast one.
func (s *Session) exchangeConfirm() error {
	payload := make([]byte, 16)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- s.writeControl(recordConfirm, 0, 0, payload)
	}()

	gotType, _, _, _, err := s.readControl()
	if werr := <-writeErr; werr != nil {
		return fmt.Errorf("%w: confirm write: %v", errs.ErrHandshakeFailed, werr)
	}
	if err != nil {
		return fmt.Errorf("%w: confirm read: %v", errs.ErrHandshakeFailed, err)
	}
	if gotType != recordConfirm {
		return fmt.Errorf("%w: expected Confirm, got record type %d", errs.ErrHandshakeFailed, gotType)
	}
	return nil
}

// --- wire helpers -----------------------------------------------------

func (s *Session) writeControl(rt recordType, seq uint32, ts uint64, payload []byte) error {
	plaintext := make([]byte, 1+frameHeaderSize+len(payload))
	plaintext[0] = byte(rt)
	binary.BigEndian.PutUint32(plaintext[1:5], seq)
	binary.BigEndian.PutUint64(plaintext[5:13], ts)
	copy(plaintext[13:], payload)

	s.keyMu.RLock()
	tx := s.tx
	s.keyMu.RUnlock()

	var aad []byte
	if s.cfg.BindSeqAAD {
		aad = seqAAD(tx.ExpectedCounter())
	}
	nonce, ct, err := tx.Seal(aad, plaintext)
	if err != nil {
		return err
	}
	if err := record.Encode(s.conn, nonce, ct); err != nil {
		return err
	}
	s.observer.OnRecordSealed(s.id, seq, 4+len(nonce)+len(ct))
	return nil
}

func (s *Session) readControl() (rt recordType, seq uint32, ts uint64, payload []byte, err error) {
	nonce, ct, derr := record.Decode(s.conn, s.cfg.MaxRecordBytes)
	if derr != nil {
		return 0, 0, 0, nil, derr
	}

	s.keyMu.RLock()
	rx := s.rx
	s.keyMu.RUnlock()

	var aad []byte
	if s.cfg.BindSeqAAD {
		// bind_seq_aad binds each record to its AEAD counter value (the
		// quantity the receiver can compute before opening) rather than
		// the FrameHeader seq field, which only becomes known after a
		// successful open. The two are independent: control records
		// (Confirm, rekey, Goodbye) consume counter values without
		// advancing seq.
		aad = seqAAD(rx.ExpectedCounter())
	}
	pt, oerr := rx.OpenExpected(nonce, aad, ct)
	if oerr != nil {
		return 0, 0, 0, nil, oerr
	}
	s.observer.OnRecordOpened(s.id, 0, 4+len(nonce)+len(ct))
	if len(pt) < 1+frameHeaderSize {
		return 0, 0, 0, nil, errs.ErrMalformedRecord
	}
	rt = recordType(pt[0])
	seq = binary.BigEndian.Uint32(pt[1:5])
	ts = binary.BigEndian.Uint64(pt[5:13])
	return rt, seq, ts, pt[13:], nil
}

func seqAAD(seq uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, seq)
	return b
}

// --- steady-state loops -------------------------------------------------

func (s *Session) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-s.doneCh:
			return nil
		default:
		}

		s.waitWhileRekeying()
		if s.State() == StateFailed || s.State() == StateClosed {
			return nil
		}

		au, ts, err := s.producer.NextAU(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = s.writeControl(recordGoodbye, 0, 0, nil)
				s.setState(StateClosed)
				s.closeOnce.Do(func() { close(s.doneCh) })
				_ = s.conn.Close()
				return nil
			}
			return s.fail(err)
		}

		seq := atomic.AddUint32(&s.sendSeq, 1) - 1
		if err := s.sealAndSend(seq, ts, au); err != nil {
			return s.fail(err)
		}

		if s.shouldRekey() {
			if err := s.beginRekey(ctx, true); err != nil {
				return s.fail(err)
			}
		}
	}
}

func (s *Session) sealAndSend(seq uint32, ts uint64, au []byte) error {
	plaintext := make([]byte, 1+frameHeaderSize+len(au))
	plaintext[0] = byte(recordData)
	binary.BigEndian.PutUint32(plaintext[1:5], seq)
	binary.BigEndian.PutUint64(plaintext[5:13], ts)
	copy(plaintext[13:], au)

	s.keyMu.RLock()
	tx := s.tx
	s.keyMu.RUnlock()

	var aad []byte
	if s.cfg.BindSeqAAD {
		aad = seqAAD(tx.ExpectedCounter())
	}
	nonce, ct, err := tx.Seal(aad, plaintext)
	if err != nil {
		return err
	}
	if err := record.Encode(s.conn, nonce, ct); err != nil {
		return err
	}
	atomic.AddInt64(&s.messageCount, 1)
	s.observer.OnRecordSealed(s.id, seq, 4+len(nonce)+len(ct))
	return nil
}

func (s *Session) shouldRekey() bool {
	s.keyMu.RLock()
	tx := s.tx
	s.keyMu.RUnlock()
	if s.cfg.RekeyCounterThreshold > 0 && tx.ExpectedCounter() >= s.cfg.RekeyCounterThreshold {
		return true
	}
	if s.cfg.RekeyInterval > 0 && time.Since(s.keyEpochAt) >= s.cfg.RekeyInterval {
		return true
	}
	return false
}

func (s *Session) waitWhileRekeying() {
	s.sendPauseMu.Lock()
	for s.rekeying {
		s.sendCond.Wait()
	}
	s.sendPauseMu.Unlock()
}

func (s *Session) pauseSend() {
	s.sendPauseMu.Lock()
	s.rekeying = true
	s.sendPauseMu.Unlock()
}

func (s *Session) resumeSend() {
	s.sendPauseMu.Lock()
	s.rekeying = false
	s.sendPauseMu.Unlock()
	s.sendCond.Broadcast()
}

func (s *Session) recvLoop(ctx context.Context) error {
	for {
		select {
		case <-s.doneCh:
			return nil
		default:
		}

		rt, _, ts, payload, err := s.readControl()
		if err != nil {
			if errors.Is(err, errs.ErrTransportClosed) {
				if s.State() == StateClosed {
					return nil
				}
				return s.fail(err)
			}
			return s.fail(err)
		}

		switch rt {
		case recordData:
			if err := s.consumer.Consume(payload, ts); err != nil {
				return s.fail(err)
			}
		case recordGoodbye:
			s.setState(StateClosed)
			s.closeOnce.Do(func() { close(s.doneCh) })
			_ = s.conn.Close()
			return nil
		case recordRekeyHello:
			if err := s.onPeerRekeyHello(ctx, payload); err != nil {
				return s.fail(err)
			}
		case recordRekeyAck:
			if err := s.onPeerRekeyAck(ctx); err != nil {
				return s.fail(err)
			}
		default:
			return s.fail(fmt.Errorf("%w: unexpected control record type %d", errs.ErrMalformedRecord, rt))
		}
	}
}

// --- rekey (C7 Established -> Rekeying -> Established) -----------------

// beginRekey is called from sendLoop when it locally observes a rekey
// trigger. It sends RekeyHello and pauses the send loop; the actual
// handshake is driven from recvLoop once the peer's RekeyAck (or a
// colliding RekeyHello) arrives, since recvLoop is this Session's sole
// reader and the only goroutine that may perform the in-band handshake
// I/O (which needs both read and write access to conn without racing the
// paused send loop).
func (s *Session) beginRekey(ctx context.Context, localTriggered bool) error {
	s.observer.OnRekeyStart(s.id)
	s.setState(StateRekeying)
	s.pauseSend()

	token, err := s.rekeyTieBreakValue()
	if err != nil {
		return fmt.Errorf("%w: rekey token: %v", errs.ErrHandshakeFailed, err)
	}

	s.rekeyMu.Lock()
	s.rekeyLocalPending = true
	s.rekeyLocalToken = token
	s.rekeyMu.Unlock()

	if err := s.writeControl(recordRekeyHello, 0, 0, token); err != nil {
		return fmt.Errorf("%w: rekey hello: %v", errs.ErrHandshakeFailed, err)
	}
	return nil
}

// rekeyTieBreakValue returns the bytes this side offers to resolve a
// colliding RekeyHello. A handshaker that implements RekeyTieBreaker (the
// key-agreement mechanism, using its real upcoming ephemeral public key)
// is preferred; otherwise a fresh random 16-byte token stands in (the
// key-transport mechanism has no symmetric ephemeral key to compare).
func (s *Session) rekeyTieBreakValue() ([]byte, error) {
	if tb, ok := s.hs.(RekeyTieBreaker); ok {
		return tb.RekeyTieBreakValue()
	}
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return nil, err
	}
	return token, nil
}

// onPeerRekeyHello runs on recvLoop when a RekeyHello arrives.
func (s *Session) onPeerRekeyHello(ctx context.Context, peerToken []byte) error {
	s.rekeyMu.Lock()
	localPending := s.rekeyLocalPending
	localToken := s.rekeyLocalToken
	s.rekeyMu.Unlock()

	if !localPending {
		// Peer-initiated: we are the follower. Enter Rekeying, pause our
		// own send loop too so no Data records race the handshake bytes.
		s.observer.OnRekeyStart(s.id)
		s.setState(StateRekeying)
		s.pauseSend()
		if err := s.writeControl(recordRekeyAck, 0, 0, nil); err != nil {
			return fmt.Errorf("%w: rekey ack: %v", errs.ErrHandshakeFailed, err)
		}
		return s.runRekeyHandshake(ctx)
	}

	// Collision: both sides sent RekeyHello. Tie-break on the token bytes.
	if bytesLess(localToken, peerToken) {
		// We remain leader; peer will send us a RekeyAck shortly.
		return nil
	}
	// We lost the tie-break: withdraw our own Hello, become follower.
	if err := s.writeControl(recordRekeyAck, 0, 0, nil); err != nil {
		return fmt.Errorf("%w: rekey ack: %v", errs.ErrHandshakeFailed, err)
	}
	return s.runRekeyHandshake(ctx)
}

// onPeerRekeyAck runs on recvLoop when our own RekeyHello is acknowledged.
func (s *Session) onPeerRekeyAck(ctx context.Context) error {
	return s.runRekeyHandshake(ctx)
}

func (s *Session) runRekeyHandshake(ctx context.Context) error {
	hctx := ctx
	var cancel context.CancelFunc
	if s.cfg.HandshakeTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	keys, err := s.hs.Handshake(hctx, s.conn, s.isInitiator)
	if err != nil {
		s.observer.OnRekeyEnd(s.id, err)
		return fmt.Errorf("%w: rekey: %v", errs.ErrHandshakeFailed, err)
	}

	s.installKeys(keys)
	s.keyEpochAt = time.Now()
	s.setState(StateEstablished)

	s.rekeyMu.Lock()
	s.rekeyLocalPending = false
	s.rekeyMu.Unlock()

	s.resumeSend()
	s.observer.OnRekeyEnd(s.id, nil)
	return nil
}

func bytesLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Close performs an orderly shutdown: sends Goodbye if still writable,
// closes the transport, and wipes all key material.
func (s *Session) Close() error {
	if s.State() != StateClosed && s.State() != StateFailed {
		_ = s.writeControl(recordGoodbye, 0, 0, nil)
		s.setState(StateClosed)
	}
	s.closeOnce.Do(func() { close(s.doneCh) })
	err := s.conn.Close()

	s.keyMu.Lock()
	if s.tx != nil {
		s.tx.Wipe()
	}
	if s.rx != nil {
		s.rx.Wipe()
	}
	s.keyMu.Unlock()

	return err
}
