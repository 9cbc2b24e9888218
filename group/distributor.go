// Package group implements the C8 group-key distributor: a leader fans a
// single group secret to N members over pairwise secure channels, then
// waits for each member to confirm it received the group secret.
//
// Grounded on session/manager.go's session-table pattern (one *session.Session
// per member here) and on core/message/order/manager.go's fan-out-then-await
// style for the leader's parallel per-member dispatch.
package group

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/sage-x-project/securestream/crypto/keyschedule"
	"github.com/sage-x-project/securestream/errs"
	"github.com/sage-x-project/securestream/session"
)

const groupSecretSize = 32

// MemberChannel is one leader<->member pairwise connection, already past
// its own C5/C6 handshake (Established) before the leader calls Distribute.
type MemberChannel struct {
	NodeID  string
	Session *session.Session
}

// Result reports the outcome of distribution for one member.
type Result struct {
	NodeID string
	Err    error
}

// Distribute samples a fresh group_secret and salt, sends group_secret||salt
// as the first steady-state record on each pairwise channel, and waits for
// each member's GroupReady acknowledgement. On any member's failure the
// leader reports it in that member's Result and wipes group_secret from
// leader memory. When every member succeeds, the secret is returned to the
// caller, which is responsible for wiping it.
//
// Distribute itself never installs the group keys; a caller derives them
// identically on every node via keyschedule.DeriveGroup(secret, salt) — the
// leader immediately after a successful Distribute, each member after
// receiving its GroupSecret record — and builds the shared group Session
// with handshake.NewPreshared(keys). DeriveGroup, not the plain
// keyschedule.Derive used for pairwise handshakes, keeps the group stream's
// key schedule under its own domain-separation label.
func Distribute(ctx context.Context, channels []MemberChannel) ([]byte, []byte, []Result, error) {
	if len(channels) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: no members configured", errs.ErrConfig)
	}

	secret := make([]byte, groupSecretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: sample group secret: %v", errs.ErrHandshakeFailed, err)
	}
	salt := make([]byte, keyschedule.SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		keyschedule.WipeSecret(secret)
		return nil, nil, nil, fmt.Errorf("%w: sample group salt: %v", errs.ErrHandshakeFailed, err)
	}

	payload := append(append([]byte(nil), secret...), salt...)

	results := make([]Result, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch MemberChannel) {
			defer wg.Done()
			results[i] = Result{NodeID: ch.NodeID, Err: distributeToMember(ch.Session, payload)}
		}(i, ch)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			keyschedule.WipeSecret(secret)
			return nil, nil, results, fmt.Errorf("%w: member %s: %v", errs.ErrHandshakeFailed, r.NodeID, r.Err)
		}
	}
	return secret, salt, results, nil
}

// distributeToMember sends group_secret||salt on an already-Established
// pairwise session and waits for the member's GroupReady acknowledgement.
func distributeToMember(sess *session.Session, payload []byte) error {
	if sess.State() != session.StateEstablished {
		return fmt.Errorf("%w: member channel not established", errs.ErrHandshakeFailed)
	}
	if err := sess.SendControlGroupSecret(payload); err != nil {
		return err
	}
	return sess.RecvGroupReady()
}

// Join is the member-side counterpart: it blocks for the leader's
// GroupSecret record on an Established pairwise channel, acknowledges it,
// and returns the group_secret and salt for the caller to derive keys
// with keyschedule.DeriveGroup.
func Join(sess *session.Session) (secret, salt []byte, err error) {
	if sess.State() != session.StateEstablished {
		return nil, nil, fmt.Errorf("%w: pairwise channel not established", errs.ErrHandshakeFailed)
	}
	payload, err := sess.RecvControlGroupSecret()
	if err != nil {
		return nil, nil, err
	}
	if len(payload) != groupSecretSize+keyschedule.SaltSize {
		return nil, nil, fmt.Errorf("%w: group secret payload has wrong length", errs.ErrMalformedRecord)
	}
	secret = append([]byte(nil), payload[:groupSecretSize]...)
	salt = append([]byte(nil), payload[groupSecretSize:]...)
	if err := sess.SendGroupReady(); err != nil {
		keyschedule.WipeSecret(secret)
		return nil, nil, err
	}
	return secret, salt, nil
}
