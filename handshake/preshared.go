package handshake

import (
	"context"

	"github.com/sage-x-project/securestream/crypto/keyschedule"
	"github.com/sage-x-project/securestream/session"
)

// Preshared implements session.Handshaker by returning an
// already-derived key schedule instead of running wire I/O. It is used for
// the C8 group stream: the leader derives group keys once via
// keyschedule.DeriveGroup(group_secret, salt) and every member does the same
// after receiving group_secret||salt over its pairwise channel, so no
// further handshake bytes are needed to bring the shared group Session to
// Established.
//
// Preshared does not support rekey in the usual sense: re-deriving from
// the same (Z, salt) would hand back identical keys, so a group Session
// built on it should disable counter/time rekey triggers (set
// RekeyCounterThreshold/RekeyInterval to 0) or be torn down and
// redistributed by the leader instead.
type Preshared struct {
	keys keyschedule.Keys
}

// NewPreshared wraps an already-derived key schedule.
func NewPreshared(keys keyschedule.Keys) *Preshared {
	return &Preshared{keys: keys}
}

// Handshake returns a copy of the wrapped keys; conn and isInitiator are
// unused beyond selecting which side's directional assignment applies
// (handled by keyschedule.Keys.ForRole using the Session's own isInitiator).
func (p *Preshared) Handshake(ctx context.Context, conn session.ReadWriter, isInitiator bool) (keyschedule.Keys, error) {
	return keyschedule.Keys{
		KeyAtoB:  append([]byte(nil), p.keys.KeyAtoB...),
		BaseAtoB: append([]byte(nil), p.keys.BaseAtoB...),
		KeyBtoA:  append([]byte(nil), p.keys.KeyBtoA...),
		BaseBtoA: append([]byte(nil), p.keys.BaseBtoA...),
	}, nil
}
