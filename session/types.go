// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"context"
	"time"

	"github.com/sage-x-project/securestream/crypto/keyschedule"
)

const GeneralPrefix = "session"

// State is one of the C7 session state-machine states.
type State int32

const (
	StateInit State = iota
	StateHandshaking
	StateEstablished
	StateRekeying
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateHandshaking:
		return "Handshaking"
	case StateEstablished:
		return "Established"
	case StateRekeying:
		return "Rekeying"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Mechanism selects the handshake primitive used to bootstrap session keys.
type Mechanism string

const (
	MechanismKeyTransport Mechanism = "key-transport"
	MechanismKeyAgreement Mechanism = "key-agreement"
	MechanismGroup        Mechanism = "group"
)

// Role is the node's role within the protocol.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleListener  Role = "listener"
	RoleLeader    Role = "leader"
	RoleMember    Role = "member"
	RoleRelay     Role = "relay"
)

// Member is one entry of a leader's configured roster.
type Member struct {
	NodeID  string
	Address string
}

// Config carries the options a Session is constructed with.
type Config struct {
	Mechanism             Mechanism     `yaml:"mechanism" json:"mechanism"`
	RSABits               int           `yaml:"rsa_bits" json:"rsa_bits"`
	RekeyInterval         time.Duration `yaml:"rekey_interval_s" json:"rekey_interval_s"`
	RekeyCounterThreshold uint32        `yaml:"rekey_counter_threshold" json:"rekey_counter_threshold"`
	MaxRecordBytes        uint32        `yaml:"max_record_bytes" json:"max_record_bytes"`
	BindSeqAAD            bool          `yaml:"bind_seq_aad" json:"bind_seq_aad"`
	Role                  Role          `yaml:"role" json:"role"`
	Members               []Member      `yaml:"members" json:"members"`

	// HandshakeTimeout sets the deadline of the context passed to
	// Handshaker.Handshake (default 10s). No transport deadline is set, and
	// the handshakers in package handshake do not watch that context, so a
	// peer that stops mid-handshake is not timed out by it.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout_s" json:"handshake_timeout_s"`
	// IdleTimeout holds the steady-state idle read timeout (default 60s).
	// Session does not read it; steady-state reads have no deadline.
	IdleTimeout time.Duration `yaml:"idle_timeout_s" json:"idle_timeout_s"`
}

// DefaultConfig returns the protocol's default option values.
func DefaultConfig() Config {
	return Config{
		Mechanism:             MechanismKeyAgreement,
		RSABits:               2048,
		RekeyInterval:         600 * time.Second,
		RekeyCounterThreshold: 1 << 20,
		MaxRecordBytes:        1 << 20,
		BindSeqAAD:            false,
		HandshakeTimeout:      10 * time.Second,
		IdleTimeout:           60 * time.Second,
	}
}

// WithDefaults fills zero-valued fields of c with DefaultConfig's values.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.RSABits == 0 {
		c.RSABits = d.RSABits
	}
	if c.RekeyInterval == 0 {
		c.RekeyInterval = d.RekeyInterval
	}
	if c.RekeyCounterThreshold == 0 {
		c.RekeyCounterThreshold = d.RekeyCounterThreshold
	}
	if c.MaxRecordBytes == 0 {
		c.MaxRecordBytes = d.MaxRecordBytes
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	return c
}

// recordType is the one-byte control-record discriminant.
type recordType byte

const (
	recordData        recordType = 0x00
	recordConfirm     recordType = 0x01
	recordRekeyHello  recordType = 0x02
	recordRekeyAck    recordType = 0x03
	recordGoodbye     recordType = 0x04
	recordGroupSecret recordType = 0x05
	recordGroupReady  recordType = 0x06
)

// frameHeaderSize is the fixed 12-byte FrameHeader: seq(u32 be) || capture_ts_ns(u64 be).
const frameHeaderSize = 12

// FrameHeader prefixes every Data record's plaintext.
type FrameHeader struct {
	Seq         uint32
	CaptureTsNs uint64
}

// FrameProducer supplies application units (AUs) for the send loop to seal
// and transmit. NextAU returns (nil, 0, io.EOF) when the source is
// exhausted; the send loop then sends Goodbye and closes the session.
type FrameProducer interface {
	NextAU(ctx context.Context) (au []byte, captureTsNs uint64, err error)
}

// FrameConsumer receives application units recovered from authenticated
// records. Consume is only ever called with AUs that passed AEAD open.
type FrameConsumer interface {
	Consume(au []byte, captureTsNs uint64) error
}

// Handshaker drives a single C5/C6 key-establishment exchange over conn and
// returns the resulting directional key schedule. Implementations live in
// the handshake package; Session depends only on this interface so that
// session and handshake do not import one another.
type Handshaker interface {
	Handshake(ctx context.Context, conn ReadWriter, isInitiator bool) (keyschedule.Keys, error)
}

// RekeyTieBreaker is an optional interface a Handshaker may implement to
// supply the value used to resolve a colliding rekey (both sides sending
// RekeyHello in the same instant): the numerically smaller value wins
// leadership of the round. A key-agreement handshaker implements this with
// the real ephemeral public key it is about to use for the rekey round
// itself (the same bytes it would put on the wire in Handshake), so the
// tie-break never needs a value unrelated to the handshake that follows.
// Handshakers that have no such value to offer (key-transport has no
// symmetric ephemeral key to compare) are left out of this interface, and
// Session falls back to a random per-round token.
type RekeyTieBreaker interface {
	RekeyTieBreakValue() ([]byte, error)
}

// ReadWriter is the minimal transport surface a Session needs: independent
// half-duplex read and write sides (the send and receive loops never call
// the other's half).
type ReadWriter interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Closer half of the transport, closed once on session teardown.
type Closer interface {
	Close() error
}

// Transport is the full connection handle a Session owns exclusively.
type Transport interface {
	ReadWriter
	Closer
}

// Status summarizes a Manager's sessions.
type Status struct {
	TotalSessions   int `json:"totalSessions"`
	ActiveSessions  int `json:"activeSessions"`
	ExpiredSessions int `json:"expiredSessions"`
}
