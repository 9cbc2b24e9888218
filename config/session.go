package config

import (
	"fmt"
	"strings"

	"github.com/sage-x-project/securestream/session"
)

// Build converts the on-disk/env-var SessionConfig into a session.Config,
// parsing each "node_id@host:port" member entry into a session.Member.
func (s *SessionConfig) Build() (session.Config, error) {
	if s == nil {
		return session.DefaultConfig(), nil
	}

	members := make([]session.Member, 0, len(s.Members))
	for _, m := range s.Members {
		parts := strings.SplitN(m, "@", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return session.Config{}, fmt.Errorf("config: invalid member entry %q, expected node_id@host:port", m)
		}
		members = append(members, session.Member{NodeID: parts[0], Address: parts[1]})
	}

	return session.Config{
		Mechanism:             session.Mechanism(s.Mechanism),
		RSABits:               s.RSABits,
		RekeyInterval:         s.RekeyInterval(),
		RekeyCounterThreshold: s.RekeyCounterThreshold,
		MaxRecordBytes:        s.MaxRecordBytes,
		BindSeqAAD:            s.BindSeqAAD,
		Role:                  session.Role(s.Role),
		Members:               members,
		HandshakeTimeout:      s.HandshakeTimeout(),
		IdleTimeout:           s.IdleTimeout(),
	}.WithDefaults(), nil
}
