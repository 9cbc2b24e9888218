package main

import (
	"fmt"
	"net"
	"strings"
	"time"

	sagecrypto "github.com/sage-x-project/securestream/crypto"
	"github.com/sage-x-project/securestream/crypto/keys"
	"github.com/sage-x-project/securestream/crypto/storage"
	"github.com/sage-x-project/securestream/errs"
	"github.com/sage-x-project/securestream/handshake"
	"github.com/sage-x-project/securestream/internal/logger"
	"github.com/sage-x-project/securestream/session"
)

// exitCodeForErr maps any error returned from a subcommand's RunE to the
// external-interfaces exit code contract (errs.ExitCode).
func exitCodeForErr(err error) int {
	return errs.ExitCode(err)
}

// buildSessionConfig assembles a session.Config from the flags common to
// every subcommand that drives a pairwise session.
func buildSessionConfig(mechanism string, rsaBits int, rekeyInterval time.Duration, rekeyCounterThreshold uint32, bindSeqAAD bool, role session.Role) session.Config {
	return session.Config{
		Mechanism:             session.Mechanism(mechanism),
		RSABits:               rsaBits,
		RekeyInterval:         rekeyInterval,
		RekeyCounterThreshold: rekeyCounterThreshold,
		BindSeqAAD:            bindSeqAAD,
		Role:                  role,
	}.WithDefaults()
}

// buildGroupSessionConfig assembles the session.Config for the shared group
// stream driven by handshake.Preshared. It takes the other fallbacks from
// WithDefaults and then sets both rekey triggers back to 0 (disabled):
// Preshared re-derives the identical key schedule on every Handshake call,
// so the non-zero session defaults do not apply here.
func buildGroupSessionConfig(mechanism string, bindSeqAAD bool, role session.Role) session.Config {
	cfg := session.Config{
		Mechanism:             session.Mechanism(mechanism),
		RekeyInterval:         0,
		RekeyCounterThreshold: 0,
		BindSeqAAD:            bindSeqAAD,
		Role:                  role,
	}.WithDefaults()
	cfg.RekeyInterval = 0
	cfg.RekeyCounterThreshold = 0
	return cfg
}

// loadRSAIdentity reads a PEM-encoded RSA private key previously written by
// "securestream keygen" out of a file-backed key store.
func loadRSAIdentity(keystoreDir, keyID string) (sagecrypto.KeyPair, error) {
	st, err := storage.NewFileKeyStorage(keystoreDir)
	if err != nil {
		return nil, fmt.Errorf("%w: open key store: %v", errs.ErrConfig, err)
	}
	reader, ok := st.(interface{ ReadFile(id string) ([]byte, error) })
	if !ok {
		return nil, fmt.Errorf("%w: key store does not support raw file reads", errs.ErrConfig)
	}
	data, err := reader.ReadFile(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: read identity key %q: %v", errs.ErrConfig, keyID, err)
	}
	kp, err := keys.DecodeRSAPrivatePEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode identity key %q: %v", errs.ErrConfig, keyID, err)
	}
	return kp, nil
}

// buildHandshaker constructs the session.Handshaker the flags ask for.
// isListener selects which side of the key-transport exchange this process
// plays; key-agreement is symmetric and needs no identity key.
func buildHandshaker(mechanism, keystoreDir, keyID string, isListener bool) (session.Handshaker, error) {
	switch session.Mechanism(mechanism) {
	case session.MechanismKeyAgreement:
		return handshake.NewKeyAgreement(), nil
	case session.MechanismKeyTransport:
		if !isListener {
			return handshake.NewKeyTransportInitiator(), nil
		}
		kp, err := loadRSAIdentity(keystoreDir, keyID)
		if err != nil {
			return nil, err
		}
		return handshake.NewKeyTransportListener(kp)
	default:
		return nil, fmt.Errorf("%w: unsupported mechanism %q for a pairwise session", errs.ErrConfig, mechanism)
	}
}

// parseMember splits a "node_id@host:port" roster entry.
func parseMember(entry string) (nodeID, addr string, err error) {
	parts := strings.SplitN(entry, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: invalid member entry %q, expected node_id@host:port", errs.ErrConfig, entry)
	}
	return parts[0], parts[1], nil
}

// dialTCP is a small wrapper kept separate so tests can stub it if needed.
func dialTCP(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

var log = logger.NewDefaultLogger()
