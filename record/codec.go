// Package record implements the length-prefixed record framing used by
// every steady-state and handshake exchange on the wire:
//
//	total_len(u32 be) || nonce(12) || ciphertext+tag
//
// Grounded on session/session.go's Encrypt/Decrypt (single contiguous
// nonce||ciphertext write) generalized to a length-prefixed stream codec,
// and on the boxconn protocol's ReadRaw/WriteRaw length-prefixed framing.
package record

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sage-x-project/securestream/errs"
)

// NonceSize is the wire size of the nonce field in bytes.
const NonceSize = 12

// DefaultMaxRecordBytes is the default upper bound on total_len.
const DefaultMaxRecordBytes = 1 << 20 // 1 MiB

// Encode writes total_len || nonce || ciphertext as a single contiguous
// write to minimize fragmentation on latency-sensitive links.
func Encode(w io.Writer, nonce, ciphertext []byte) error {
	if len(nonce) != NonceSize {
		return fmt.Errorf("record: nonce must be %d bytes: %w", NonceSize, errs.ErrMalformedRecord)
	}
	totalLen := uint32(NonceSize + len(ciphertext))
	buf := make([]byte, 4+NonceSize+len(ciphertext))
	binary.BigEndian.PutUint32(buf[:4], totalLen)
	copy(buf[4:4+NonceSize], nonce)
	copy(buf[4+NonceSize:], ciphertext)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("record: write: %w", errs.ErrTransportClosed)
	}
	return nil
}

// Decode reads one record from r, enforcing maxRecord on total_len.
// Returns nonce and ciphertext+tag. Short reads are reported as
// ErrTransportClosed; framing violations as ErrMalformedRecord.
func Decode(r io.Reader, maxRecord uint32) (nonce, ciphertext []byte, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, fmt.Errorf("record: read length: %w", errs.ErrTransportClosed)
	}
	totalLen := binary.BigEndian.Uint32(lenBuf[:])
	if totalLen < NonceSize {
		return nil, nil, fmt.Errorf("record: total_len %d below nonce size: %w", totalLen, errs.ErrMalformedRecord)
	}
	if totalLen > maxRecord {
		return nil, nil, fmt.Errorf("record: total_len %d exceeds max %d: %w", totalLen, maxRecord, errs.ErrMalformedRecord)
	}

	body := make([]byte, totalLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("record: short read: %w", errs.ErrTransportClosed)
	}

	nonce = body[:NonceSize]
	ciphertext = body[NonceSize:]
	return nonce, ciphertext, nil
}
