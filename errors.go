package srt

import (
	"fmt"

	"github.com/maxsharabayko/srt/packet"
)

// Sentinel errors for the taxonomy in spec §7. Callers should compare
// with errors.Is; wrapped forms add context via fmt.Errorf("...: %w").
var (
	// Setup
	ErrInvalidOption    = fmt.Errorf("srt: invalid option")
	ErrUnsupportedMode  = fmt.Errorf("srt: unsupported mode combination")
	ErrOutOfMemory      = fmt.Errorf("srt: no memory")

	// Connection
	ErrTimeout         = fmt.Errorf("srt: connection timeout")
	ErrPeerUnreachable = fmt.Errorf("srt: peer unreachable")

	// Crypto
	ErrPassphraseMissing = fmt.Errorf("srt: passphrase missing")
	ErrWrongPassphrase   = fmt.Errorf("srt: wrong passphrase")
	ErrCryptoModeMismatch = fmt.Errorf("srt: crypto mode mismatch")
	ErrKeyMaterialMalformed = fmt.Errorf("srt: key material malformed")

	// Transport runtime
	ErrPeerIdleTimeout = fmt.Errorf("srt: peer idle timeout")
	ErrRemoteShutdown  = fmt.Errorf("srt: remote shutdown")
	ErrLocalClose      = fmt.Errorf("srt: local close")
	ErrConnectionBroken = fmt.Errorf("srt: connection broken")

	// Flow
	ErrWouldBlock      = fmt.Errorf("srt: would block")
	ErrBufferFull      = fmt.Errorf("srt: buffer full")
	ErrMessageTooLarge = fmt.Errorf("srt: message too large")

	// Protocol
	ErrMalformedPacket     = fmt.Errorf("srt: malformed packet")
	ErrDuplicateHandshake  = fmt.Errorf("srt: duplicate handshake")
	ErrSequenceFarInThePast = fmt.Errorf("srt: sequence far in the past")
)

// RejectError carries a handshake rejection reason back to the caller
// of Dial, matching the reject-reason sub-enum from spec §4.1.
type RejectError struct {
	Reason packet.RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("srt: handshake rejected: %s", e.Reason)
}
