package km

import "errors"

// State is the result of a key-material negotiation, mirroring spec §4.8.
type State int

const (
	StateUnsecured State = iota
	StateSecuring
	StateSecured
	StateNoSecret
	StateBadSecret
)

func (s State) String() string {
	switch s {
	case StateUnsecured:
		return "UNSECURED"
	case StateSecuring:
		return "SECURING"
	case StateSecured:
		return "SECURED"
	case StateNoSecret:
		return "NOSECRET"
	case StateBadSecret:
		return "BADSECRET"
	default:
		return "UNKNOWN"
	}
}

// Parity selects the even/odd key slot used for rolling rekeying.
type Parity int

const (
	ParityEven Parity = 0
	ParityOdd  Parity = 1
)

// Key is one active symmetric key with its wrap material and counters
// (spec §3 "Key Material entity").
type Key struct {
	Parity     Parity
	Bytes      []byte
	Salt       []byte
	Wrapped    []byte
	SeqCounter uint64 // packets sent/received under this key
}

// RefreshSchedule controls when a new SEK is derived and pre-announced
// (spec §4.8).
type RefreshSchedule struct {
	RefreshRatePkt  uint64 // derive a new SEK every N data packets
	PreAnnouncePkt  uint64 // announce that many packets before switchover
}

// DefaultRefreshSchedule matches the values real SRT deployments use.
func DefaultRefreshSchedule() RefreshSchedule {
	return RefreshSchedule{RefreshRatePkt: 1 << 25, PreAnnouncePkt: 1 << 12}
}

// Manager owns the sender or receiver side of a connection's key material:
// KEK derivation, SEK generation/wrap for the sender, unwrap/acceptance for
// the receiver, and the even/odd rotation schedule.
type Manager struct {
	cipher     Cipher
	mode       Mode
	keyLen     int
	passphrase []byte
	schedule   RefreshSchedule

	state State
	keys  [2]*Key // indexed by Parity; both may be valid during overlap

	active     Parity
	sentSincePreAnnounce uint64
}

// NewManager constructs a Manager. An empty passphrase means encryption is
// administratively disabled (mode must then be ModeNone).
func NewManager(cipher Cipher, mode Mode, keyLen int, passphrase string, sched RefreshSchedule) (*Manager, error) {
	if mode != ModeNone {
		if passphrase == "" {
			return nil, errors.New("km: passphrase required when a cipher mode is selected")
		}
		if len(passphrase) < 10 || len(passphrase) > 79 {
			return nil, errors.New("km: passphrase must be 10..79 characters")
		}
		switch keyLen {
		case 16, 24, 32:
		default:
			return nil, errors.New("km: key length must be 16, 24, or 32 bytes")
		}
	}
	return &Manager{
		cipher:     cipher,
		mode:       mode,
		keyLen:     keyLen,
		passphrase: []byte(passphrase),
		schedule:   sched,
		state:      StateUnsecured,
	}, nil
}

// Mode reports the configured cipher mode.
func (m *Manager) Mode() Mode { return m.mode }

// State reports the current negotiation state.
func (m *Manager) State() State { return m.state }

// GenerateInitial derives the initial even-parity SEK, wraps it under a
// fresh KEK salt, and returns the wire message body for an SRT_CMD_KMREQ
// extension. Only meaningful on the sender side.
func (m *Manager) GenerateInitial() (*WireMessage, error) {
	if m.mode == ModeNone {
		return nil, errors.New("km: encryption not enabled")
	}
	salt, err := RandomBytes(16)
	if err != nil {
		return nil, err
	}
	sek, err := RandomBytes(m.keyLen)
	if err != nil {
		return nil, err
	}
	kek := m.cipher.PBKDF2(m.passphrase, salt, 0, m.keyLen)
	wrapped, err := m.cipher.WrapSEK(kek, sek)
	if err != nil {
		return nil, err
	}
	m.keys[ParityEven] = &Key{Parity: ParityEven, Bytes: sek, Salt: salt, Wrapped: wrapped}
	m.active = ParityEven
	m.state = StateSecuring
	return &WireMessage{KeyFlags: KeyFlagFor(ParityEven), Cipher: cipherCode(m.mode), Salt: salt, WrappedSEK: wrapped}, nil
}

// KeyFlagFor maps a Parity to its wire KeyFlag bit.
func KeyFlagFor(p Parity) uint8 {
	if p == ParityEven {
		return 1
	}
	return 2
}

// cipherCode maps a Mode to the wire Cipher byte, matching the distinct
// HCRYPT_CTYPE_AES_CTR/HCRYPT_CTYPE_AES_GCM codes real SRT assigns so a
// peer's chosen mode is recoverable from the KM message alone.
func cipherCode(m Mode) uint8 {
	switch m {
	case ModeCTR:
		return 2
	case ModeGCM:
		return 3
	default:
		return 0
	}
}

// ModeFromCipherCode reverses cipherCode, for a receiver to learn which
// mode a peer's KM message actually used rather than guessing its own.
func ModeFromCipherCode(c uint8) Mode {
	switch c {
	case 2:
		return ModeCTR
	case 3:
		return ModeGCM
	default:
		return ModeNone
	}
}

// WireMessage is the decoupled (from packet.KMMessage) representation a
// Manager exchanges with its caller, which is responsible for placing it
// into a handshake extension using the packet package's codec.
type WireMessage struct {
	KeyFlags   uint8
	Cipher     uint8
	Salt       []byte
	WrappedSEK []byte
}

// Accept processes a peer's key-material message (received as a
// WireMessage decoded from an SRT_CMD_KMREQ/KMRSP extension). peerMode is
// the cipher mode the peer used, as identified by its KM message's Cipher
// byte (ModeFromCipherCode);
// a mismatch against this Manager's own mode fails with StateUnsecured
// regardless of whether the unwrap itself would have succeeded (spec §4.8,
// §8 scenario 6).
func (m *Manager) Accept(msg *WireMessage, peerMode Mode) error {
	if m.mode == ModeNone || peerMode == ModeNone {
		m.state = StateNoSecret
		return errors.New("km: missing encryption on one side")
	}
	if m.mode != peerMode {
		m.state = StateUnsecured
		return errors.New("km: cipher mode mismatch")
	}
	kek := m.cipher.PBKDF2(m.passphrase, msg.Salt, 0, m.keyLen)
	sek, err := m.cipher.UnwrapSEK(kek, msg.WrappedSEK)
	if err != nil {
		m.state = StateBadSecret
		return errors.New("km: unwrap failed, wrong passphrase")
	}
	parity := ParityEven
	if msg.KeyFlags&2 != 0 && msg.KeyFlags&1 == 0 {
		parity = ParityOdd
	}
	m.keys[parity] = &Key{Parity: parity, Bytes: sek, Salt: msg.Salt, Wrapped: msg.WrappedSEK}
	m.active = parity
	m.state = StateSecured
	return nil
}

// ActiveKey returns the key material currently used to encrypt outgoing
// (or decrypt matching incoming) packets.
func (m *Manager) ActiveKey() *Key {
	return m.keys[m.active]
}

// KeyForFlag resolves a data packet's 2-bit encrypt flag to the key that
// should decrypt it. Both even and odd keys may be valid simultaneously
// during the pre-announce overlap window (spec §4.8).
func (m *Manager) KeyForFlag(flag uint8) (*Key, bool) {
	switch flag {
	case 1:
		k := m.keys[ParityEven]
		return k, k != nil
	case 2:
		k := m.keys[ParityOdd]
		return k, k != nil
	default:
		return nil, false
	}
}

// OnPacketSent advances the rekeying schedule. When the active key has
// carried RefreshRatePkt-PreAnnouncePkt packets, it returns a freshly
// generated WireMessage for the other parity to pre-announce, which the
// caller is responsible for sending. PreAnnouncePkt packets later, when
// the active key has carried RefreshRatePkt packets, OnPacketSent itself
// switches the active parity (ActiveKey) to the new key.
func (m *Manager) OnPacketSent() (*WireMessage, error) {
	if m.mode == ModeNone {
		return nil, nil
	}
	active := m.keys[m.active]
	if active == nil {
		return nil, nil
	}
	active.SeqCounter++
	switchAt := m.schedule.RefreshRatePkt
	if switchAt == 0 {
		return nil, nil
	}
	announceAt := switchAt
	if m.schedule.PreAnnouncePkt < switchAt {
		announceAt = switchAt - m.schedule.PreAnnouncePkt
	}
	if active.SeqCounter == announceAt {
		other := ParityOdd
		if m.active == ParityOdd {
			other = ParityEven
		}
		salt, err := RandomBytes(16)
		if err != nil {
			return nil, err
		}
		sek, err := RandomBytes(m.keyLen)
		if err != nil {
			return nil, err
		}
		kek := m.cipher.PBKDF2(m.passphrase, salt, 0, m.keyLen)
		wrapped, err := m.cipher.WrapSEK(kek, sek)
		if err != nil {
			return nil, err
		}
		m.keys[other] = &Key{Parity: other, Bytes: sek, Salt: salt, Wrapped: wrapped}
		return &WireMessage{KeyFlags: KeyFlagFor(other), Cipher: cipherCode(m.mode), Salt: salt, WrappedSEK: wrapped}, nil
	}
	if active.SeqCounter == switchAt {
		if m.active == ParityEven {
			m.active = ParityOdd
		} else {
			m.active = ParityEven
		}
	}
	return nil, nil
}
