package srt

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TransType selects stream semantics (spec §6 "Options the core MUST
// recognize").
type TransType string

const (
	TransLive TransType = "live"
	TransFile TransType = "file"
)

// CongestionMode selects which cc.Controller a connection constructs.
type CongestionMode string

const (
	CongestionLive   CongestionMode = "live"
	CongestionFile   CongestionMode = "file"
	CongestionFileV2 CongestionMode = "file-v2"
)

// CryptoMode selects the payload cipher, mirroring km.Mode.
type CryptoMode string

const (
	CryptoNone CryptoMode = "none"
	CryptoCTR  CryptoMode = "ctr"
	CryptoGCM  CryptoMode = "gcm"
)

// Config controls the behavior of connections and listeners created
// with it, grounded on udt.Config's flat options-struct-plus-defaults
// shape, expanded to the option surface spec §6 requires.
type Config struct {
	TransType  TransType `yaml:"transtype"`
	MessageAPI bool      `yaml:"messageapi"` // file mode only

	MSS            uint `yaml:"mss"`
	SendBufBytes   uint `yaml:"sndbuf"`
	RecvBufBytes   uint `yaml:"rcvbuf"`
	FlightFlagSize uint `yaml:"flight_flag_size"` // flow window, in packets
	PayloadSize    uint `yaml:"payload_size"`

	TsbPdMode        bool          `yaml:"tsbpd_mode"`
	TsbPdDelay       time.Duration `yaml:"tsbpd_delay"`
	TooLatePktDrop   bool          `yaml:"too_late_pkt_drop"`
	ConnTimeout      time.Duration `yaml:"conn_timeout"`
	PeerIdleTimeout  time.Duration `yaml:"peer_idle_timeout"`

	Congestion    CongestionMode `yaml:"congestion"`
	MaxBW         int64          `yaml:"maxbw"` // bps, -1 = auto
	InputBW       int64          `yaml:"input_bw"`
	LatencyFactor float64        `yaml:"latency_factor"`

	RcvSyn bool `yaml:"rcvsyn"`
	SndSyn bool `yaml:"sndsyn"`

	Passphrase         string     `yaml:"passphrase"` // 10..79 chars, empty = no encryption
	PBKeyLen           int        `yaml:"pbkeylen"`    // 16, 24, or 32
	CryptoMode         CryptoMode `yaml:"cryptomode"`
	EnforcedEncryption bool       `yaml:"enforced_encryption"`

	StreamID      string `yaml:"streamid"`
	GroupConnect  bool   `yaml:"group_connect"`

	NAKReport bool          `yaml:"nakreport"`
	ConnTimeo time.Duration `yaml:"conntimeo"`
}

// DefaultConfig mirrors udt.DefaultConfig's pattern of a constructor
// returning sane defaults rather than relying on Go's zero value.
func DefaultConfig() *Config {
	return &Config{
		TransType:       TransLive,
		MSS:             1500,
		SendBufBytes:    8192 * 1500,
		RecvBufBytes:    8192 * 1500,
		FlightFlagSize:  25600,
		PayloadSize:     1456,
		TsbPdMode:       true,
		TsbPdDelay:      120 * time.Millisecond,
		TooLatePktDrop:  true,
		ConnTimeout:     3 * time.Second,
		PeerIdleTimeout: 5 * time.Second,
		Congestion:      CongestionLive,
		MaxBW:           -1,
		LatencyFactor:   1.0,
		RcvSyn:          true,
		SndSyn:          true,
		CryptoMode:      CryptoNone,
		PBKeyLen:        16,
		ConnTimeo:       3 * time.Second,
	}
}

// Validate checks the option combinations spec §7's "Setup" error
// class names: invalid values and unsupported mode combinations.
func (c *Config) Validate() error {
	if c.MSS < 76 || c.MSS > 65535 {
		return fmt.Errorf("%w: mss %d out of range", ErrInvalidOption, c.MSS)
	}
	if c.PayloadSize == 0 || c.PayloadSize > c.MSS {
		return fmt.Errorf("%w: payload_size %d exceeds mss %d", ErrInvalidOption, c.PayloadSize, c.MSS)
	}
	if c.MessageAPI && c.TransType == TransLive {
		return fmt.Errorf("%w: messageapi is file-mode only", ErrUnsupportedMode)
	}
	if c.Passphrase != "" {
		if len(c.Passphrase) < 10 || len(c.Passphrase) > 79 {
			return fmt.Errorf("%w: passphrase must be 10..79 characters", ErrInvalidOption)
		}
		switch c.PBKeyLen {
		case 16, 24, 32:
		default:
			return fmt.Errorf("%w: pbkeylen must be 16, 24, or 32", ErrInvalidOption)
		}
		if c.CryptoMode == CryptoNone {
			return fmt.Errorf("%w: passphrase set but cryptomode is none", ErrUnsupportedMode)
		}
	} else if c.EnforcedEncryption {
		return fmt.Errorf("%w: enforced_encryption requires a passphrase", ErrPassphraseMissing)
	}
	return nil
}

// LoadConfigYAML reads a Config from a YAML file, following the
// Settings.go pattern of a flat yaml.Unmarshal onto default values
// rather than a zero-valued struct (so unset fields keep sane
// defaults instead of falling back to Go's zero value).
func LoadConfigYAML(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("srt: reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("srt: parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
