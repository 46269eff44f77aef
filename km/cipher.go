// Package km implements the key-material machinery consumed by the core:
// KEK derivation, SEK wrap/unwrap, per-packet IV derivation, and the
// even/odd rekeying schedule (spec §4.8, §6).
package km

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

func sha1New() hash.Hash { return sha1.New() }

// Mode selects the payload cipher.
type Mode int

const (
	ModeNone Mode = iota
	ModeCTR
	ModeGCM
)

// Cipher is the small cryptographic interface the core consumes (spec §6).
// Implementations are swappable so the core never hard-codes a primitive.
type Cipher interface {
	PBKDF2(password, salt []byte, iter, keyLen int) []byte
	WrapSEK(kek, sek []byte) ([]byte, error)
	UnwrapSEK(kek, wrapped []byte) ([]byte, error)
	EncryptCTR(key, iv, in []byte) []byte
	DecryptCTR(key, iv, in []byte) []byte
	EncryptGCM(key, iv, aad, in []byte) ([]byte, error) // returns ciphertext||tag
	DecryptGCM(key, iv, aad, in []byte) ([]byte, error) // expects ciphertext||tag
}

// StdCipher implements Cipher with golang.org/x/crypto/pbkdf2 for KEK
// derivation and the standard library's crypto/aes + crypto/cipher for
// CTR/GCM. RFC 3394 AES Key Wrap has no common third-party or stdlib
// implementation in the Go ecosystem, so it is implemented here directly
// on top of aes.NewCipher's raw block primitive (see DESIGN.md).
type StdCipher struct{}

const pbkdf2Iterations = 2048

func (StdCipher) PBKDF2(password, salt []byte, iter, keyLen int) []byte {
	if iter <= 0 {
		iter = pbkdf2Iterations
	}
	return pbkdf2.Key(password, salt, iter, keyLen, sha1New)
}

// aivDefault is the RFC 3394 default integrity check value.
var aivDefault = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// WrapSEK implements RFC 3394 AES Key Wrap with the default 8-byte AIV.
func (StdCipher) WrapSEK(kek, sek []byte) ([]byte, error) {
	if len(sek)%8 != 0 || len(sek) == 0 {
		return nil, errors.New("km: key to wrap must be a non-zero multiple of 8 bytes")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	n := len(sek) / 8
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], sek[i*8:i*8+8])
	}
	var a [8]byte
	copy(a[:], aivDefault[:])

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[0:8], a[:])
			copy(buf[8:16], r[i-1][:])
			block.Encrypt(buf, buf)
			t := uint64(n*j + i)
			var tb [8]byte
			binary.BigEndian.PutUint64(tb[:], t)
			for k := 0; k < 8; k++ {
				a[k] = buf[k] ^ tb[k]
			}
			copy(r[i-1][:], buf[8:16])
		}
	}
	out := make([]byte, 8+len(sek))
	copy(out[0:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8+i*8:8+i*8+8], r[i][:])
	}
	return out, nil
}

// UnwrapSEK reverses WrapSEK, returning an error if the integrity check
// value does not match (tampering or wrong KEK).
func (StdCipher) UnwrapSEK(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 16 || len(wrapped)%8 != 0 {
		return nil, errors.New("km: wrapped key has invalid length")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[0:8])
	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], wrapped[8+i*8:8+i*8+8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			var tb [8]byte
			binary.BigEndian.PutUint64(tb[:], t)
			var ax [8]byte
			for k := 0; k < 8; k++ {
				ax[k] = a[k] ^ tb[k]
			}
			copy(buf[0:8], ax[:])
			copy(buf[8:16], r[i-1][:])
			block.Decrypt(buf, buf)
			copy(a[:], buf[0:8])
			copy(r[i-1][:], buf[8:16])
		}
	}
	for i := 0; i < 8; i++ {
		if a[i] != aivDefault[i] {
			return nil, errors.New("km: key unwrap integrity check failed")
		}
	}
	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(out[i*8:i*8+8], r[i][:])
	}
	return out, nil
}

func (StdCipher) EncryptCTR(key, iv, in []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out
}

func (s StdCipher) DecryptCTR(key, iv, in []byte) []byte {
	return s.EncryptCTR(key, iv, in) // CTR is symmetric
}

func (StdCipher) EncryptGCM(key, iv, aad, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv, in, aad), nil
}

func (StdCipher) DecryptGCM(key, iv, aad, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, in, aad)
}

// RandomBytes returns n cryptographically random bytes (used for salts and
// SEK generation).
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
