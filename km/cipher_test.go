package km

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// Published PBKDF2-HMAC-SHA1 test vectors (RFC 6070), output width 20 bytes.
func TestPBKDF2Vectors(t *testing.T) {
	c := StdCipher{}
	cases := []struct {
		iter int
		want string
	}{
		{1, "0c60c80f961f0e71f3a9b524af6012062fe037a6"},
		{2, "ea6c014dc72d6f8ccd1ed92ace1d41f0d8de8957"},
		{4096, "4b007901b765489abead49d926f721d065a429c1"},
	}
	for _, tc := range cases {
		got := c.PBKDF2([]byte("password"), []byte("salt"), tc.iter, 20)
		want, err := hex.DecodeString(tc.want)
		if err != nil {
			t.Fatalf("bad hex in test case: %s", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("iter=%d: got %x want %x", tc.iter, got, want)
		}
	}
}

func TestKeyWrapUnwrapRoundTrip(t *testing.T) {
	c := StdCipher{}
	for _, keyLen := range []int{16, 24, 32} {
		kek := make([]byte, keyLen)
		for i := range kek {
			kek[i] = byte(i + 1)
		}
		sek, err := RandomBytes(keyLen)
		if err != nil {
			t.Fatal(err)
		}
		wrapped, err := c.WrapSEK(kek, sek)
		if err != nil {
			t.Fatalf("wrap (keylen %d): %s", keyLen, err)
		}
		unwrapped, err := c.UnwrapSEK(kek, wrapped)
		if err != nil {
			t.Fatalf("unwrap (keylen %d): %s", keyLen, err)
		}
		if !bytes.Equal(sek, unwrapped) {
			t.Fatalf("round trip mismatch for keylen %d", keyLen)
		}
	}
}

func TestKeyUnwrapDetectsTamper(t *testing.T) {
	c := StdCipher{}
	kek := bytes.Repeat([]byte{0x2a}, 16)
	sek, _ := RandomBytes(16)
	wrapped, err := c.WrapSEK(kek, sek)
	if err != nil {
		t.Fatal(err)
	}
	for i := range wrapped {
		tampered := append([]byte(nil), wrapped...)
		tampered[i] ^= 0xFF
		if _, err := c.UnwrapSEK(kek, tampered); err == nil {
			t.Fatalf("expected unwrap to fail after flipping byte %d", i)
		}
	}
}

func TestCTRSymmetric(t *testing.T) {
	c := StdCipher{}
	key := bytes.Repeat([]byte{1}, 16)
	iv := DeriveIV(bytes.Repeat([]byte{2}, 16), 42)
	plain := []byte("the quick brown fox jumps over the lazy dog")
	ct := c.EncryptCTR(key, iv, plain)
	pt := c.DecryptCTR(key, iv, ct)
	if !bytes.Equal(pt, plain) {
		t.Fatalf("CTR round trip mismatch")
	}
}

func TestGCMRoundTrip(t *testing.T) {
	c := StdCipher{}
	key := bytes.Repeat([]byte{3}, 16)
	iv := DeriveIV(bytes.Repeat([]byte{4}, 16), 7)[:12]
	plain := []byte("live stream payload")
	ct, err := c.EncryptGCM(key, iv, nil, plain)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := c.DecryptGCM(key, iv, nil, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plain) {
		t.Fatalf("GCM round trip mismatch")
	}
}
