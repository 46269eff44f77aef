package km

// DeriveIV builds the per-packet initialization vector by XOR'ing the
// packet sequence number into the low bits of the key's salt, per spec
// §4.8. The salt is expected to be at least 16 bytes (GCM/CTR both use a
// 16-byte IV internally; callers using GCM with a shorter nonce should
// trim the result themselves).
func DeriveIV(salt []byte, seq uint32) []byte {
	iv := make([]byte, 16)
	copy(iv, salt)
	iv[12] ^= byte(seq >> 24)
	iv[13] ^= byte(seq >> 16)
	iv[14] ^= byte(seq >> 8)
	iv[15] ^= byte(seq)
	return iv
}
