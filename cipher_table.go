package main

import (
	"crypto/md5"
	"encoding/binary"
	"sort"
)

// tableCipher is the legacy non-cryptographic byte-permutation cipher
// carried only for interop with the legacy ecosystem (spec.md §3, §9):
// "a documented permutation table seeded from MD5 of the password". It is
// a pure substitution over the 256 possible byte values, so CipherSpec's
// iv_len is 0 — there is no handshake and no per-connection randomness.
//
// This is NOT cryptographically sound. Config.validate intentionally does
// not gate it further than requiring an explicit method value; callers that
// expose configuration to untrusted operators should refuse it, per
// spec.md §9's "MAY refuse it by default" guidance.
type tableCipher struct {
	encTable [256]byte
	decTable [256]byte
}

func newTableCipher(password string) *tableCipher {
	enc := buildPermutationTable(password)

	var dec [256]byte
	for i, v := range enc {
		dec[v] = byte(i)
	}

	return &tableCipher{encTable: enc, decTable: dec}
}

// buildPermutationTable reproduces the classic "table cipher" key schedule:
// seed a uint64 from the first 8 bytes of MD5(password) (little-endian),
// then stably sort the identity permutation 1023 times (rounds 1..1023) by
// the key seed % (value + round), the same construction documented for legacy shadowsocks-style
// table ciphers.
func buildPermutationTable(password string) [256]byte {
	sum := md5.Sum([]byte(password))
	a := binary.LittleEndian.Uint64(sum[0:8])

	table := make([]int, 256)
	for i := range table {
		table[i] = i
	}

	for i := 1; i < 1024; i++ {
		round := uint64(i)
		sort.SliceStable(table, func(x, y int) bool {
			kx := a % (uint64(table[x]) + round)
			ky := a % (uint64(table[y]) + round)
			return kx < ky
		})
	}

	var out [256]byte
	for i, v := range table {
		out[i] = byte(v)
	}
	return out
}

func (c *tableCipher) Encrypt(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = c.encTable[b]
	}
	return out
}

func (c *tableCipher) Decrypt(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = c.decTable[b]
	}
	return out
}

// IVToSend always returns nil: the table cipher has no handshake.
func (c *tableCipher) IVToSend() []byte { return nil }

// NeedsPeerIV is always false: there is nothing to consume.
func (c *tableCipher) NeedsPeerIV() bool { return false }

func (c *tableCipher) ConsumePeerIV(iv []byte) error { return nil }

func (c *tableCipher) IVLen() int { return 0 }
