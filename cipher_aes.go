package main

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const (
	aesKeyLen = 32 // SHA-256 digest length
	aesIVLen  = 16 // AES block size
)

// aesCFBCipher implements Cipher with AES-256 in CFB mode, segment size
// equal to the block size, matching spec.md §4.1 exactly: the key is
// SHA256(password), the IV is generated fresh per connection and carried in
// the clear as the first aesIVLen bytes of the stream in each direction.
type aesCFBCipher struct {
	key []byte

	localIV   []byte
	ivSent    bool
	encStream cipher.Stream

	peerIVNeeded bool
	decStream    cipher.Stream
}

func newAESCFBCipher(password string) (*aesCFBCipher, error) {
	sum := sha256.Sum256([]byte(password))

	localIV := make([]byte, aesIVLen)
	if _, err := rand.Read(localIV); err != nil {
		return nil, fmt.Errorf("cipher: generate iv: %w", err)
	}

	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("cipher: new aes block: %w", err)
	}

	return &aesCFBCipher{
		key:          sum[:],
		localIV:      localIV,
		encStream:    cipher.NewCFBEncrypter(block, localIV),
		peerIVNeeded: true,
	}, nil
}

func (c *aesCFBCipher) Encrypt(buf []byte) []byte {
	out := make([]byte, len(buf))
	c.encStream.XORKeyStream(out, buf)
	return out
}

func (c *aesCFBCipher) Decrypt(buf []byte) []byte {
	out := make([]byte, len(buf))
	c.decStream.XORKeyStream(out, buf)
	return out
}

func (c *aesCFBCipher) IVToSend() []byte {
	if c.ivSent {
		return nil
	}
	c.ivSent = true
	return c.localIV
}

func (c *aesCFBCipher) NeedsPeerIV() bool {
	return c.peerIVNeeded
}

func (c *aesCFBCipher) ConsumePeerIV(iv []byte) error {
	if len(iv) != aesIVLen {
		return ErrHandshakeTruncated
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return fmt.Errorf("cipher: new aes block: %w", err)
	}
	c.decStream = cipher.NewCFBDecrypter(block, iv)
	c.peerIVNeeded = false
	return nil
}

func (c *aesCFBCipher) IVLen() int {
	return aesIVLen
}
