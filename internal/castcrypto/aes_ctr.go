// Package castcrypto applies the optional AES-CTR frame encryption
// spec.md §6 describes, using the standard library's crypto/aes and
// crypto/cipher implementations: this is a standard primitive with
// nothing transport-specific about its implementation, so there is no
// ecosystem library to ground it on beyond the standard one (see
// DESIGN.md).
package castcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"github.com/bluenviron/castcore/modarith"
)

// ErrKeyLength is returned by New when key or ivMask is not exactly
// 16 bytes.
var ErrKeyLength = errors.New("castcrypto: key and iv mask must be 16 bytes")

// Cipher encrypts or decrypts individual frames with AES in CTR mode,
// re-deriving the counter from the frame id on every call so frames
// may be encrypted/decrypted in any order (spec.md §6).
type Cipher struct {
	block  cipher.Block
	ivMask [aes.BlockSize]byte
}

// New builds a Cipher from a 128-bit key and a 128-bit IV mask. Wrong
// key lengths are a configuration error the caller should treat as
// fatal at startup, per spec.md §7.
func New(key, ivMask []byte) (*Cipher, error) {
	if len(key) != aes.BlockSize || len(ivMask) != aes.BlockSize {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	c := &Cipher{block: block}
	copy(c.ivMask[:], ivMask)
	return c, nil
}

// nonce derives the per-frame CTR nonce: iv_mask XOR (frame_id encoded
// into the low byte of the block), spec.md §6's AesNonce.
func (c *Cipher) nonce(frameID modarith.FrameID) [aes.BlockSize]byte {
	n := c.ivMask
	n[aes.BlockSize-1] ^= byte(frameID)
	return n
}

// Transform applies CTR-mode AES to data and returns the result in a
// newly allocated slice, leaving data unchanged (CTR encryption and
// decryption are the same operation), re-seeding the counter from
// frameID first.
func (c *Cipher) Transform(frameID modarith.FrameID, data []byte) []byte {
	n := c.nonce(frameID)
	stream := cipher.NewCTR(c.block, n[:])
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out
}
