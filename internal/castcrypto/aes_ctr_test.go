package castcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	ivMask := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
		ivMask[i] = byte(i * 2)
	}
	c, err := New(key, ivMask)
	require.NoError(t, err)

	plain := []byte("a complete encoded video frame payload")
	ct := c.Transform(42, plain)
	require.NotEqual(t, plain, ct)

	pt := c.Transform(42, ct)
	require.Equal(t, plain, pt)
}

func TestDifferentFrameIDsProduceDifferentCiphertext(t *testing.T) {
	key := make([]byte, 16)
	ivMask := make([]byte, 16)
	c, err := New(key, ivMask)
	require.NoError(t, err)

	plain := []byte("identical payload bytes")
	a := c.Transform(1, plain)
	b := c.Transform(2, plain)
	require.NotEqual(t, a, b)
}

func TestNewRejectsWrongKeyLength(t *testing.T) {
	_, err := New(make([]byte, 10), make([]byte, 16))
	require.ErrorIs(t, err, ErrKeyLength)

	_, err = New(make([]byte, 16), make([]byte, 10))
	require.ErrorIs(t, err, ErrKeyLength)
}
