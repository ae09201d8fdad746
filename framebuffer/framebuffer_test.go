package framebuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembleInOrderDespiteArrivalOrder(t *testing.T) {
	b := New()
	b.InsertPacket(1, 2, []byte("BBB"), true, 0, 100)
	require.False(t, b.IsComplete())
	b.InsertPacket(0, 2, []byte("AAA"), true, 0, 100)
	require.False(t, b.IsComplete())
	b.InsertPacket(2, 2, []byte("CCC"), true, 0, 100)
	require.True(t, b.IsComplete())

	require.Equal(t, []byte("AAABBBCCC"), b.Assemble())
}

func TestDuplicateInsertIgnored(t *testing.T) {
	b := New()
	b.InsertPacket(0, 0, []byte("A"), false, 0, 0)
	b.InsertPacket(0, 0, []byte("A"), false, 0, 0)
	require.Equal(t, 1, b.NumPacketsReceived)
	require.Equal(t, 1, b.TotalDataSize)
}
