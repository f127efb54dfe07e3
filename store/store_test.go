package store

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestPrefixUpperBoundIncrementsLastByte(t *testing.T) {
	require.Equal(t, []byte{0x01, 0x03}, prefixUpperBound([]byte{0x01, 0x02}))
	require.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xFF}))
}

func TestPrefixUpperBoundPanicsOnAllFF(t *testing.T) {
	require.Panics(t, func() { prefixUpperBound([]byte{0xFF, 0xFF}) })
}

func TestDiffExcludesKnownHashes(t *testing.T) {
	a := chainhash.Hash{0x01}
	b := chainhash.Hash{0x02}
	c := chainhash.Hash{0x03}
	have := map[chainhash.Hash]bool{b: true}
	got := Diff([]chainhash.Hash{a, b, c}, have)
	require.Equal(t, []chainhash.Hash{a, c}, got)
}

func TestEncodeCompatBlockDistinguishesLightMode(t *testing.T) {
	require.NotEqual(t, encodeCompatBlock(1, true), encodeCompatBlock(1, false))
	require.Equal(t, encodeCompatBlock(1, false), encodeCompatBlock(1, false))
}

func TestSortedHeightsIsAscending(t *testing.T) {
	in := map[chainhash.Hash]uint32{
		{0x01}: 5,
		{0x02}: 1,
		{0x03}: 3,
	}
	got := SortedHeights(in)
	require.Equal(t, []uint32{1, 3, 5}, got)
}

func TestCopyHashSetIsIndependent(t *testing.T) {
	src := map[chainhash.Hash]bool{{0x01}: true}
	dst := copyHashSet(src)
	dst[chainhash.Hash{0x02}] = true
	require.Len(t, src, 1)
	require.Len(t, dst, 2)
}
