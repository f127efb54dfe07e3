package chain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func mkHeader(prev chainhash.Hash, nonce uint32) *wire.BlockHeader {
	h := &wire.BlockHeader{Nonce: nonce}
	h.PrevBlock = prev
	return h
}

func TestOrderGenesis(t *testing.T) {
	l := Empty()
	genesis := mkHeader(chainhash.Hash{}, 1)
	entries, err := l.Order([]*wire.BlockHeader{genesis})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 0, entries[0].Height)
}

func TestOrderNonConnecting(t *testing.T) {
	l := Empty()
	genesis := mkHeader(chainhash.Hash{}, 1)
	entries, err := l.Order([]*wire.BlockHeader{genesis})
	require.NoError(t, err)
	require.NoError(t, l.Apply(entries))

	orphanParent := chainhash.Hash{0xAB}
	orphan := mkHeader(orphanParent, 2)
	_, err = l.Order([]*wire.BlockHeader{orphan})
	require.Error(t, err)
}

func TestApplyAndExtend(t *testing.T) {
	l := Empty()
	genesis := mkHeader(chainhash.Hash{}, 1)
	entries, err := l.Order([]*wire.BlockHeader{genesis})
	require.NoError(t, err)
	require.NoError(t, l.Apply(entries))
	require.Equal(t, 0, l.Height())
	require.Equal(t, genesis.BlockHash(), l.Tip())

	h1 := mkHeader(genesis.BlockHash(), 2)
	entries, err = l.Order([]*wire.BlockHeader{h1})
	require.NoError(t, err)
	require.NoError(t, l.Apply(entries))
	require.Equal(t, 1, l.Height())

	got, ok := l.HeaderByHeight(1)
	require.True(t, ok)
	require.Equal(t, h1.BlockHash(), got.Hash)

	got, ok = l.HeaderByBlockHash(genesis.BlockHash())
	require.True(t, ok)
	require.EqualValues(t, 0, got.Height)
}

func TestReorgTruncatesAboveFork(t *testing.T) {
	l := Empty()
	genesis := mkHeader(chainhash.Hash{}, 1)
	entries, _ := l.Order([]*wire.BlockHeader{genesis})
	require.NoError(t, l.Apply(entries))

	h1a := mkHeader(genesis.BlockHash(), 10)
	entries, _ = l.Order([]*wire.BlockHeader{h1a})
	require.NoError(t, l.Apply(entries))
	require.Equal(t, h1a.BlockHash(), l.Tip())

	// competing header at height 1, same parent: a 1-block reorg.
	h1b := mkHeader(genesis.BlockHash(), 20)
	entries, err := l.Order([]*wire.BlockHeader{h1b})
	require.NoError(t, err)
	require.EqualValues(t, 1, entries[0].Height)
	require.NoError(t, l.Apply(entries))

	require.Equal(t, h1b.BlockHash(), l.Tip())
	require.Equal(t, 1, l.Height())
	_, ok := l.HeaderByBlockHash(h1a.BlockHash())
	require.False(t, ok, "old branch header must be unreachable after reorg")
}

func TestLoadRejectsBrokenChain(t *testing.T) {
	genesis := mkHeader(chainhash.Hash{}, 1)
	gEntry := &HeaderEntry{Height: 0, Hash: genesis.BlockHash(), Header: *genesis}
	h1 := mkHeader(genesis.BlockHash(), 2)
	// deliberately wrong height for h1, to trip the contiguity check
	h1Entry := &HeaderEntry{Height: 5, Hash: h1.BlockHash(), Header: *h1}

	headers := map[chainhash.Hash]*HeaderEntry{
		gEntry.Hash:  gEntry,
		h1Entry.Hash: h1Entry,
	}
	_, err := Load(headers, h1Entry.Hash)
	require.Error(t, err)
}

func TestKnownHashesAndEntriesAreDefensiveCopies(t *testing.T) {
	l := Empty()
	genesis := mkHeader(chainhash.Hash{}, 1)
	entries, err := l.Order([]*wire.BlockHeader{genesis})
	require.NoError(t, err)
	require.NoError(t, l.Apply(entries))

	known := l.KnownHashes()
	require.True(t, known[genesis.BlockHash()])
	known[chainhash.Hash{0xFF}] = true
	require.False(t, l.KnownHashes()[chainhash.Hash{0xFF}], "mutating the returned map must not affect the list")

	got := l.Entries()
	require.Len(t, got, 1)
	got[0].Height = 99
	require.EqualValues(t, 0, l.Entries()[0].Height, "mutating the returned slice must not affect the list")
}
