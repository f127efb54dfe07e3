package indexer

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/turbo-electrs/chain"
	"github.com/ledgerwatch/turbo-electrs/internal/config"
)

func TestHashesOfAndSubsetByHash(t *testing.T) {
	entries := []chain.HeaderEntry{
		{Height: 10, Hash: chainhash.Hash{0x01}},
		{Height: 11, Hash: chainhash.Hash{0x02}},
		{Height: 12, Hash: chainhash.Hash{0x03}},
	}
	hashes := hashesOf(entries)
	require.Equal(t, []chainhash.Hash{{0x01}, {0x02}, {0x03}}, hashes)

	subset := subsetByHash(entries, []chainhash.Hash{{0x02}})
	require.Len(t, subset, 1)
	require.Equal(t, uint32(11), subset[0].Height)
}

func TestChainParamsMapping(t *testing.T) {
	require.NotNil(t, chainParams(config.Mainnet))
	require.NotNil(t, chainParams(config.Testnet))
	require.NotNil(t, chainParams(config.Regtest))
	require.NotNil(t, chainParams(config.Signet))
	require.Nil(t, chainParams(config.Liquid))
}

func TestPutAddressRowNoopWithoutParams(t *testing.T) {
	require.NotPanics(t, func() {
		putAddressRow(nil, nil, []byte{0x6a, 0x04, 0xde, 0xad, 0xbe, 0xef})
	})
}
