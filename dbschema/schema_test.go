package dbschema

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestBlockMetaRoundTrip(t *testing.T) {
	m := BlockMeta{TxCount: 12, Size: 9001, Weight: 36004}
	got, err := DecodeBlockMeta(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestTxOutRoundTrip(t *testing.T) {
	out := &wire.TxOut{Value: 5000000000, PkScript: []byte{0x76, 0xa9, 0x14}}
	enc, err := EncodeTxOut(out)
	require.NoError(t, err)
	got, err := DecodeTxOut(enc)
	require.NoError(t, err)
	require.Equal(t, out.Value, got.Value)
	require.Equal(t, out.PkScript, got.PkScript)
}

func TestTxidsRoundTrip(t *testing.T) {
	txids := []chainhash.Hash{{0x01}, {0x02}, {0x03}}
	got, err := DecodeTxids(EncodeTxids(txids))
	require.NoError(t, err)
	require.Equal(t, txids, got)
}

func TestHistoryKeyOrdersByHeightBigEndian(t *testing.T) {
	sh := FullHash{0xAA}
	txid := chainhash.Hash{0xBB}
	low := HistoryFundingKey(sh, 1, txid, 0)
	high := HistoryFundingKey(sh, 2, txid, 0)
	require.Less(t, string(low), string(high), "big-endian height must sort lexicographically ascending")
}

func TestHistoryKeyRoundTrip(t *testing.T) {
	sh := FullHash{0xCC}
	txid := chainhash.Hash{0xDD}
	k := HistoryFundingKey(sh, 700000, txid, 3)
	row, err := DecodeHistoryKey(k)
	require.NoError(t, err)
	require.Equal(t, sh, row.ScriptHash)
	require.EqualValues(t, 700000, row.Height)
	require.Equal(t, HistoryFunding, row.Kind)
	require.Equal(t, txid, row.Txid)
	require.EqualValues(t, 3, row.IOIndex)
}

func TestHistoryPrefixIsKeyPrefix(t *testing.T) {
	sh := FullHash{0xEE}
	txid := chainhash.Hash{0xFF}
	prevTxid := chainhash.Hash{0x11}
	k := HistorySpendingKey(sh, 5, txid, 1, prevTxid, 0)
	prefix := HistoryPrefix(sh)
	require.True(t, len(k) > len(prefix))
	require.Equal(t, prefix, k[:len(prefix)])
}

func TestHistorySpendingKeyRoundTrip(t *testing.T) {
	sh := FullHash{0x22}
	spender := chainhash.Hash{0x33}
	prev := chainhash.Hash{0x44}
	k := HistorySpendingKey(sh, 42, spender, 2, prev, 7)
	row, err := DecodeHistoryKey(k)
	require.NoError(t, err)
	require.Equal(t, sh, row.ScriptHash)
	require.EqualValues(t, 42, row.Height)
	require.Equal(t, HistorySpending, row.Kind)
	require.Equal(t, spender, row.Txid)
	require.EqualValues(t, 2, row.IOIndex)
	require.Equal(t, prev, row.PrevTxid)
	require.EqualValues(t, 7, row.PrevVout)
}

func TestCachedUtxoRoundTrip(t *testing.T) {
	utxos := []CachedUtxo{
		{Txid: chainhash.Hash{0x01}, Vout: 0, Height: 100, Value: 1000},
		{Txid: chainhash.Hash{0x02}, Vout: 1, Height: 200, Value: 2000},
	}
	got, err := DecodeCachedUtxos(EncodeCachedUtxos(utxos))
	require.NoError(t, err)
	require.Equal(t, utxos, got)
}

func TestScriptHashIsDeterministic(t *testing.T) {
	script := []byte{0x00, 0x14, 0x01, 0x02}
	require.Equal(t, ScriptHash(script), ScriptHash(script))
	require.NotEqual(t, ScriptHash(script), ScriptHash([]byte{0x00}))
}

func TestIsProvablyUnspendableOpReturn(t *testing.T) {
	opReturn := []byte{0x6a, 0x04, 0xde, 0xad, 0xbe, 0xef}
	require.True(t, IsProvablyUnspendable(opReturn))

	p2pkh := []byte{0x76, 0xa9, 0x14}
	p2pkh = append(p2pkh, make([]byte, 20)...)
	p2pkh = append(p2pkh, 0x88, 0xac)
	require.False(t, IsProvablyUnspendable(p2pkh))
}
