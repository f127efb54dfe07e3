// Package dbschema is the byte-exact contract between the indexing core
// and the query/serving layer: one-byte key prefixes per column family
// and the key/value codecs for every row the indexer emits. This is a
// deliberate rewrite of the teacher's common/dbutils/bucket.go prefix
// catalogue — same "single ASCII byte avoids mixing data types" idea,
// entirely different rows (Bitcoin outpoints/scripts, not EVM accounts).
package dbschema

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Column families. The store opens exactly these three.
const (
	CFTxStore = "txstore"
	CFHistory = "history"
	CFCache   = "cache"
)

// One-byte row prefixes, see spec §6.
const (
	PrefixBlockHeader  byte = 'B' // txstore: B{blockhash} -> header
	PrefixBlockTxids   byte = 'X' // txstore: X{blockhash} -> ordered txids (full mode)
	PrefixBlockMeta    byte = 'M' // txstore: M{blockhash} -> {tx_count,size,weight} (full mode)
	PrefixTx           byte = 'T' // txstore: T{txid} -> raw tx (full mode)
	PrefixTxConf       byte = 'C' // txstore: C{txid}{blockhash} -> empty
	PrefixTxOut        byte = 'O' // txstore: O{txid}{vout:u16} -> raw TxOut
	PrefixDone         byte = 'D' // txstore/history: D{blockhash} -> empty
	PrefixHistory      byte = 'H' // history: H{scripthash}{height-BE}{F|S}{...}
	PrefixSpendEdge    byte = 'S' // history: S{funding_txid}{funding_vout}{spending_txid}{spending_vin}
	PrefixAddressIndex byte = 'a' // history: a{address_utf8} -> empty
	PrefixScriptStats  byte = 'A' // cache: A{scripthash} -> ScriptStats
	PrefixUtxo         byte = 'U' // cache: U{scripthash} -> CachedUtxo
	PrefixVersion      byte = 'V' // txstore: compat byte-block
	PrefixTip          byte = 't' // txstore: current chain tip hash
)

// History row kinds, the single byte following {scripthash}{height} in a
// PrefixHistory row.
const (
	HistoryFunding  byte = 'F'
	HistorySpending byte = 'S'
)

// FullHash is the script-hash index key: SHA-256 of scriptPubKey, per
// spec §3's "Script hash" entity.
type FullHash [32]byte

func ScriptHash(pkScript []byte) FullHash {
	return FullHash(sha256.Sum256(pkScript))
}

// --- txstore rows ---

func BlockHeaderKey(hash chainhash.Hash) []byte {
	return append([]byte{PrefixBlockHeader}, hash[:]...)
}

func BlockTxidsKey(hash chainhash.Hash) []byte {
	return append([]byte{PrefixBlockTxids}, hash[:]...)
}

func BlockMetaKey(hash chainhash.Hash) []byte {
	return append([]byte{PrefixBlockMeta}, hash[:]...)
}

func TxKey(txid chainhash.Hash) []byte {
	return append([]byte{PrefixTx}, txid[:]...)
}

func TxConfKey(txid, blockhash chainhash.Hash) []byte {
	k := make([]byte, 0, 1+32+32)
	k = append(k, PrefixTxConf)
	k = append(k, txid[:]...)
	k = append(k, blockhash[:]...)
	return k
}

// TxOutKey builds an `O{txid}{vout:u16}` row key; vout above 65535 is not
// representable. Callers convert with uint16(), so such a vout wraps
// around modulo 65536 rather than being rejected.
func TxOutKey(txid chainhash.Hash, vout uint16) []byte {
	k := make([]byte, 1+32+2)
	k[0] = PrefixTxOut
	copy(k[1:33], txid[:])
	binary.LittleEndian.PutUint16(k[33:35], vout)
	return k
}

func DoneKey(blockhash chainhash.Hash) []byte {
	return append([]byte{PrefixDone}, blockhash[:]...)
}

func VersionKey() []byte { return []byte{PrefixVersion} }
func TipKey() []byte     { return []byte{PrefixTip} }

// BlockMeta is the value of an `M` row.
type BlockMeta struct {
	TxCount uint32
	Size    uint32
	Weight  uint32
}

func (m BlockMeta) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], m.TxCount)
	binary.LittleEndian.PutUint32(buf[4:8], m.Size)
	binary.LittleEndian.PutUint32(buf[8:12], m.Weight)
	return buf
}

func DecodeBlockMeta(b []byte) (BlockMeta, error) {
	if len(b) != 12 {
		return BlockMeta{}, fmt.Errorf("dbschema: bad BlockMeta length %d", len(b))
	}
	return BlockMeta{
		TxCount: binary.LittleEndian.Uint32(b[0:4]),
		Size:    binary.LittleEndian.Uint32(b[4:8]),
		Weight:  binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// EncodeTxOut serializes a wire.TxOut in the node's consensus wire form
// (little-endian throughout, per §4.5's "all other composite keys are
// little-endian" rule).
func EncodeTxOut(out *wire.TxOut) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteTxOut(&buf, 0, 0, out); err != nil {
		return nil, fmt.Errorf("dbschema: encode TxOut: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeTxOut(b []byte) (*wire.TxOut, error) {
	out := &wire.TxOut{}
	if err := wire.ReadTxOut(bytes.NewReader(b), 0, 0, out); err != nil {
		return nil, fmt.Errorf("dbschema: decode TxOut: %w", err)
	}
	return out, nil
}

func EncodeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("dbschema: encode tx: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeTx(b []byte) (*wire.MsgTx, error) {
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("dbschema: decode tx: %w", err)
	}
	return tx, nil
}

func EncodeBlockHeader(h *wire.BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("dbschema: encode header: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeBlockHeader(b []byte) (*wire.BlockHeader, error) {
	h := &wire.BlockHeader{}
	if err := h.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("dbschema: decode header: %w", err)
	}
	return h, nil
}

// EncodeTxids serializes an ordered list of txids as a flat concatenation
// of 32-byte hashes (an X row).
func EncodeTxids(txids []chainhash.Hash) []byte {
	buf := make([]byte, 0, len(txids)*32)
	for _, t := range txids {
		buf = append(buf, t[:]...)
	}
	return buf
}

func DecodeTxids(b []byte) ([]chainhash.Hash, error) {
	if len(b)%32 != 0 {
		return nil, fmt.Errorf("dbschema: bad txids blob length %d", len(b))
	}
	out := make([]chainhash.Hash, len(b)/32)
	for i := range out {
		copy(out[i][:], b[i*32:(i+1)*32])
	}
	return out, nil
}

// --- history rows ---
//
// Unlike every other composite key in this schema, the height component
// of a history row is encoded big-endian. History rows are the only rows
// iterated by range (iter_scan over a scripthash prefix, oldest-to-newest
// or reversed), and RocksDB's bytewise key ordering only sorts a binary
// height ascending by value when it is big-endian.

// HistoryFundingKey: H{scripthash}{height-BE}{'F'}{funding_txid}{funding_vout}
func HistoryFundingKey(scripthash FullHash, height uint32, txid chainhash.Hash, vout uint32) []byte {
	k := make([]byte, 0, 1+32+4+1+32+4)
	k = append(k, PrefixHistory)
	k = append(k, scripthash[:]...)
	k = appendBE32(k, height)
	k = append(k, HistoryFunding)
	k = append(k, txid[:]...)
	k = appendLE32(k, vout)
	return k
}

// HistorySpendingKey: H{scripthash}{height-BE}{'S'}{spender_txid}{vin}{prev_txid}{prev_vout}
func HistorySpendingKey(scripthash FullHash, height uint32, spenderTxid chainhash.Hash, vin uint32, prevTxid chainhash.Hash, prevVout uint32) []byte {
	k := make([]byte, 0, 1+32+4+1+32+4+32+4)
	k = append(k, PrefixHistory)
	k = append(k, scripthash[:]...)
	k = appendBE32(k, height)
	k = append(k, HistorySpending)
	k = append(k, spenderTxid[:]...)
	k = appendLE32(k, vin)
	k = append(k, prevTxid[:]...)
	k = appendLE32(k, prevVout)
	return k
}

// HistoryPrefix returns the scan prefix for every row belonging to a
// script hash, H{scripthash}.
func HistoryPrefix(scripthash FullHash) []byte {
	k := make([]byte, 0, 1+32)
	k = append(k, PrefixHistory)
	k = append(k, scripthash[:]...)
	return k
}

// HistoryRow is a parsed H row. PrevTxid/PrevVout are only populated for
// HistorySpending rows.
type HistoryRow struct {
	ScriptHash FullHash
	Height     uint32
	Kind       byte
	Txid       chainhash.Hash
	IOIndex    uint32 // vout for Funding, vin for Spending
	PrevTxid   chainhash.Hash
	PrevVout   uint32
}

const historyFundingKeyLen = 1 + 32 + 4 + 1 + 32 + 4
const historySpendingKeyLen = 1 + 32 + 4 + 1 + 32 + 4 + 32 + 4

func DecodeHistoryKey(k []byte) (HistoryRow, error) {
	if len(k) < 1+32+4+1 || k[0] != PrefixHistory {
		return HistoryRow{}, fmt.Errorf("dbschema: malformed history key, length %d", len(k))
	}
	var row HistoryRow
	copy(row.ScriptHash[:], k[1:33])
	row.Height = binary.BigEndian.Uint32(k[33:37])
	row.Kind = k[37]
	copy(row.Txid[:], k[38:70])
	row.IOIndex = binary.LittleEndian.Uint32(k[70:74])
	switch row.Kind {
	case HistoryFunding:
		if len(k) != historyFundingKeyLen {
			return HistoryRow{}, fmt.Errorf("dbschema: malformed funding key, length %d", len(k))
		}
	case HistorySpending:
		if len(k) != historySpendingKeyLen {
			return HistoryRow{}, fmt.Errorf("dbschema: malformed spending key, length %d", len(k))
		}
		copy(row.PrevTxid[:], k[74:106])
		row.PrevVout = binary.LittleEndian.Uint32(k[106:110])
	default:
		return HistoryRow{}, fmt.Errorf("dbschema: unknown history row kind %q", row.Kind)
	}
	return row, nil
}

// FundingValue is an H...F row's value: the amount, duplicating what's
// already recoverable from the referenced O row but avoiding a second
// lookup on the hot read path (spec §4.5 step 3).
type FundingValue struct {
	Amount int64
}

func (v FundingValue) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v.Amount))
	return buf
}

func DecodeFundingValue(b []byte) (FundingValue, error) {
	if len(b) != 8 {
		return FundingValue{}, fmt.Errorf("dbschema: bad FundingValue length %d", len(b))
	}
	return FundingValue{Amount: int64(binary.LittleEndian.Uint64(b))}, nil
}

// SpendingValue is an H...S row's value: the amount of the output being
// spent, per spec §4.5 step 4 ("value including previous value").
type SpendingValue struct {
	PrevAmount int64
}

func (v SpendingValue) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v.PrevAmount))
	return buf
}

func DecodeSpendingValue(b []byte) (SpendingValue, error) {
	if len(b) != 8 {
		return SpendingValue{}, fmt.Errorf("dbschema: bad SpendingValue length %d", len(b))
	}
	return SpendingValue{PrevAmount: int64(binary.LittleEndian.Uint64(b))}, nil
}

// SpendEdgeKey links a spent output to the transaction that spent it:
// S{funding_txid}{funding_vout}{spending_txid}{spending_vin}. Populated
// during the index pass once the spending input is observed (spec §4.5).
func SpendEdgeKey(fundingTxid chainhash.Hash, fundingVout uint32, spendingTxid chainhash.Hash, spendingVin uint32) []byte {
	k := make([]byte, 0, 1+32+4+32+4)
	k = append(k, PrefixSpendEdge)
	k = append(k, fundingTxid[:]...)
	k = appendLE32(k, fundingVout)
	k = append(k, spendingTxid[:]...)
	k = appendLE32(k, spendingVin)
	return k
}

// SpendEdgeLookupPrefix is the scan prefix used to answer "who spent
// output N of tx T": S{txid}{vout}.
func SpendEdgeLookupPrefix(fundingTxid chainhash.Hash, fundingVout uint32) []byte {
	k := make([]byte, 0, 1+32+4)
	k = append(k, PrefixSpendEdge)
	k = append(k, fundingTxid[:]...)
	k = appendLE32(k, fundingVout)
	return k
}

// AddressIndexKey is the a{address} existence row backing the optional
// substring/prefix address search index (spec §4.6, gated by
// Config.AddressSearch).
func AddressIndexKey(address string) []byte {
	return append([]byte{PrefixAddressIndex}, []byte(address)...)
}

// --- cache rows ---

// ScriptStats is the value of an `A` row: running totals the query layer
// would otherwise recompute from a full history scan on every request.
type ScriptStats struct {
	FundedTxoCount uint64
	FundedTxoSum   uint64
	SpentTxoCount  uint64
	SpentTxoSum    uint64
	TxCount        uint64
}

func (s ScriptStats) Encode() []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:8], s.FundedTxoCount)
	binary.LittleEndian.PutUint64(buf[8:16], s.FundedTxoSum)
	binary.LittleEndian.PutUint64(buf[16:24], s.SpentTxoCount)
	binary.LittleEndian.PutUint64(buf[24:32], s.SpentTxoSum)
	binary.LittleEndian.PutUint64(buf[32:40], s.TxCount)
	return buf
}

func DecodeScriptStats(b []byte) (ScriptStats, error) {
	if len(b) != 40 {
		return ScriptStats{}, fmt.Errorf("dbschema: bad ScriptStats length %d", len(b))
	}
	return ScriptStats{
		FundedTxoCount: binary.LittleEndian.Uint64(b[0:8]),
		FundedTxoSum:   binary.LittleEndian.Uint64(b[8:16]),
		SpentTxoCount:  binary.LittleEndian.Uint64(b[16:24]),
		SpentTxoSum:    binary.LittleEndian.Uint64(b[24:32]),
		TxCount:        binary.LittleEndian.Uint64(b[32:40]),
	}, nil
}

func ScriptStatsKey(scripthash FullHash) []byte {
	return append([]byte{PrefixScriptStats}, scripthash[:]...)
}

// CachedUtxo is one entry of the `U` row value: a flattened, serialized
// confirmed-UTXO set for a script hash, refreshed lazily on cache miss
// and invalidated wholesale whenever a new block touches the script hash.
type CachedUtxo struct {
	Txid   chainhash.Hash
	Vout   uint32
	Height uint32
	Value  int64
}

func EncodeCachedUtxos(utxos []CachedUtxo) []byte {
	buf := make([]byte, 0, len(utxos)*48)
	for _, u := range utxos {
		buf = append(buf, u.Txid[:]...)
		buf = appendLE32(buf, u.Vout)
		buf = appendLE32(buf, u.Height)
		var v [8]byte
		binary.LittleEndian.PutUint64(v[:], uint64(u.Value))
		buf = append(buf, v[:]...)
	}
	return buf
}

func DecodeCachedUtxos(b []byte) ([]CachedUtxo, error) {
	const rowSize = 32 + 4 + 4 + 8
	if len(b)%rowSize != 0 {
		return nil, fmt.Errorf("dbschema: bad CachedUtxo blob length %d", len(b))
	}
	out := make([]CachedUtxo, len(b)/rowSize)
	for i := range out {
		row := b[i*rowSize : (i+1)*rowSize]
		copy(out[i].Txid[:], row[0:32])
		out[i].Vout = binary.LittleEndian.Uint32(row[32:36])
		out[i].Height = binary.LittleEndian.Uint32(row[36:40])
		out[i].Value = int64(binary.LittleEndian.Uint64(row[40:48]))
	}
	return out, nil
}

func UtxoKey(scripthash FullHash) []byte {
	return append([]byte{PrefixUtxo}, scripthash[:]...)
}

func appendBE32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendLE32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
