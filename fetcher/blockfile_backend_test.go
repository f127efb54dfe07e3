package fetcher

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/turbo-electrs/chain"
)

func mkBlock(t *testing.T, nonce uint32) *wire.MsgBlock {
	t.Helper()
	header := wire.BlockHeader{Timestamp: time.Unix(0, 0), Nonce: nonce}
	return &wire.MsgBlock{Header: header}
}

func serializeRecord(t *testing.T, magic uint32, block *wire.MsgBlock) []byte {
	t.Helper()
	var body bytes.Buffer
	require.NoError(t, block.Serialize(&body))

	var rec bytes.Buffer
	var magicBuf, lenBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], magic)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(body.Len()))
	rec.Write(magicBuf[:])
	rec.Write(lenBuf[:])
	rec.Write(body.Bytes())
	return rec.Bytes()
}

func TestScanBlockFileSkipsForeignMagicAndPadding(t *testing.T) {
	good1 := mkBlock(t, 1)
	foreign := mkBlock(t, 2)
	good2 := mkBlock(t, 3)

	var file bytes.Buffer
	file.Write(serializeRecord(t, uint32(wire.MainNet), good1))
	file.Write(make([]byte, 23)) // zero-padding region, scenario S5
	file.Write(serializeRecord(t, uint32(wire.TestNet3), foreign))
	file.Write(serializeRecord(t, uint32(wire.MainNet), good2))

	dir := t.TempDir()
	path := filepath.Join(dir, "blk00000.dat")
	require.NoError(t, os.WriteFile(path, file.Bytes(), 0o644))

	var got []*wire.MsgBlock
	err := scanBlockFile(path, wire.MainNet, func(b *wire.MsgBlock) {
		got = append(got, b)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, good1.Header.Nonce, got[0].Header.Nonce)
	require.Equal(t, good2.Header.Nonce, got[1].Header.Nonce)
}

func TestScanBlockFileTruncatedTrailingRecordIsTolerated(t *testing.T) {
	good := mkBlock(t, 42)
	var file bytes.Buffer
	file.Write(serializeRecord(t, uint32(wire.MainNet), good))
	// truncated trailing record: magic + length, then nothing.
	var magicBuf, lenBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], uint32(wire.MainNet))
	binary.LittleEndian.PutUint32(lenBuf[:], 1000)
	file.Write(magicBuf[:])
	file.Write(lenBuf[:])

	dir := t.TempDir()
	path := filepath.Join(dir, "blk00001.dat")
	require.NoError(t, os.WriteFile(path, file.Bytes(), 0o644))

	var got []*wire.MsgBlock
	err := scanBlockFile(path, wire.MainNet, func(b *wire.MsgBlock) {
		got = append(got, b)
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStartBlockFilesSkipsUnknownBlocksAndBatches(t *testing.T) {
	known := mkBlock(t, 7)
	unknown := mkBlock(t, 8)

	var file bytes.Buffer
	file.Write(serializeRecord(t, uint32(wire.MainNet), known))
	file.Write(serializeRecord(t, uint32(wire.MainNet), unknown))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blk00000.dat"), file.Bytes(), 0o644))

	entry := chain.HeaderEntry{Height: 0, Hash: known.BlockHash(), Header: known.Header}
	f := StartBlockFiles(dir, wire.MainNet, []chain.HeaderEntry{entry})

	var batches [][]BlockEntry
	for b := range f.Batches() {
		batches = append(batches, b)
	}
	require.NoError(t, f.Wait())
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, known.BlockHash(), batches[0][0].Entry.Hash)
}

func TestFileListingIsSortedByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"blk00002.dat", "blk00000.dat", "blk00001.dat"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	files, err := listBlockFiles(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "blk00000.dat"),
		filepath.Join(dir, "blk00001.dat"),
		filepath.Join(dir, "blk00002.dat"),
	}, files)
}
