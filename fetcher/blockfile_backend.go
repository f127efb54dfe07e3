package fetcher

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/ledgerwatch/turbo-electrs/chain"
	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
	"github.com/ledgerwatch/turbo-electrs/internal/logging"
)

var blkLog = logging.New("component", "fetcher.blkfiles")

const blockFileBatchSize = 64

// StartBlockFiles scans blocksDir/blk*.dat in filename order and yields
// batches of the headers present in newHeaders, in whatever order they
// are encountered on disk (§4.4's block-file back-end; ordering across
// batches is NOT guaranteed the way the RPC back-end's is — the add pass
// and index pass are per-block pure transforms and do not depend on
// intra-batch order, only the fetcher's own in-order send of batches).
func StartBlockFiles(blocksDir string, net wire.BitcoinNet, newHeaders []chain.HeaderEntry) *Fetcher {
	f := newFetcher()

	want := make(map[chainhash.Hash]chain.HeaderEntry, len(newHeaders))
	for _, e := range newHeaders {
		want[e.Hash] = e
	}

	go func() {
		var finishErr error
		defer func() {
			if r := recover(); r != nil {
				finishErr = chainerr.Newf(chainerr.KindSchema, "block-file fetcher panic: %v", r)
			}
			f.finish(finishErr)
		}()

		files, err := listBlockFiles(blocksDir)
		if err != nil {
			finishErr = err
			return
		}

		var pending []BlockEntry
		flush := func() {
			if len(pending) == 0 {
				return
			}
			f.batches <- pending
			pending = nil
		}

		for _, path := range files {
			if err := scanBlockFile(path, net, func(block *wire.MsgBlock) {
				hash := block.BlockHash()
				entry, ok := want[hash]
				if !ok {
					return // unknown/orphan block, silently skipped per §4.4
				}
				pending = append(pending, BlockEntry{
					Entry: entry,
					Block: block,
					Size:  uint32(block.SerializeSize()),
				})
				if len(pending) >= blockFileBatchSize {
					flush()
				}
			}); err != nil {
				finishErr = err
				return
			}
		}
		flush()
	}()
	return f
}

func listBlockFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "blk*.dat"))
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindIO, "globbing block files", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// scanBlockFile reads one blk*.dat file: a sequence of
// {magic:4, length:4 LE, block:length} records, possibly zero-padded
// between records. Records whose magic doesn't match net are skipped;
// a truncated trailing record ends the scan without error.
func scanBlockFile(path string, net wire.BitcoinNet, onBlock func(*wire.MsgBlock)) error {
	fh, err := os.Open(path)
	if err != nil {
		return chainerr.Wrap(chainerr.KindIO, "opening block file "+path, err)
	}
	defer fh.Close()

	r := bufio.NewReaderSize(fh, 1<<20)
	var magicBuf [4]byte
	netMagic := uint32(net)

	for {
		if err := skipZeroPadding(r, magicBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return chainerr.Wrap(chainerr.KindIO, "scanning "+path, err)
		}
		magic := binary.LittleEndian.Uint32(magicBuf[:])

		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return chainerr.Wrap(chainerr.KindIO, "reading record length in "+path, err)
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])

		raw := make([]byte, length)
		if _, err := io.ReadFull(r, raw); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil // truncated trailing record, tolerated
			}
			return chainerr.Wrap(chainerr.KindIO, "reading block record in "+path, err)
		}

		if magic != netMagic {
			blkLog.Debug("skipping record with foreign network magic", "file", path, "magic", magic)
			continue
		}

		block := &wire.MsgBlock{}
		if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
			blkLog.Warn("skipping undecodable block record", "file", path, "err", err)
			continue
		}
		onBlock(block)
	}
}

// skipZeroPadding skips zero bytes one at a time, then fills buf with the
// 4 bytes starting at the first non-zero byte, tolerating runs of zero
// bytes of any length the node sometimes leaves between records (spec
// §4.4, scenario S5).
func skipZeroPadding(r *bufio.Reader, buf []byte) error {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		if c != 0 {
			buf[0] = c
			_, err := io.ReadFull(r, buf[1:])
			return err
		}
	}
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
