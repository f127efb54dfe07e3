package fetcher

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ledgerwatch/turbo-electrs/chain"
	"github.com/ledgerwatch/turbo-electrs/daemon"
	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
)

const rpcChunkSize = 100

// StartRPC issues batched getblock calls against d in chunks of 100
// headers, preserving order, and sends each resulting batch on the
// returned Fetcher's channel (spec §4.4's RPC back-end). The caller is
// expected to have already reconnected d for exclusive fetcher use.
func StartRPC(d *daemon.Client, newHeaders []chain.HeaderEntry) *Fetcher {
	f := newFetcher()
	go func() {
		var finishErr error
		defer func() {
			if r := recover(); r != nil {
				finishErr = chainerr.Newf(chainerr.KindSchema, "rpc fetcher panic: %v", r)
			}
			f.finish(finishErr)
		}()

		for start := 0; start < len(newHeaders); start += rpcChunkSize {
			end := start + rpcChunkSize
			if end > len(newHeaders) {
				end = len(newHeaders)
			}
			chunk := newHeaders[start:end]

			hashes := make([]chainhash.Hash, len(chunk))
			for i, e := range chunk {
				hashes[i] = e.Hash
			}
			blocks, err := d.GetBlocks(hashes)
			if err != nil {
				finishErr = err
				return
			}
			if len(blocks) != len(chunk) {
				finishErr = chainerr.Newf(chainerr.KindProtocol, "rpc fetcher: requested %d blocks, got %d", len(chunk), len(blocks))
				return
			}

			batch := make([]BlockEntry, len(chunk))
			for i, b := range blocks {
				batch[i] = BlockEntry{Entry: chunk[i], Block: b, Size: uint32(b.SerializeSize())}
			}
			f.batches <- batch
		}
	}()
	return f
}
