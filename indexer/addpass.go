package indexer

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/ledgerwatch/turbo-electrs/chain"
	"github.com/ledgerwatch/turbo-electrs/daemon"
	"github.com/ledgerwatch/turbo-electrs/dbschema"
	"github.com/ledgerwatch/turbo-electrs/fetcher"
	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
	"github.com/ledgerwatch/turbo-electrs/store"
)

// runAddPass implements spec §4.5 steps 1-3: for every newly-fetched
// block, write its header (always), its raw transactions/txids/meta
// (unless LightMode), a TxConfRow per transaction, and a TxOutRow per
// spendable output. One Store.Batch per fetched BlockEntry batch, so a
// crash mid-pass never leaves a block half-written.
func (idx *Indexer) runAddPass(d *daemon.Client, hasTip bool, newHeaders []chain.HeaderEntry) error {
	if err := idx.store.SetAutoCompactions(store.CFTxStore, false); err != nil {
		return err
	}
	f := idx.selectFetcher(d, hasTip, newHeaders)
	for batch := range f.Batches() {
		if idx.waiter != nil && idx.waiter.Done() {
			return chainerr.Interrupted(0)
		}
		b := idx.store.NewBatch()
		marks := make([]store.HashHeight, 0, len(batch))
		for _, be := range batch {
			if err := addBlockRows(b, idx.cfg.LightMode, idx.cfg.IndexUnspendables, be); err != nil {
				return err
			}
			marks = append(marks, store.HashHeight{Hash: be.Entry.Hash, Height: be.Entry.Height})
		}
		if err := b.Commit(store.FlushDisable); err != nil {
			return err
		}
		idx.store.MarkAdded(marks...)
	}
	return f.Wait()
}

func addBlockRows(b *store.Batch, lightMode, indexUnspendables bool, be fetcher.BlockEntry) error {
	hash := be.Entry.Hash
	txids := make([]chainhash.Hash, 0, len(be.Block.Transactions))
	for _, tx := range be.Block.Transactions {
		txid := tx.TxHash()
		txids = append(txids, txid)

		b.Put(store.CFTxStore, dbschema.TxConfKey(txid, hash), []byte{})

		if !lightMode {
			raw, err := dbschema.EncodeTx(tx)
			if err != nil {
				return err
			}
			b.Put(store.CFTxStore, dbschema.TxKey(txid), raw)
		}

		for vout, txOut := range tx.TxOut {
			if dbschema.IsProvablyUnspendable(txOut.PkScript) && !indexUnspendables {
				continue
			}
			enc, err := dbschema.EncodeTxOut(txOut)
			if err != nil {
				return err
			}
			// vout is a Go int here; truncation to uint16 is the u16 ceiling
			// the O-row layout imposes (no real tx exceeds it).
			b.Put(store.CFTxStore, dbschema.TxOutKey(txid, uint16(vout)), enc)
		}
	}

	if !lightMode {
		b.Put(store.CFTxStore, dbschema.BlockTxidsKey(hash), dbschema.EncodeTxids(txids))
		b.Put(store.CFTxStore, dbschema.BlockMetaKey(hash), dbschema.BlockMeta{
			TxCount: uint32(len(be.Block.Transactions)),
			Size:    be.Size,
			Weight:  blockWeight(be.Block, be.Size),
		}.Encode())
	}

	headerBytes, err := dbschema.EncodeBlockHeader(&be.Block.Header)
	if err != nil {
		return err
	}
	b.Put(store.CFTxStore, dbschema.BlockHeaderKey(hash), headerBytes)
	b.Put(store.CFTxStore, dbschema.DoneKey(hash), []byte{})
	return nil
}

// blockWeight computes BIP141 weight: 3*stripped_size + total_size.
func blockWeight(block *wire.MsgBlock, totalSize uint32) uint32 {
	stripped := 80 + wire.VarIntSerializeSize(uint64(len(block.Transactions)))
	for _, tx := range block.Transactions {
		stripped += tx.SerializeSizeStripped()
	}
	return uint32(stripped)*3 + totalSize
}
