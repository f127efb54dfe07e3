package indexer

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerwatch/turbo-electrs/chain"
	"github.com/ledgerwatch/turbo-electrs/daemon"
	"github.com/ledgerwatch/turbo-electrs/dbschema"
	"github.com/ledgerwatch/turbo-electrs/fetcher"
	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
	"github.com/ledgerwatch/turbo-electrs/internal/config"
	"github.com/ledgerwatch/turbo-electrs/store"
)

// outpointWorkers bounds the concurrent TxOutKey lookups done while
// resolving spent outputs for one fetched batch: each outpoint is looked
// up in its own goroutine, started only once one of these slots is free.
const outpointWorkers = 16

type outpoint struct {
	txid chainhash.Hash
	vout uint32
}

// runIndexPass implements spec §4.5 steps 4-6: resolve every spent
// output's scriptPubKey, then emit Funding/Spending history rows, spend
// edges, and (if enabled) address-search rows, before marking each block
// done in the history column family.
func (idx *Indexer) runIndexPass(d *daemon.Client, hasTip bool, newHeaders []chain.HeaderEntry) error {
	if err := idx.store.SetAutoCompactions(store.CFHistory, false); err != nil {
		return err
	}
	f := idx.selectFetcher(d, hasTip, newHeaders)
	for batch := range f.Batches() {
		if idx.waiter != nil && idx.waiter.Done() {
			return chainerr.Interrupted(0)
		}
		if err := idx.indexBatch(batch); err != nil {
			return err
		}
	}
	return f.Wait()
}

func (idx *Indexer) indexBatch(batch []fetcher.BlockEntry) error {
	resolved, err := idx.resolvePrevouts(batch)
	if err != nil {
		return err
	}

	b := idx.store.NewBatch()
	marks := make([]store.HashHeight, 0, len(batch))
	touched := map[dbschema.FullHash]bool{}
	params := chainParams(idx.cfg.Network)

	for _, be := range batch {
		for _, tx := range be.Block.Transactions {
			txid := tx.TxHash()
			if !dbschema.IsCoinbase(tx) {
				for vin, in := range tx.TxIn {
					op := in.PreviousOutPoint
					prevOut, ok := resolved[outpoint{op.Hash, op.Index}]
					if !ok {
						continue
					}
					sh := dbschema.ScriptHash(prevOut.PkScript)
					b.Put(store.CFHistory,
						dbschema.HistorySpendingKey(sh, be.Entry.Height, txid, uint32(vin), op.Hash, op.Index),
						dbschema.SpendingValue{PrevAmount: prevOut.Value}.Encode())
					b.Put(store.CFHistory, dbschema.SpendEdgeKey(op.Hash, op.Index, txid, uint32(vin)), []byte{})
					touched[sh] = true
					if idx.cfg.AddressSearch {
						putAddressRow(b, params, prevOut.PkScript)
					}
				}
			}

			for vout, txOut := range tx.TxOut {
				if dbschema.IsProvablyUnspendable(txOut.PkScript) && !idx.cfg.IndexUnspendables {
					continue
				}
				sh := dbschema.ScriptHash(txOut.PkScript)
				b.Put(store.CFHistory,
					dbschema.HistoryFundingKey(sh, be.Entry.Height, txid, uint32(vout)),
					dbschema.FundingValue{Amount: txOut.Value}.Encode())
				touched[sh] = true
				if idx.cfg.AddressSearch {
					putAddressRow(b, params, txOut.PkScript)
				}
			}
		}
		b.Put(store.CFHistory, dbschema.DoneKey(be.Entry.Hash), []byte{})
		marks = append(marks, store.HashHeight{Hash: be.Entry.Hash, Height: be.Entry.Height})
	}

	if err := b.Commit(store.FlushDisable); err != nil {
		return err
	}
	idx.store.MarkIndexed(marks...)

	for sh := range touched {
		if err := idx.store.InvalidateScriptCache(sh); err != nil {
			return err
		}
	}
	return nil
}

// resolvePrevouts looks up the scriptPubKey/value of every non-coinbase
// input's previous output across the whole batch, fanned out over a
// bounded worker pool since each lookup is an independent point read
// against txstore (spec §5).
func (idx *Indexer) resolvePrevouts(batch []fetcher.BlockEntry) (map[outpoint]*wire.TxOut, error) {
	want := map[outpoint]bool{}
	for _, be := range batch {
		for _, tx := range be.Block.Transactions {
			if dbschema.IsCoinbase(tx) {
				continue
			}
			for _, in := range tx.TxIn {
				want[outpoint{in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index}] = true
			}
		}
	}

	keys := make([]outpoint, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}

	resolved := make(map[outpoint]*wire.TxOut, len(keys))
	var mu sync.Mutex
	var g errgroup.Group
	sem := make(chan struct{}, outpointWorkers)
	for _, k := range keys {
		k := k
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			// k.vout is uint32 on the wire; truncated here to the O-row's u16 ceiling.
			raw, err := idx.store.Get(store.CFTxStore, dbschema.TxOutKey(k.txid, uint16(k.vout)))
			if err != nil {
				return err
			}
			if raw == nil {
				// Provably-unspendable or not yet visible (e.g. spent
				// within the same batch before its funding block was
				// flushed); the spending row is skipped rather than
				// guessed at.
				return nil
			}
			out, err := dbschema.DecodeTxOut(raw)
			if err != nil {
				return err
			}
			mu.Lock()
			resolved[k] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// chainParams maps a config.Network onto the btcsuite chain parameters
// used for address-search decoding. Signet has no dedicated params in
// this btcd vintage, so it borrows TestNet3Params the way fetcher's
// NetworkMagic borrows wire.TestNet for the same reason. Liquid variants
// have no btcsuite params at all; address search degrades to no-op for
// them (see putAddressRow).
func chainParams(net config.Network) *chaincfg.Params {
	switch net {
	case config.Mainnet:
		return &chaincfg.MainNetParams
	case config.Testnet:
		return &chaincfg.TestNet3Params
	case config.Regtest:
		return &chaincfg.RegressionNetParams
	case config.Signet:
		return &chaincfg.TestNet3Params
	default:
		return nil
	}
}

// putAddressRow decodes pkScript into its address (if any) and writes the
// a{address} existence row (spec §4.6). Scripts with no decodable address
// (bare multisig, OP_RETURN, non-standard) are silently skipped, as is
// every call when params is nil (Liquid networks).
func putAddressRow(b *store.Batch, params *chaincfg.Params, pkScript []byte) {
	if params == nil {
		return
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return
	}
	b.Put(store.CFHistory, dbschema.AddressIndexKey(addrs[0].EncodeAddress()), []byte{})
}
