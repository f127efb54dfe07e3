package store

import (
	"github.com/linxGnu/grocksdb"

	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
)

// CF identifies which column family a Batch/iterator operation targets.
type CF int

const (
	CFTxStore CF = iota
	CFHistory
	CFCache
)

func (s *Store) handle(cf CF) *grocksdb.ColumnFamilyHandle {
	switch cf {
	case CFTxStore:
		return s.cfTx
	case CFHistory:
		return s.cfHist
	case CFCache:
		return s.cfCache
	default:
		panic("store: unknown column family")
	}
}

func (s *Store) getCF(cf *grocksdb.ColumnFamilyHandle, key []byte) ([]byte, error) {
	slice, err := s.db.GetCF(s.ro, cf, key)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindIO, "get", err)
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, nil
	}
	out := make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, nil
}

func (s *Store) putCF(cf *grocksdb.ColumnFamilyHandle, key, value []byte) error {
	if err := s.db.PutCF(s.wo, cf, key, value); err != nil {
		return chainerr.Wrap(chainerr.KindIO, "put", err)
	}
	return nil
}

// Get reads a single key from the given column family, returning (nil,
// nil) on a miss.
func (s *Store) Get(cf CF, key []byte) ([]byte, error) {
	return s.getCF(s.handle(cf), key)
}

// Put writes a single key to the given column family, outside of a Batch,
// with the durable WriteOptions. Bulk row writes always go through Batch.
func (s *Store) Put(cf CF, key, value []byte) error {
	return s.putCF(s.handle(cf), key, value)
}

// FlushMode selects the WriteOptions a Batch commits with, the write(cf,
// rows, flush) parameter: Enable is a durable, WAL-backed write; Disable
// skips the WAL for throughput and is only safe for the bulk add/index
// passes, which replay from the node on a crash regardless.
type FlushMode int

const (
	FlushEnable FlushMode = iota
	FlushDisable
)

// Batch accumulates the writes for one fetched batch of blocks (the add
// and index passes each use one Batch per batch the fetcher sends),
// committed as a single grocksdb WriteBatch. Rows are not sorted before
// the write; they are applied in the order they were added.
type Batch struct {
	s  *Store
	wb *grocksdb.WriteBatch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{s: s, wb: grocksdb.NewWriteBatch()}
}

func (b *Batch) Put(cf CF, key, value []byte) {
	b.wb.PutCF(b.s.handle(cf), key, value)
}

func (b *Batch) Delete(cf CF, key []byte) {
	b.wb.DeleteCF(b.s.handle(cf), key)
}

// Commit writes the accumulated batch atomically under the WriteOptions
// named by flush.
func (b *Batch) Commit(flush FlushMode) error {
	defer b.wb.Destroy()
	wo := b.s.wo
	if flush == FlushDisable {
		wo = b.s.woFast
	}
	if err := b.s.db.Write(wo, b.wb); err != nil {
		return chainerr.Wrap(chainerr.KindIO, "committing batch", err)
	}
	return nil
}

// IterScan calls fn for every key with the given prefix, in ascending
// key order, until fn returns false or the prefix is exhausted.
func (s *Store) IterScan(cf CF, prefix []byte, fn func(key, value []byte) bool) error {
	it := s.db.NewIteratorCF(s.ro, s.handle(cf))
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k, v := it.Key(), it.Value()
		cont := fn(k.Data(), v.Data())
		k.Free()
		v.Free()
		if !cont {
			break
		}
	}
	if err := it.Err(); err != nil {
		return chainerr.Wrap(chainerr.KindIO, "iter_scan", err)
	}
	return nil
}

// IterScanFrom is IterScan starting at the first key >= start instead of
// at prefix itself, used to resume a paginated history read.
func (s *Store) IterScanFrom(cf CF, prefix, start []byte, fn func(key, value []byte) bool) error {
	it := s.db.NewIteratorCF(s.ro, s.handle(cf))
	defer it.Close()
	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		k, v := it.Key(), it.Value()
		cont := fn(k.Data(), v.Data())
		k.Free()
		v.Free()
		if !cont {
			break
		}
	}
	if err := it.Err(); err != nil {
		return chainerr.Wrap(chainerr.KindIO, "iter_scan_from", err)
	}
	return nil
}

// ReverseIterScan walks a prefix from its last key backward, the
// "non-increasing height order" side of spec §8 invariant 4.
func (s *Store) ReverseIterScan(cf CF, prefix []byte, fn func(key, value []byte) bool) error {
	it := s.db.NewIteratorCF(s.ro, s.handle(cf))
	defer it.Close()
	upperBound := prefixUpperBound(prefix)
	for it.SeekForPrev(upperBound); it.ValidForPrefix(prefix); it.Prev() {
		k, v := it.Key(), it.Value()
		cont := fn(k.Data(), v.Data())
		k.Free()
		v.Free()
		if !cont {
			break
		}
	}
	if err := it.Err(); err != nil {
		return chainerr.Wrap(chainerr.KindIO, "reverse_iter_scan", err)
	}
	return nil
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, by incrementing its last byte that is not 0xFF and
// dropping the bytes after it (RocksDB exclusive upper-bound convention). Panics if prefix is all 0xFF, which never
// happens for this schema's one-byte-prefix + fixed-width keys.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	panic("store: prefix is all 0xFF, no upper bound exists")
}

// Flush forces every column family's memtable to disk — the flush()
// durability barrier, called at the `update()` boundary after a bulk
// pass committed with FlushDisable, plus in tests and before a clean
// shutdown.
func (s *Store) Flush() error {
	fo := grocksdb.NewDefaultFlushOptions()
	defer fo.Destroy()
	for _, cf := range []*grocksdb.ColumnFamilyHandle{s.cfTx, s.cfHist, s.cfCache} {
		if err := s.db.FlushCF(cf, fo); err != nil {
			return chainerr.Wrap(chainerr.KindIO, "flush", err)
		}
	}
	return nil
}

// SetAutoCompactions toggles auto-compaction for one column family. The
// indexer disables it on a CF for the duration of a pass and re-enables
// it once the pass completes (spec §4.5 steps 5 and 7), since a long
// sequential-write pass triggering background compactions mid-flight
// would contend with its own write throughput.
func (s *Store) SetAutoCompactions(cf CF, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	if err := s.db.SetOptionsCF(s.handle(cf), map[string]string{"disable_auto_compactions": negate(value)}); err != nil {
		return chainerr.Wrap(chainerr.KindIO, "toggling auto-compactions", err)
	}
	return nil
}

func negate(boolStr string) string {
	if boolStr == "true" {
		return "false"
	}
	return "true"
}
