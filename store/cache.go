package store

import (
	"github.com/golang/snappy"

	"github.com/ledgerwatch/turbo-electrs/dbschema"
	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
)

// The on-disk `cache` column family relies on grocksdb's own block
// compression; values handed to the in-process fastcache front cache are
// snappy-compressed here instead, since fastcache has no codec of its own
// and its whole budget lives in process memory rather than on an SSD.

func (s *Store) frontSet(key, raw []byte) {
	s.front.Set(key, snappy.Encode(nil, raw))
}

func (s *Store) frontGet(key []byte) ([]byte, bool, error) {
	compressed, ok := s.front.HasGet(nil, key)
	if !ok {
		return nil, false, nil
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, chainerr.Wrap(chainerr.KindSchema, "decompressing front cache entry", err)
	}
	return raw, true, nil
}

// GetScriptStats reads the cached running totals for a script hash,
// checking the in-process fastcache front cache before falling through
// to the `cache` column family.
func (s *Store) GetScriptStats(sh dbschema.FullHash) (dbschema.ScriptStats, bool, error) {
	key := dbschema.ScriptStatsKey(sh)
	if cached, ok, err := s.frontGet(key); err != nil {
		return dbschema.ScriptStats{}, false, err
	} else if ok {
		stats, err := dbschema.DecodeScriptStats(cached)
		if err != nil {
			return dbschema.ScriptStats{}, false, err
		}
		return stats, true, nil
	}
	raw, err := s.getCF(s.cfCache, key)
	if err != nil {
		return dbschema.ScriptStats{}, false, err
	}
	if raw == nil {
		return dbschema.ScriptStats{}, false, nil
	}
	stats, err := dbschema.DecodeScriptStats(raw)
	if err != nil {
		return dbschema.ScriptStats{}, false, chainerr.Wrap(chainerr.KindSchema, "decoding cached ScriptStats", err)
	}
	s.frontSet(key, raw)
	return stats, true, nil
}

// PutScriptStats writes through to both the front cache and the `cache`
// column family.
func (s *Store) PutScriptStats(sh dbschema.FullHash, stats dbschema.ScriptStats) error {
	key := dbschema.ScriptStatsKey(sh)
	raw := stats.Encode()
	s.frontSet(key, raw)
	return s.putCF(s.cfCache, key, raw)
}

// InvalidateScriptCache drops both the stats and UTXO cache rows for a
// script hash, called whenever a new block touches it (the UTXO set and
// running totals are both now stale).
func (s *Store) InvalidateScriptCache(sh dbschema.FullHash) error {
	s.front.Del(dbschema.ScriptStatsKey(sh))
	s.front.Del(dbschema.UtxoKey(sh))
	b := s.NewBatch()
	b.Delete(CFCache, dbschema.ScriptStatsKey(sh))
	b.Delete(CFCache, dbschema.UtxoKey(sh))
	return b.Commit(FlushEnable)
}

func (s *Store) GetCachedUtxos(sh dbschema.FullHash) ([]dbschema.CachedUtxo, bool, error) {
	key := dbschema.UtxoKey(sh)
	if cached, ok, err := s.frontGet(key); err != nil {
		return nil, false, err
	} else if ok {
		utxos, err := dbschema.DecodeCachedUtxos(cached)
		if err != nil {
			return nil, false, err
		}
		return utxos, true, nil
	}
	raw, err := s.getCF(s.cfCache, key)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	utxos, err := dbschema.DecodeCachedUtxos(raw)
	if err != nil {
		return nil, false, chainerr.Wrap(chainerr.KindSchema, "decoding cached UTXO set", err)
	}
	s.frontSet(key, raw)
	return utxos, true, nil
}

func (s *Store) PutCachedUtxos(sh dbschema.FullHash, utxos []dbschema.CachedUtxo) error {
	key := dbschema.UtxoKey(sh)
	raw := dbschema.EncodeCachedUtxos(utxos)
	s.frontSet(key, raw)
	return s.putCF(s.cfCache, key, raw)
}
