// Package chain maintains the indexer's notion of the best chain: a flat,
// height-ordered vector of header entries plus a hash-to-height map and a
// tip hash, reconciled against the node on every update() per spec §4.2.
package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	lru "github.com/hashicorp/golang-lru"
)

// HeaderEntry is immutable once created; its lifetime is the lifetime of
// its position in the active chain (spec §3).
type HeaderEntry struct {
	Height uint32
	Hash   chainhash.Hash
	Header wire.BlockHeader
}

const hashCacheSize = 4096

// List is the ordered sequence of HeaderEntry by height, a hash→height
// index, and the current tip. It is not safe for concurrent read/write;
// callers hold a RWMutex around it (spec §5 — writers are the indexer
// main thread, readers are the query layer).
type List struct {
	entries    []HeaderEntry
	byHash     map[chainhash.Hash]uint32
	tip        chainhash.Hash
	hashCache  *lru.Cache // chainhash.Hash -> HeaderEntry (by value), mirrors headerCache in core/headerchain.go
}

// Empty returns a List with no headers and a zero tip.
func Empty() *List {
	c, _ := lru.New(hashCacheSize)
	return &List{byHash: map[chainhash.Hash]uint32{}, hashCache: c}
}

// Load reconstructs a List from a flat map of known headers (as read back
// from the `B` prefix in txstore) and the tip hash stored at key `t`. It
// walks backward from the tip until it finds a header whose parent is
// absent from the map, then reverses that walk into an ascending,
// contiguous list. A broken parent chain is a fatal schema error.
func Load(headers map[chainhash.Hash]*HeaderEntry, tip chainhash.Hash) (*List, error) {
	if len(headers) == 0 {
		l := Empty()
		return l, nil
	}
	tipEntry, ok := headers[tip]
	if !ok {
		return nil, fmt.Errorf("chain: tip hash %s not found among loaded headers", tip)
	}
	var reversed []HeaderEntry
	cur := tipEntry
	seen := make(map[chainhash.Hash]bool, len(headers))
	for {
		if seen[cur.Hash] {
			return nil, fmt.Errorf("chain: cycle detected in header parent chain at %s", cur.Hash)
		}
		seen[cur.Hash] = true
		reversed = append(reversed, *cur)
		parent := cur.Header.PrevBlock
		if parent == (chainhash.Hash{}) {
			break
		}
		next, ok := headers[parent]
		if !ok {
			break
		}
		if next.Height+1 != cur.Height {
			return nil, fmt.Errorf("chain: non-contiguous height at %s: parent height %d, child height %d", cur.Hash, next.Height, cur.Height)
		}
		cur = next
	}
	entries := make([]HeaderEntry, len(reversed))
	for i, e := range reversed {
		entries[len(reversed)-1-i] = e
	}
	l := Empty()
	for i := 1; i < len(entries); i++ {
		if entries[i].Header.PrevBlock != entries[i-1].Hash {
			return nil, fmt.Errorf("chain: inconsistent prev-hash chain at height %d", entries[i].Height)
		}
	}
	l.entries = entries
	for _, e := range entries {
		l.byHash[e.Hash] = e.Height
	}
	l.tip = tip
	return l, nil
}

// Tip returns the current best-chain tip hash. Zero value if empty.
func (l *List) Tip() chainhash.Hash { return l.tip }

// Height returns the height of the current tip, or -1 if empty.
func (l *List) Height() int {
	if len(l.entries) == 0 {
		return -1
	}
	return int(l.entries[len(l.entries)-1].Height)
}

// HeaderByHeight returns the entry at height h, or ok=false if out of range.
func (l *List) HeaderByHeight(h uint32) (HeaderEntry, bool) {
	if int(h) >= len(l.entries) {
		return HeaderEntry{}, false
	}
	e := l.entries[h]
	if e.Height != h {
		return HeaderEntry{}, false
	}
	return e, true
}

// HeaderByBlockHash returns the entry for hash, or ok=false if unknown.
func (l *List) HeaderByBlockHash(hash chainhash.Hash) (HeaderEntry, bool) {
	if cached, ok := l.hashCache.Get(hash); ok {
		return cached.(HeaderEntry), true
	}
	h, ok := l.byHash[hash]
	if !ok {
		return HeaderEntry{}, false
	}
	e, ok := l.HeaderByHeight(h)
	if ok {
		l.hashCache.Add(hash, e)
	}
	return e, ok
}

// Order takes headers from the node in ascending height, starting at an
// unknown fork point, and returns the complete new tail as HeaderEntries
// numbered from fork_height+1. Fails if new_headers[0]'s parent is not
// present in the list — "non-connecting headers" per spec §4.2.
func (l *List) Order(newHeaders []*wire.BlockHeader) ([]HeaderEntry, error) {
	if len(newHeaders) == 0 {
		return nil, nil
	}
	first := newHeaders[0]
	var forkHeight int
	if len(l.entries) == 0 {
		if first.PrevBlock != (chainhash.Hash{}) {
			return nil, fmt.Errorf("chain: non-connecting headers: empty list expects a genesis header, got parent %s", first.PrevBlock)
		}
		forkHeight = -1
	} else {
		parentHeight, ok := l.byHash[first.PrevBlock]
		if !ok {
			return nil, fmt.Errorf("chain: non-connecting headers: parent %s not in header list", first.PrevBlock)
		}
		forkHeight = int(parentHeight)
	}
	out := make([]HeaderEntry, len(newHeaders))
	for i, h := range newHeaders {
		out[i] = HeaderEntry{
			Height: uint32(forkHeight + 1 + i),
			Hash:   h.BlockHash(),
			Header: *h,
		}
	}
	for i := 1; i < len(out); i++ {
		if out[i].Header.PrevBlock != out[i-1].Hash {
			return nil, fmt.Errorf("chain: non-contiguous headers supplied at height %d", out[i].Height)
		}
	}
	return out, nil
}

// Apply truncates the list above the fork point implied by newEntries and
// appends them, updating the hash map and tip. After this call the chain
// is contiguous and Tip() == newEntries[last].Hash, per the §4.2 invariant.
func (l *List) Apply(newEntries []HeaderEntry) error {
	if len(newEntries) == 0 {
		return nil
	}
	forkHeight := int(newEntries[0].Height) - 1
	if forkHeight+1 > len(l.entries) {
		return fmt.Errorf("chain: apply gap: fork height %d beyond current length %d", forkHeight, len(l.entries))
	}
	for _, dropped := range l.entries[forkHeight+1:] {
		delete(l.byHash, dropped.Hash)
		l.hashCache.Remove(dropped.Hash)
	}
	l.entries = append(l.entries[:forkHeight+1], newEntries...)
	for _, e := range newEntries {
		l.byHash[e.Hash] = e.Height
	}
	l.tip = l.entries[len(l.entries)-1].Hash
	return nil
}

// KnownHashes returns a defensive copy of the hash set backing the list,
// the form daemon.GetNewHeaders needs to decide where to stop walking
// backward from the node's tip (spec §4.3).
func (l *List) KnownHashes() map[chainhash.Hash]bool {
	out := make(map[chainhash.Hash]bool, len(l.byHash))
	for h := range l.byHash {
		out[h] = true
	}
	return out
}

// Entries returns a defensive copy of the full ascending entry list.
func (l *List) Entries() []HeaderEntry {
	out := make([]HeaderEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ForkHeight reports the height just below entries[0] (entries being an
// ascending slice of HeaderEntry starting right after the fork), i.e. the
// last common ancestor height. It returns 0 for an empty slice. Used by the indexer to prune history rows
// on reorg (DESIGN.md Open Question (a)).
func ForkHeight(entries []HeaderEntry) uint32 {
	if len(entries) == 0 {
		return 0
	}
	return entries[0].Height - 1
}
