// Package fetcher produces the bounded, ordered stream of block batches
// the indexer consumes during both the add pass and the index pass
// (spec §4.4). It owns exactly the channel handoff and the two back-ends;
// it never decides which rows to write.
package fetcher

import (
	"sync"

	"github.com/btcsuite/btcd/wire"

	"github.com/ledgerwatch/turbo-electrs/chain"
)

// BlockEntry pairs a fetched block with the header entry that requested
// it, so downstream passes never need to re-derive height or hash.
type BlockEntry struct {
	Entry chain.HeaderEntry
	Block *wire.MsgBlock
	Size  uint32
}

// channelCapacity is fixed at 1 per spec §4.4 and §9: strict backpressure,
// never replace with an unbounded queue.
const channelCapacity = 1

// Fetcher is a running background producer. Callers range over Batches()
// until it closes, then call Wait() to observe the terminal error, if any.
type Fetcher struct {
	batches chan []BlockEntry
	err     error
	wg      sync.WaitGroup
}

func (f *Fetcher) Batches() <-chan []BlockEntry { return f.batches }

// Wait blocks until the producer goroutine has exited and returns its
// terminal error, if the batch stream ended early due to a failure.
func (f *Fetcher) Wait() error {
	f.wg.Wait()
	return f.err
}

func newFetcher() *Fetcher {
	f := &Fetcher{batches: make(chan []BlockEntry, channelCapacity)}
	f.wg.Add(1)
	return f
}

func (f *Fetcher) finish(err error) {
	f.err = err
	close(f.batches)
	f.wg.Done()
}

// BackendKind names which Fetcher implementation Select started,
// the tagged-variant rendering of the original's trait-style polymorphism
// (spec §9).
type BackendKind int

const (
	BackendRPC BackendKind = iota
	BackendBlockFiles
)
