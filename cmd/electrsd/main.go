// Command electrsd is the indexer core's entrypoint: wire a Store, a
// daemon.Client and a chain.List together and loop calling Update until
// interrupted. The query/serving layer and its own transport are external
// collaborators per spec §1; this binary only keeps the database current.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/ledgerwatch/turbo-electrs/chain"
	"github.com/ledgerwatch/turbo-electrs/daemon"
	"github.com/ledgerwatch/turbo-electrs/dbschema"
	"github.com/ledgerwatch/turbo-electrs/indexer"
	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
	"github.com/ledgerwatch/turbo-electrs/internal/config"
	"github.com/ledgerwatch/turbo-electrs/internal/logging"
	"github.com/ledgerwatch/turbo-electrs/internal/metrics"
	"github.com/ledgerwatch/turbo-electrs/internal/waiter"
	"github.com/ledgerwatch/turbo-electrs/store"
)

var log = logging.New("component", "electrsd")

// updateRetryDelay bounds the loop between Update() calls; GetBestBlockHash
// inside Update is cheap, so a short poll is fine, and SIGUSR1 (a new-block
// nudge from e.g. a bitcoind -blocknotify hook) wakes it early regardless.
const updateRetryDelay = 10 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "electrsd"
	app.Usage = "Bitcoin blockchain indexing core"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	s, err := store.Open(store.Options{Path: cfg.DBPath, LightMode: cfg.LightMode})
	if err != nil {
		return err
	}
	defer s.Close()

	headers, err := loadHeaderList(s)
	if err != nil {
		return err
	}

	w := waiter.New()
	promReg := prometheus.NewRegistry()
	reg := metrics.NewPrometheus(promReg)
	go serveMonitoring(cfg.MonitoringAddr, promReg)

	d, err := daemon.Dial(cfg.DaemonRPCAddr, cfg.Cookie, w, reg)
	if err != nil {
		return err
	}
	defer d.Close()

	idx := indexer.New(cfg, s, headers, w, reg)

	for {
		tip, err := idx.Update(d)
		switch {
		case chainerr.Is(err, chainerr.KindInterrupt):
			log.Info("shutdown requested")
			return nil
		case err != nil:
			log.Error("update failed, will retry", "error", err)
		default:
			log.Info("indexed", "tip", tip)
		}

		if err := w.Sleep(updateRetryDelay, true); err != nil {
			log.Info("shutdown requested")
			return nil
		}
	}
}

// loadHeaderList reconstructs the in-memory chain.List from the `B` rows
// and the `t` tip marker already on disk, so a restart resumes exactly
// where the last run left off without re-downloading headers the node
// already gave us (spec §4.2's Load path).
func loadHeaderList(s *store.Store) (*chain.List, error) {
	hasTip, err := s.HasTipMarker()
	if err != nil {
		return nil, err
	}
	if !hasTip {
		return chain.Empty(), nil
	}

	raw := map[chainhash.Hash]*wire.BlockHeader{}
	var scanErr error
	err = s.IterScan(store.CFTxStore, []byte{dbschema.PrefixBlockHeader}, func(key, value []byte) bool {
		if len(key) != 33 {
			return true
		}
		var hash chainhash.Hash
		copy(hash[:], key[1:33])
		header, derr := dbschema.DecodeBlockHeader(value)
		if derr != nil {
			scanErr = derr
			return false
		}
		raw[hash] = header
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}

	tip, err := s.GetTip()
	if err != nil {
		return nil, err
	}

	var descending []chainhash.Hash
	for cur := tip; cur != (chainhash.Hash{}); {
		h, ok := raw[cur]
		if !ok {
			return nil, fmt.Errorf("electrsd: broken header chain at %s, missing from store", cur)
		}
		descending = append(descending, cur)
		cur = h.PrevBlock
	}

	n := len(descending)
	entries := make(map[chainhash.Hash]*chain.HeaderEntry, n)
	for i, hash := range descending {
		height := uint32(n - 1 - i)
		entries[hash] = &chain.HeaderEntry{Height: height, Hash: hash, Header: *raw[hash]}
	}
	return chain.Load(entries, tip)
}

func serveMonitoring(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("monitoring endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("monitoring endpoint stopped", "error", err)
	}
}
