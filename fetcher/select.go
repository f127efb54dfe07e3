package fetcher

import (
	"github.com/ledgerwatch/turbo-electrs/chain"
	"github.com/ledgerwatch/turbo-electrs/daemon"
	"github.com/ledgerwatch/turbo-electrs/internal/config"
)

// Select starts the fetcher back-end per spec §4.4's selection rule:
// first-time indexing (hasTipMarker is false, i.e. no prior `t` row in
// txstore) uses block files; subsequent runs use RPC. jsonrpcImport
// forces RPC regardless.
func Select(cfg *config.Config, d *daemon.Client, hasTipMarker bool, newHeaders []chain.HeaderEntry) (*Fetcher, BackendKind) {
	if !cfg.JSONRPCImport && !hasTipMarker {
		return StartBlockFiles(cfg.BlocksDir, NetworkMagic(cfg.Network), newHeaders), BackendBlockFiles
	}
	return StartRPC(d, newHeaders), BackendRPC
}
