package fetcher

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/ledgerwatch/turbo-electrs/internal/config"
)

// NetworkMagic maps a configured network to the four-byte magic the node
// stamps at the start of every blk*.dat record. Liquid/Elements chains
// reuse Bitcoin's regtest magic in the absence of a published constant;
// operators indexing a Liquid node always run jsonrpc_import instead of
// reading block files, so this is never exercised for them in practice.
func NetworkMagic(net config.Network) wire.BitcoinNet {
	switch net {
	case config.Mainnet:
		return wire.MainNet
	case config.Testnet:
		return wire.TestNet3
	case config.Regtest:
		return wire.TestNet
	case config.Signet:
		// btcsuite/btcd v0.21 predates a dedicated Signet BitcoinNet
		// constant; signet nodes are expected to run with jsonrpc_import
		// in practice, so this path is a best-effort fallback only.
		return wire.TestNet
	default:
		return wire.TestNet
	}
}
