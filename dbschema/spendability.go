package dbschema

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// IsProvablyUnspendable reports whether pkScript can never appear as a
// transaction input, per spec §9's "provably unspendable" predicate:
// any script whose first opcode is OP_RETURN, whatever follows it. An
// empty script is not unspendable. Config.IndexUnspendables bypasses this
// filter for the O rows and the funding side of the history index, but
// the edge is never created on the spending side since such outputs are
// never spent.
func IsProvablyUnspendable(pkScript []byte) bool {
	if len(pkScript) == 0 {
		return false
	}
	return pkScript[0] == txscript.OP_RETURN
}

// IsCoinbase mirrors wire.MsgTx.IsCoinBase's parent-less, all-ff outpoint
// check; re-exposed here since the indexer only ever holds wire.MsgTx by
// value through this package's decode helpers.
func IsCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}
	prevOut := &tx.TxIn[0].PreviousOutPoint
	return prevOut.Index == wire.MaxPrevOutIndex && prevOut.Hash == chainhash.Hash{}
}
