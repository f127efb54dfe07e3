package indexer

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestBlockWeightMatchesBIP141Formula(t *testing.T) {
	block := wire.MsgBlock{Transactions: []*wire.MsgTx{wire.NewMsgTx(1), wire.NewMsgTx(1)}}
	totalSize := uint32(250)

	stripped := 80 + wire.VarIntSerializeSize(uint64(len(block.Transactions)))
	for _, tx := range block.Transactions {
		stripped += tx.SerializeSizeStripped()
	}
	want := uint32(stripped)*3 + totalSize

	require.Equal(t, want, blockWeight(&block, totalSize))
}
