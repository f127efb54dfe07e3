package daemon

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
)

type NetworkInfo struct {
	Version    int     `json:"version"`
	Subversion string  `json:"subversion"`
	RelayFee   float64 `json:"relayfee"`
}

type BlockchainInfo struct {
	Blocks                int64  `json:"blocks"`
	Headers               int64  `json:"headers"`
	BestBlockHash         string `json:"bestblockhash"`
	Pruned                bool   `json:"pruned"`
	InitialBlockDownload  bool   `json:"initialblockdownload"`
	VerificationProgress  float64 `json:"verificationprogress"`
}

func (c *Client) GetNetworkInfo() (*NetworkInfo, error) {
	raw, err := c.request("getnetworkinfo")
	if err != nil {
		return nil, err
	}
	var info NetworkInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "decoding getnetworkinfo", err)
	}
	return &info, nil
}

func (c *Client) GetBlockchainInfo() (*BlockchainInfo, error) {
	raw, err := c.request("getblockchaininfo")
	if err != nil {
		return nil, err
	}
	var info BlockchainInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "decoding getblockchaininfo", err)
	}
	return &info, nil
}

func (c *Client) GetBestBlockHash() (chainhash.Hash, error) {
	raw, err := c.request("getbestblockhash")
	if err != nil {
		return chainhash.Hash{}, err
	}
	return decodeHashString(raw)
}

func (c *Client) GetBlockHeader(hash chainhash.Hash) (*wire.BlockHeader, error) {
	raw, err := c.request("getblockheader", hash.String(), false)
	if err != nil {
		return nil, err
	}
	return decodeHexHeader(raw)
}

// GetBlockHeaders resolves heights to headers via a batched getblockhash
// followed by a batched getblockheader(verbose=false), per §4.3.
func (c *Client) GetBlockHeaders(heights []uint32) ([]*wire.BlockHeader, error) {
	hashParams := make([][]interface{}, len(heights))
	for i, h := range heights {
		hashParams[i] = []interface{}{h}
	}
	hashResults, err := c.requestBatch("getblockhash", hashParams)
	if err != nil {
		return nil, err
	}
	hashes := make([]chainhash.Hash, len(hashResults))
	headerParams := make([][]interface{}, len(hashResults))
	for i, raw := range hashResults {
		h, err := decodeHashString(raw)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
		headerParams[i] = []interface{}{h.String(), false}
	}
	headerResults, err := c.requestBatch("getblockheader", headerParams)
	if err != nil {
		return nil, err
	}
	headers := make([]*wire.BlockHeader, len(headerResults))
	for i, raw := range headerResults {
		h, err := decodeHexHeader(raw)
		if err != nil {
			return nil, err
		}
		headers[i] = h
	}
	return headers, nil
}

func (c *Client) GetBlock(hash chainhash.Hash) (*wire.MsgBlock, error) {
	raw, err := c.request("getblock", hash.String(), 0)
	if err != nil {
		return nil, err
	}
	return decodeHexBlock(raw)
}

func (c *Client) GetBlocks(hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	params := make([][]interface{}, len(hashes))
	for i, h := range hashes {
		params[i] = []interface{}{h.String(), 0}
	}
	results, err := c.requestBatch("getblock", params)
	if err != nil {
		return nil, err
	}
	if len(results) != len(hashes) {
		return nil, chainerr.Newf(chainerr.KindProtocol, "getblocks: wanted %d blocks, got %d", len(hashes), len(results))
	}
	blocks := make([]*wire.MsgBlock, len(results))
	for i, raw := range results {
		b, err := decodeHexBlock(raw)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return blocks, nil
}

func (c *Client) GetTransactions(txids []chainhash.Hash) ([]*wire.MsgTx, error) {
	params := make([][]interface{}, len(txids))
	for i, t := range txids {
		params[i] = []interface{}{t.String(), false}
	}
	results, err := c.requestBatch("getrawtransaction", params)
	if err != nil {
		return nil, err
	}
	txs := make([]*wire.MsgTx, len(results))
	for i, raw := range results {
		var hexStr string
		if err := json.Unmarshal(raw, &hexStr); err != nil {
			return nil, chainerr.Wrap(chainerr.KindProtocol, "decoding getrawtransaction result", err)
		}
		tx := &wire.MsgTx{}
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, chainerr.Wrap(chainerr.KindProtocol, "hex-decoding transaction", err)
		}
		if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
			return nil, chainerr.Wrap(chainerr.KindProtocol, "deserializing transaction", err)
		}
		txs[i] = tx
	}
	return txs, nil
}

func (c *Client) GetRawMempool() ([]chainhash.Hash, error) {
	raw, err := c.request("getrawmempool", false)
	if err != nil {
		return nil, err
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "decoding getrawmempool", err)
	}
	hashes := make([]chainhash.Hash, len(strs))
	for i, s := range strs {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return nil, chainerr.Wrap(chainerr.KindProtocol, "parsing mempool txid", err)
		}
		hashes[i] = *h
	}
	return hashes, nil
}

func (c *Client) SendRawTransaction(tx *wire.MsgTx) (chainhash.Hash, error) {
	b, err := encodeTxHex(tx)
	if err != nil {
		return chainhash.Hash{}, err
	}
	raw, err := c.request("sendrawtransaction", b)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return decodeHashString(raw)
}

// estimateSmartFeeResult mirrors the node's reply shape: feerate is in
// BTC/kvB and a negative value or a populated errors slice means no
// estimate is available for that target.
type estimateSmartFeeResult struct {
	FeeRate *float64 `json:"feerate"`
	Errors  []string `json:"errors"`
}

// EstimateSmartFeeBatch returns sat/vB estimates keyed by target, omitting
// any target the node could not estimate (spec scenario S6).
func (c *Client) EstimateSmartFeeBatch(targets []int) (map[int]float64, error) {
	params := make([][]interface{}, len(targets))
	for i, t := range targets {
		params[i] = []interface{}{t}
	}
	results, err := c.requestBatch("estimatesmartfee", params)
	if err != nil {
		return nil, err
	}
	out := map[int]float64{}
	for i, raw := range results {
		var r estimateSmartFeeResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, chainerr.Wrap(chainerr.KindProtocol, "decoding estimatesmartfee", err)
		}
		if len(r.Errors) > 0 || r.FeeRate == nil || *r.FeeRate < 0 {
			continue
		}
		// BTC/kvB -> sat/vB
		out[targets[i]] = *r.FeeRate * 1e8 / 1000
	}
	return out, nil
}

// GetRelayFee returns the node's minimum relay fee in sat/vB.
func (c *Client) GetRelayFee() (float64, error) {
	info, err := c.GetNetworkInfo()
	if err != nil {
		return 0, err
	}
	return info.RelayFee * 1e8 / 1000, nil
}

const newHeadersInitialChunk = 100000

// GetNewHeaders implements §4.3's get_new_headers: if knownHeights is
// empty, fetch every header from 0 to the node's tip in chunks of 100,000
// heights; otherwise walk backward from the node's tip via prev_blockhash
// until a known hash (or the null hash) is reached, and return ascending.
func (c *Client) GetNewHeaders(knownHeights map[chainhash.Hash]bool, knownTip chainhash.Hash) ([]*wire.BlockHeader, error) {
	nodeTip, err := c.GetBestBlockHash()
	if err != nil {
		return nil, err
	}
	if nodeTip == knownTip {
		return nil, nil
	}

	if len(knownHeights) == 0 {
		info, err := c.GetBlockchainInfo()
		if err != nil {
			return nil, err
		}
		tipHeight := uint32(info.Headers)
		var all []*wire.BlockHeader
		for start := uint32(0); start <= tipHeight; start += newHeadersInitialChunk {
			end := start + newHeadersInitialChunk
			if end > tipHeight+1 {
				end = tipHeight + 1
			}
			heights := make([]uint32, 0, end-start)
			for h := start; h < end; h++ {
				heights = append(heights, h)
			}
			headers, err := c.GetBlockHeaders(heights)
			if err != nil {
				return nil, err
			}
			all = append(all, headers...)
		}
		return all, nil
	}

	var reversed []*wire.BlockHeader
	cur := nodeTip
	for {
		if cur == (chainhash.Hash{}) {
			break
		}
		if knownHeights[cur] {
			break
		}
		header, err := c.GetBlockHeader(cur)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, header)
		cur = header.PrevBlock
	}
	out := make([]*wire.BlockHeader, len(reversed))
	for i, h := range reversed {
		out[len(reversed)-1-i] = h
	}
	return out, nil
}

func decodeHashString(raw json.RawMessage) (chainhash.Hash, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return chainhash.Hash{}, chainerr.Wrap(chainerr.KindProtocol, "decoding hash string", err)
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, chainerr.Wrap(chainerr.KindProtocol, "parsing hash "+s, err)
	}
	return *h, nil
}

func decodeHexHeader(raw json.RawMessage) (*wire.BlockHeader, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "decoding header hex string", err)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "hex-decoding header", err)
	}
	h := &wire.BlockHeader{}
	if err := h.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "deserializing header", err)
	}
	return h, nil
}

func decodeHexBlock(raw json.RawMessage) (*wire.MsgBlock, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "decoding block hex string", err)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "hex-decoding block", err)
	}
	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "deserializing block", err)
	}
	return block, nil
}

func encodeTxHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", chainerr.Wrap(chainerr.KindProtocol, "serializing transaction", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
