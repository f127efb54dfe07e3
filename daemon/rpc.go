package daemon

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
	"github.com/ledgerwatch/turbo-electrs/internal/config"
	"github.com/ledgerwatch/turbo-electrs/internal/metrics"
	"github.com/ledgerwatch/turbo-electrs/internal/waiter"
)

// warmupCode is the JSON-RPC error the node returns while still replaying
// blocks at startup, per §4.3's error policy.
const warmupCode = -28

const maxBatchEntries = 50000

// rpcRequest is a JSON-RPC 1.0 request object.
type rpcRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// wireConn is the surface Client needs from a connection; satisfied by
// *connection in production and by a fake in tests that don't open a
// real socket.
type wireConn interface {
	roundTrip(body []byte) ([]byte, error)
	Close() error
}

// Client is the mutex-protected JSON-RPC connection the rest of the core
// depends on. Exactly one request is ever in flight (spec §5).
type Client struct {
	mu      sync.Mutex
	conn    wireConn
	addr    string
	cookie  config.CookieProvider
	waiter  waiter.Waiter
	nextID  uint64
	metrics metrics.Registry

	// dial is overridden by tests to avoid opening a real socket on retry.
	dial func(addr string, cookie config.CookieProvider, w waiter.Waiter) (wireConn, error)
}

func defaultDial(addr string, cookie config.CookieProvider, w waiter.Waiter) (wireConn, error) {
	return dial(addr, cookie, w)
}

// Dial opens a connection and performs the startup handshake described in
// §4.3: version check, pruned check, then a sync-wait loop.
func Dial(addr string, cookie config.CookieProvider, w waiter.Waiter, reg metrics.Registry) (*Client, error) {
	conn, err := dial(addr, cookie, w)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, addr: addr, cookie: cookie, waiter: w, metrics: reg, dial: defaultDial}

	netInfo, err := c.GetNetworkInfo()
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindConnection, "getnetworkinfo", err)
	}
	if netInfo.Version < 160000 {
		return nil, chainerr.Newf(chainerr.KindSchema, "%s is not supported, need bitcoind 0.16+", netInfo.Subversion)
	}

	for {
		info, err := c.GetBlockchainInfo()
		if err != nil {
			return nil, chainerr.Wrap(chainerr.KindConnection, "getblockchaininfo", err)
		}
		if info.Pruned {
			return nil, chainerr.Newf(chainerr.KindSchema, "pruned node is not supported (use -prune=0)")
		}
		if !info.InitialBlockDownload && info.Blocks == info.Headers {
			break
		}
		if err := w.Sleep(5*time.Second, false); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Reconnect dials a fresh socket, per update()'s step 1: the indexer never
// shares its connection with concurrently-served request traffic.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	d := c.dial
	if d == nil {
		d = defaultDial
	}
	conn, err := d(c.addr, c.cookie, c.waiter)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// request issues a single JSON-RPC call and returns its raw result.
func (c *Client) request(method string, params ...interface{}) (json.RawMessage, error) {
	results, err := c.requestBatch(method, [][]interface{}{params})
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, chainerr.Newf(chainerr.KindProtocol, "expected 1 result for %s, got %d", method, len(results))
	}
	return results[0], nil
}

// requestBatch sends one method applied to many parameter sets, chunked at
// maxBatchEntries per wire request (spec §4.3's batching rule), retrying
// the whole chunk on warmup/transport failure.
func (c *Client) requestBatch(method string, paramSets [][]interface{}) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, 0, len(paramSets))
	for start := 0; start < len(paramSets); start += maxBatchEntries {
		end := start + maxBatchEntries
		if end > len(paramSets) {
			end = len(paramSets)
		}
		chunk, err := c.retryRequestChunk(method, paramSets[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, chunk...)
	}
	return results, nil
}

func (c *Client) retryRequestChunk(method string, paramSets [][]interface{}) ([]json.RawMessage, error) {
	for {
		results, err := c.sendChunk(method, paramSets)
		if err == nil {
			return results, nil
		}
		if !chainerr.Is(err, chainerr.KindConnection) {
			return nil, err
		}
		if werr := c.waiter.Sleep(3*time.Second, false); werr != nil {
			return nil, werr
		}
		if rerr := c.Reconnect(); rerr != nil {
			return nil, rerr
		}
	}
}

func (c *Client) sendChunk(method string, paramSets [][]interface{}) ([]json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := atomic.AddUint64(&c.nextID, 1)
	var body []byte
	var err error
	if len(paramSets) == 1 {
		body, err = json.Marshal(rpcRequest{ID: id, Method: method, Params: paramSets[0]})
	} else {
		reqs := make([]rpcRequest, len(paramSets))
		for i, p := range paramSets {
			reqs[i] = rpcRequest{ID: id, Method: method, Params: p}
		}
		body, err = json.Marshal(reqs)
	}
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindProtocol, "marshaling request", err)
	}

	start := time.Now()
	raw, err := c.conn.roundTrip(body)
	if err != nil {
		return nil, err // already a connection-kind error
	}
	c.observe(method, time.Since(start), len(body), len(raw))

	return decodeResponses(raw, id, len(paramSets))
}

func (c *Client) observe(method string, elapsed time.Duration, reqBytes, respBytes int) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveHistogram("daemon_rpc_seconds", prometheus.Labels{"method": method}, elapsed.Seconds())
	c.metrics.ObserveHistogram("daemon_rpc_bytes", prometheus.Labels{"method": method, "dir": "send"}, float64(reqBytes))
	c.metrics.ObserveHistogram("daemon_rpc_bytes", prometheus.Labels{"method": method, "dir": "recv"}, float64(respBytes))
}

func decodeResponses(raw []byte, wantID uint64, wantCount int) ([]json.RawMessage, error) {
	raw = trimLeadingSpace(raw)
	if len(raw) == 0 {
		return nil, chainerr.Newf(chainerr.KindProtocol, "empty RPC response body")
	}

	var entries []rpcResponse
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, chainerr.Wrap(chainerr.KindProtocol, "unmarshaling batch response", err)
		}
	} else {
		var single rpcResponse
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, chainerr.Wrap(chainerr.KindProtocol, "unmarshaling response", err)
		}
		entries = []rpcResponse{single}
	}
	if len(entries) != wantCount {
		return nil, chainerr.Newf(chainerr.KindProtocol, "expected %d entries, got %d", wantCount, len(entries))
	}

	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		if e.ID != wantID {
			return nil, chainerr.Newf(chainerr.KindProtocol, "response id %d does not match request id %d", e.ID, wantID)
		}
		if e.Error != nil {
			if e.Error.Code == warmupCode {
				return nil, chainerr.Wrap(chainerr.KindConnection, "node in warmup", e.Error)
			}
			return nil, chainerr.Wrap(chainerr.KindProtocol, "rpc call failed", e.Error)
		}
		if e.Result == nil {
			return nil, chainerr.Newf(chainerr.KindProtocol, "response %d has neither result nor error", i)
		}
		out[i] = e.Result
	}
	return out, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r' || b[i] == '\n') {
		i++
	}
	return b[i:]
}
