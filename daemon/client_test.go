package daemon

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/turbo-electrs/internal/config"
	"github.com/ledgerwatch/turbo-electrs/internal/metrics"
	"github.com/ledgerwatch/turbo-electrs/internal/waiter"
)

// fakeConn is a wireConn double that answers scripted responses by method,
// counting how many times connect-equivalent retries happen.
type fakeConn struct {
	warmupsLeft int
	closed      int
}

func (f *fakeConn) Close() error { f.closed++; return nil }

func (f *fakeConn) roundTrip(body []byte) ([]byte, error) {
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		var batch []rpcRequest
		if err2 := json.Unmarshal(body, &batch); err2 != nil {
			return nil, err
		}
		resp := make([]rpcResponse, len(batch))
		for i, r := range batch {
			resp[i] = rpcResponse{ID: r.ID, Result: json.RawMessage(`"ok"`)}
		}
		return json.Marshal(resp)
	}

	if f.warmupsLeft > 0 {
		f.warmupsLeft--
		resp := rpcResponse{ID: req.ID, Error: &rpcError{Code: warmupCode, Message: "loading block index"}}
		b, _ := json.Marshal(resp)
		return b, nil
	}
	resp := rpcResponse{ID: req.ID, Result: json.RawMessage(`"ok"`)}
	b, _ := json.Marshal(resp)
	return b, nil
}

type fakeWaiter struct{ sleeps int }

func (w *fakeWaiter) Sleep(time.Duration, bool) error { w.sleeps++; return nil }
func (w *fakeWaiter) Done() bool                      { return false }

func TestRetryOnWarmupReconnects(t *testing.T) {
	fc := &fakeConn{warmupsLeft: 3}
	fw := &fakeWaiter{}
	c := &Client{
		conn:   fc,
		waiter: fw,
		metrics: metrics.Noop,
		dial: func(string, config.CookieProvider, waiter.Waiter) (wireConn, error) {
			return fc, nil // same fake: warmupsLeft keeps counting down across "reconnects"
		},
	}

	raw, err := c.request("getbestblockhash")
	require.NoError(t, err)
	require.Equal(t, `"ok"`, string(raw))
	require.Equal(t, 3, fw.sleeps, "should sleep once per warmup retry")
}

func TestDecodeResponsesRejectsMismatchedID(t *testing.T) {
	body := []byte(`{"id":5,"result":"x","error":null}`)
	_, err := decodeResponses(body, 6, 1)
	require.Error(t, err)
}

func TestDecodeResponsesSurfacesNonWarmupError(t *testing.T) {
	body := []byte(fmt.Sprintf(`{"id":1,"result":null,"error":{"code":-1,"message":"boom"}}`))
	_, err := decodeResponses(body, 1, 1)
	require.Error(t, err)
}

func TestRequestBatchChunksAtMaxEntries(t *testing.T) {
	fc := &fakeConn{}
	fw := &fakeWaiter{}
	c := &Client{conn: fc, waiter: fw, metrics: metrics.Noop}

	params := make([][]interface{}, maxBatchEntries+10)
	for i := range params {
		params[i] = []interface{}{i}
	}
	results, err := c.requestBatch("getblockhash", params)
	require.NoError(t, err)
	require.Len(t, results, len(params))
}
