package daemon

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
	"github.com/ledgerwatch/turbo-electrs/internal/config"
	"github.com/ledgerwatch/turbo-electrs/internal/waiter"
)

// connection owns one TCP socket to the node plus a buffered reader over
// it. It is unexported: callers only ever see it through Client, which
// serializes access behind a mutex (spec §4.3).
type connection struct {
	addr   string
	cookie config.CookieProvider
	conn   net.Conn
	reader *bufio.Reader
}

func dial(addr string, cookie config.CookieProvider, w waiter.Waiter) (*connection, error) {
	for {
		c, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			return &connection{
				addr:   addr,
				cookie: cookie,
				conn:   c,
				reader: bufio.NewReader(c),
			}, nil
		}
		if werr := w.Sleep(3*time.Second, false); werr != nil {
			return nil, werr
		}
	}
}

func (c *connection) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// roundTrip writes one HTTP/1.1 POST framing the given body and returns
// the response body bytes, per §4.3's byte-exact framing contract.
func (c *connection) roundTrip(body []byte) ([]byte, error) {
	auth, err := config.BasicAuthHeader(c.cookie)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindConnection, "reading cookie", err)
	}
	req := fmt.Sprintf(
		"POST / HTTP/1.1\r\nHost: %s\r\nAuthorization: %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: keep-alive\r\n\r\n",
		c.addr, auth, len(body),
	)
	if _, err := c.conn.Write([]byte(req)); err != nil {
		return nil, chainerr.Wrap(chainerr.KindConnection, "writing request headers", err)
	}
	if _, err := c.conn.Write(body); err != nil {
		return nil, chainerr.Wrap(chainerr.KindConnection, "writing request body", err)
	}

	statusLine, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindConnection, "reading status line", err)
	}
	var proto string
	var status int
	if _, err := fmt.Sscanf(statusLine, "%s %d", &proto, &status); err != nil {
		return nil, chainerr.Wrap(chainerr.KindConnection, "parsing status line "+statusLine, err)
	}

	contentLength := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, chainerr.Wrap(chainerr.KindConnection, "reading response headers", err)
		}
		trimmed := trimCRLF(line)
		if trimmed == "" {
			break
		}
		var n int
		if _, err := fmt.Sscanf(trimmed, "Content-Length: %d", &n); err == nil {
			contentLength = n
		}
	}
	if status < 200 || status >= 300 {
		if status == 500 && contentLength >= 0 {
			// bitcoind reports JSON-RPC errors as HTTP 500 with a JSON body;
			// fall through and let the caller decode the error object.
		} else {
			return nil, chainerr.Newf(chainerr.KindConnection, "daemon returned non-2xx status %q", statusLine)
		}
	}
	if contentLength < 0 {
		return nil, chainerr.Newf(chainerr.KindConnection, "daemon response missing Content-Length")
	}

	// Per the framing rule in spec §4.3, the body is read line-by-line and
	// the trailing newline the line reader consumes accounts for the "-1"
	// in expected_length = Content-Length - 1. Open Question (b) in
	// DESIGN.md: whenever the line read ends before Content-Length bytes
	// have been consumed, the rest of the advertised length is read too,
	// so exactly Content-Length bytes are taken off the wire. A body sent
	// without a trailing newline ends the line read only at end of stream.
	bodyLine, err := c.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, chainerr.Wrap(chainerr.KindConnection, "reading response body", err)
	}
	if len(bodyLine) < contentLength {
		extra := make([]byte, contentLength-len(bodyLine))
		if _, err := io.ReadFull(c.reader, extra); err != nil {
			return nil, chainerr.Wrap(chainerr.KindConnection, "reading body remainder", err)
		}
		bodyLine += string(extra)
	}
	return []byte(trimCRLF(bodyLine)), nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
