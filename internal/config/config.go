// Package config defines the knobs §6 names and a thin urfave/cli flag
// set to populate them. Full CLI UX is an external collaborator per spec
// §1; this is only the struct the rest of the core reads from.
package config

import (
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/urfave/cli"
)

// Network selects the chain parameters the daemon handshake, fetcher
// block-file magic check and address-search codecs key off of.
type Network int

const (
	Mainnet Network = iota
	Testnet
	Regtest
	Signet
	Liquid
	LiquidTestnet
	LiquidRegtest
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Regtest:
		return "regtest"
	case Signet:
		return "signet"
	case Liquid:
		return "liquid"
	case LiquidTestnet:
		return "liquidtestnet"
	case LiquidRegtest:
		return "liquidregtest"
	default:
		return "unknown"
	}
}

// IsLiquid reports whether the network is one of the Elements/Liquid
// sidechain variants. The spendability helpers in dbschema do not consult
// it; they apply no pegin or fee-output rules.
func (n Network) IsLiquid() bool {
	return n == Liquid || n == LiquidTestnet || n == LiquidRegtest
}

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "regtest":
		return Regtest, nil
	case "signet":
		return Signet, nil
	case "liquid":
		return Liquid, nil
	case "liquidtestnet":
		return LiquidTestnet, nil
	case "liquidregtest":
		return LiquidRegtest, nil
	default:
		return 0, fmt.Errorf("unknown network %q", s)
	}
}

// CookieProvider is the trait-style polymorphism §9 calls for: a single
// method returning the current `user:password` basic-auth material.
type CookieProvider interface {
	GetCookie() ([]byte, error)
}

// FileCookie re-reads the node's .cookie file on every call, since the
// node rewrites it on every restart.
type FileCookie struct {
	Path string
}

func (f FileCookie) GetCookie() ([]byte, error) {
	b, err := ioutil.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading cookie file %s: %w", f.Path, err)
	}
	return []byte(strings.TrimSpace(string(b))), nil
}

// StaticCookie wraps an operator-supplied "user:password" value.
type StaticCookie struct {
	Value string
}

func (s StaticCookie) GetCookie() ([]byte, error) { return []byte(s.Value), nil }

// BasicAuthHeader renders "Basic base64(cookie)" for the request line.
func BasicAuthHeader(c CookieProvider) (string, error) {
	cookie, err := c.GetCookie()
	if err != nil {
		return "", err
	}
	return "Basic " + base64.StdEncoding.EncodeToString(cookie), nil
}

// Config holds every knob named in spec §6.
type Config struct {
	Network           Network
	DBPath            string
	DaemonDir         string
	BlocksDir         string
	DaemonRPCAddr     string
	Cookie            CookieProvider
	LightMode         bool
	AddressSearch     bool
	IndexUnspendables bool
	JSONRPCImport     bool
	MonitoringAddr    string
}

// Flags is the urfave/cli flag set the teacher's single-binary tools use
// to populate a Config, kept separate from Config itself so tests can
// build a Config by hand without touching cli.Context.
var Flags = []cli.Flag{
	cli.StringFlag{Name: "network", Value: "mainnet", Usage: "mainnet|testnet|regtest|signet|liquid|liquidtestnet|liquidregtest"},
	cli.StringFlag{Name: "db-dir", Value: "./db", Usage: "directory holding txstore/history/cache"},
	cli.StringFlag{Name: "daemon-dir", Usage: "node data directory (for blocks/ and .cookie)"},
	cli.StringFlag{Name: "blocks-dir", Usage: "overrides <daemon-dir>/blocks"},
	cli.StringFlag{Name: "daemon-rpc-addr", Value: "127.0.0.1:8332", Usage: "host:port of the node's RPC server"},
	cli.StringFlag{Name: "cookie", Usage: "static user:password, overrides cookie-file autodetection"},
	cli.BoolFlag{Name: "light-mode", Usage: "omit T/X/M rows"},
	cli.BoolFlag{Name: "address-search", Usage: "maintain the a{address} prefix search index"},
	cli.BoolFlag{Name: "index-unspendables", Usage: "also index provably-unspendable outputs"},
	cli.BoolFlag{Name: "jsonrpc-import", Usage: "force the RPC fetch backend even on first index"},
	cli.StringFlag{Name: "monitoring-addr", Value: "127.0.0.1:4224", Usage: "address the metrics registry is mounted on by the caller"},
}

// FromContext builds a Config from a populated cli.Context.
func FromContext(c *cli.Context) (*Config, error) {
	net, err := ParseNetwork(c.String("network"))
	if err != nil {
		return nil, err
	}
	daemonDir := c.String("daemon-dir")
	blocksDir := c.String("blocks-dir")
	if blocksDir == "" && daemonDir != "" {
		blocksDir = daemonDir + "/blocks"
	}
	var cookie CookieProvider
	if v := c.String("cookie"); v != "" {
		cookie = StaticCookie{Value: v}
	} else {
		cookie = FileCookie{Path: daemonDir + "/.cookie"}
	}
	return &Config{
		Network:           net,
		DBPath:            c.String("db-dir"),
		DaemonDir:         daemonDir,
		BlocksDir:         blocksDir,
		DaemonRPCAddr:     c.String("daemon-rpc-addr"),
		Cookie:            cookie,
		LightMode:         c.Bool("light-mode"),
		AddressSearch:     c.Bool("address-search"),
		IndexUnspendables: c.Bool("index-unspendables"),
		JSONRPCImport:     c.Bool("jsonrpc-import"),
		MonitoringAddr:    c.String("monitoring-addr"),
	}, nil
}
