// Package logging wraps log15 the way turbo-geth's own log package wraps
// it: a process-wide root logger, colorized when attached to a terminal.
package logging

import (
	"os"

	"github.com/inconshreveable/log15"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var root = log15.New()

func init() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		root.SetHandler(log15.StreamHandler(colorable.NewColorableStderr(), log15.TerminalFormat()))
	} else {
		root.SetHandler(log15.StreamHandler(os.Stderr, log15.LogfmtFormat()))
	}
}

// New returns a logger scoped with the given context pairs, mirroring
// log15.Logger.New so call sites read exactly like turbo-geth's log.New(...).
func New(ctx ...interface{}) log15.Logger {
	return root.New(ctx...)
}

// SetVerbosity adjusts the root handler's level filter.
func SetVerbosity(lvl log15.Lvl) {
	root.SetHandler(log15.LvlFilterHandler(lvl, root.GetHandler()))
}
