package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"

	"github.com/mplsgrant/mutiny-node/nodemanager"
	"github.com/mplsgrant/mutiny-node/nodemanager/syncer"
	"github.com/mplsgrant/mutiny-node/priceapi"
	"github.com/mplsgrant/mutiny-node/redshift"
)

const logFilename = "nodemanagerd.log"

// log is the daemon's own subsystem logger, installed by setupLoggers.
var log = btclog.Disabled

// setupLoggers opens the daemon's log file and installs one subsystem
// logger per package, mirroring the teacher's per-package UseLogger
// convention (nodemanager/log.go, priceapi's UseLogger, redshift's
// UseLogger) rather than a single global logger.
func setupLoggers(logDir, debugLevel string) (func() error, error) {
	logFile, err := os.OpenFile(
		filepath.Join(logDir, logFilename),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600,
	)
	if err != nil {
		return nil, err
	}

	w := io.MultiWriter(os.Stdout, logFile)
	backend := btclog.NewBackend(w)

	level, ok := btclog.LevelFromString(debugLevel)
	if !ok {
		level = btclog.LevelInfo
	}

	install := func(subsystem string) btclog.Logger {
		l := backend.Logger(subsystem)
		l.SetLevel(level)
		return l
	}

	nodemanager.UseLogger(install("NDMG"))
	syncer.UseLogger(install("SYNC"))
	priceapi.UseLogger(install("PRCE"))
	redshift.UseLogger(install("RDSH"))
	log = install("NMGD")

	return logFile.Close, nil
}
