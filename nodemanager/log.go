package nodemanager

import "github.com/btcsuite/btclog"

// log is the package's subsystem logger, matching the teacher's
// ltndLog/srvrLog convention: a package-level btclog.Logger defaulting
// to disabled until UseLogger installs a real backend.
var log = btclog.Disabled

// UseLogger installs a logger to be used by this package.
func UseLogger(l btclog.Logger) {
	log = l
}
