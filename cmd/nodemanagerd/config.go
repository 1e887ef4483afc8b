package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/mplsgrant/mutiny-node/config"
)

const (
	defaultDataDirname = "data"
	defaultLogFilename = "nodemanagerd.log"
	defaultRPCListen   = "localhost:10009"
	defaultRESTListen  = "localhost:8080"
)

var defaultHomeDir = filepath.Join(appDataDir(), "nodemanagerd")

// nmConfig is the daemon's command-line/config-file surface, mirroring
// the teacher's config.go shape: a go-flags struct embedding the
// per-chain options plus the ambient daemon knobs (data dir, logging,
// RPC listeners), generalized here to the node manager's single
// multi-node Config rather than one struct per chain backend.
type nmConfig struct {
	DataDir string `long:"datadir" description:"Directory to store wallet, node, and redshift state"`
	LogDir  string `long:"logdir" description:"Directory to log output"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems"`

	Network        string `long:"network" description:"Bitcoin network to use (mainnet, testnet, signet, regtest)"`
	Mnemonic       string `long:"mnemonic" description:"Override the stored mnemonic (written to storage on startup)"`
	EsploraURL     string `long:"esploraurl" description:"Override the default Esplora chain endpoint"`
	RGSURL         string `long:"rgsurl" description:"Override the default rapid-gossip-sync endpoint"`
	LspURL         string `long:"lspurl" description:"Comma-separated list of LSP endpoints"`

	RedshiftMaxAttempts int `long:"redshiftmaxattempts" description:"Retry budget for redshift workflows (parsed, but not read by the daemon)"`

	RPCListen  string `long:"rpclisten" description:"RPC listen address (parsed, but the daemon opens no RPC listener)"`
	RESTListen string `long:"restlisten" description:"Address for the /status and /metrics HTTP server"`
	NoGRPC     bool   `long:"nogrpc" description:"Disable the /status and /metrics HTTP server"`

	Profile string `long:"profile" description:"Enable HTTP profiling on this port"`
}

func defaultConfig() nmConfig {
	return nmConfig{
		DataDir:             filepath.Join(defaultHomeDir, defaultDataDirname),
		LogDir:              defaultHomeDir,
		DebugLevel:          "info",
		RedshiftMaxAttempts: 10,
		RPCListen:           defaultRPCListen,
		RESTListen:          defaultRESTListen,
	}
}

// loadConfig parses the command line (and, via go-flags' default
// behavior, any ini-style config file passed with -C) on top of
// defaultConfig, the same two-stage load the teacher's loadConfig
// performs before logging is set up.
func loadConfig() (*nmConfig, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("nodemanagerd: create datadir: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("nodemanagerd: create logdir: %w", err)
	}

	return &cfg, nil
}

// libConfig adapts the daemon's flags into the nodemanager library's
// own config.Config, keeping the two config shapes distinct the way
// SPEC_FULL.md §6 describes: the library knows nothing of data
// directories or listener addresses.
func (c *nmConfig) libConfig() config.Config {
	return config.Config{
		Network:        c.Network,
		Mnemonic:       c.Mnemonic,
		UserEsploraURL: c.EsploraURL,
		UserRGSURL:     c.RGSURL,
		LspURL:         c.LspURL,
	}
}

func appDataDir() string {
	if dir := os.Getenv("NODEMANAGERD_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".nodemanagerd")
}
