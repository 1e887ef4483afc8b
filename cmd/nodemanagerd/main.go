// Command nodemanagerd wires the node manager core into a standalone
// daemon: it loads configuration, opens a bolt-backed store, builds
// the chain/price/wallet collaborators, constructs a
// nodemanager.Manager, starts its background sync and redshift loops,
// and serves a thin HTTP status/metrics front end until interrupted.
// Grounded on the teacher's lnd.go (lndMain split out from main so
// deferred cleanups still run, profiling server, interrupt-driven
// graceful shutdown) and cmd/lncli/main.go's flag-parsing error
// handling.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/mplsgrant/mutiny-node/chainsync"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/nodemanager"
	"github.com/mplsgrant/mutiny-node/priceapi"
	"github.com/mplsgrant/mutiny-node/storekv"
	"github.com/mplsgrant/mutiny-node/walletkit"
)

// version is stamped the way the teacher's version() helper reports a
// build identifier; this daemon has no release tooling of its own, so
// it's a constant rather than a generated string.
const version = "0.1.0-dev"

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := run(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	closeLog, err := setupLoggers(cfg.LogDir, cfg.DebugLevel)
	if err != nil {
		return fmt.Errorf("nodemanagerd: set up logging: %w", err)
	}
	defer closeLog()

	log.Infof("nodemanagerd version %s starting, datadir=%s", version, cfg.DataDir)

	if cfg.Profile != "" {
		go func() {
			addr := net.JoinHostPort("", cfg.Profile)
			log.Infof("profiling server listening on %s", addr)
			log.Errorf("profiling server exited: %v", http.ListenAndServe(addr, nil))
		}()
	}

	store, err := storekv.OpenBolt(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("nodemanagerd: open store: %w", err)
	}

	mgr, err := buildManager(cfg, store)
	if err != nil {
		return fmt.Errorf("nodemanagerd: build manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("nodemanagerd: start manager: %w", err)
	}
	log.Info("manager started")

	var httpServer *http.Server
	if !cfg.NoGRPC {
		httpServer = startStatusServer(cfg.RESTListen, mgr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received, stopping gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		log.Errorf("manager stop returned error: %v", err)
	}

	log.Info("shutdown complete")
	return nil
}

// buildManager assembles a Manager's collaborators. The chain client,
// wallet, and per-node Lightning engine all live behind interfaces
// this module never implements (SPEC_FULL.md §1 Non-goals: "does not
// implement Lightning itself"), so the daemon wires the in-memory
// fakes here as a runnable demonstration front end; a production
// deployment supplies its own chainsync.Client/walletkit.Wallet/
// lnnode.NodeFactory built against a real Esplora endpoint and
// Lightning node process.
func buildManager(cfg *nmConfig, store storekv.Store) (*nodemanager.Manager, error) {
	libCfg := cfg.libConfig()
	if err := libCfg.Validate(); err != nil {
		return nil, err
	}

	chain := chainsync.NewFakeClient()
	wallet := walletkit.NewFakeWallet()

	fetcher := &priceapi.HTTPFetcher{Client: &http.Client{Timeout: 10 * time.Second}}
	prices := priceapi.New(fetcher, clock.NewDefaultClock())

	factory := func(_ context.Context, deps nodemanager.NodeDeps) (lnnode.Node, error) {
		pub, err := deps.MasterKey.ECPubKey()
		if err != nil {
			return nil, err
		}
		return demoNode(deps.UUID, pub, deps.ChildIndex, deps.LSP), nil
	}

	return nodemanager.New(nodemanager.Options{
		Config:      libCfg,
		Store:       store,
		Wallet:      wallet,
		Chain:       chain,
		PriceCache:  prices,
		NodeFactory: factory,
	})
}

// demoNode returns a lnnode.Node for the demonstration front end. A
// real deployment's NodeFactory would instead dial out to an embedded
// or remote Lightning engine process.
func demoNode(uuid string, pubkey *btcec.PublicKey, childIndex uint32, lsp string) lnnode.Node {
	return lnnode.NewFakeNode(uuid, pubkey, childIndex, lsp)
}

// startStatusServer serves Prometheus metrics and a minimal JSON
// status endpoint. A full gRPC/REST-gateway front end, the way the
// teacher's lnd.go registers lnrpc.RegisterLightningServer plus a
// grpc-gateway mux, needs protoc-generated service stubs this exercise
// has no toolchain access to produce; this net/http surface is the
// honest substitute, kept thin by design per DESIGN.md.
func startStatusServer(addr string, mgr *nodemanager.Manager) *http.Server {
	nodeGauge := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodemanagerd_running_nodes",
		Help: "Number of currently running Lightning nodes.",
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		nodes := mgr.ListNodes()
		nodeGauge.Set(float64(len(nodes)))
		fmt.Fprintf(w, `{"running":%t,"nodes":%d}`, mgr.IsRunning(), len(nodes))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Infof("status server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("status server exited: %v", err)
		}
	}()
	return srv
}
