package nodemanager

import (
	"context"

	"github.com/mplsgrant/mutiny-node/chainsync"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/nodemanager/syncer"
)

// RunningNodes implements syncer.ManagerView.
func (m *Manager) RunningNodes() []lnnode.Node {
	return m.runningNodesSnapshot()
}

// OnChainSink implements syncer.ManagerView: if the configured wallet
// opts into chainsync.ConfirmableSink, it participates in the sync
// loop's on-chain pass; otherwise the on-chain step is skipped, since
// the wallet's own sync strategy is an external concern (§1 Non-goals).
func (m *Manager) OnChainSink() chainsync.ConfirmableSink {
	if sink, ok := m.wallet.(chainsync.ConfirmableSink); ok {
		return sink
	}
	return nil
}

// RefreshFees implements syncer.ManagerView: touches the wallet's fee
// estimator for both confirmation targets the manager exposes, letting
// an implementation that caches estimates warm its cache.
func (m *Manager) RefreshFees() {
	if _, err := m.wallet.EstimateFee(1); err != nil {
		log.Warnf("nodemanager: fee refresh (high) failed: %v", err)
	}
	if _, err := m.wallet.EstimateFee(6); err != nil {
		log.Warnf("nodemanager: fee refresh (normal) failed: %v", err)
	}
}

// StartSyncLoop launches the background sync loop (§4.4) in its own
// goroutine. Call after Start.
func (m *Manager) StartSyncLoop(ctx context.Context) {
	loop := syncer.New(m, m.StopFlag(), nil)
	go loop.Run(ctx)
}
