package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"

	"github.com/mplsgrant/mutiny-node/chainsync"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/storekv"
)

type stubView struct {
	nodes       []lnnode.Node
	chain       chainsync.Client
	store       storekv.Store
	onchainSink chainsync.ConfirmableSink
	feeRefreshes int
}

func (v *stubView) RunningNodes() []lnnode.Node          { return v.nodes }
func (v *stubView) Chain() chainsync.Client              { return v.chain }
func (v *stubView) Store() storekv.Store                 { return v.store }
func (v *stubView) OnChainSink() chainsync.ConfirmableSink { return v.onchainSink }
func (v *stubView) RefreshFees()                         { v.feeRefreshes++ }

type stopAfterN struct {
	calls int32
	stopAt int32
}

func (s *stopAfterN) Load() bool {
	n := atomic.AddInt32(&s.calls, 1)
	return n > s.stopAt
}

func TestSyncOncePrefersLightningBeforeOnChain(t *testing.T) {
	chain := chainsync.NewFakeClient()
	sink := &chainsync.FakeSink{}
	node := lnnodeWithSink(sink)

	view := &stubView{nodes: []lnnode.Node{node}, chain: chain}
	loop := &Loop{mgr: view, stop: &stopAfterN{stopAt: 0}}

	require.NoError(t, loop.syncOnce(context.Background()))
	require.Equal(t, 1, chain.SyncCalls)
	require.Equal(t, 1, sink.Calls)
}

func TestRunPersistsDoneFirstSyncAfterFirstIteration(t *testing.T) {
	chain := chainsync.NewFakeClient()
	store := storekv.NewMemStore()
	view := &stubView{chain: chain, store: store}
	// Allow the nap loop to consume at least one forced tick before the
	// stop signal fires, so the ticker plumbing is genuinely exercised.
	stop := &stopAfterN{stopAt: 2}

	tick := ticker.NewForce(time.Millisecond)
	loop := New(view, stop, tick)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	// Feed ticks until the loop stops; select against done so a forced
	// send never blocks once napUntilStopOrElapsed has already returned.
	feeding := true
	for feeding {
		select {
		case tick.Force <- time.Now():
		case <-done:
			feeding = false
		}
	}

	raw, err := store.Get(storekv.KeyDoneFirstSync)
	require.NoError(t, err)
	require.Equal(t, "true", string(raw))
}

func lnnodeWithSink(sink chainsync.ConfirmableSink) lnnode.Node {
	n := lnnode.NewFakeNode("uuid", nil, 0, "")
	n.SetSinksForTest(sink)
	return n
}

// failNTimesClient fails the first n Sync calls, then delegates to an
// underlying FakeClient, letting tests exercise a flaky first iteration.
type failNTimesClient struct {
	*chainsync.FakeClient
	failures int
}

func (f *failNTimesClient) Sync(ctx context.Context, sinks []chainsync.ConfirmableSink) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("sync unavailable")
	}
	return f.FakeClient.Sync(ctx, sinks)
}

// TestRunPersistsDoneFirstSyncOnFirstSuccessNotFirstIteration reproduces
// §4.4 step 5 precisely: a failing iteration 1 must not block
// done_first_sync from being recorded once iteration 2 succeeds.
func TestRunPersistsDoneFirstSyncOnFirstSuccessNotFirstIteration(t *testing.T) {
	chain := &failNTimesClient{FakeClient: chainsync.NewFakeClient(), failures: 1}
	store := storekv.NewMemStore()
	view := &stubView{chain: chain, store: store}
	// stopAt is large enough that the loop survives past the one
	// forced failure into a successful iteration before shutdown.
	stop := &stopAfterN{stopAt: 130}

	tick := ticker.NewForce(time.Millisecond)
	loop := New(view, stop, tick)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	feeding := true
	for feeding {
		select {
		case tick.Force <- time.Now():
		case <-done:
			feeding = false
		}
	}

	raw, err := store.Get(storekv.KeyDoneFirstSync)
	require.NoError(t, err)
	require.Equal(t, "true", string(raw))
	require.Equal(t, 0, chain.failures, "the forced failure must have been consumed")
}

// TestRunRefreshesFeesOnFirstIteration covers the minor fix in §4.4:
// the first iteration must refresh fees too, not only iteration 10/20/…
func TestRunRefreshesFeesOnFirstIteration(t *testing.T) {
	chain := chainsync.NewFakeClient()
	store := storekv.NewMemStore()
	view := &stubView{chain: chain, store: store}
	stop := &stopAfterN{stopAt: 1}

	tick := ticker.NewForce(time.Millisecond)
	loop := New(view, stop, tick)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	feeding := true
	for feeding {
		select {
		case tick.Force <- time.Now():
		case <-done:
			feeding = false
		}
	}

	require.Equal(t, 1, view.feeRefreshes)
}
