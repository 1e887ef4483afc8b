package redshift

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/storekv"
)

var errPaymentRouteFailed = errors.New("redshift_test: simulated routing failure")

// fakeClock implements clock.Clock without relying on the real
// TestClock's internal wake-up bookkeeping; tests here never start the
// poll loop, so TickAfter is never actually read.
type fakeClock struct {
	ticks chan time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{ticks: make(chan time.Time, 1)} }

func (c *fakeClock) Now() time.Time                           { return time.Time{} }
func (c *fakeClock) TickAfter(time.Duration) <-chan time.Time { return c.ticks }

type fakeNodes struct {
	mu    sync.Mutex
	nodes map[string]lnnode.Node
}

func newFakeNodes() *fakeNodes { return &fakeNodes{nodes: make(map[string]lnnode.Node)} }

func (f *fakeNodes) add(n *lnnode.FakeNode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[string(n.Pubkey().SerializeCompressed())] = n
}

func (f *fakeNodes) FindNode(pubkey *btcec.PublicKey) (lnnode.Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[string(pubkey.SerializeCompressed())]
	return n, ok
}

func testPubkey(seed byte) *btcec.PublicKey {
	var b [32]byte
	b[0] = seed
	b[31] = 1
	_, pub := btcec.PrivKeyFromBytes(b[:])
	return pub
}

func testOutpoint(index uint32) wire.OutPoint {
	var h chainhash.Hash
	h[0] = byte(index)
	return wire.OutPoint{Hash: h, Index: index}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	rec := Record{
		ID:               "r1",
		Status:           StatusAttemptingPayments,
		SourceNodePubkey: testPubkey(1),
		SourceOutpoint:   testOutpoint(0),
		PeerPubkeys:      []*btcec.PublicKey{testPubkey(2), testPubkey(3)},
		TargetAmountSat:  50_000,
		MovedAmountSat:   10_000,
		Attempts:         1,
		MaxAttempts:      5,
		LastError:        "boom",
	}

	raw, err := rec.MarshalJSON()
	require.NoError(t, err)

	var out Record
	require.NoError(t, out.UnmarshalJSON(raw))

	require.Equal(t, rec.ID, out.ID)
	require.Equal(t, rec.Status, out.Status)
	require.True(t, rec.SourceNodePubkey.IsEqual(out.SourceNodePubkey))
	require.Equal(t, rec.SourceOutpoint, out.SourceOutpoint)
	require.Len(t, out.PeerPubkeys, 2)
	require.Equal(t, rec.TargetAmountSat, out.TargetAmountSat)
	require.Equal(t, rec.MovedAmountSat, out.MovedAmountSat)
	require.Equal(t, rec.LastError, out.LastError)
}

func TestStatusCanAdvanceToForwardOnly(t *testing.T) {
	require.True(t, StatusChannelPending.CanAdvanceTo(StatusChannelOpened))
	require.False(t, StatusChannelPending.CanAdvanceTo(StatusAttemptingPayments))
	require.True(t, StatusAttemptingPayments.CanAdvanceTo(StatusFailed))
	require.False(t, StatusCompleted.CanAdvanceTo(StatusFailed))
	require.False(t, StatusFailed.CanAdvanceTo(StatusFailed))
}

func TestCreateAndMarkChannelOpenedPersist(t *testing.T) {
	store := storekv.NewMemStore()
	r := New(newFakeNodes(), store, nil, newFakeClock())

	rec := Record{ID: "r1", SourceNodePubkey: testPubkey(1), MaxAttempts: 3}
	require.NoError(t, r.Create(rec))
	require.NoError(t, r.MarkChannelOpened("r1"))

	r.mu.Lock()
	got := r.records["r1"]
	r.mu.Unlock()
	require.Equal(t, StatusChannelOpened, got.Status)

	raw, err := store.Get(storekv.KeyRedshifts)
	require.NoError(t, err)
	require.Contains(t, string(raw), "channel_opened")
}

func TestAttemptPaymentsMovesFundsThenClosingChannelsCloses(t *testing.T) {
	sourcePub := testPubkey(1)
	peerA := testPubkey(2)

	source := lnnode.NewFakeNode("source-uuid", sourcePub, 0, "")
	source.SetChannels([]lnnode.Channel{{FundingOutpoint: testOutpoint(0)}})
	nodes := newFakeNodes()
	nodes.add(source)

	rec := &Record{
		ID:               "r1",
		SourceNodePubkey: sourcePub,
		SourceOutpoint:   testOutpoint(0),
		PeerPubkeys:      []*btcec.PublicKey{peerA},
		TargetAmountSat:  15_000,
		MaxAttempts:      5,
	}

	store := storekv.NewMemStore()
	r := New(nodes, store, nil, newFakeClock())

	require.NoError(t, r.AttemptPayments(context.Background(), rec))
	require.Equal(t, rec.TargetAmountSat, rec.MovedAmountSat)
	require.Equal(t, 2, rec.Attempts)

	require.NoError(t, r.CloseChannels(context.Background(), rec))
}

func TestAttemptPaymentsStopsAtRetryBudgetOnRepeatedFailure(t *testing.T) {
	sourcePub := testPubkey(1)
	peerA := testPubkey(2)

	source := lnnode.NewFakeNode("source-uuid", sourcePub, 0, "")
	source.PayErr = errPaymentRouteFailed
	nodes := newFakeNodes()
	nodes.add(source)

	rec := &Record{
		ID:               "r1",
		SourceNodePubkey: sourcePub,
		PeerPubkeys:      []*btcec.PublicKey{peerA},
		TargetAmountSat:  50_000,
		MaxAttempts:      3,
	}

	store := storekv.NewMemStore()
	r := New(nodes, store, nil, newFakeClock())

	require.NoError(t, r.AttemptPayments(context.Background(), rec))
	require.Equal(t, btcutil.Amount(0), rec.MovedAmountSat)
	require.Equal(t, 3, rec.Attempts)
}

func TestScanForOpenedAdvancesAndSpawnsDriver(t *testing.T) {
	sourcePub := testPubkey(1)
	peerA := testPubkey(2)

	source := lnnode.NewFakeNode("source-uuid", sourcePub, 0, "")
	source.SetChannels([]lnnode.Channel{{FundingOutpoint: testOutpoint(0)}})
	nodes := newFakeNodes()
	nodes.add(source)

	store := storekv.NewMemStore()
	r := New(nodes, store, nil, newFakeClock())

	rec := Record{
		ID:               "r1",
		SourceNodePubkey: sourcePub,
		SourceOutpoint:   testOutpoint(0),
		PeerPubkeys:      []*btcec.PublicKey{peerA},
		TargetAmountSat:  5_000,
		MaxAttempts:      3,
	}
	require.NoError(t, r.Create(rec))
	require.NoError(t, r.MarkChannelOpened("r1"))

	r.scanForOpened(context.Background())
	r.Wait()

	r.mu.Lock()
	got := r.records["r1"]
	r.mu.Unlock()
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, btcutil.Amount(5_000), got.MovedAmountSat)
}
