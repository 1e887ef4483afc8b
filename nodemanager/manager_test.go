package nodemanager

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/mplsgrant/mutiny-node/chainsync"
	"github.com/mplsgrant/mutiny-node/config"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/storekv"
	"github.com/mplsgrant/mutiny-node/walletkit"
)

// hardenedOffsetForTest keeps keys the test factory derives out of the
// lnurlAuthHardenedBase subtree reserved for lnurl-auth profiles.
const hardenedOffsetForTest = 1 << 31

// fakeFactory builds a deterministic FakeNode per registry entry.
type fakeFactory struct{}

func (f *fakeFactory) build(ctx context.Context, deps NodeDeps) (lnnode.Node, error) {
	child, err := deps.MasterKey.Child(deps.ChildIndex + hardenedOffsetForTest)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return lnnode.NewFakeNode(deps.UUID, priv.PubKey(), deps.ChildIndex, deps.LSP), nil
}

func newTestManager(t *testing.T) (*Manager, *fakeFactory) {
	t.Helper()

	factory := &fakeFactory{}
	mgr, err := New(Options{
		Config:      config.Config{Network: "regtest"},
		Store:       storekv.NewMemStore(),
		Wallet:      walletkit.NewFakeWallet(),
		Chain:       chainsync.NewFakeClient(),
		NodeFactory: factory.build,
	})
	require.NoError(t, err)
	return mgr, factory
}

func TestNewGeneratesAndPersistsMnemonic(t *testing.T) {
	mgr, _ := newTestManager(t)

	seed, err := mgr.ShowSeed()
	require.NoError(t, err)
	require.NotEmpty(t, seed)

	raw, err := mgr.store.Get(storekv.KeyMnemonic)
	require.NoError(t, err)
	require.Equal(t, seed, string(raw))
}

func TestNewNodeAssignsAscendingChildIndices(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	first, err := mgr.NewNode(context.Background())
	require.NoError(t, err)
	second, err := mgr.NewNode(context.Background())
	require.NoError(t, err)

	require.Equal(t, uint32(0), mgr.nodeStorage[first.UUID].ChildIndex)
	require.Equal(t, uint32(1), mgr.nodeStorage[second.UUID].ChildIndex)
}

func TestArchiveNodeRejectsOpenChannels(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	id, err := mgr.NewNode(context.Background())
	require.NoError(t, err)

	node, ok := mgr.findNode(id.Pubkey)
	require.True(t, ok)
	fake := node.(*lnnode.FakeNode)
	fake.SetChannels([]lnnode.Channel{{CapacitySat: 100000}})

	require.Error(t, mgr.ArchiveNode(id.Pubkey))

	fake.SetChannels(nil)
	require.NoError(t, mgr.ArchiveNode(id.Pubkey))

	entry := mgr.nodeStorage[id.UUID]
	require.True(t, entry.Archived)
}

func TestGetBalanceSumsWalletAndLightning(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	wallet := mgr.wallet.(*walletkit.FakeWallet)
	wallet.SetBalance(walletkit.Balance{Confirmed: 50000, UnconfirmedTrusted: 1000})

	id, err := mgr.NewNode(context.Background())
	require.NoError(t, err)
	node, _ := mgr.findNode(id.Pubkey)
	fake := node.(*lnnode.FakeNode)
	fake.SetChannels([]lnnode.Channel{
		{LocalBalanceMsat: 2_000_000, IsUsable: true},
		{LocalBalanceMsat: 500_000, IsForceClosing: true},
	})
	fake.SetClaimableBalances([]lnnode.ClaimableBalance{
		{Kind: lnnode.ClaimableAwaitingConfirmations, AmountSat: 3000},
	})

	bal, err := mgr.GetBalance()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(51000), bal.ConfirmedSat)
	require.Equal(t, btcutil.Amount(2000), bal.LightningSat)
	require.Equal(t, btcutil.Amount(3000), bal.ForceCloseSat)
}

func TestExportJSONExcludesLogsAndNetworkGraph(t *testing.T) {
	mgr, _ := newTestManager(t)

	require.NoError(t, mgr.store.Put(storekv.KeyLogs, []byte(`"noisy"`)))
	require.NoError(t, mgr.store.Put(storekv.KeyNetworkGraph, []byte(`"graph"`)))
	require.NoError(t, mgr.store.Put(storekv.KeyAddressLabels, []byte("{}")))

	export, err := mgr.ExportJSON()
	require.NoError(t, err)

	_, hasLogs := export[storekv.KeyLogs]
	_, hasGraph := export[storekv.KeyNetworkGraph]
	_, hasLabels := export[storekv.KeyAddressLabels]

	require.False(t, hasLogs)
	require.False(t, hasGraph)
	require.True(t, hasLabels)
}

func TestRehydrateFromExportRejectsWhileRunning(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop(context.Background())

	err := mgr.RehydrateFromExport(map[string]json.RawMessage{})
	require.Error(t, err)
}

func TestRehydrateFromExportRestoresRegistry(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	_, err := mgr.NewNode(context.Background())
	require.NoError(t, err)

	export, err := mgr.ExportJSON()
	require.NoError(t, err)
	require.NoError(t, mgr.Stop(context.Background()))

	mgr2, _ := newTestManager(t)
	require.NoError(t, mgr2.RehydrateFromExport(export))
	require.Len(t, mgr2.nodeStorage, 1)
}
