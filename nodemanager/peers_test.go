package nodemanager

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/mplsgrant/mutiny-node/lnnode"
)

var errOpenChannel = errors.New("nodemanager_test: open channel failed")

func TestListPeersMergesConnectedAndMetadata(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	id, err := mgr.NewNode(context.Background())
	require.NoError(t, err)
	node, _ := mgr.findNode(id.Pubkey)
	fake := node.(*lnnode.FakeNode)

	peerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	fake.SetPeers([]lnnode.PeerInfo{{Pubkey: peerKey.PubKey(), ConnectionString: "10.0.0.1:9735"}})

	require.NoError(t, mgr.LabelPeer(peerKey.PubKey(), "friend"))

	peers, err := mgr.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.True(t, peers[0].IsConnected)
	require.Equal(t, "friend", peers[0].Label)
}

func TestDeletePeerRemovesMetadataOnly(t *testing.T) {
	mgr, _ := newTestManager(t)

	peerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.NoError(t, mgr.LabelPeer(peerKey.PubKey(), "friend"))
	require.NoError(t, mgr.DeletePeer(peerKey.PubKey()))
	require.Error(t, mgr.DeletePeer(peerKey.PubKey()))
}

func TestOpenChannelFailsWhenNodeOpenFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	id, err := mgr.NewNode(context.Background())
	require.NoError(t, err)
	node, _ := mgr.findNode(id.Pubkey)
	fake := node.(*lnnode.FakeNode)
	fake.OpenErr = errOpenChannel

	_, err = mgr.OpenChannel(context.Background(), id.Pubkey, lnnode.OpenChannelRequest{AmountSat: 100000})
	require.Error(t, err)
}

func TestCloseChannelReportsNotFoundForUnknownOutpoint(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	err := mgr.CloseChannel(context.Background(), wire.OutPoint{Index: 42})
	require.Error(t, err)
}
