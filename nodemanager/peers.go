package nodemanager

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/mutinyerr"
)

// operationTimeout bounds channel open, keysend, and invoice payment at
// the manager boundary, per §5.
const operationTimeout = 60 * time.Second

// ListPeers implements §4.8's list_peers: union of persisted peer
// metadata and pubkeys currently connected across all nodes, sorted by
// (is_connected descending, alias, pubkey, connection_string).
func (m *Manager) ListPeers() ([]Peer, error) {
	nodes := m.runningNodesSnapshot()

	connected := make(map[string]lnnode.PeerInfo)
	for _, n := range nodes {
		infos, err := n.ListPeers()
		if err != nil {
			return nil, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
		}
		for _, info := range infos {
			connected[pubkeyHex(info.Pubkey)] = info
		}
	}

	m.peerMu.Lock()
	metadata := make(map[string]PeerMetadata, len(m.peerMetadata))
	for k, v := range m.peerMetadata {
		metadata[k] = v
	}
	m.peerMu.Unlock()

	seen := make(map[string]bool)
	var peers []Peer

	for key, info := range connected {
		meta := metadata[key]
		peers = append(peers, Peer{
			Pubkey:           info.Pubkey,
			Alias:            meta.Label,
			Label:            meta.Label,
			ConnectionString: info.ConnectionString,
			IsConnected:      true,
		})
		seen[key] = true
	}

	for key, meta := range metadata {
		if seen[key] {
			continue
		}
		raw, err := hex.DecodeString(key)
		if err != nil {
			continue
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			continue
		}
		peers = append(peers, Peer{
			Pubkey:           pub,
			Alias:            meta.Label,
			Label:            meta.Label,
			ConnectionString: meta.ConnectionString,
			IsConnected:      false,
		})
	}

	sort.SliceStable(peers, func(i, j int) bool { return peerLess(peers[i], peers[j]) })
	return peers, nil
}

// LabelPeer implements original_source's label_peer.
func (m *Manager) LabelPeer(pubkey *btcec.PublicKey, label string) error {
	m.peerMu.Lock()
	defer m.peerMu.Unlock()

	key := pubkeyHex(pubkey)
	meta := m.peerMetadata[key]
	meta.Label = label
	m.peerMetadata[key] = meta
	return m.persistPeerMetadataLocked()
}

// DisconnectPeer implements original_source's disconnect_peer: finds
// the node currently connected to pubkey and disconnects there.
func (m *Manager) DisconnectPeer(pubkey *btcec.PublicKey) error {
	nodes := m.runningNodesSnapshot()
	for _, n := range nodes {
		infos, err := n.ListPeers()
		if err != nil {
			continue
		}
		for _, info := range infos {
			if info.Pubkey.IsEqual(pubkey) {
				if err := n.Disconnect(pubkey); err != nil {
					return mutinyerr.Wrap(mutinyerr.ConnectionFailed, err)
				}
				return nil
			}
		}
	}
	return mutinyerr.New(mutinyerr.NotFound)
}

// DeletePeer implements original_source's delete_peer: removes the
// persisted metadata entry, leaving any active connection untouched.
func (m *Manager) DeletePeer(pubkey *btcec.PublicKey) error {
	m.peerMu.Lock()
	defer m.peerMu.Unlock()

	key := pubkeyHex(pubkey)
	if _, ok := m.peerMetadata[key]; !ok {
		return mutinyerr.New(mutinyerr.NotFound)
	}
	delete(m.peerMetadata, key)
	return m.persistPeerMetadataLocked()
}

// ConnectPeer connects the selected node to the given address.
func (m *Manager) ConnectPeer(ctx context.Context, nodePubkey, peerPubkey *btcec.PublicKey, addr string) error {
	node, ok := m.findNode(nodePubkey)
	if !ok {
		return mutinyerr.New(mutinyerr.NotFound)
	}
	if err := node.Connect(ctx, peerPubkey, addr); err != nil {
		return mutinyerr.Wrap(mutinyerr.ConnectionFailed, err)
	}
	return nil
}

// OpenChannel implements §4.8: delegates req to the selected node as
// given, then looks up the channel by funding outpoint — failing
// ChannelCreationFailed if not found. A nil req.ToPubkey is passed
// through unchanged; it is not replaced with the node's assigned LSP.
func (m *Manager) OpenChannel(ctx context.Context, nodePubkey *btcec.PublicKey, req lnnode.OpenChannelRequest) (*lnnode.Channel, error) {
	node, ok := m.findNode(nodePubkey)
	if !ok {
		return nil, mutinyerr.New(mutinyerr.NotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	ch, err := node.OpenChannel(ctx, req)
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ChannelCreationFailed, err)
	}

	channels, err := node.ListChannels()
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}
	for _, c := range channels {
		if c.FundingOutpoint == ch.FundingOutpoint {
			return &c, nil
		}
	}
	return nil, mutinyerr.New(mutinyerr.ChannelCreationFailed)
}

// SweepUtxosToChannel implements §4.8's sweep_utxos_to_channel.
func (m *Manager) SweepUtxosToChannel(ctx context.Context, nodePubkey *btcec.PublicKey, toPubkey *btcec.PublicKey, utxos []wire.OutPoint) (*lnnode.Channel, error) {
	return m.OpenChannel(ctx, nodePubkey, lnnode.OpenChannelRequest{ToPubkey: toPubkey, Utxos: utxos})
}

// SweepAllToChannel implements §4.8's sweep_all_to_channel.
func (m *Manager) SweepAllToChannel(ctx context.Context, nodePubkey *btcec.PublicKey, toPubkey *btcec.PublicKey) (*lnnode.Channel, error) {
	return m.OpenChannel(ctx, nodePubkey, lnnode.OpenChannelRequest{ToPubkey: toPubkey, SweepAll: true})
}

// CloseChannel implements §4.8's close_channel: scans every node's
// channel list to find the owner, failing NotFound if no match.
func (m *Manager) CloseChannel(ctx context.Context, outpoint wire.OutPoint) error {
	nodes := m.runningNodesSnapshot()
	for _, n := range nodes {
		channels, err := n.ListChannels()
		if err != nil {
			continue
		}
		for _, ch := range channels {
			if ch.FundingOutpoint == outpoint {
				if err := n.CloseChannel(ctx, outpoint); err != nil {
					return mutinyerr.Wrap(mutinyerr.ChannelClosingFailed, err)
				}
				return nil
			}
		}
	}
	return mutinyerr.New(mutinyerr.NotFound)
}

// EstimateFeeNormal returns the sat/vbyte normal-priority fee rate, per
// original_source's estimate_fee_normal.
func (m *Manager) EstimateFeeNormal() (btcutil.Amount, error) {
	rate, err := m.wallet.EstimateFee(6)
	if err != nil {
		return 0, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}
	return rate, nil
}

// EstimateFeeHigh returns the sat/vbyte high-priority fee rate, per
// original_source's estimate_fee_high.
func (m *Manager) EstimateFeeHigh() (btcutil.Amount, error) {
	rate, err := m.wallet.EstimateFee(1)
	if err != nil {
		return 0, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}
	return rate, nil
}
