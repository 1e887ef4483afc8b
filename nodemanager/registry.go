package nodemanager

import (
	"context"
	"math/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/mplsgrant/mutiny-node/mutinyerr"
)

// NewNode implements §4.2's new_node: takes the registry mirror lock,
// computes the next strictly-increasing child index, assigns a random
// LSP from the configured list, persists the entry, then starts the
// node subsystem and inserts it into the running map.
func (m *Manager) NewNode(ctx context.Context) (NodeIdentity, error) {
	m.registryMu.Lock()

	nextIndex := uint32(0)
	for _, idx := range m.nodeStorage {
		if idx.ChildIndex+1 > nextIndex {
			nextIndex = idx.ChildIndex + 1
		}
	}

	lsp := m.pickRandomLSP()
	id := uuid.New().String()
	entry := NodeIndex{ChildIndex: nextIndex, LSP: lsp, Archived: false}
	m.nodeStorage[id] = entry

	if err := m.persistNodeStorageLocked(); err != nil {
		delete(m.nodeStorage, id)
		m.registryMu.Unlock()
		return NodeIdentity{}, err
	}
	m.registryMu.Unlock()

	node, err := m.newNode(ctx, NodeDeps{
		UUID:       id,
		ChildIndex: nextIndex,
		LSP:        lsp,
		MasterKey:  m.masterKey,
		Network:    m.network,
		Store:      m.store,
		Wallet:     m.wallet,
		Chain:      m.chain,
	})
	if err != nil {
		// Registry entry stays persisted but un-started; the next
		// restart will attempt it again, per §4.2.
		return NodeIdentity{}, mutinyerr.Wrap(mutinyerr.ConnectionFailed, err)
	}
	if err := node.Start(ctx); err != nil {
		return NodeIdentity{}, mutinyerr.Wrap(mutinyerr.ConnectionFailed, err)
	}

	m.nodesMu.Lock()
	m.nodes[pubkeyHex(node.Pubkey())] = node
	m.nodesMu.Unlock()

	return NodeIdentity{UUID: id, Pubkey: node.Pubkey()}, nil
}

func (m *Manager) pickRandomLSP() string {
	urls := m.cfg.LspURLs()
	if len(urls) == 0 {
		return ""
	}
	return urls[rand.Intn(len(urls))]
}

// ArchiveNode implements §4.2's archive_node: rejects if the node has
// any live channel or any non-empty claimable balance, to guarantee
// archival never strands funds.
func (m *Manager) ArchiveNode(pubkey *btcec.PublicKey) error {
	node, ok := m.findNode(pubkey)
	if !ok {
		return mutinyerr.New(mutinyerr.NotFound)
	}

	channels, err := node.ListChannels()
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}
	if len(channels) > 0 {
		return mutinyerr.New(mutinyerr.ChannelClosingFailed)
	}

	claims, err := node.ClaimableBalances()
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}
	if len(claims) > 0 {
		return mutinyerr.New(mutinyerr.ChannelClosingFailed)
	}

	m.registryMu.Lock()
	defer m.registryMu.Unlock()

	entry, ok := m.nodeStorage[node.UUID()]
	if !ok {
		return mutinyerr.New(mutinyerr.NotFound)
	}
	entry.Archived = true
	m.nodeStorage[node.UUID()] = entry
	return m.persistNodeStorageLocked()
}

// ListNodes returns every currently running node's identity, mirroring
// original_source's list_nodes.
func (m *Manager) ListNodes() []NodeIdentity {
	nodes := m.runningNodesSnapshot()
	out := make([]NodeIdentity, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeIdentity{UUID: n.UUID(), Pubkey: n.Pubkey()})
	}
	return out
}
