// Package nodemanager is the coordination core of the wallet: seed
// derivation, node registry and lifecycle, aggregate balance/activity
// view, and the peer/channel surface, per SPEC_FULL.md §§1-3, 8.
// Grounded on the teacher's server.go (central coordinator owning maps
// guarded by explicit lock/snapshot/release discipline, atomic-CAS
// Start/Stop) and directly on original_source/mutiny-core/src/nodemanager.rs
// for method signatures and ordering rules.
package nodemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	goerrors "github.com/go-errors/errors"
	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/mplsgrant/mutiny-node/chainsync"
	"github.com/mplsgrant/mutiny-node/config"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/mutinyerr"
	"github.com/mplsgrant/mutiny-node/priceapi"
	"github.com/mplsgrant/mutiny-node/redshift"
	"github.com/mplsgrant/mutiny-node/storekv"
	"github.com/mplsgrant/mutiny-node/walletkit"
)

// NodeFactory constructs a running lnnode.Node for a registry entry,
// the manager's one point of contact with the out-of-scope Lightning
// engine (SPEC_FULL.md §1).
type NodeFactory func(ctx context.Context, deps NodeDeps) (lnnode.Node, error)

// NodeDeps is everything a NodeFactory needs to build one node, a
// subset of the shared resources original_source's
// create_new_node_from_node_manager hands to each node: the node's UUID
// and child index, its assigned LSP URL, the master key, network,
// storage, on-chain wallet and chain client.
type NodeDeps struct {
	UUID       string
	ChildIndex uint32
	LSP        string
	MasterKey  *hdkeychain.ExtendedKey
	Network    *chaincfg.Params
	Store      storekv.Store
	Wallet     walletkit.Wallet
	Chain      chainsync.Client
}

// Options configures a new Manager.
type Options struct {
	Config      config.Config
	Store       storekv.Store
	Wallet      walletkit.Wallet
	Chain       chainsync.Client
	PriceCache  *priceapi.Cache
	NodeFactory NodeFactory
}

// Manager is the node manager core. Construct with New.
type Manager struct {
	cfg    config.Config
	store  storekv.Store
	wallet walletkit.Wallet
	chain  chainsync.Client
	prices *priceapi.Cache
	newNode NodeFactory

	network   *chaincfg.Params
	masterKey *hdkeychain.ExtendedKey

	// registryMu guards nodeStorage, the in-memory mirror of the
	// persisted NodeStorage. Lock ordering per §5: registryMu before
	// nodesMu.
	registryMu  sync.Mutex
	nodeStorage map[string]NodeIndex

	// nodesMu guards the running-node map, keyed by hex-encoded
	// compressed pubkey.
	nodesMu sync.Mutex
	nodes   map[string]lnnode.Node

	peerMu       sync.Mutex
	peerMetadata map[string]PeerMetadata

	lnurlAuthMu sync.Mutex
	lnurlAuth   map[string]lnurlAuthProfile

	redshifts *redshift.Runner

	running atomic.Bool
	stop    atomic.Bool
}

// New constructs a Manager: loads or generates the mnemonic, derives
// the master key, and loads the persisted node registry, per §4.1. It
// does not start any nodes — call Start for that.
func New(opts Options) (*Manager, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.Other, err)
	}
	if opts.Store == nil || opts.Wallet == nil || opts.Chain == nil || opts.NodeFactory == nil {
		return nil, mutinyerr.New(mutinyerr.Other)
	}

	m := &Manager{
		cfg:          opts.Config,
		store:        opts.Store,
		wallet:       opts.Wallet,
		chain:        opts.Chain,
		prices:       opts.PriceCache,
		newNode:      opts.NodeFactory,
		network:      opts.Config.NetParams(),
		nodes:        make(map[string]lnnode.Node),
		peerMetadata: make(map[string]PeerMetadata),
		lnurlAuth:    make(map[string]lnurlAuthProfile),
	}

	mnemonic, err := m.loadOrGenerateMnemonic()
	if err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, m.network)
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}
	m.masterKey = master

	storage, err := m.loadNodeStorage()
	if err != nil {
		return nil, err
	}
	m.nodeStorage = storage

	if err := m.loadPeerMetadata(); err != nil {
		return nil, err
	}

	m.redshifts = redshift.New(m, m.store, m.StopFlag(), nil)

	return m, nil
}

// loadOrGenerateMnemonic implements §4.1: an explicit override
// overwrites storage; otherwise load, or generate a fresh 12-word
// phrase on miss.
func (m *Manager) loadOrGenerateMnemonic() (string, error) {
	if m.cfg.Mnemonic != "" {
		if err := m.store.Put(storekv.KeyMnemonic, []byte(m.cfg.Mnemonic)); err != nil {
			return "", mutinyerr.Wrap(mutinyerr.PersistenceFailed, err)
		}
		return m.cfg.Mnemonic, nil
	}

	raw, err := m.store.Get(storekv.KeyMnemonic)
	if err == nil {
		return string(raw), nil
	}
	if err != storekv.ErrNotFound {
		return "", mutinyerr.Wrap(mutinyerr.ReadError, err)
	}

	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.Other, err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.Other, err)
	}
	if err := m.store.Put(storekv.KeyMnemonic, []byte(mnemonic)); err != nil {
		return "", mutinyerr.Wrap(mutinyerr.PersistenceFailed, err)
	}
	return mnemonic, nil
}

// ShowSeed returns the space-joined 12-word mnemonic.
func (m *Manager) ShowSeed() (string, error) {
	raw, err := m.store.Get(storekv.KeyMnemonic)
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.ReadError, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (m *Manager) loadNodeStorage() (map[string]NodeIndex, error) {
	raw, err := m.store.Get(storekv.KeyNodes)
	if err == storekv.ErrNotFound {
		return make(map[string]NodeIndex), nil
	}
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ReadError, err)
	}

	var file nodeStorageFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ReadError, err)
	}
	if file.Nodes == nil {
		file.Nodes = make(map[string]NodeIndex)
	}
	return file.Nodes, nil
}

// persistNodeStorageLocked writes m.nodeStorage to the store. Callers
// must hold registryMu.
func (m *Manager) persistNodeStorageLocked() error {
	file := nodeStorageFile{Nodes: m.nodeStorage}
	raw, err := json.Marshal(file)
	if err != nil {
		return goerrors.Wrap(err, 1)
	}
	if err := m.store.Put(storekv.KeyNodes, raw); err != nil {
		return mutinyerr.Wrap(mutinyerr.PersistenceFailed, err)
	}
	return nil
}

func (m *Manager) loadPeerMetadata() error {
	raw, err := m.store.Get(storekv.KeyPeerMetadata)
	if err == storekv.ErrNotFound {
		return nil
	}
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.ReadError, err)
	}
	var meta map[string]PeerMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return mutinyerr.Wrap(mutinyerr.ReadError, err)
	}
	m.peerMetadata = meta
	return nil
}

func (m *Manager) persistPeerMetadataLocked() error {
	raw, err := json.Marshal(m.peerMetadata)
	if err != nil {
		return goerrors.Wrap(err, 1)
	}
	if err := m.store.Put(storekv.KeyPeerMetadata, raw); err != nil {
		return mutinyerr.Wrap(mutinyerr.PersistenceFailed, err)
	}
	return nil
}

// Start enumerates the persisted registry, skips archived entries, and
// constructs a node handle for every survivor in sequence, aborting on
// the first failure (§4.2's deliberately strict, deterministic startup
// — see SPEC_FULL.md Open Questions decision 1).
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return mutinyerr.New(mutinyerr.AlreadyRunning)
	}
	m.stop.Store(false)

	m.registryMu.Lock()
	entries := make(map[string]NodeIndex, len(m.nodeStorage))
	for id, idx := range m.nodeStorage {
		entries[id] = idx
	}
	m.registryMu.Unlock()

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sortUUIDsByChildIndex(ids, entries)

	for _, id := range ids {
		idx := entries[id]
		if idx.Archived {
			continue
		}

		node, err := m.newNode(ctx, NodeDeps{
			UUID:       id,
			ChildIndex: idx.ChildIndex,
			LSP:        idx.LSP,
			MasterKey:  m.masterKey,
			Network:    m.network,
			Store:      m.store,
			Wallet:     m.wallet,
			Chain:      m.chain,
		})
		if err != nil {
			m.running.Store(false)
			return mutinyerr.Wrap(mutinyerr.ConnectionFailed, err)
		}
		if err := node.Start(ctx); err != nil {
			m.running.Store(false)
			return mutinyerr.Wrap(mutinyerr.ConnectionFailed, err)
		}

		m.nodesMu.Lock()
		m.nodes[pubkeyHex(node.Pubkey())] = node
		m.nodesMu.Unlock()
	}

	// Rewrite NodeStorage with each handle's current index, capturing
	// any LSP assignment made lazily during construction (§4.2).
	m.registryMu.Lock()
	m.nodesMu.Lock()
	for _, node := range m.nodes {
		id := node.UUID()
		m.nodeStorage[id] = NodeIndex{
			ChildIndex: node.ChildIndex(),
			LSP:        node.AssignedLSP(),
			Archived:   false,
		}
	}
	err := m.persistNodeStorageLocked()
	m.nodesMu.Unlock()
	m.registryMu.Unlock()
	if err != nil {
		return err
	}

	m.StartSyncLoop(ctx)
	if err := m.startRedshiftRunner(ctx); err != nil {
		return err
	}
	return nil
}

// Stop CASes the stop flag, awaits every running node's shutdown
// concurrently, clears the running map, and disconnects storage, per
// §4.2.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.running.CompareAndSwap(true, false) {
		return mutinyerr.New(mutinyerr.NotRunning)
	}
	m.stop.Store(true)

	m.nodesMu.Lock()
	snapshot := make([]lnnode.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		snapshot = append(snapshot, n)
	}
	m.nodes = make(map[string]lnnode.Node)
	m.nodesMu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(snapshot))
	for i, n := range snapshot {
		wg.Add(1)
		go func(i int, n lnnode.Node) {
			defer wg.Done()
			if err := n.Stop(ctx); err != nil {
				errs[i] = err
			}
		}(i, n)
	}
	wg.Wait()
	m.redshifts.Wait()

	for _, err := range errs {
		if err != nil {
			log.Errorf("nodemanager: error stopping node: %v", err)
		}
	}

	if m.store.Connected() {
		if err := m.store.Disconnect(); err != nil {
			return mutinyerr.Wrap(mutinyerr.PersistenceFailed, err)
		}
	}
	return nil
}

// StopFlag reports whether shutdown has been requested; background
// loops (syncer, redshift) poll this, per §5's single-atomic-flag
// cancellation model.
func (m *Manager) StopFlag() *atomic.Bool {
	return &m.stop
}

// IsRunning reports whether Start has completed without a matching Stop.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Network returns the configured network parameters.
func (m *Manager) Network() *chaincfg.Params {
	return m.network
}

// Store exposes the underlying persisted store, used by background
// loops (syncer, redshift) constructed alongside the manager.
func (m *Manager) Store() storekv.Store {
	return m.store
}

// Wallet exposes the on-chain wallet collaborator.
func (m *Manager) Wallet() walletkit.Wallet {
	return m.wallet
}

// Chain exposes the chain-data client collaborator.
func (m *Manager) Chain() chainsync.Client {
	return m.chain
}

// runningNodesSnapshot returns a snapshot of the running-node map,
// released immediately after copying per §5's lock-snapshot-release
// discipline.
func (m *Manager) runningNodesSnapshot() []lnnode.Node {
	m.nodesMu.Lock()
	defer m.nodesMu.Unlock()

	out := make([]lnnode.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

func (m *Manager) findNode(pubkey *btcec.PublicKey) (lnnode.Node, bool) {
	m.nodesMu.Lock()
	defer m.nodesMu.Unlock()
	n, ok := m.nodes[pubkeyHex(pubkey)]
	return n, ok
}

// FindNode implements redshift.NodeSource, letting the redshift runner
// look up the running node handle for a redshift record's source node.
func (m *Manager) FindNode(pubkey *btcec.PublicKey) (lnnode.Node, bool) {
	return m.findNode(pubkey)
}

func sortUUIDsByChildIndex(ids []string, entries map[string]NodeIndex) {
	// Deterministic iteration order for startup; create_invoice sorts
	// its own node list with sortNodesByChildIndex in glue.go.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && entries[ids[j-1]].ChildIndex > entries[ids[j]].ChildIndex; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("nodemanager: invalid node uuid %q: %w", s, err)
	}
	return id, nil
}
