package nodemanager

import (
	"encoding/hex"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/mplsgrant/mutiny-node/invoice"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/walletkit"
)

// NodeIndex is the persisted per-node metadata described in
// SPEC_FULL.md §3.
type NodeIndex struct {
	ChildIndex uint32 `json:"child_index"`
	LSP        string `json:"lsp,omitempty"`
	Archived   bool   `json:"archived"`
}

// nodeStorageFile is the JSON shape stored under storekv.KeyNodes.
type nodeStorageFile struct {
	Nodes map[string]NodeIndex `json:"nodes"`
}

// NodeIdentity is the in-memory handle exposed to callers, per
// SPEC_FULL.md §3.
type NodeIdentity struct {
	UUID   string
	Pubkey *btcec.PublicKey
}

// Balance is the unified balance snapshot per SPEC_FULL.md §3.
type Balance struct {
	ConfirmedSat   btcutil.Amount
	UnconfirmedSat btcutil.Amount
	LightningSat   btcutil.Amount
	ForceCloseSat  btcutil.Amount
}

// ActivityKind tags the union member an ActivityItem wraps.
type ActivityKind int

const (
	ActivityOnChain ActivityKind = iota
	ActivityLightning
	ActivityChannelClosed
)

// ActivityItem is the tagged union over on-chain transactions, paid
// invoices, and channel closures described in SPEC_FULL.md §3.
type ActivityItem struct {
	Kind        ActivityKind
	OnChain     *walletkit.OnChainTransaction
	Invoice     *invoice.Invoice
	Closure     *lnnode.ChannelClosure
	lastUpdated *time.Time
}

// LastUpdated returns the item's timestamp, or nil for a pending item
// with no timestamp yet (§3's ordering rule).
func (a ActivityItem) LastUpdated() *time.Time {
	return a.lastUpdated
}

func newOnChainActivity(tx walletkit.OnChainTransaction) ActivityItem {
	item := ActivityItem{Kind: ActivityOnChain, OnChain: &tx}
	if tx.ConfTime.Confirmed {
		t := tx.ConfTime.Time
		item.lastUpdated = &t
	}
	return item
}

func newLightningActivity(inv invoice.Invoice) ActivityItem {
	t := inv.LastUpdated
	return ActivityItem{Kind: ActivityLightning, Invoice: &inv, lastUpdated: &t}
}

func newClosureActivity(c lnnode.ChannelClosure) ActivityItem {
	t := c.Timestamp
	return ActivityItem{Kind: ActivityChannelClosed, Closure: &c, lastUpdated: &t}
}

// lessAscending implements §3's ActivityItem ordering: by last_updated
// ascending when both have a timestamp; an item with none (pending)
// sorts after one with a timestamp (None > Some).
func lessAscending(a, b ActivityItem) bool {
	switch {
	case a.lastUpdated == nil && b.lastUpdated == nil:
		return false
	case a.lastUpdated == nil:
		return false // a (None) is greater, so a is not less than b
	case b.lastUpdated == nil:
		return true // b (None) is greater, so a is less than b
	default:
		return a.lastUpdated.Before(*b.lastUpdated)
	}
}

// sortActivityDescending sorts items for the user-facing listing: the
// ascending order defined by lessAscending, then reversed, so pending
// items and the newest timestamps come first (§3, §8 scenario 6).
func sortActivityDescending(items []ActivityItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return lessAscending(items[i], items[j])
	})
	for l, r := 0, len(items)-1; l < r; l, r = l+1, r-1 {
		items[l], items[r] = items[r], items[l]
	}
}

// PeerMetadata is the persisted per-peer record merged into list_peers
// (§4.8), keyed by hex-encoded compressed pubkey.
type PeerMetadata struct {
	Label            string `json:"label,omitempty"`
	ConnectionString string `json:"connection_string,omitempty"`
}

// Peer is a single entry in the list_peers result.
type Peer struct {
	Pubkey           *btcec.PublicKey
	Alias            string
	Label            string
	ConnectionString string
	IsConnected      bool
}

// peerLess implements §4.8's list_peers ordering: connected first, then
// alias, pubkey, connection string.
func peerLess(a, b Peer) bool {
	if a.IsConnected != b.IsConnected {
		return a.IsConnected
	}
	if a.Alias != b.Alias {
		return a.Alias < b.Alias
	}
	ahex, bhex := pubkeyHex(a.Pubkey), pubkeyHex(b.Pubkey)
	if ahex != bhex {
		return ahex < bhex
	}
	return a.ConnectionString < b.ConnectionString
}

func pubkeyHex(p *btcec.PublicKey) string {
	if p == nil {
		return ""
	}
	return hex.EncodeToString(p.SerializeCompressed())
}
