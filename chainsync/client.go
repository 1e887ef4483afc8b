// Package chainsync declares the chain-data client contract the node
// manager's sync loop consumes (SPEC_FULL.md §4.4, §6): an Esplora-style
// HTTP client for scripthash history and block/tx fetch, kept external
// per §1. Adapted from the teacher's chainntfs.ChainNotifier interface
// shape, trimmed to what the sync loop needs: "sync these sinks" rather
// than a full event-subscription API.
package chainsync

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ConfirmableSink is anything that wants to observe new chain tips — a
// node's channel manager or its chain monitor, matching the teacher's
// `chainntfs.ChainNotifier` consumers (`htlcswitch`, `contractcourt`).
// The core only needs to hand a batch of sinks to the client; it never
// inspects their internals (§1 Non-goals).
type ConfirmableSink interface {
	// SyncToTip is invoked by Client.Sync for every sink in one pass. A
	// sink-specific implementation lives inside lnnode (out of scope
	// here).
	SyncToTip(ctx context.Context) error
}

// TxHistoryEntry is a single entry in a scripthash's on-chain history,
// per the Esplora `/scripthash/:hash/txs` response shape.
type TxHistoryEntry struct {
	TxID          chainhash.Hash
	Height        int32
	Confirmed     bool
	Raw           []byte
}

// Client is the chain-data client the sync loop and check_address
// (§4.6) depend on.
type Client interface {
	// Sync drives every sink to the current chain tip. Called once per
	// sync-loop iteration for the Lightning sinks, then again for the
	// on-chain wallet (itself adapted to ConfirmableSink), per §4.4's
	// Lightning-before-on-chain ordering.
	Sync(ctx context.Context, sinks []ConfirmableSink) error

	// ScriptHistory returns every transaction touching the given
	// output script, used by check_address (§4.6).
	ScriptHistory(ctx context.Context, script []byte) ([]TxHistoryEntry, error)

	// BroadcastTx relays a raw transaction to the network.
	BroadcastTx(ctx context.Context, rawTx []byte) error
}
