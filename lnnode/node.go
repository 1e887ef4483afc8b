// Package lnnode declares the per-node Lightning engine contract the
// node manager core treats as an external collaborator (SPEC_FULL.md
// §1): the channel state machine, HTLC handling, and peer wire protocol
// all live behind this interface, out of scope for this module. Shapes
// are adapted from the teacher's htlcswitch/contractcourt/lnwallet
// surfaces, trimmed to what the aggregate view, sync loop, and
// peer/channel surface actually call.
package lnnode

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/mplsgrant/mutiny-node/chainsync"
	"github.com/mplsgrant/mutiny-node/invoice"
)

// ClaimKind enumerates the six claimable-balance variants SPEC_FULL.md
// §3 sums into the force_close balance, grounded on the teacher's
// contractcourt claim-resolver vocabulary
// (contractcourt/htlc_timeout_resolver.go).
type ClaimKind int

const (
	ClaimableOnChannelClose ClaimKind = iota
	ClaimableAwaitingConfirmations
	ContentiousClaimable
	MaybeTimeoutClaimableHTLC
	MaybePreimageClaimableHTLC
	CounterpartyRevokedOutputClaimable
)

// ClaimableBalance is one pending or resolving force-close output.
type ClaimableBalance struct {
	Kind      ClaimKind
	AmountSat btcutil.Amount
}

// Channel is a single Lightning channel's current state, per
// SPEC_FULL.md §3/§4.3.
type Channel struct {
	ChannelID         [32]byte
	UserChannelID     [16]byte
	FundingOutpoint   wire.OutPoint
	CapacitySat       btcutil.Amount
	LocalBalanceMsat  uint64
	RemoteBalanceMsat uint64
	CounterpartyNode  *btcec.PublicKey
	IsUsable          bool
	IsForceClosing    bool
}

// ChannelClosure is a terminal record of a closed channel, per
// SPEC_FULL.md §3.
type ChannelClosure struct {
	UserChannelID    [16]byte
	ChannelID        [32]byte
	CounterpartyNode *btcec.PublicKey
	Reason           string
	Timestamp        time.Time
}

// PeerInfo is a single connected-peer record, as seen from one node;
// the manager merges these across all nodes plus persisted metadata to
// build list_peers (§4.8).
type PeerInfo struct {
	Pubkey           *btcec.PublicKey
	ConnectionString string
}

// PaymentResult is the outcome of PayInvoice/Keysend.
type PaymentResult struct {
	PaymentHash [32]byte
	Preimage    [32]byte
	FeesPaidSat uint64
}

// OpenChannelRequest parameterizes OpenChannel/SweepUtxosToChannel/
// SweepAllToChannel (§4.8); SweepAll is true for sweep_all_to_channel,
// and Utxos is non-empty for sweep_utxos_to_channel.
type OpenChannelRequest struct {
	ToPubkey *btcec.PublicKey
	AmountSat btcutil.Amount
	SweepAll  bool
	Utxos     []wire.OutPoint
}

// CreateInvoiceRequest parameterizes CreateInvoice (§4.6). ExtraHints
// carries sibling nodes' route hints for a phantom-route invoice; it is
// empty for an ordinary single-node invoice.
type CreateInvoiceRequest struct {
	AmountMsat  uint64
	Description string
	Labels      []string
	ExtraHints  []PhantomHint
}

// Node is the running handle for one Lightning node instance. A real
// implementation wraps the Lightning protocol engine (out of scope per
// §1); tests use the in-package FakeNode.
type Node interface {
	Pubkey() *btcec.PublicKey
	UUID() string

	// ChildIndex is the BIP-32 child index this node was derived
	// under, reported back so the manager can persist any LSP
	// assignment made lazily during construction (§4.2 startup step).
	ChildIndex() uint32
	AssignedLSP() string

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// ConfirmableSinks returns this node's channel manager and chain
	// monitor, handed to chainsync.Client.Sync per §4.4.
	ConfirmableSinks() []chainsync.ConfirmableSink

	ListChannels() ([]Channel, error)
	ListChannelClosures() ([]ChannelClosure, error)
	ClaimableBalances() ([]ClaimableBalance, error)

	// ListInvoices returns every invoice (inbound and outbound,
	// settled or pending) this node's Lightning engine currently
	// tracks; the manager filters to paid==true when building
	// get_activity (§4.3).
	ListInvoices() ([]invoice.Invoice, error)

	ListPeers() ([]PeerInfo, error)
	Connect(ctx context.Context, pubkey *btcec.PublicKey, addr string) error
	Disconnect(pubkey *btcec.PublicKey) error

	OpenChannel(ctx context.Context, req OpenChannelRequest) (*Channel, error)
	CloseChannel(ctx context.Context, outpoint wire.OutPoint) error

	// CreateInvoice returns a BOLT-11 string.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (string, error)
	PayInvoice(ctx context.Context, bolt11 string) (*PaymentResult, error)
	Keysend(ctx context.Context, payee *btcec.PublicKey, amtMsat uint64) (*PaymentResult, error)

	// RouteHints returns this node's private-channel route hints, used
	// to build a phantom-route invoice across every node (§4.6).
	RouteHints() []PhantomHint
}

// PhantomHint is one node's contribution to a multi-node phantom-route
// invoice, grounded on original_source's get_phantom_route_hints.
type PhantomHint struct {
	NodeID      *btcec.PublicKey
	ShortChanID uint64
	FeeBaseMsat uint32
	FeePPM      uint32
	CLTVDelta   uint16
}
