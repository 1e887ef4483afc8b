package lnnode

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/mplsgrant/mutiny-node/chainsync"
	"github.com/mplsgrant/mutiny-node/invoice"
)

// FakeNode is an in-memory Node used by nodemanager's tests, the way
// the teacher pairs htlcswitch.ChannelLink with
// htlcswitch/mock.go's mockChannelLink.
type FakeNode struct {
	mu sync.Mutex

	pubkey     *btcec.PublicKey
	uuid       string
	childIndex uint32
	lsp        string

	started bool

	channels   []Channel
	closures   []ChannelClosure
	claims     []ClaimableBalance
	peers      []PeerInfo
	sinks      []chainsync.ConfirmableSink
	routeHints []PhantomHint
	invoices   []invoice.Invoice

	NextInvoice string
	PayResult   *PaymentResult
	PayErr      error

	OpenErr  error
	CloseErr error
}

// NewFakeNode builds a FakeNode with the given identity; pubkey is
// required, everything else defaults empty.
func NewFakeNode(uuid string, pubkey *btcec.PublicKey, childIndex uint32, lsp string) *FakeNode {
	return &FakeNode{
		uuid:       uuid,
		pubkey:     pubkey,
		childIndex: childIndex,
		lsp:        lsp,
		sinks:      []chainsync.ConfirmableSink{&chainsync.FakeSink{}},
	}
}

func (n *FakeNode) Pubkey() *btcec.PublicKey { return n.pubkey }
func (n *FakeNode) UUID() string             { return n.uuid }
func (n *FakeNode) ChildIndex() uint32       { return n.childIndex }
func (n *FakeNode) AssignedLSP() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lsp
}

func (n *FakeNode) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = true
	return nil
}

func (n *FakeNode) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false
	return nil
}

func (n *FakeNode) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

func (n *FakeNode) ConfirmableSinks() []chainsync.ConfirmableSink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sinks
}

func (n *FakeNode) SetChannels(chans []Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = chans
}

func (n *FakeNode) ListChannels() ([]Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Channel, len(n.channels))
	copy(out, n.channels)
	return out, nil
}

func (n *FakeNode) SetChannelClosures(closures []ChannelClosure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closures = closures
}

func (n *FakeNode) ListChannelClosures() ([]ChannelClosure, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ChannelClosure, len(n.closures))
	copy(out, n.closures)
	return out, nil
}

func (n *FakeNode) SetClaimableBalances(claims []ClaimableBalance) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.claims = claims
}

func (n *FakeNode) ClaimableBalances() ([]ClaimableBalance, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ClaimableBalance, len(n.claims))
	copy(out, n.claims)
	return out, nil
}

func (n *FakeNode) SetPeers(peers []PeerInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = peers
}

func (n *FakeNode) ListPeers() ([]PeerInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]PeerInfo, len(n.peers))
	copy(out, n.peers)
	return out, nil
}

func (n *FakeNode) Connect(ctx context.Context, pubkey *btcec.PublicKey, addr string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = append(n.peers, PeerInfo{Pubkey: pubkey, ConnectionString: addr})
	return nil
}

func (n *FakeNode) Disconnect(pubkey *btcec.PublicKey) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, p := range n.peers {
		if p.Pubkey.IsEqual(pubkey) {
			n.peers = append(n.peers[:i], n.peers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("lnnode: peer not connected")
}

func (n *FakeNode) OpenChannel(ctx context.Context, req OpenChannelRequest) (*Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.OpenErr != nil {
		return nil, n.OpenErr
	}
	ch := Channel{
		FundingOutpoint:  wire.OutPoint{Index: uint32(len(n.channels))},
		CapacitySat:      req.AmountSat,
		CounterpartyNode: req.ToPubkey,
		IsUsable:         true,
	}
	n.channels = append(n.channels, ch)
	return &ch, nil
}

func (n *FakeNode) CloseChannel(ctx context.Context, outpoint wire.OutPoint) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.CloseErr != nil {
		return n.CloseErr
	}
	for i, ch := range n.channels {
		if ch.FundingOutpoint == outpoint {
			n.channels = append(n.channels[:i], n.channels[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("lnnode: channel not found")
}

func (n *FakeNode) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.NextInvoice, nil
}

func (n *FakeNode) PayInvoice(ctx context.Context, bolt11 string) (*PaymentResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.PayResult, n.PayErr
}

func (n *FakeNode) Keysend(ctx context.Context, payee *btcec.PublicKey, amtMsat uint64) (*PaymentResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.PayResult, n.PayErr
}

func (n *FakeNode) SetInvoices(invs []invoice.Invoice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invoices = invs
}

func (n *FakeNode) ListInvoices() ([]invoice.Invoice, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]invoice.Invoice, len(n.invoices))
	copy(out, n.invoices)
	return out, nil
}

func (n *FakeNode) RouteHints() []PhantomHint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.routeHints
}

func (n *FakeNode) SetRouteHints(hints []PhantomHint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routeHints = hints
}

// SetSinksForTest replaces the node's default FakeSink, letting callers
// observe sync calls routed through a specific sink.
func (n *FakeNode) SetSinksForTest(sinks ...chainsync.ConfirmableSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = sinks
}

var _ Node = (*FakeNode)(nil)
