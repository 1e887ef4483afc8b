package nodemanager

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mplsgrant/mutiny-node/invoice"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/lnurl"
	"github.com/mplsgrant/mutiny-node/mutinyerr"
	"github.com/mplsgrant/mutiny-node/walletkit"
)

// lnurlAuthHardenedBase is the hardened derivation subtree reserved for
// lnurl-auth identity keys, one per registered service profile.
const lnurlAuthHardenedBase = hdkeychain.HardenedKeyStart + 138

type lnurlAuthProfile struct {
	index   uint32
	privKey *btcec.PrivateKey
	used    map[string]bool
}

// Bip21 is the result of create_bip21 (§4.6).
type Bip21 struct {
	Address   btcutil.Address
	Bolt11    string
	AmountBTC string
}

// CreateBip21 implements §4.6's create_bip21: atomically obtains a
// fresh receive address and a Lightning invoice sharing the same
// labels, and formats amountSats as a BTC-denominated decimal string.
func (m *Manager) CreateBip21(ctx context.Context, amountSats uint64, labels []string) (*Bip21, error) {
	addr, err := m.wallet.NewAddress()
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}
	if err := m.wallet.LabelAddress(addr, labels); err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}

	bolt11, err := m.CreateInvoice(ctx, amountSats*1000, "", labels)
	if err != nil {
		return nil, err
	}

	return &Bip21{
		Address:   addr,
		Bolt11:    bolt11,
		AmountBTC: formatBTC(amountSats),
	}, nil
}

func formatBTC(sats uint64) string {
	whole := sats / 100_000_000
	frac := sats % 100_000_000
	return fmt.Sprintf("%d.%08d", whole, frac)
}

// CreateInvoice implements §4.6's create_invoice: if more than one node
// is running and no LSP is configured, builds a phantom-route invoice
// aggregating route hints from every node; otherwise delegates to the
// first node in child-index order (SPEC_FULL.md Open Questions decision
// 2). Fails if there are zero nodes.
func (m *Manager) CreateInvoice(ctx context.Context, amountMsat uint64, description string, labels []string) (string, error) {
	nodes := m.orderedRunningNodes()
	if len(nodes) == 0 {
		return "", mutinyerr.New(mutinyerr.InvoiceCreationFailed)
	}

	usingLSP := len(m.cfg.LspURLs()) > 0
	req := lnnode.CreateInvoiceRequest{AmountMsat: amountMsat, Description: description, Labels: labels}

	if len(nodes) > 1 && !usingLSP {
		// The first node in child-index order issues the invoice; its
		// siblings' route hints are attached so any of them can settle
		// it, per original_source's phantom-route construction.
		for _, n := range nodes[1:] {
			req.ExtraHints = append(req.ExtraHints, n.RouteHints()...)
		}
	}

	bolt11, err := nodes[0].CreateInvoice(ctx, req)
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.InvoiceCreationFailed, err)
	}
	return bolt11, nil
}

func (m *Manager) orderedRunningNodes() []lnnode.Node {
	nodes := m.runningNodesSnapshot()
	sortNodesByChildIndex(nodes)
	return nodes
}

func sortNodesByChildIndex(nodes []lnnode.Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].ChildIndex() > nodes[j].ChildIndex(); j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}

// checkNetwork verifies bolt11 was built for the manager's configured
// network, per §4.6's pay_invoice/keysend network-mismatch guard.
func (m *Manager) checkNetwork(bolt11 string) error {
	decoded, err := invoice.Decode(bolt11)
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.InvoiceInvalid, err)
	}
	if decoded.Net.Bech32HRPSegwit != m.network.Bech32HRPSegwit {
		return mutinyerr.IncorrectNetworkErr(decoded.Net.Name)
	}
	return nil
}

// PayInvoice implements §4.6's pay_invoice: rejects on network
// mismatch, else delegates to the named node, bounded by the
// operation timeout (§5).
func (m *Manager) PayInvoice(ctx context.Context, nodePubkey *btcec.PublicKey, bolt11 string) (*lnnode.PaymentResult, error) {
	if err := m.checkNetwork(bolt11); err != nil {
		return nil, err
	}

	node, ok := m.findNode(nodePubkey)
	if !ok {
		return nil, mutinyerr.New(mutinyerr.NotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := node.PayInvoice(ctx, bolt11)
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.RoutingFailed, err)
	}
	return result, nil
}

// Keysend implements §4.6's keysend.
func (m *Manager) Keysend(ctx context.Context, nodePubkey, payee *btcec.PublicKey, amtMsat uint64) (*lnnode.PaymentResult, error) {
	node, ok := m.findNode(nodePubkey)
	if !ok {
		return nil, mutinyerr.New(mutinyerr.NotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := node.Keysend(ctx, payee, amtMsat)
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.RoutingFailed, err)
	}
	return result, nil
}

// DecodeInvoice implements original_source's decode_invoice.
func (m *Manager) DecodeInvoice(bolt11 string) (*invoice.Bolt11, error) {
	decoded, err := invoice.Decode(bolt11)
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.InvoiceInvalid, err)
	}
	return decoded, nil
}

// DecodeLnUrl implements original_source's decode_lnurl: resolves a
// bech32 lnurl (or already-plain HTTPS URL) and fetches its first-hop
// response.
func (m *Manager) DecodeLnUrl(ctx context.Context, raw string) (*lnurl.Response, error) {
	target := raw
	if decodedURL, err := lnurl.Decode(raw); err == nil {
		target = decodedURL
	}
	return lnurl.Fetch(ctx, http.DefaultClient, target)
}

// LnurlPay implements §4.6's lnurl_pay: fetch, dispatch on tag, pay the
// returned invoice via the named node.
func (m *Manager) LnurlPay(ctx context.Context, nodePubkey *btcec.PublicKey, raw string, amountMsat uint64) (*lnnode.PaymentResult, error) {
	resp, err := m.DecodeLnUrl(ctx, raw)
	if err != nil {
		return nil, err
	}
	if resp.Tag != lnurl.TagPayRequest {
		return nil, mutinyerr.New(mutinyerr.IncorrectLnUrlFunction)
	}
	bolt11, err := lnurl.Pay(ctx, http.DefaultClient, resp, amountMsat)
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	return m.PayInvoice(ctx, nodePubkey, bolt11)
}

// LnurlWithdraw implements §4.6's lnurl_withdraw: fetch, dispatch, then
// have the named node issue an invoice and submit it to the service.
func (m *Manager) LnurlWithdraw(ctx context.Context, nodePubkey *btcec.PublicKey, raw string, amountMsat uint64) error {
	resp, err := m.DecodeLnUrl(ctx, raw)
	if err != nil {
		return err
	}
	if resp.Tag != lnurl.TagWithdrawRequest {
		return mutinyerr.New(mutinyerr.IncorrectLnUrlFunction)
	}

	node, ok := m.findNode(nodePubkey)
	if !ok {
		return mutinyerr.New(mutinyerr.NotFound)
	}
	bolt11, err := node.CreateInvoice(ctx, lnnode.CreateInvoiceRequest{
		AmountMsat:  amountMsat,
		Description: resp.DefaultDescription,
	})
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.InvoiceCreationFailed, err)
	}

	if err := lnurl.Withdraw(ctx, http.DefaultClient, resp, bolt11); err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	return nil
}

// CreateLnurlAuthProfile implements original_source's
// create_lnurl_auth_profile: derives the next hardened auth key from
// the master seed and registers an empty used-services set.
func (m *Manager) CreateLnurlAuthProfile() (uint32, error) {
	m.lnurlAuthMu.Lock()
	defer m.lnurlAuthMu.Unlock()

	index := uint32(len(m.lnurlAuth))

	child, err := m.masterKey.DeriveNonStandard(lnurlAuthHardenedBase + index)
	if err != nil {
		return 0, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}
	privKey, err := child.ECPrivKey()
	if err != nil {
		return 0, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}

	m.lnurlAuth[strconv.FormatUint(uint64(index), 10)] = lnurlAuthProfile{
		index:   index,
		privKey: privKey,
		used:    make(map[string]bool),
	}
	return index, nil
}

// GetLnurlAuthProfiles returns the registered profile indices.
func (m *Manager) GetLnurlAuthProfiles() []uint32 {
	m.lnurlAuthMu.Lock()
	defer m.lnurlAuthMu.Unlock()

	out := make([]uint32, 0, len(m.lnurlAuth))
	for _, p := range m.lnurlAuth {
		out = append(out, p.index)
	}
	return out
}

// LnurlAuth implements §4.6's lnurl_auth: extracts k1, signs with the
// profile-indexed auth key over the URL+k1, POSTs the signature, and
// marks the service used on success. Signing failure or rejection is
// fatal to the call.
func (m *Manager) LnurlAuth(ctx context.Context, profileIndex uint32, authURL string) error {
	m.lnurlAuthMu.Lock()
	profile, ok := m.lnurlAuth[strconv.FormatUint(uint64(profileIndex), 10)]
	m.lnurlAuthMu.Unlock()
	if !ok {
		return mutinyerr.New(mutinyerr.NotFound)
	}

	if err := lnurl.Auth(ctx, http.DefaultClient, authURL, profile.privKey); err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}

	m.lnurlAuthMu.Lock()
	profile.used[authURL] = true
	m.lnurlAuth[strconv.FormatUint(uint64(profileIndex), 10)] = profile
	m.lnurlAuthMu.Unlock()
	return nil
}

// CheckAddress implements §4.6's check_address: queries the chain
// client for transactions paying scriptPubKey; if any are found,
// synthesizes a transaction record, imports it into the on-chain
// wallet in the background, and returns the first hit synchronously.
func (m *Manager) CheckAddress(ctx context.Context, addr btcutil.Address) (*walletkit.OnChainTransaction, error) {
	history, err := m.chain.ScriptHistory(ctx, addressScript(addr))
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}
	if len(history) == 0 {
		return nil, nil
	}

	first := history[0]
	tx := walletkit.OnChainTransaction{
		TxID:  first.TxID.String(),
		RawTx: first.Raw,
		ConfTime: walletkit.ConfirmationTime{
			Confirmed: first.Confirmed,
			Height:    uint32(first.Height),
			Time:      time.Now(),
		},
	}

	go func() {
		if err := m.wallet.ImportTransaction(tx); err != nil {
			log.Warnf("nodemanager: failed to import observed tx %s: %v", tx.TxID, err)
		}
	}()

	return &tx, nil
}

func addressScript(addr btcutil.Address) []byte {
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil
	}
	return script
}
