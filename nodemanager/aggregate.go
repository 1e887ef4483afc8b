package nodemanager

import (
	"bytes"
	"context"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/queue"
	"golang.org/x/sync/errgroup"

	"github.com/mplsgrant/mutiny-node/invoice"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/mutinyerr"
	"github.com/mplsgrant/mutiny-node/walletkit"
)

type nodeSums struct {
	lightning  btcutil.Amount
	forceClose btcutil.Amount
	err        error
}

// GetBalance implements §4.3's get_balance: reads the on-chain wallet
// balance and sums Lightning/force-close across every running node.
// Force-closing channels contribute only to ForceCloseSat, never to
// LightningSat. Each node's sums are computed in its own goroutine and
// fanned in through an lnd/queue.ConcurrentQueue, whose overflow is
// unbounded, so no goroutine blocks waiting to write its result.
func (m *Manager) GetBalance() (Balance, error) {
	onchain, err := m.wallet.GetBalance()
	if err != nil {
		return Balance{}, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}

	nodes := m.runningNodesSnapshot()

	q := queue.NewConcurrentQueue(8)
	q.Start()
	defer q.Stop()

	for _, n := range nodes {
		n := n
		go func() {
			q.ChanIn() <- computeNodeSums(n)
		}()
	}

	var lightning, forceClose btcutil.Amount
	var firstErr error
	for i := 0; i < len(nodes); i++ {
		sums := (<-q.ChanOut()).(nodeSums)
		if sums.err != nil {
			if firstErr == nil {
				firstErr = sums.err
			}
			continue
		}
		lightning += sums.lightning
		forceClose += sums.forceClose
	}
	if firstErr != nil {
		return Balance{}, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, firstErr)
	}

	return Balance{
		ConfirmedSat:   onchain.Confirmed + onchain.UnconfirmedTrusted,
		UnconfirmedSat: onchain.UnconfirmedUntrusted + onchain.Immature,
		LightningSat:   lightning,
		ForceCloseSat:  forceClose,
	}, nil
}

func computeNodeSums(n lnnode.Node) nodeSums {
	channels, err := n.ListChannels()
	if err != nil {
		return nodeSums{err: err}
	}
	claims, err := n.ClaimableBalances()
	if err != nil {
		return nodeSums{err: err}
	}

	var sums nodeSums
	for _, ch := range channels {
		if ch.IsForceClosing {
			continue
		}
		sums.lightning += btcutil.Amount(ch.LocalBalanceMsat / 1000)
	}
	for _, c := range claims {
		sums.forceClose += c.AmountSat
	}
	return sums
}

// ListOnchain implements §4.3's list_onchain: every on-chain
// transaction including raw body, sorted ascending by (confirmation
// time, txid) with unconfirmed sorting last, annotated with labels from
// the address-label map.
func (m *Manager) ListOnchain() ([]walletkit.OnChainTransaction, error) {
	txs, err := m.wallet.ListTransactions()
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].ConfTime.Less(txs[j].ConfTime) {
			return true
		}
		if txs[j].ConfTime.Less(txs[i].ConfTime) {
			return false
		}
		return txs[i].TxID < txs[j].TxID
	})

	for i := range txs {
		m.annotateLabels(&txs[i])
	}

	return txs, nil
}

// GetTransaction implements original_source's get_transaction.
func (m *Manager) GetTransaction(txid string) (*walletkit.OnChainTransaction, bool, error) {
	tx, ok, err := m.wallet.GetTransaction(txid)
	if err != nil {
		return nil, false, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}
	if ok {
		m.annotateLabels(tx)
	}
	return tx, ok, nil
}

// annotateLabels implements original_source's add_onchain_labels:
// finds the first output address present in the persisted
// address-label map and attaches its labels to tx, overwriting
// whatever Labels the wallet record already carried. Output addresses
// come from tx.Outputs when the wallet populated it, falling back to
// decoding tx.RawTx against the configured network.
func (m *Manager) annotateLabels(tx *walletkit.OnChainTransaction) {
	addrs := tx.Outputs
	if len(addrs) == 0 {
		addrs = decodeOutputAddresses(tx.RawTx, m.network)
	}

	for _, addr := range addrs {
		if labels := m.wallet.Labels(addr); len(labels) > 0 {
			tx.Labels = labels
			return
		}
	}
}

// decodeOutputAddresses extracts the destination address of each
// output of a raw transaction, skipping outputs whose script doesn't
// decode to a single address (e.g. OP_RETURN, bare multisig).
func decodeOutputAddresses(rawTx []byte, net *chaincfg.Params) []btcutil.Address {
	if len(rawTx) == 0 {
		return nil
	}

	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil
	}

	var addrs []btcutil.Address
	for _, out := range msgTx.TxOut {
		_, scriptAddrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, net)
		if err != nil || len(scriptAddrs) == 0 {
			continue
		}
		addrs = append(addrs, scriptAddrs[0])
	}
	return addrs
}

// ListUtxos implements original_source's list_utxos.
func (m *Manager) ListUtxos() ([]walletkit.Utxo, error) {
	utxos, err := m.wallet.ListUnspent()
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.WalletOperationFailed, err)
	}
	return utxos, nil
}

// ListChannels fans out across every running node.
func (m *Manager) ListChannels(ctx context.Context) ([]lnnode.Channel, error) {
	nodes := m.runningNodesSnapshot()

	results := make([][]lnnode.Channel, len(nodes))
	g, _ := errgroup.WithContext(ctx)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			chans, err := n.ListChannels()
			if err != nil {
				return err
			}
			results[i] = chans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}

	var out []lnnode.Channel
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// ListChannelClosures fans out across every running node.
func (m *Manager) ListChannelClosures(ctx context.Context) ([]lnnode.ChannelClosure, error) {
	nodes := m.runningNodesSnapshot()

	results := make([][]lnnode.ChannelClosure, len(nodes))
	g, _ := errgroup.WithContext(ctx)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			closures, err := n.ListChannelClosures()
			if err != nil {
				return err
			}
			results[i] = closures
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}

	var out []lnnode.ChannelClosure
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// listInvoices fans paid-or-not invoices out across every running node;
// each node's Lightning engine is the out-of-scope authority on its own
// invoice set (§1).
func (m *Manager) listInvoices(ctx context.Context) ([]invoice.Invoice, error) {
	nodes := m.runningNodesSnapshot()

	results := make([][]invoice.Invoice, len(nodes))
	g, _ := errgroup.WithContext(ctx)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			invs, err := n.ListInvoices()
			if err != nil {
				return err
			}
			results[i] = invs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ChainAccessFailed, err)
	}

	var out []invoice.Invoice
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// GetActivity implements §4.3's get_activity: concurrently fetches
// invoices, channel closures, and on-chain transactions, filters
// invoices to paid==true, merges, and sorts descending by the
// ActivityItem ordering (§3) so pending/newest items come first.
func (m *Manager) GetActivity(ctx context.Context) ([]ActivityItem, error) {
	var (
		onchain  []walletkit.OnChainTransaction
		invoices []invoice.Invoice
		closures []lnnode.ChannelClosure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		onchain, err = m.ListOnchain()
		return err
	})
	g.Go(func() error {
		var err error
		invoices, err = m.listInvoices(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		closures, err = m.ListChannelClosures(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]ActivityItem, 0, len(onchain)+len(invoices)+len(closures))
	for _, tx := range onchain {
		items = append(items, newOnChainActivity(tx))
	}
	for _, inv := range invoices {
		if !inv.Paid {
			continue
		}
		items = append(items, newLightningActivity(inv))
	}
	for _, c := range closures {
		items = append(items, newClosureActivity(c))
	}

	sortActivityDescending(items)
	return items, nil
}
