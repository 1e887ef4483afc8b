package nodemanager

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/mplsgrant/mutiny-node/chainsync"
	"github.com/mplsgrant/mutiny-node/config"
	"github.com/mplsgrant/mutiny-node/storekv"
	"github.com/mplsgrant/mutiny-node/walletkit"
)

// TestListOnchainAnnotatesLabelsScenario reproduces spec scenario 3
// verbatim: a transaction paying an address labeled ["label1",
// "label2"] comes back from both list_onchain and get_transaction with
// those labels attached, even though the wallet's own record carries
// no labels of its own.
func TestListOnchainAnnotatesLabelsScenario(t *testing.T) {
	wallet := walletkit.NewFakeWallet()
	mgr, err := New(Options{
		Config:      config.Config{Network: "regtest"},
		Store:       storekv.NewMemStore(),
		Wallet:      wallet,
		Chain:       chainsync.NewFakeClient(),
		NodeFactory: (&fakeFactory{}).build,
	})
	require.NoError(t, err)

	labeled, err := wallet.NewAddress()
	require.NoError(t, err)
	require.NoError(t, wallet.LabelAddress(labeled, []string{"label1", "label2"}))

	unlabeled, err := wallet.NewAddress()
	require.NoError(t, err)

	wallet.AddTransaction(walletkit.OnChainTransaction{
		TxID:    "txlabeled",
		Outputs: []btcutil.Address{unlabeled, labeled},
	})
	wallet.AddTransaction(walletkit.OnChainTransaction{
		TxID:    "txunlabeled",
		Outputs: []btcutil.Address{unlabeled},
	})

	txs, err := mgr.ListOnchain()
	require.NoError(t, err)
	require.Len(t, txs, 2)

	var labeledTx, unlabeledTx *walletkit.OnChainTransaction
	for i := range txs {
		switch txs[i].TxID {
		case "txlabeled":
			labeledTx = &txs[i]
		case "txunlabeled":
			unlabeledTx = &txs[i]
		}
	}
	require.NotNil(t, labeledTx)
	require.NotNil(t, unlabeledTx)
	require.Equal(t, []string{"label1", "label2"}, labeledTx.Labels)
	require.Empty(t, unlabeledTx.Labels)

	got, ok, err := mgr.GetTransaction("txlabeled")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"label1", "label2"}, got.Labels)
}
