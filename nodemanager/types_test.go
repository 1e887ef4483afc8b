package nodemanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mplsgrant/mutiny-node/invoice"
	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/walletkit"
)

// TestActivitySortDescendingScenario reproduces spec scenario 6
// verbatim: an unconfirmed tx (no timestamp, pending) always sorts
// first; among timestamped items, the newest comes first.
func TestActivitySortDescendingScenario(t *testing.T) {
	tx1 := newOnChainActivity(walletkit.OnChainTransaction{
		TxID:     "tx1",
		ConfTime: walletkit.ConfirmationTime{Confirmed: false},
	})
	tx2 := newOnChainActivity(walletkit.OnChainTransaction{
		TxID:     "tx2",
		ConfTime: walletkit.ConfirmationTime{Confirmed: true, Time: time.Unix(1234, 0)},
	})
	invA := newLightningActivity(invoice.Invoice{
		Bolt11:      "invA",
		Paid:        true,
		LastUpdated: time.Unix(1681781585, 0),
	})
	invB := newLightningActivity(invoice.Invoice{
		Bolt11:      "invB",
		Paid:        true,
		LastUpdated: time.Unix(1781781585, 0),
	})
	closure := newClosureActivity(lnnode.ChannelClosure{
		Reason:    "cooperative",
		Timestamp: time.Unix(1686258926, 0),
	})

	items := []ActivityItem{tx2, invA, invB, closure, tx1}
	sortActivityDescending(items)

	require.Equal(t, tx1.OnChain.TxID, items[0].OnChain.TxID)
	require.Equal(t, invB.Invoice.Bolt11, items[1].Invoice.Bolt11)
	require.Equal(t, closure.Closure.Reason, items[2].Closure.Reason)
	require.Equal(t, invA.Invoice.Bolt11, items[3].Invoice.Bolt11)
	require.Equal(t, tx2.OnChain.TxID, items[4].OnChain.TxID)
}

func TestPeerLessOrdersConnectedFirstThenAlias(t *testing.T) {
	connected := Peer{IsConnected: true, Alias: "zeta"}
	disconnected := Peer{IsConnected: false, Alias: "alpha"}
	require.True(t, peerLess(connected, disconnected))
	require.False(t, peerLess(disconnected, connected))

	a := Peer{IsConnected: true, Alias: "alpha"}
	b := Peer{IsConnected: true, Alias: "beta"}
	require.True(t, peerLess(a, b))
}
