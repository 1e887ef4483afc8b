// Package walletkit declares the on-chain wallet contract the node
// manager core consumes as an external collaborator (SPEC_FULL.md §1,
// §6): address derivation, UTXO tracking, and transaction
// building/signing live outside this module. The shapes here are
// adapted from the teacher's lnwallet.WalletController/BlockChainIO
// interfaces, trimmed to the subset the aggregate view and peer/channel
// surface actually call.
package walletkit

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Balance mirrors the four-way split the teacher's lnwallet.Balance
// carries, generalized to the manager's confirmed/unconfirmed naming
// (SPEC_FULL.md §3's Balance snapshot: confirmed sums confirmed +
// trusted pending, unconfirmed sums untrusted pending + immature).
type Balance struct {
	Confirmed        btcutil.Amount
	UnconfirmedTrusted   btcutil.Amount
	UnconfirmedUntrusted btcutil.Amount
	Immature             btcutil.Amount
}

// ConfirmationTime is either Unconfirmed or Confirmed{Height, Time}, per
// SPEC_FULL.md §3's On-chain transaction record.
type ConfirmationTime struct {
	Confirmed bool
	Height    uint32
	Time      time.Time
}

// Unconfirmed sorts after any Confirmed value, matching §3/§8's ordering
// rule for list_onchain.
func (c ConfirmationTime) Less(other ConfirmationTime) bool {
	if c.Confirmed != other.Confirmed {
		// An unconfirmed entry (Confirmed == false) sorts after a
		// confirmed one regardless of height/time.
		return c.Confirmed
	}
	if !c.Confirmed {
		return false
	}
	return c.Time.Before(other.Time)
}

// OnChainTransaction is the wallet-level record of a confirmed or
// pending transaction, per SPEC_FULL.md §3.
type OnChainTransaction struct {
	TxID         string
	ReceivedSats btcutil.Amount
	SentSats     btcutil.Amount
	Fee          *btcutil.Amount
	ConfTime     ConfirmationTime
	RawTx        []byte
	Labels       []string

	// Outputs is the set of addresses this transaction pays, used to
	// resolve Labels by cross-referencing the wallet's address-label
	// map (§4.3's add_onchain_labels). A wallet implementation may
	// leave this nil when RawTx is present; the caller then decodes
	// output addresses from RawTx itself.
	Outputs []btcutil.Address
}

// Utxo is a single spendable wallet output, per original_source's
// list_utxos.
type Utxo struct {
	OutPoint   wire.OutPoint
	Value      btcutil.Amount
	Address    btcutil.Address
	Confirmed  bool
}

// Wallet is the on-chain wallet surface the manager depends on. A real
// implementation wraps a descriptor wallet (out of scope per §1); tests
// use the in-package FakeWallet.
type Wallet interface {
	// GetBalance returns the four-way balance split.
	GetBalance() (Balance, error)

	// NewAddress returns a fresh receive address, and is a write
	// operation guarded by the wallet's own write lock per §5.
	NewAddress() (btcutil.Address, error)

	// ListTransactions returns every on-chain transaction the wallet
	// knows about, including unconfirmed ones, with raw bytes attached
	// when available.
	ListTransactions() ([]OnChainTransaction, error)

	// GetTransaction looks up a single transaction by txid.
	GetTransaction(txid string) (*OnChainTransaction, bool, error)

	// ListUnspent returns the wallet's current UTXO set.
	ListUnspent() ([]Utxo, error)

	// ImportTransaction registers an externally observed transaction
	// (e.g. one found via check_address) so it surfaces in future
	// ListTransactions calls.
	ImportTransaction(tx OnChainTransaction) error

	// LabelAddress attaches labels to an address.
	LabelAddress(addr btcutil.Address, labels []string) error

	// Labels returns the labels previously attached to addr, or nil.
	// nodemanager.Manager calls this per output address of a
	// transaction to implement §4.3's add_onchain_labels annotation.
	Labels(addr btcutil.Address) []string

	// EstimateFee returns a sat/vbyte fee rate for the given
	// confirmation target, backing EstimateFeeNormal/EstimateFeeHigh.
	EstimateFee(confTarget uint32) (btcutil.Amount, error)
}
