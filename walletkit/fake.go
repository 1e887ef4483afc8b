package walletkit

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// FakeWallet is an in-memory Wallet used by nodemanager's tests, the
// way the teacher pairs lnwallet.WalletController with its own
// mock.WalletController in lnwallet/test_utils.go.
type FakeWallet struct {
	mu sync.Mutex

	balance Balance
	txs     []OnChainTransaction
	utxos   []Utxo
	labels  map[string][]string
	addrIdx int
	feeRate btcutil.Amount
}

// NewFakeWallet returns an empty fake wallet with a default fee rate of
// 5 sat/vbyte.
func NewFakeWallet() *FakeWallet {
	return &FakeWallet{labels: make(map[string][]string), feeRate: 5}
}

func (f *FakeWallet) SetBalance(b Balance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = b
}

func (f *FakeWallet) AddTransaction(tx OnChainTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
}

func (f *FakeWallet) AddUtxo(u Utxo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxos = append(f.utxos, u)
}

func (f *FakeWallet) GetBalance() (Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *FakeWallet) NewAddress() (btcutil.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addrIdx++
	return fakeAddress(fmt.Sprintf("fake-addr-%d", f.addrIdx)), nil
}

func (f *FakeWallet) ListTransactions() ([]OnChainTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OnChainTransaction, len(f.txs))
	copy(out, f.txs)
	return out, nil
}

func (f *FakeWallet) GetTransaction(txid string) (*OnChainTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.TxID == txid {
			cp := tx
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (f *FakeWallet) ListUnspent() ([]Utxo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Utxo, len(f.utxos))
	copy(out, f.utxos)
	return out, nil
}

func (f *FakeWallet) ImportTransaction(tx OnChainTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
	return nil
}

func (f *FakeWallet) LabelAddress(addr btcutil.Address, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[addr.EncodeAddress()] = append([]string(nil), labels...)
	return nil
}

func (f *FakeWallet) Labels(addr btcutil.Address) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels[addr.EncodeAddress()]
}

func (f *FakeWallet) EstimateFee(confTarget uint32) (btcutil.Amount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if confTarget <= 2 {
		return f.feeRate * 2, nil
	}
	return f.feeRate, nil
}

// fakeAddress is a minimal btcutil.Address for tests that never touch a
// real script, matching the teacher's use of throwaway address stand-ins
// in lnwallet tests.
type fakeAddress string

func (a fakeAddress) EncodeAddress() string               { return string(a) }
func (a fakeAddress) ScriptAddress() []byte                { return []byte(a) }
func (a fakeAddress) IsForNet(_ *chaincfg.Params) bool     { return true }
func (a fakeAddress) String() string                       { return string(a) }

var _ btcutil.Address = fakeAddress("")
