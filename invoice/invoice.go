package invoice

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Direction records which side of a payment the wallet was on.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Invoice is the wallet-level record kept for a Lightning payment,
// whether or not it has settled, per SPEC_FULL.md §3's "Invoice record".
// It wraps a decoded Bolt11 with the bookkeeping fields the wallet itself
// tracks (settlement, fees, labels) that have no BOLT-11 wire
// representation.
type Invoice struct {
	Bolt11 string

	PaymentHash [32]byte
	Description string
	Preimage    *[32]byte // set iff Paid
	Payee       *btcec.PublicKey
	AmountSats  uint64
	ExpiresAt   time.Time
	Paid        bool
	FeesPaidSat uint64
	Direction   Direction
	Labels      []string
	LastUpdated time.Time
}

// FromBolt11 builds the wallet-level record for a freshly decoded or
// created invoice, prior to any payment/settlement update.
func FromBolt11(raw string, dir Direction, labels []string, now time.Time) (*Invoice, error) {
	b, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	desc := ""
	if b.Description != nil {
		desc = *b.Description
	}

	var amt uint64
	if b.MilliSat != nil {
		amt = uint64(b.MilliSat.ToSatoshis())
	}

	return &Invoice{
		Bolt11:      raw,
		PaymentHash: *b.PaymentHash,
		Description: desc,
		Payee:       b.Destination,
		AmountSats:  amt,
		ExpiresAt:   b.Timestamp.Add(b.Expiry()),
		Direction:   dir,
		Labels:      append([]string(nil), labels...),
		LastUpdated: now,
	}, nil
}

// FromKeysend builds the wallet-level record for a keysend payment
// (§8 scenario 5): unlike FromBolt11, there is no invoice to decode, so
// Bolt11 is left empty ("None" in original_source's PaymentInfo) and
// the settlement fields are populated directly since a keysend send
// either fails outright or completes with a known preimage and fee.
func FromKeysend(paymentHash [32]byte, preimage [32]byte, payee *btcec.PublicKey, amountSats, feesPaidSat uint64, labels []string, now time.Time) *Invoice {
	return &Invoice{
		PaymentHash: paymentHash,
		Preimage:    &preimage,
		Payee:       payee,
		AmountSats:  amountSats,
		Paid:        true,
		FeesPaidSat: feesPaidSat,
		Direction:   Outbound,
		Labels:      append([]string(nil), labels...),
		LastUpdated: now,
	}
}

// MarkSettled records a successful settlement; idempotent in the sense
// that calling it twice with the same preimage leaves the record
// unchanged besides LastUpdated.
func (inv *Invoice) MarkSettled(preimage [32]byte, feesPaidSat uint64, now time.Time) {
	inv.Preimage = &preimage
	inv.Paid = true
	inv.FeesPaidSat = feesPaidSat
	inv.LastUpdated = now
}

// Expired reports whether the invoice's validity window has passed as of
// now, mirroring the original's pending-invoice cleanup sweep.
func (inv *Invoice) Expired(now time.Time) bool {
	return !inv.Paid && now.After(inv.ExpiresAt)
}
