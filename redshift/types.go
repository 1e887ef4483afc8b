// Package redshift implements the wallet's privacy-oriented fund
// reshuffling workflow (SPEC_FULL.md §4.5, §5): moving funds out of one
// channel and back into a sibling node's channels in discrete,
// persisted phases so a crash mid-flow is always resumable. Grounded on
// original_source's start_redshifts/redshift state machine and the
// teacher's breacharbiter.go, which solves the same "resume one
// goroutine per in-flight record from storage at startup" problem for
// channel breach retribution.
package redshift

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Status is one state in the redshift workflow, per §4.5's state
// machine.
type Status string

const (
	StatusChannelPending     Status = "channel_pending"
	StatusChannelOpened      Status = "channel_opened"
	StatusAttemptingPayments Status = "attempting_payments"
	StatusClosingChannels    Status = "closing_channels"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// forward enumerates the single permitted next status for each
// non-terminal status. Failed is reachable from any of them but is
// handled separately in CanAdvanceTo, not listed here.
var forward = map[Status]Status{
	StatusChannelPending:     StatusChannelOpened,
	StatusChannelOpened:      StatusAttemptingPayments,
	StatusAttemptingPayments: StatusClosingChannels,
	StatusClosingChannels:    StatusCompleted,
}

// Terminal reports whether s is a status the workflow never leaves.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next is permitted:
// either the one forward step defined for s, or Failed from any
// non-terminal status. Persistence is the write barrier for every
// transition — callers must persist before acting on the new status.
func (s Status) CanAdvanceTo(next Status) bool {
	if next == StatusFailed {
		return !s.Terminal()
	}
	return forward[s] == next
}

// Record is one redshift workflow instance. SourceOutpoint is the
// channel being drained; PeerPubkeys are the sibling nodes whose
// channels receive the redistributed funds via keysend, per §4.6's
// phantom-route vocabulary of "sibling" nodes under one seed.
type Record struct {
	ID               string
	Status           Status
	SourceNodePubkey *btcec.PublicKey
	SourceOutpoint   wire.OutPoint
	PeerPubkeys      []*btcec.PublicKey
	TargetAmountSat  btcutil.Amount
	MovedAmountSat   btcutil.Amount
	Attempts         int
	MaxAttempts      int
	LastError        string
}

// Remaining is the amount still to be moved before AttemptPayments is
// satisfied.
func (r *Record) Remaining() btcutil.Amount {
	remaining := r.TargetAmountSat - r.MovedAmountSat
	if remaining < 0 {
		return 0
	}
	return remaining
}

// recordJSON is the on-disk shape: pubkeys and the outpoint are
// serialized as hex, the same way the wallet's other persisted types
// avoid embedding btcec/wire's own (non-JSON-friendly) marshaling.
type recordJSON struct {
	ID                  string   `json:"id"`
	Status              Status   `json:"status"`
	SourceNodePubkey    string   `json:"source_node_pubkey"`
	SourceOutpointHash  string   `json:"source_outpoint_hash"`
	SourceOutpointIndex uint32   `json:"source_outpoint_index"`
	PeerPubkeys         []string `json:"peer_pubkeys"`
	TargetAmountSat     int64    `json:"target_amount_sat"`
	MovedAmountSat      int64    `json:"moved_amount_sat"`
	Attempts            int      `json:"attempts"`
	MaxAttempts         int      `json:"max_attempts"`
	LastError           string   `json:"last_error,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	peers := make([]string, len(r.PeerPubkeys))
	for i, p := range r.PeerPubkeys {
		peers[i] = hex.EncodeToString(p.SerializeCompressed())
	}
	out := recordJSON{
		ID:                  r.ID,
		Status:              r.Status,
		SourceNodePubkey:    hex.EncodeToString(r.SourceNodePubkey.SerializeCompressed()),
		SourceOutpointHash:  r.SourceOutpoint.Hash.String(),
		SourceOutpointIndex: r.SourceOutpoint.Index,
		PeerPubkeys:         peers,
		TargetAmountSat:     int64(r.TargetAmountSat),
		MovedAmountSat:      int64(r.MovedAmountSat),
		Attempts:            r.Attempts,
		MaxAttempts:         r.MaxAttempts,
		LastError:           r.LastError,
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	source, err := parsePubkey(in.SourceNodePubkey)
	if err != nil {
		return fmt.Errorf("redshift: source_node_pubkey: %w", err)
	}
	peers := make([]*btcec.PublicKey, len(in.PeerPubkeys))
	for i, raw := range in.PeerPubkeys {
		p, err := parsePubkey(raw)
		if err != nil {
			return fmt.Errorf("redshift: peer_pubkeys[%d]: %w", i, err)
		}
		peers[i] = p
	}
	hash, err := chainhash.NewHashFromStr(in.SourceOutpointHash)
	if err != nil {
		return fmt.Errorf("redshift: source_outpoint_hash: %w", err)
	}

	r.ID = in.ID
	r.Status = in.Status
	r.SourceNodePubkey = source
	r.SourceOutpoint = wire.OutPoint{Hash: *hash, Index: in.SourceOutpointIndex}
	r.PeerPubkeys = peers
	r.TargetAmountSat = btcutil.Amount(in.TargetAmountSat)
	r.MovedAmountSat = btcutil.Amount(in.MovedAmountSat)
	r.Attempts = in.Attempts
	r.MaxAttempts = in.MaxAttempts
	r.LastError = in.LastError
	return nil
}

func parsePubkey(raw string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(b)
}

// recordsFile is the JSON shape stored under storekv.KeyRedshifts,
// keyed by Record.ID.
type recordsFile struct {
	Records map[string]Record `json:"records"`
}
