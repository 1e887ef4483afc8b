package nodemanager

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/mplsgrant/mutiny-node/lnnode"
	"github.com/mplsgrant/mutiny-node/mutinyerr"
	"github.com/mplsgrant/mutiny-node/redshift"
)

// StartRedshift opens a fresh channel from sourceNodePubkey and
// registers a redshift workflow record that will redistribute its
// funds across peerPubkeys' channels in the background, per §4.5. The
// channel-open completion is known synchronously here (the Node
// interface's OpenChannel already confirms it), so the record moves
// straight to ChannelOpened; the steady-state poll loop picks it up
// within the next 10 seconds and drives it to completion.
func (m *Manager) StartRedshift(
	ctx context.Context,
	sourceNodePubkey *btcec.PublicKey,
	peerPubkeys []*btcec.PublicKey,
	openReq lnnode.OpenChannelRequest,
	maxAttempts int,
) (string, error) {
	if len(peerPubkeys) == 0 {
		return "", mutinyerr.New(mutinyerr.Other)
	}

	ch, err := m.OpenChannel(ctx, sourceNodePubkey, openReq)
	if err != nil {
		return "", err
	}

	rec := redshift.Record{
		ID:               uuid.New().String(),
		SourceNodePubkey: sourceNodePubkey,
		SourceOutpoint:   ch.FundingOutpoint,
		PeerPubkeys:      peerPubkeys,
		TargetAmountSat:  ch.CapacitySat,
		MaxAttempts:      maxAttempts,
	}
	if err := m.redshifts.Create(rec); err != nil {
		return "", err
	}
	if err := m.redshifts.MarkChannelOpened(rec.ID); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// startRedshiftRunner launches the redshift runner's recovery phase and
// steady-state poll loop. Call after Start.
func (m *Manager) startRedshiftRunner(ctx context.Context) error {
	return m.redshifts.Start(ctx)
}
