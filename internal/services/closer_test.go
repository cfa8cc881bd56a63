package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"quicksell/internal/domain"
	"quicksell/pkg/logger"

	"github.com/stretchr/testify/require"
)

func TestSweepSellsExpiredAuctionWithBids(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	_, err := h.ledger.Append(ctx, "auction-1", "buyer-1", 500, false)
	require.NoError(t, err)
	_, err = h.ledger.Append(ctx, "auction-1", "buyer-2", 600, false)
	require.NoError(t, err)

	h.clk.Advance(2 * time.Hour)
	h.closer.Sweep(ctx)

	stored := h.store.auction("auction-1")
	require.Equal(t, domain.AuctionSold, stored.Status)
	require.Equal(t, "buyer-2", stored.WinnerID)

	won := h.events.ofType(domain.EventAuctionWon)
	require.Len(t, won, 1)
	require.Equal(t, "buyer-2", won[0].UserID)
	require.Equal(t, int64(600), won[0].Amount)

	lost := h.events.ofType(domain.EventAuctionLost)
	require.Len(t, lost, 1)
	require.Equal(t, "buyer-1", lost[0].UserID)

	status, err := h.states.GetAuctionStatus(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionSold, status)

	// A second tick finds nothing active and re-emits nothing.
	emitted := h.events.count()
	h.closer.Sweep(ctx)
	require.Equal(t, emitted, h.events.count())
	require.Equal(t, domain.AuctionSold, h.store.auction("auction-1").Status)
}

func TestSweepEndsExpiredAuctionWithoutBids(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	h.clk.Advance(2 * time.Hour)
	h.closer.Sweep(ctx)

	stored := h.store.auction("auction-1")
	require.Equal(t, domain.AuctionEnded, stored.Status)
	require.Empty(t, stored.WinnerID)

	require.Len(t, h.events.ofType(domain.EventAuctionNoBids), 1)
	require.Empty(t, h.events.ofType(domain.EventAuctionWon))
}

func TestSweepLeavesRunningAuctionsAlone(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	h.closer.Sweep(ctx)

	require.Equal(t, domain.AuctionActive, h.store.auction("auction-1").Status)
	require.Zero(t, h.events.count())
}

func TestSweepActivatesDueScheduledAuctions(t *testing.T) {
	h := newHarness(t)
	auction := h.activeAuction("auction-1")
	auction.Status = domain.AuctionScheduled
	auction.StartDate = testBase.Add(time.Minute)
	h.store.putAuction(auction)
	ctx := context.Background()

	// Not due yet.
	h.closer.Sweep(ctx)
	require.Equal(t, domain.AuctionScheduled, h.store.auction("auction-1").Status)

	h.clk.Advance(5 * time.Minute)
	h.closer.Sweep(ctx)

	require.Equal(t, domain.AuctionActive, h.store.auction("auction-1").Status)
	status, err := h.states.GetAuctionStatus(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionActive, status)
}

func TestSweepContinuesPastFailingAuction(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	h.activeAuction("auction-2")
	ctx := context.Background()

	_, err := h.ledger.Append(ctx, "auction-2", "buyer-1", 110, false)
	require.NoError(t, err)

	h.store.failFinalize["auction-1"] = errors.New("lock wait timeout")
	h.clk.Advance(2 * time.Hour)
	h.closer.Sweep(ctx)

	// The failing auction stays active for the next tick; the healthy one
	// still closes.
	require.Equal(t, domain.AuctionActive, h.store.auction("auction-1").Status)
	require.Equal(t, domain.AuctionSold, h.store.auction("auction-2").Status)
	require.Equal(t, "buyer-1", h.store.auction("auction-2").WinnerID)

	// Once the fault clears, the next sweep picks it back up.
	delete(h.store.failFinalize, "auction-1")
	h.closer.Sweep(ctx)
	require.Equal(t, domain.AuctionEnded, h.store.auction("auction-1").Status)
}

func TestSweepSkipsWhenNotLeader(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	follower := NewCronClosingScheduler(h.store, h.ledger, h.states,
		&fakeElection{leader: false}, "test-2", time.Minute, h.clk, logger.Nop())

	h.clk.Advance(2 * time.Hour)
	follower.Sweep(ctx)

	require.Equal(t, domain.AuctionActive, h.store.auction("auction-1").Status)
	require.Zero(t, h.events.count())

	leader := NewCronClosingScheduler(h.store, h.ledger, h.states,
		&fakeElection{leader: true}, "test-1", time.Minute, h.clk, logger.Nop())
	leader.Sweep(ctx)
	require.Equal(t, domain.AuctionEnded, h.store.auction("auction-1").Status)
}
