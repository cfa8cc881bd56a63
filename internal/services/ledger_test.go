package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"quicksell/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestLedgerAppendTracksSingleLeader(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	first, err := h.ledger.Append(ctx, "auction-1", "buyer-1", 110, false)
	require.NoError(t, err)
	require.Equal(t, "buyer-1", first.State.LeaderID)
	require.Equal(t, int64(110), first.State.CurrentPrice)
	require.Equal(t, 1, first.State.BidCount)
	require.Empty(t, first.PreviousLeaderID)

	second, err := h.ledger.Append(ctx, "auction-1", "buyer-2", 130, false)
	require.NoError(t, err)
	require.Equal(t, "buyer-2", second.State.LeaderID)
	require.Equal(t, int64(130), second.State.CurrentPrice)
	require.Equal(t, 2, second.State.BidCount)
	require.Equal(t, 2, second.State.UniqueBidders)
	require.Equal(t, "buyer-1", second.PreviousLeaderID)

	winning := h.store.winningBids("auction-1")
	require.Len(t, winning, 1)
	require.Equal(t, "buyer-2", winning[0].UserID)

	require.Len(t, h.events.ofType(domain.EventNewLeader), 2)
	outbid := h.events.ofType(domain.EventOutbid)
	require.Len(t, outbid, 1)
	require.Equal(t, "buyer-1", outbid[0].UserID)
	require.Equal(t, int64(130), outbid[0].Amount)
}

func TestLedgerAppendRejectsStaleAuction(t *testing.T) {
	h := newHarness(t)
	auction := h.activeAuction("auction-1")
	auction.Status = domain.AuctionEnded
	h.store.putAuction(auction)

	_, err := h.ledger.Append(context.Background(), "auction-1", "buyer-1", 110, false)
	require.ErrorIs(t, err, domain.ErrStaleAuction)
	require.Zero(t, h.events.count())
}

func TestLedgerAppendRejectsRacedPrice(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	_, err := h.ledger.Append(ctx, "auction-1", "buyer-1", 130, false)
	require.NoError(t, err)

	// Validated against price 100, but a racing bid moved the price to 130
	// before this append reached the lock.
	_, err = h.ledger.Append(ctx, "auction-1", "buyer-2", 120, false)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	state, err := h.ledger.CurrentState(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, int64(130), state.CurrentPrice)
	require.Equal(t, "buyer-1", state.LeaderID)
	require.Len(t, h.store.winningBids("auction-1"), 1)
}

func TestLedgerCacheIgnoresReorderedWrites(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	first, err := h.ledger.Append(ctx, "auction-1", "buyer-1", 110, false)
	require.NoError(t, err)
	_, err = h.ledger.Append(ctx, "auction-1", "buyer-2", 120, false)
	require.NoError(t, err)

	// Cache writes happen after the commit, outside the row lock, so the
	// first append's write can land after the second's. A delayed write must
	// not roll the projection back.
	require.NoError(t, h.cache.PutState(ctx, &first.State))

	state, err := h.ledger.CurrentState(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, int64(120), state.CurrentPrice)
	require.Equal(t, "buyer-2", state.LeaderID)
	require.Equal(t, 2, state.BidCount)
}

func TestLedgerCurrentStateFallsBackToStore(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	_, err := h.ledger.Append(ctx, "auction-1", "buyer-1", 110, false)
	require.NoError(t, err)

	require.NoError(t, h.cache.Evict(ctx, "auction-1"))

	state, err := h.ledger.CurrentState(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, int64(110), state.CurrentPrice)
	require.Equal(t, "buyer-1", state.LeaderID)

	// The read should have re-primed the cache.
	cached, err := h.cache.GetState(ctx, "auction-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Equal(t, int64(110), cached.CurrentPrice)
}

func TestLedgerHistoryPagesInOrder(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	amounts := []int64{110, 120, 130, 140, 150}
	for i, amount := range amounts {
		bidder := "buyer-1"
		if i%2 == 1 {
			bidder = "buyer-2"
		}
		_, err := h.ledger.Append(ctx, "auction-1", bidder, amount, false)
		require.NoError(t, err)
	}

	page, err := h.ledger.History(ctx, "auction-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(110), page[0].Amount)
	require.Equal(t, int64(120), page[1].Amount)

	page, err = h.ledger.History(ctx, "auction-1", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, int64(150), page[0].Amount)

	page, err = h.ledger.History(ctx, "auction-1", 2, 10)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestLedgerFinalizeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	ctx := context.Background()

	_, err := h.ledger.Append(ctx, "auction-1", "buyer-1", 500, false)
	require.NoError(t, err)
	_, err = h.ledger.Append(ctx, "auction-1", "buyer-2", 510, false)
	require.NoError(t, err)

	h.clk.Advance(2 * time.Hour)

	result, err := h.ledger.Finalize(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, domain.ClosedSold, result.Outcome)
	require.Equal(t, "buyer-2", result.WinnerID)
	require.Equal(t, int64(510), result.FinalPrice)

	won := h.events.ofType(domain.EventAuctionWon)
	require.Len(t, won, 1)
	require.Equal(t, "buyer-2", won[0].UserID)
	lost := h.events.ofType(domain.EventAuctionLost)
	require.Len(t, lost, 1)
	require.Equal(t, "buyer-1", lost[0].UserID)

	emitted := h.events.count()

	again, err := h.ledger.Finalize(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, domain.ClosedSkipped, again.Outcome)
	require.Equal(t, emitted, h.events.count())
}

func TestLedgerFinalizePropagatesStoreErrors(t *testing.T) {
	h := newHarness(t)
	h.activeAuction("auction-1")
	h.clk.Advance(2 * time.Hour)

	storeErr := errors.New("deadlock found")
	h.store.failFinalize["auction-1"] = storeErr

	_, err := h.ledger.Finalize(context.Background(), "auction-1")
	require.ErrorIs(t, err, storeErr)
	require.Zero(t, h.events.count())
}
