package services

import (
	"context"

	"quicksell/internal/clock"
	"quicksell/internal/domain"
	"quicksell/pkg/logger"
	"quicksell/pkg/utils"
)

const defaultHistoryPage = 100

// Ledger is the authoritative record of bids per auction. All mutation goes
// through Append and Finalize; both delegate to the transactional store and
// publish events only after the write is durably committed. Projection-cache
// and dispatch failures are logged, never allowed to fail a committed bid.
type Ledger struct {
	store      domain.LedgerStore
	cache      domain.LedgerCache
	stateCache domain.StateCache
	dispatcher domain.NotificationDispatcher
	clk        clock.Clock
	log        logger.Logger
}

func NewLedger(
	store domain.LedgerStore,
	cache domain.LedgerCache,
	stateCache domain.StateCache,
	dispatcher domain.NotificationDispatcher,
	clk clock.Clock,
	log logger.Logger,
) *Ledger {
	return &Ledger{
		store:      store,
		cache:      cache,
		stateCache: stateCache,
		dispatcher: dispatcher,
		clk:        clk,
		log:        log,
	}
}

// Append records an accepted bid. The store re-validates status and minimum
// price under the auction's row lock, so a bid that lost a race surfaces as
// ErrBidTooLow or ErrStaleAuction here rather than committing at a stale
// price. When buyNow is set the auction is sold to the bidder in the same
// transaction.
func (l *Ledger) Append(ctx context.Context, auctionID, userID string, amount int64, buyNow bool) (*domain.AppendResult, error) {
	bid := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		Status:    domain.BidWinning,
		CreatedAt: l.clk.Now(),
	}

	result, err := l.store.AppendBid(ctx, bid, buyNow)
	if err != nil {
		return nil, err
	}

	if err := l.cache.PutState(ctx, &result.State); err != nil {
		l.log.Warn("Failed to refresh ledger cache", "auction_id", auctionID, "error", err)
	}
	if result.Sold {
		if err := l.stateCache.SetAuctionStatus(ctx, auctionID, domain.AuctionSold); err != nil {
			l.log.Warn("Failed to refresh status cache", "auction_id", auctionID, "error", err)
		}
	}

	l.dispatch(ctx, &domain.AuctionEvent{
		Type:      domain.EventNewLeader,
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		Timestamp: bid.CreatedAt,
	})

	if result.PreviousLeaderID != "" && result.PreviousLeaderID != userID {
		l.dispatch(ctx, &domain.AuctionEvent{
			Type:      domain.EventOutbid,
			AuctionID: auctionID,
			UserID:    result.PreviousLeaderID,
			Amount:    amount,
			Timestamp: bid.CreatedAt,
		})
	}

	if result.Sold {
		l.dispatch(ctx, &domain.AuctionEvent{
			Type:      domain.EventAuctionWon,
			AuctionID: auctionID,
			UserID:    userID,
			Amount:    amount,
			Timestamp: bid.CreatedAt,
		})
	}

	return result, nil
}

// CurrentState serves the derived projection, cache first with authoritative
// fallback. The projection always reflects the latest committed bid because
// Append refreshes the cache after every commit.
func (l *Ledger) CurrentState(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	state, err := l.cache.GetState(ctx, auctionID)
	if err != nil {
		l.log.Warn("Ledger cache read failed", "auction_id", auctionID, "error", err)
	}
	if state != nil {
		return state, nil
	}

	state, err = l.store.CurrentState(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if err := l.cache.PutState(ctx, state); err != nil {
		l.log.Warn("Failed to refresh ledger cache", "auction_id", auctionID, "error", err)
	}
	return state, nil
}

// History pages the bid record, oldest first. Restartable: callers re-issue
// from any offset.
func (l *Ledger) History(ctx context.Context, auctionID string, limit, offset int) ([]*domain.Bid, error) {
	if limit <= 0 {
		limit = defaultHistoryPage
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.BidHistory(ctx, auctionID, limit, offset)
}

// Finalize moves an expired auction to its terminal state and notifies the
// winner and every losing bidder. Calling it again for the same auction is a
// no-op and re-emits nothing.
func (l *Ledger) Finalize(ctx context.Context, auctionID string) (*domain.ClosingResult, error) {
	result, err := l.store.FinalizeAuction(ctx, auctionID, l.clk.Now())
	if err != nil {
		return nil, err
	}

	if result.Outcome == domain.ClosedSkipped {
		return result, nil
	}

	status := domain.AuctionSold
	if result.Outcome == domain.ClosedNoBids {
		status = domain.AuctionEnded
	}
	if err := l.stateCache.SetAuctionStatus(ctx, auctionID, status); err != nil {
		l.log.Warn("Failed to refresh status cache", "auction_id", auctionID, "error", err)
	}

	now := l.clk.Now()
	switch result.Outcome {
	case domain.ClosedSold:
		l.dispatch(ctx, &domain.AuctionEvent{
			Type:      domain.EventAuctionWon,
			AuctionID: auctionID,
			UserID:    result.WinnerID,
			Amount:    result.FinalPrice,
			Timestamp: now,
		})
		for _, bidder := range result.Bidders {
			if bidder == result.WinnerID {
				continue
			}
			l.dispatch(ctx, &domain.AuctionEvent{
				Type:      domain.EventAuctionLost,
				AuctionID: auctionID,
				UserID:    bidder,
				Amount:    result.FinalPrice,
				Timestamp: now,
			})
		}
	case domain.ClosedNoBids:
		l.dispatch(ctx, &domain.AuctionEvent{
			Type:      domain.EventAuctionNoBids,
			AuctionID: auctionID,
			Timestamp: now,
		})
	}

	return result, nil
}

// Prime seeds the projection for a freshly created auction.
func (l *Ledger) Prime(ctx context.Context, auction *domain.Auction) {
	state := &domain.LedgerState{
		AuctionID:    auction.ID,
		CurrentPrice: auction.StartingPrice,
	}
	if err := l.cache.PutState(ctx, state); err != nil {
		l.log.Warn("Failed to prime ledger cache", "auction_id", auction.ID, "error", err)
	}
}

// Dispatch is fire-and-forget: the event is already backed by a committed
// write, and the dispatcher owns redelivery.
func (l *Ledger) dispatch(ctx context.Context, event *domain.AuctionEvent) {
	if err := l.dispatcher.Dispatch(ctx, event); err != nil {
		l.log.Error("Failed to dispatch event", "type", event.Type,
			"auction_id", event.AuctionID, "error", err)
	}
}
