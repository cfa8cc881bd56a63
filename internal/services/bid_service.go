package services

import (
	"context"
	"errors"
	"fmt"

	"quicksell/internal/clock"
	"quicksell/internal/domain"
	"quicksell/pkg/logger"
)

// BidService gatekeeps every bid attempt. Validation short-circuits on the
// first failing rule; acceptance delegates to the ledger, whose store
// serializes racing bids per auction.
type BidService struct {
	auctions   domain.AuctionRepository
	ledger     *Ledger
	wallets    domain.BalanceSource
	increments domain.IncrementSource
	manager    *AuctionManager
	clk        clock.Clock
	retries    int
	log        logger.Logger
}

func NewBidService(
	auctions domain.AuctionRepository,
	ledger *Ledger,
	wallets domain.BalanceSource,
	increments domain.IncrementSource,
	manager *AuctionManager,
	clk clock.Clock,
	conflictRetries int,
	log logger.Logger,
) *BidService {
	if conflictRetries < 0 {
		conflictRetries = 0
	}
	return &BidService{
		auctions:   auctions,
		ledger:     ledger,
		wallets:    wallets,
		increments: increments,
		manager:    manager,
		clk:        clk,
		retries:    conflictRetries,
		log:        log,
	}
}

// BidReceipt reports an accepted bid.
type BidReceipt struct {
	AuctionID     string `json:"auction_id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	CurrentPrice  int64  `json:"current_price"`
	BidCount      int    `json:"bid_count"`
	UniqueBidders int    `json:"unique_bidders"`
	Sold          bool   `json:"sold"`
}

func (s *BidService) PlaceBid(ctx context.Context, auctionID, userID string, amount int64) (*BidReceipt, error) {
	s.log.Info("Placing bid", "auction_id", auctionID, "user_id", userID, "amount", amount)

	auction, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	if !auction.AcceptsBidsAt(now) {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrAuctionNotActive, auction.Status)
	}

	if userID == auction.SellerID {
		return nil, domain.ErrSelfBidForbidden
	}

	increment := auction.IncrementAmount
	if increment == 0 {
		increment = s.increments.IncrementFor(auction.CurrentPrice)
	}
	minimum := auction.CurrentPrice + increment
	if amount < minimum {
		return nil, fmt.Errorf("%w: minimum acceptable bid is %d", domain.ErrBidTooLow, minimum)
	}

	balance, err := s.wallets.AvailableBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			return nil, fmt.Errorf("%w: no wallet for user %s", domain.ErrInsufficientFunds, userID)
		}
		return nil, err
	}
	if balance < amount {
		return nil, fmt.Errorf("%w: balance %d, bid %d", domain.ErrInsufficientFunds, balance, amount)
	}

	// Buy-now short circuit: the append transaction sells the auction to this
	// bidder, bypassing the closing sweep.
	buyNow := auction.HasBuyNow() && amount >= auction.BuyNowPrice

	var result *domain.AppendResult
	for attempt := 0; attempt <= s.retries; attempt++ {
		result, err = s.ledger.Append(ctx, auctionID, userID, amount, buyNow)
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			break
		}
		s.log.Warn("Bid append conflict, retrying", "auction_id", auctionID,
			"user_id", userID, "attempt", attempt+1)
	}
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", domain.ErrBusy, err)
		}
		return nil, err
	}

	if !result.Sold && s.manager != nil {
		// Last-second bids push the end date out (anti-sniping).
		go func() {
			if err := s.manager.CheckAndExtendAuction(context.Background(), auctionID); err != nil {
				s.log.Warn("Auction extension check failed", "auction_id", auctionID, "error", err)
			}
		}()
	}

	return &BidReceipt{
		AuctionID:     auctionID,
		UserID:        userID,
		Amount:        amount,
		CurrentPrice:  result.State.CurrentPrice,
		BidCount:      result.State.BidCount,
		UniqueBidders: result.State.UniqueBidders,
		Sold:          result.Sold,
	}, nil
}
