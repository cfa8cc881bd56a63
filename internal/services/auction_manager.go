package services

import (
	"context"
	"fmt"
	"time"

	"quicksell/internal/clock"
	"quicksell/internal/domain"
	"quicksell/pkg/logger"
	"quicksell/pkg/utils"
)

// AuctionManager owns the auction lifecycle outside of bidding: creation,
// cancellation, the anti-sniping extension, and combined state reads.
type AuctionManager struct {
	auctions        domain.AuctionRepository
	ledger          *Ledger
	stateCache      domain.StateCache
	dispatcher      domain.NotificationDispatcher
	clk             clock.Clock
	extensionWindow time.Duration
	log             logger.Logger
}

func NewAuctionManager(
	auctions domain.AuctionRepository,
	ledger *Ledger,
	stateCache domain.StateCache,
	dispatcher domain.NotificationDispatcher,
	clk clock.Clock,
	extensionWindow time.Duration,
	log logger.Logger,
) *AuctionManager {
	return &AuctionManager{
		auctions:        auctions,
		ledger:          ledger,
		stateCache:      stateCache,
		dispatcher:      dispatcher,
		clk:             clk,
		extensionWindow: extensionWindow,
		log:             log,
	}
}

type CreateAuctionParams struct {
	SellerID        string
	Title           string
	StartingPrice   int64
	IncrementAmount int64
	BuyNowPrice     int64
	StartDate       time.Time
	EndDate         time.Time
}

func (m *AuctionManager) CreateAuction(ctx context.Context, params CreateAuctionParams) (*domain.Auction, error) {
	if params.SellerID == "" {
		return nil, fmt.Errorf("%w: seller is required", domain.ErrInvalidAuction)
	}
	if params.StartingPrice < 0 || params.IncrementAmount < 0 || params.BuyNowPrice < 0 {
		return nil, fmt.Errorf("%w: amounts must be non-negative", domain.ErrInvalidAuction)
	}
	if params.BuyNowPrice > 0 && params.BuyNowPrice <= params.StartingPrice {
		return nil, fmt.Errorf("%w: buy-now price must exceed the starting price", domain.ErrInvalidAuction)
	}
	if !params.StartDate.Before(params.EndDate) {
		return nil, fmt.Errorf("%w: start date must precede end date", domain.ErrInvalidAuction)
	}

	now := m.clk.Now()
	if !params.EndDate.After(now) {
		return nil, fmt.Errorf("%w: end date must be in the future", domain.ErrInvalidAuction)
	}

	status := domain.AuctionScheduled
	if !params.StartDate.After(now) {
		status = domain.AuctionActive
	}

	auction := &domain.Auction{
		ID:              utils.GenerateID("auction"),
		SellerID:        params.SellerID,
		Title:           params.Title,
		StartingPrice:   params.StartingPrice,
		CurrentPrice:    params.StartingPrice,
		IncrementAmount: params.IncrementAmount,
		BuyNowPrice:     params.BuyNowPrice,
		Status:          status,
		StartDate:       params.StartDate,
		EndDate:         params.EndDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.auctions.CreateAuction(ctx, auction); err != nil {
		return nil, err
	}

	if err := m.stateCache.SetAuctionStatus(ctx, auction.ID, status); err != nil {
		m.log.Warn("Failed to cache auction status", "auction_id", auction.ID, "error", err)
	}
	m.ledger.Prime(ctx, auction)

	m.log.Info("Auction created", "auction_id", auction.ID, "status", status,
		"starting_price", auction.StartingPrice)
	return auction, nil
}

// CancelAuction moves a scheduled or active auction to cancelled. Terminal
// auctions stay untouched.
func (m *AuctionManager) CancelAuction(ctx context.Context, auctionID string) error {
	cancelled, err := m.auctions.MarkCancelled(ctx, auctionID)
	if err != nil {
		return err
	}
	if !cancelled {
		if _, err := m.auctions.GetAuction(ctx, auctionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: auction already finished", domain.ErrAuctionNotActive)
	}

	if err := m.stateCache.SetAuctionStatus(ctx, auctionID, domain.AuctionCancelled); err != nil {
		m.log.Warn("Failed to cache auction status", "auction_id", auctionID, "error", err)
	}

	event := &domain.AuctionEvent{
		Type:      domain.EventAuctionCancelled,
		AuctionID: auctionID,
		Timestamp: m.clk.Now(),
	}
	if err := m.dispatcher.Dispatch(ctx, event); err != nil {
		m.log.Error("Failed to dispatch cancellation", "auction_id", auctionID, "error", err)
	}

	m.log.Info("Auction cancelled", "auction_id", auctionID)
	return nil
}

// AuctionState combines the auction row with the ledger projection.
type AuctionState struct {
	Auction *domain.Auction     `json:"auction"`
	Ledger  *domain.LedgerState `json:"ledger"`
}

func (m *AuctionManager) GetAuctionState(ctx context.Context, auctionID string) (*AuctionState, error) {
	auction, err := m.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	state, err := m.ledger.CurrentState(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	return &AuctionState{Auction: auction, Ledger: state}, nil
}

// CheckAndExtendAuction pushes the end date out when it falls inside the
// extension window, so a last-second bid cannot close the auction before
// others can respond.
func (m *AuctionManager) CheckAndExtendAuction(ctx context.Context, auctionID string) error {
	if m.extensionWindow <= 0 {
		return nil
	}

	auction, err := m.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if auction.Status != domain.AuctionActive {
		return nil
	}

	now := m.clk.Now()
	timeUntilEnd := auction.EndDate.Sub(now)
	if timeUntilEnd <= 0 || timeUntilEnd > m.extensionWindow {
		return nil
	}

	newEnd := now.Add(m.extensionWindow)
	if err := m.auctions.ExtendEndDate(ctx, auctionID, newEnd); err != nil {
		return err
	}

	event := &domain.AuctionEvent{
		Type:      domain.EventAuctionExtended,
		AuctionID: auctionID,
		Timestamp: now,
	}
	if err := m.dispatcher.Dispatch(ctx, event); err != nil {
		m.log.Error("Failed to dispatch extension", "auction_id", auctionID, "error", err)
	}

	m.log.Info("Auction extended", "auction_id", auctionID, "new_end_date", newEnd)
	return nil
}
