package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"quicksell/internal/domain"
	"quicksell/pkg/logger"
)

// In-memory fakes mirroring the MySQL store contract, so service tests can
// exercise race and failure paths deterministically.

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(t time.Time) *stepClock {
	return &stepClock{now: t.UTC()}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore implements domain.AuctionRepository and domain.LedgerStore with
// the same per-auction serialization guarantees as the MySQL store.
type memStore struct {
	mu       sync.Mutex
	auctions map[string]*domain.Auction
	bids     map[string][]*domain.Bid

	// conflicts injects that many retriable ErrConflict failures into
	// AppendBid before letting it through.
	conflicts int
	// failFinalize makes FinalizeAuction fail for specific auctions.
	failFinalize map[string]error

	fallbackIncrement int64
}

func newMemStore() *memStore {
	return &memStore{
		auctions:          make(map[string]*domain.Auction),
		bids:              make(map[string][]*domain.Bid),
		failFinalize:      make(map[string]error),
		fallbackIncrement: 500,
	}
}

func (s *memStore) putAuction(auction *domain.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *auction
	s.auctions[auction.ID] = &copied
}

func (s *memStore) auction(id string) *domain.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.auctions[id]; ok {
		copied := *a
		return &copied
	}
	return nil
}

func (s *memStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	s.putAuction(auction)
	return nil
}

func (s *memStore) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	if a := s.auction(auctionID); a != nil {
		return a, nil
	}
	return nil, domain.ErrAuctionNotFound
}

func (s *memStore) GetExpiredAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*domain.Auction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionActive && !a.EndDate.After(now) {
			copied := *a
			expired = append(expired, &copied)
		}
	}
	return expired, nil
}

func (s *memStore) GetDueScheduledAuctions(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Auction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionScheduled && !a.StartDate.After(now) {
			copied := *a
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (s *memStore) MarkActive(ctx context.Context, auctionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok || a.Status != domain.AuctionScheduled {
		return false, nil
	}
	a.Status = domain.AuctionActive
	return true, nil
}

func (s *memStore) MarkCancelled(ctx context.Context, auctionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok || a.Status.Terminal() {
		return false, nil
	}
	a.Status = domain.AuctionCancelled
	return true, nil
}

func (s *memStore) ExtendEndDate(ctx context.Context, auctionID string, newEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.auctions[auctionID]; ok && a.Status == domain.AuctionActive {
		a.EndDate = newEnd
	}
	return nil
}

func (s *memStore) AppendBid(ctx context.Context, bid *domain.Bid, buyNow bool) (*domain.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflicts > 0 {
		s.conflicts--
		return nil, domain.ErrConflict
	}

	a, ok := s.auctions[bid.AuctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	if a.Status != domain.AuctionActive {
		return nil, domain.ErrStaleAuction
	}

	increment := a.IncrementAmount
	if increment == 0 {
		increment = s.fallbackIncrement
	}
	minimum := a.CurrentPrice + increment
	if bid.Amount < minimum {
		return nil, fmt.Errorf("%w: minimum acceptable bid is %d", domain.ErrBidTooLow, minimum)
	}

	var previousLeader string
	for _, existing := range s.bids[bid.AuctionID] {
		if existing.Status == domain.BidWinning {
			previousLeader = existing.UserID
			existing.Status = domain.BidOutbid
		}
	}

	copied := *bid
	copied.Status = domain.BidWinning
	s.bids[bid.AuctionID] = append(s.bids[bid.AuctionID], &copied)

	seen := make(map[string]bool)
	for _, existing := range s.bids[bid.AuctionID] {
		seen[existing.UserID] = true
	}

	a.CurrentPrice = bid.Amount
	a.TotalBids++
	a.UniqueBidders = len(seen)

	sold := buyNow && a.BuyNowPrice > 0 && bid.Amount >= a.BuyNowPrice
	if sold {
		a.Status = domain.AuctionSold
		a.WinnerID = bid.UserID
	}

	return &domain.AppendResult{
		State: domain.LedgerState{
			AuctionID:     bid.AuctionID,
			CurrentPrice:  a.CurrentPrice,
			LeaderID:      bid.UserID,
			BidCount:      a.TotalBids,
			UniqueBidders: a.UniqueBidders,
		},
		PreviousLeaderID: previousLeader,
		Sold:             sold,
	}, nil
}

func (s *memStore) FinalizeAuction(ctx context.Context, auctionID string, now time.Time) (*domain.ClosingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failFinalize[auctionID]; ok {
		return nil, err
	}

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	if a.Status != domain.AuctionActive || a.EndDate.After(now) {
		return &domain.ClosingResult{AuctionID: auctionID, Outcome: domain.ClosedSkipped}, nil
	}

	result := &domain.ClosingResult{AuctionID: auctionID}
	seen := make(map[string]bool)
	for _, bid := range s.bids[auctionID] {
		if !seen[bid.UserID] {
			seen[bid.UserID] = true
			result.Bidders = append(result.Bidders, bid.UserID)
		}
		if bid.Status == domain.BidWinning {
			result.WinnerID = bid.UserID
			result.FinalPrice = bid.Amount
		}
	}

	if result.WinnerID != "" {
		result.Outcome = domain.ClosedSold
		a.Status = domain.AuctionSold
		a.WinnerID = result.WinnerID
	} else {
		result.Outcome = domain.ClosedNoBids
		a.Status = domain.AuctionEnded
	}

	return result, nil
}

func (s *memStore) CurrentState(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}

	state := &domain.LedgerState{
		AuctionID:     auctionID,
		CurrentPrice:  a.CurrentPrice,
		BidCount:      a.TotalBids,
		UniqueBidders: a.UniqueBidders,
	}
	for _, bid := range s.bids[auctionID] {
		if bid.Status == domain.BidWinning {
			state.LeaderID = bid.UserID
		}
	}
	return state, nil
}

func (s *memStore) BidHistory(ctx context.Context, auctionID string, limit, offset int) ([]*domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.bids[auctionID]
	if offset >= len(all) {
		return nil, nil
	}

	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	var page []*domain.Bid
	for _, bid := range all[offset:end] {
		copied := *bid
		page = append(page, &copied)
	}
	return page, nil
}

func (s *memStore) winningBids(auctionID string) []*domain.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()

	var winning []*domain.Bid
	for _, bid := range s.bids[auctionID] {
		if bid.Status == domain.BidWinning {
			copied := *bid
			winning = append(winning, &copied)
		}
	}
	return winning
}

type memLedgerCache struct {
	mu     sync.Mutex
	states map[string]*domain.LedgerState
}

func newMemLedgerCache() *memLedgerCache {
	return &memLedgerCache{states: make(map[string]*domain.LedgerState)}
}

func (c *memLedgerCache) PutState(ctx context.Context, state *domain.LedgerState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Same monotonicity contract as the redis cache: only strictly newer
	// projections land.
	if cached, ok := c.states[state.AuctionID]; ok && cached.BidCount >= state.BidCount {
		return nil
	}
	copied := *state
	c.states[state.AuctionID] = &copied
	return nil
}

func (c *memLedgerCache) GetState(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[auctionID]; ok {
		copied := *state
		return &copied, nil
	}
	return nil, nil
}

func (c *memLedgerCache) Evict(ctx context.Context, auctionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, auctionID)
	return nil
}

type memStateCache struct {
	mu       sync.Mutex
	statuses map[string]domain.AuctionStatus
}

func newMemStateCache() *memStateCache {
	return &memStateCache{statuses: make(map[string]domain.AuctionStatus)}
}

func (c *memStateCache) SetAuctionStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[auctionID] = status
	return nil
}

func (c *memStateCache) GetAuctionStatus(ctx context.Context, auctionID string) (domain.AuctionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status, ok := c.statuses[auctionID]; ok {
		return status, nil
	}
	return domain.AuctionScheduled, domain.ErrAuctionNotFound
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []*domain.AuctionEvent
}

func (d *captureDispatcher) Dispatch(ctx context.Context, event *domain.AuctionEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := *event
	d.events = append(d.events, &copied)
	return nil
}

func (d *captureDispatcher) ofType(eventType domain.EventType) []*domain.AuctionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched []*domain.AuctionEvent
	for _, event := range d.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type staticWallet map[string]int64

func (w staticWallet) AvailableBalance(ctx context.Context, userID string) (int64, error) {
	balance, ok := w[userID]
	if !ok {
		return 0, domain.ErrWalletNotFound
	}
	return balance, nil
}

type fakeElection struct {
	leader bool
}

func (e *fakeElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	return e.leader, nil
}

func (e *fakeElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	return e.leader, nil
}

func (e *fakeElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	return nil
}

// harness wires the engine against the in-memory fakes.
type harness struct {
	store   *memStore
	cache   *memLedgerCache
	states  *memStateCache
	events  *captureDispatcher
	wallets staticWallet
	clk     *stepClock
	ledger  *Ledger
	manager *AuctionManager
	bids    *BidService
	closer  *CronClosingScheduler
}

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  newMemStore(),
		cache:  newMemLedgerCache(),
		states: newMemStateCache(),
		events: &captureDispatcher{},
		wallets: staticWallet{
			"buyer-1": 1_000_000,
			"buyer-2": 1_000_000,
			"buyer-3": 1_000_000,
		},
		clk: newStepClock(testBase),
	}

	log := logger.Nop()
	h.ledger = NewLedger(h.store, h.cache, h.states, h.events, h.clk, log)
	h.manager = NewAuctionManager(h.store, h.ledger, h.states, h.events, h.clk, 30*time.Second, log)
	h.bids = NewBidService(h.store, h.ledger, h.wallets, StaticIncrement(500), h.manager, h.clk, 2, log)
	h.closer = NewCronClosingScheduler(h.store, h.ledger, h.states, nil, "test-1", time.Minute, h.clk, log)
	return h
}

// activeAuction seeds a plain running auction: price 100, increment 10,
// open for another hour.
func (h *harness) activeAuction(id string) *domain.Auction {
	auction := &domain.Auction{
		ID:              id,
		SellerID:        "seller-1",
		Title:           "Test lot",
		StartingPrice:   100,
		CurrentPrice:    100,
		IncrementAmount: 10,
		Status:          domain.AuctionActive,
		StartDate:       testBase.Add(-time.Hour),
		EndDate:         testBase.Add(time.Hour),
		CreatedAt:       testBase.Add(-time.Hour),
		UpdatedAt:       testBase.Add(-time.Hour),
	}
	h.store.putAuction(auction)
	return auction
}
