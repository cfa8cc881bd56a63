package domain

import (
	"context"
	"time"
)

// Repository interfaces
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	// GetExpiredAuctions returns auctions with status == active and
	// end_date <= now.
	GetExpiredAuctions(ctx context.Context, now time.Time) ([]*Auction, error)
	// GetDueScheduledAuctions returns auctions with status == scheduled and
	// start_date <= now.
	GetDueScheduledAuctions(ctx context.Context, now time.Time) ([]*Auction, error)
	// MarkActive transitions scheduled -> active. Returns false when the
	// auction was not in the scheduled state.
	MarkActive(ctx context.Context, auctionID string) (bool, error)
	// MarkCancelled transitions scheduled/active -> cancelled. Returns false
	// when the auction was already terminal.
	MarkCancelled(ctx context.Context, auctionID string) (bool, error)
	ExtendEndDate(ctx context.Context, auctionID string, newEnd time.Time) error
}

// LedgerStore is the transactional persistence path for bid appends and
// terminal transitions. Implementations must serialize writes per auction:
// the validate-recheck-write sequence runs under a row lock so two racing
// bids can never both commit as leader.
type LedgerStore interface {
	// AppendBid re-checks the auction's status and minimum acceptable price
	// under lock, inserts the bid, demotes the previous winning bid, and
	// bumps the auction's price and counters in a single transaction.
	// Fails with ErrStaleAuction when the auction is no longer active,
	// ErrBidTooLow when a racing bid moved the price past this amount, and
	// ErrConflict on retriable storage conflicts. When buyNow is true the
	// same transaction moves the auction to sold with the bidder as winner.
	AppendBid(ctx context.Context, bid *Bid, buyNow bool) (*AppendResult, error)

	// FinalizeAuction moves an expired auction to sold (bids exist) or ended
	// (no bids). Safe to call repeatedly: an already-terminal auction yields
	// ClosedSkipped and no writes.
	FinalizeAuction(ctx context.Context, auctionID string, now time.Time) (*ClosingResult, error)

	CurrentState(ctx context.Context, auctionID string) (*LedgerState, error)
	// BidHistory pages the append-only record ordered by created_at
	// ascending. Restartable from any offset.
	BidHistory(ctx context.Context, auctionID string, limit, offset int) ([]*Bid, error)
}

// BalanceSource reads a bidder's available balance. Settlement itself is an
// external concern.
type BalanceSource interface {
	AvailableBalance(ctx context.Context, userID string) (int64, error)
}

// Cache interfaces
type StateCache interface {
	SetAuctionStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	GetAuctionStatus(ctx context.Context, auctionID string) (AuctionStatus, error)
}

type LedgerCache interface {
	// PutState is monotonic on BidCount: a write that is not strictly newer
	// than the cached projection is dropped, so delayed writes from racing
	// appends cannot roll the cache back behind the store.
	PutState(ctx context.Context, state *LedgerState) error
	// GetState returns (nil, nil) on a cache miss.
	GetState(ctx context.Context, auctionID string) (*LedgerState, error)
	Evict(ctx context.Context, auctionID string) error
}

// NotificationDispatcher is the outbound port for auction events. The engine
// publishes at-least-once after durable commit; retries and delivery belong
// to the consumer side.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, event *AuctionEvent) error
}

type EventSubscriber interface {
	SubscribeToAuctionEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *AuctionEvent) error

// IncrementSource resolves the minimum increment for a price when an auction
// carries no explicit increment amount.
type IncrementSource interface {
	IncrementFor(amount int64) int64
	LoadTiers(ctx context.Context) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// Notification interfaces (realtime fanout)
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}

type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(userID, auctionID string) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
