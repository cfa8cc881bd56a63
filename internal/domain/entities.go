package domain

import (
	"time"
)

// Monetary amounts are int64 values in the smallest currency unit.

type Auction struct {
	ID              string
	SellerID        string
	Title           string
	StartingPrice   int64
	CurrentPrice    int64
	IncrementAmount int64 // 0 means "use the tiered increment rules"
	BuyNowPrice     int64 // 0 means no buy-now price
	Status          AuctionStatus
	StartDate       time.Time
	EndDate         time.Time
	WinnerID        string
	TotalBids       int
	UniqueBidders   int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasBuyNow reports whether the auction can be ended early at a fixed price.
func (a *Auction) HasBuyNow() bool {
	return a.BuyNowPrice > 0
}

// AcceptsBidsAt reports whether the auction window is open at the given instant.
func (a *Auction) AcceptsBidsAt(now time.Time) bool {
	return a.Status == AuctionActive && !now.Before(a.StartDate) && now.Before(a.EndDate)
}

type AuctionStatus int

const (
	AuctionScheduled AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionSold
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionScheduled:
		return "scheduled"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionSold:
		return "sold"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed out of s.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionEnded || s == AuctionSold || s == AuctionCancelled
}

type Bid struct {
	ID        string    `json:"bid_id"`
	AuctionID string    `json:"auction_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Status    BidStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type BidStatus string

const (
	BidWinning BidStatus = "winning"
	BidOutbid  BidStatus = "outbid"
)

// LedgerState is the derived projection of an auction's bid history.
type LedgerState struct {
	AuctionID     string `json:"auction_id"`
	CurrentPrice  int64  `json:"current_price"`
	LeaderID      string `json:"leader_id"`
	BidCount      int    `json:"bid_count"`
	UniqueBidders int    `json:"unique_bidders"`
}

// AppendResult is what the ledger store reports after a committed append.
type AppendResult struct {
	State            LedgerState
	PreviousLeaderID string
	Sold             bool // buy-now transition applied in the same transaction
}

// ClosingOutcome classifies what a finalize pass did to one auction.
type ClosingOutcome int

const (
	ClosedSkipped ClosingOutcome = iota // already terminal, nothing to do
	ClosedSold
	ClosedNoBids
)

func (o ClosingOutcome) String() string {
	switch o {
	case ClosedSkipped:
		return "skipped"
	case ClosedSold:
		return "sold"
	case ClosedNoBids:
		return "no_bids"
	default:
		return "unknown"
	}
}

// ClosingResult reports a finalized auction: the winner (if any) and every
// distinct bidder, so lost notifications can be fanned out.
type ClosingResult struct {
	AuctionID  string
	Outcome    ClosingOutcome
	WinnerID   string
	FinalPrice int64
	Bidders    []string
}

// IncrementTiers maps price bands to minimum bid increments. Used for
// auctions created without an explicit increment amount.
type IncrementTiers struct {
	Tiers map[string]int64 `json:"tiers"`
}
