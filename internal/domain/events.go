package domain

import "time"

// AuctionEvent is the outbound shape handed to the notification dispatcher.
// Events are published only after the underlying write is durably committed;
// delivery guarantees beyond at-least-once belong to the dispatcher.
type AuctionEvent struct {
	Type      EventType `json:"type"`
	AuctionID string    `json:"auction_id"`
	UserID    string    `json:"user_id,omitempty"` // the affected user, empty for broadcasts
	Amount    int64     `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type EventType string

const (
	EventNewLeader        EventType = "new_leader"
	EventOutbid           EventType = "outbid"
	EventAuctionWon       EventType = "auction_won"
	EventAuctionLost      EventType = "auction_lost"
	EventAuctionNoBids    EventType = "auction_no_bids"
	EventAuctionExtended  EventType = "auction_extended"
	EventAuctionCancelled EventType = "auction_cancelled"
)
