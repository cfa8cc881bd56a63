package services

import (
	"context"
	"fmt"

	"quicksell/internal/domain"
	"quicksell/pkg/logger"
)

// EventListener consumes the engine's event stream and fans it out to
// connected websocket clients. It is the realtime half of the notification
// dispatcher boundary; email/SMS consumers subscribe to the same stream.
type EventListener struct {
	broadcaster domain.AuctionBroadcaster
	notifier    domain.UserNotifier
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewEventListener(broadcaster domain.AuctionBroadcaster, notifier domain.UserNotifier,
	connManager domain.ConnectionManager, log logger.Logger) *EventListener {
	return &EventListener{
		broadcaster: broadcaster,
		notifier:    notifier,
		connManager: connManager,
		log:         log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToAuctionEvents(ctx, el.handleAuctionEvent)
}

func (el *EventListener) handleAuctionEvent(event *domain.AuctionEvent) error {
	el.log.Info("Handling auction event", "type", event.Type, "auction_id", event.AuctionID)

	ctx := context.Background()

	switch event.Type {
	case domain.EventNewLeader:
		return el.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
			"type":           "bid_update",
			"current_price":  event.Amount,
			"current_leader": event.UserID,
			"timestamp":      event.Timestamp,
		})

	case domain.EventOutbid:
		return el.notifier.NotifyUser(ctx, event.UserID, map[string]interface{}{
			"type":          "outbid",
			"auction_id":    event.AuctionID,
			"current_price": event.Amount,
			"timestamp":     event.Timestamp,
		})

	case domain.EventAuctionWon:
		if err := el.notifier.NotifyUser(ctx, event.UserID, map[string]interface{}{
			"type":        "auction_won",
			"auction_id":  event.AuctionID,
			"final_price": event.Amount,
			"timestamp":   event.Timestamp,
		}); err != nil {
			el.log.Error("Failed to notify winner", "auction_id", event.AuctionID, "error", err)
		}
		return el.closeAuctionRoom(ctx, event, "auction_sold")

	case domain.EventAuctionLost:
		return el.notifier.NotifyUser(ctx, event.UserID, map[string]interface{}{
			"type":        "auction_lost",
			"auction_id":  event.AuctionID,
			"final_price": event.Amount,
			"timestamp":   event.Timestamp,
		})

	case domain.EventAuctionNoBids:
		return el.closeAuctionRoom(ctx, event, "auction_ended")

	case domain.EventAuctionCancelled:
		return el.closeAuctionRoom(ctx, event, "auction_cancelled")

	case domain.EventAuctionExtended:
		return el.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
			"type":      "auction_extended",
			"timestamp": event.Timestamp,
		})
	}

	return fmt.Errorf("unknown event type %q", event.Type)
}

func (el *EventListener) closeAuctionRoom(ctx context.Context, event *domain.AuctionEvent, reason string) error {
	if err := el.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
		"type":      reason,
		"timestamp": event.Timestamp,
	}); err != nil {
		el.log.Error("Failed to broadcast auction close", "auction_id", event.AuctionID, "error", err)
		return err
	}

	if err := el.connManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
		el.log.Error("Failed to finalize connections for auction",
			"auction_id", event.AuctionID, "error", err)
		return err
	}
	return nil
}
