package handlers

import (
	"net/http"

	"quicksell/internal/clock"
	"quicksell/internal/domain"
	"quicksell/internal/infrastructure/websocket"
	"quicksell/internal/services"
	"quicksell/pkg/logger"
)

type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
}

func NewWebSocketHandlers(bidService *services.BidService, auctionRepo domain.AuctionRepository,
	stateCache domain.StateCache, connManager *websocket.ConnectionManager,
	clk clock.Clock, log logger.Logger) *WebSocketHandlers {
	wsHandler := websocket.NewWebSocketHandler(bidService, auctionRepo, stateCache, connManager, clk, log)
	return &WebSocketHandlers{
		wsHandler: wsHandler,
	}
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
