package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"quicksell/internal/clock"
	"quicksell/internal/domain"
	"quicksell/internal/services"
	"quicksell/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WebSocketHandler struct {
	bidService  *services.BidService
	auctionRepo domain.AuctionRepository
	stateCache  domain.StateCache
	connManager domain.ConnectionManager
	clk         clock.Clock
	log         logger.Logger
}

func NewWebSocketHandler(bidService *services.BidService,
	auctionRepo domain.AuctionRepository, stateCache domain.StateCache,
	connManager domain.ConnectionManager, clk clock.Clock, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bidService:  bidService,
		auctionRepo: auctionRepo,
		stateCache:  stateCache,
		connManager: connManager,
		clk:         clk,
		log:         log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	auctionID := vars["auctionID"]

	// Cached status first: finished auctions bounce without touching MySQL.
	// A miss or cache error falls through to the authoritative row.
	if status, err := h.stateCache.GetAuctionStatus(r.Context(), auctionID); err == nil && status.Terminal() {
		h.log.Info("Rejected connection - auction has finished", "auction_id", auctionID)
		http.Error(w, "auction has already finished", http.StatusForbidden)
		return
	}

	auction, err := h.auctionRepo.GetAuction(r.Context(), auctionID)
	if err != nil {
		h.log.Error("Failed to find auction", "error", err, "auction_id", auctionID)
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	}

	if auction.Status.Terminal() || h.clk.Now().After(auction.EndDate) {
		h.log.Info("Rejected connection - auction has finished", "auction_id", auctionID)
		http.Error(w, "auction has already finished", http.StatusForbidden)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID, h.log)

	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		conn.Close()
		return
	}

	go h.handleMessages(wsConn, userID, auctionID)
}

func (h *WebSocketHandler) handleMessages(conn *WebSocketConnection, userID, auctionID string) {
	defer func() {
		h.connManager.UnregisterConnection(userID, auctionID)
		conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := conn.conn.ReadJSON(&msg); err != nil {
			h.log.Debug("Connection read ended", "user_id", userID, "error", err)
			break
		}

		msgType, ok := msg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "place_bid":
			h.handleBidMessage(conn, userID, auctionID, msg)
		case "ping":
			conn.Send(map[string]string{"type": "pong"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(conn *WebSocketConnection, userID, auctionID string, msg map[string]interface{}) {
	amount, err := parseAmount(msg["amount"])
	if err != nil {
		conn.Send(map[string]string{"type": "error", "message": "invalid amount"})
		return
	}

	receipt, err := h.bidService.PlaceBid(context.Background(), auctionID, userID, amount)
	if err != nil {
		conn.Send(map[string]string{
			"type":    "bid_rejected",
			"message": rejectionMessage(err),
		})
		return
	}

	conn.Send(map[string]interface{}{
		"type":          "bid_accepted",
		"current_price": receipt.CurrentPrice,
		"sold":          receipt.Sold,
	})
}

// Amounts arrive either as JSON numbers or as decimal strings.
func parseAmount(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case float64:
		return int64(v), nil
	default:
		return 0, errors.New("unsupported amount type")
	}
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrBidTooLow),
		errors.Is(err, domain.ErrAuctionNotActive),
		errors.Is(err, domain.ErrSelfBidForbidden),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrBusy):
		return err.Error()
	default:
		return "failed to place bid"
	}
}

type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	log       logger.Logger

	writeMu sync.Mutex
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string, log logger.Logger) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
		log:       log,
	}
}

// Send writes pre-marshalled payloads as-is and marshals anything else.
func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()

	if raw, ok := message.([]byte); ok {
		return wsc.conn.WriteMessage(websocket.TextMessage, raw)
	}
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) Close() error {
	return wsc.conn.Close()
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
