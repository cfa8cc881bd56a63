package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"quicksell/internal/domain"
	"quicksell/internal/services"
	"quicksell/pkg/logger"

	"github.com/labstack/echo/v4"
)

type AuctionHandler struct {
	auctionManager *services.AuctionManager
	bidService     *services.BidService
	ledger         *services.Ledger
	log            logger.Logger
}

func NewAuctionHandler(auctionManager *services.AuctionManager, bidService *services.BidService,
	ledger *services.Ledger, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionManager: auctionManager,
		bidService:     bidService,
		ledger:         ledger,
		log:            log,
	}
}

type CreateAuctionRequest struct {
	SellerID        string    `json:"seller_id"`
	Title           string    `json:"title"`
	StartingPrice   int64     `json:"starting_price"`
	IncrementAmount int64     `json:"increment_amount"`
	BuyNowPrice     int64     `json:"buy_now_price"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
}

type CreateAuctionResponse struct {
	AuctionID     string    `json:"auction_id"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	StartingPrice int64     `json:"starting_price"`
	Status        string    `json:"status"`
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	auction, err := h.auctionManager.CreateAuction(c.Request().Context(), services.CreateAuctionParams{
		SellerID:        req.SellerID,
		Title:           req.Title,
		StartingPrice:   req.StartingPrice,
		IncrementAmount: req.IncrementAmount,
		BuyNowPrice:     req.BuyNowPrice,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAuction) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		h.log.Error("Failed to create auction", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create auction"})
	}

	response := CreateAuctionResponse{
		AuctionID:     auction.ID,
		StartDate:     auction.StartDate,
		EndDate:       auction.EndDate,
		StartingPrice: auction.StartingPrice,
		Status:        auction.Status.String(),
	}

	h.log.Info("Auction created successfully", "auction_id", auction.ID)
	return c.JSON(http.StatusCreated, response)
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auctionID := c.Param("id")

	state, err := h.auctionManager.GetAuctionState(c.Request().Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Auction not found"})
		}
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load auction"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction_id":     state.Auction.ID,
		"title":          state.Auction.Title,
		"seller_id":      state.Auction.SellerID,
		"status":         state.Auction.Status.String(),
		"start_date":     state.Auction.StartDate,
		"end_date":       state.Auction.EndDate,
		"winner_id":      state.Auction.WinnerID,
		"buy_now_price":  state.Auction.BuyNowPrice,
		"current_price":  state.Ledger.CurrentPrice,
		"leader_id":      state.Ledger.LeaderID,
		"bid_count":      state.Ledger.BidCount,
		"unique_bidders": state.Ledger.UniqueBidders,
	})
}

func (h *AuctionHandler) CancelAuction(c echo.Context) error {
	auctionID := c.Param("id")

	if err := h.auctionManager.CancelAuction(c.Request().Context(), auctionID); err != nil {
		switch {
		case errors.Is(err, domain.ErrAuctionNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Auction not found"})
		case errors.Is(err, domain.ErrAuctionNotActive):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		h.log.Error("Failed to cancel auction", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to cancel auction"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

type PlaceBidRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	auctionID := c.Param("id")

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.UserID == "" || req.Amount <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id and a positive amount are required"})
	}

	receipt, err := h.bidService.PlaceBid(c.Request().Context(), auctionID, req.UserID, req.Amount)
	if err != nil {
		return h.bidError(c, auctionID, err)
	}

	return c.JSON(http.StatusCreated, receipt)
}

func (h *AuctionHandler) GetBidHistory(c echo.Context) error {
	auctionID := c.Param("id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	bids, err := h.ledger.History(c.Request().Context(), auctionID, limit, offset)
	if err != nil {
		h.log.Error("Failed to load bid history", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load bid history"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction_id": auctionID,
		"bids":       bids,
	})
}

func (h *AuctionHandler) bidError(c echo.Context, auctionID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrAuctionNotActive),
		errors.Is(err, domain.ErrSelfBidForbidden),
		errors.Is(err, domain.ErrStaleAuction):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrBidTooLow),
		errors.Is(err, domain.ErrInsufficientFunds):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrBusy):
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	}

	h.log.Error("Failed to place bid", "auction_id", auctionID, "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to place bid"})
}
