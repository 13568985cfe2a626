package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	auction "auction-engine/internal/auctionService"
	model "auction-engine/internal/models"
	"auction-engine/services/auction/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=auction_handler.go -destination=mock_auction_service.go -package=handler

type AuctionServiceInterface interface {
	CreateAuction(ctx context.Context, ownerID string, in auction.CreateAuctionInput) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context) ([]model.Auction, error)
	ListAuctionsByOwner(ctx context.Context, ownerID string) ([]model.Auction, error)
	UpdateAuction(ctx context.Context, ownerID, auctionID string, in auction.UpdateAuctionInput) (model.Auction, error)
	DeleteAuction(ctx context.Context, ownerID, auctionID string) error
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.Bid, error)
	GetBids(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinner(ctx context.Context, auctionID string) (auction.WinnerResult, error)
	GetAuctionsWonByUser(ctx context.Context, userID string) ([]auction.WonAuction, error)
	ForceClose(ctx context.Context, auctionID string) (model.Auction, error)
	ForceCloseAllForUser(ctx context.Context, userID string) (int, error)
}

type AuctionHandler struct {
	service AuctionServiceInterface
}

func NewAuctionHandler(service AuctionServiceInterface) *AuctionHandler {
	return &AuctionHandler{service: service}
}

// ListAuctionsHandler handles GET /auctions
func (h *AuctionHandler) ListAuctionsHandler(c *gin.Context) {
	auctions, err := h.service.ListAuctions(c.Request.Context())
	if err != nil {
		helpers.RespondError(c, "ListAuctionsHandler", err, nil)
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponses(auctions), "auctions retrieved successfully")
	helpers.LogSuccess("ListAuctionsHandler", "auctions retrieved successfully", map[string]any{"count": len(auctions)})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *AuctionHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	a, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(a), "auction retrieved successfully")
}

// CreateAuctionHandler handles POST /auctions. Accepts JSON with image_url or
// multipart form data with an "image" file part.
func (h *AuctionHandler) CreateAuctionHandler(c *gin.Context) {
	ownerID := helpers.CurrentUser(c)

	var in auction.CreateAuctionInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		parsed, closeFile, err := multipartInput(c)
		if err != nil {
			helpers.HandleBindError(c, "CreateAuctionHandler", err)
			return
		}
		defer closeFile()
		in = parsed
	} else {
		var req helpers.CreateAuctionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			helpers.HandleBindError(c, "CreateAuctionHandler", err)
			return
		}
		in = auction.CreateAuctionInput{
			Title:       req.Title,
			Description: req.Description,
			StartingBid: req.StartingBid,
			Deadline:    req.Deadline,
			ImageURL:    req.ImageURL,
		}
	}

	a, err := h.service.CreateAuction(c.Request.Context(), ownerID, in)
	if err != nil {
		helpers.RespondError(c, "CreateAuctionHandler", err, map[string]any{"owner_id": ownerID})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToAuctionResponse(a), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": a.AuctionID,
		"owner_id":   ownerID,
	})
}

func multipartInput(c *gin.Context) (auction.CreateAuctionInput, func(), error) {
	noop := func() {}
	in := auction.CreateAuctionInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		ImageURL:    c.PostForm("image_url"),
	}
	if in.Title == "" || in.Description == "" {
		return in, noop, fmt.Errorf("title and description are required")
	}

	startingBid, err := decimal.NewFromString(c.PostForm("starting_bid"))
	if err != nil {
		return in, noop, fmt.Errorf("starting_bid: %w", err)
	}
	in.StartingBid = startingBid

	if raw := c.PostForm("deadline"); raw != "" {
		deadline, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return in, noop, fmt.Errorf("deadline: %w", err)
		}
		in.Deadline = &deadline
	}

	fh, err := c.FormFile("image")
	if err != nil {
		if in.ImageURL != "" {
			return in, noop, nil
		}
		return in, noop, fmt.Errorf("image: %w", err)
	}
	f, err := fh.Open()
	if err != nil {
		return in, noop, fmt.Errorf("image: %w", err)
	}
	in.Image = &auction.ImageUpload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Reader:      f,
	}
	return in, func() { _ = f.Close() }, nil
}

// UpdateAuctionHandler handles PUT /auctions/:auction_id
func (h *AuctionHandler) UpdateAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	userID := helpers.CurrentUser(c)

	var req helpers.UpdateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "UpdateAuctionHandler", err)
		return
	}

	a, err := h.service.UpdateAuction(c.Request.Context(), userID, auctionID, auction.UpdateAuctionInput{
		Title:       req.Title,
		Description: req.Description,
		StartingBid: req.StartingBid,
		Deadline:    req.Deadline,
	})
	if err != nil {
		helpers.RespondError(c, "UpdateAuctionHandler", err, map[string]any{"auction_id": auctionID, "user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(a), "auction updated successfully")
	helpers.LogSuccess("UpdateAuctionHandler", "auction updated successfully", map[string]any{
		"auction_id": auctionID,
		"version":    a.Version,
	})
}

// DeleteAuctionHandler handles DELETE /auctions/:auction_id
func (h *AuctionHandler) DeleteAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	userID := helpers.CurrentUser(c)

	if err := h.service.DeleteAuction(c.Request.Context(), userID, auctionID); err != nil {
		helpers.RespondError(c, "DeleteAuctionHandler", err, map[string]any{"auction_id": auctionID, "user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"auction_id": auctionID}, "auction deleted successfully")
	helpers.LogSuccess("DeleteAuctionHandler", "auction deleted successfully", map[string]any{"auction_id": auctionID})
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *AuctionHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bidderID := helpers.CurrentUser(c)

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, bidderID, req.Amount)
	if err != nil {
		helpers.RespondError(c, "PlaceBidHandler", err, map[string]any{
			"auction_id": auctionID,
			"bidder_id":  bidderID,
			"amount":     req.Amount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToBidResponse(bid), "bid recorded successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": auctionID,
		"bidder_id":  bidderID,
		"amount":     bid.Amount.String(),
	})
}

// GetBidsHandler handles GET /auctions/:auction_id/bids
func (h *AuctionHandler) GetBidsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBids(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetBidsHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidsHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetWinnerHandler handles GET /auctions/:auction_id/winner
func (h *AuctionHandler) GetWinnerHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	res, err := h.service.GetWinner(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetWinnerHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	resp := helpers.WinnerResponse{
		AuctionID: res.AuctionID,
		Status:    string(res.Status),
		Deadline:  res.Deadline.UTC().Format(time.RFC3339),
	}
	message := "auction has not ended"
	switch res.Status {
	case auction.StatusWinner:
		amount := res.Amount
		resp.WinnerID = res.WinnerID
		resp.WinnerName = res.WinnerName
		resp.Amount = &amount
		message = "winner retrieved successfully"
	case auction.StatusNoWinner:
		message = "auction ended without bids"
	}

	utils.JSONResponse(c, http.StatusOK, resp, message)
}

// GetMyAuctionsHandler handles GET /users/me/auctions
func (h *AuctionHandler) GetMyAuctionsHandler(c *gin.Context) {
	userID := helpers.CurrentUser(c)
	auctions, err := h.service.ListAuctionsByOwner(c.Request.Context(), userID)
	if err != nil {
		helpers.RespondError(c, "GetMyAuctionsHandler", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponses(auctions), "auctions retrieved successfully")
}

// GetWonAuctionsHandler handles GET /users/me/won
func (h *AuctionHandler) GetWonAuctionsHandler(c *gin.Context) {
	userID := helpers.CurrentUser(c)
	won, err := h.service.GetAuctionsWonByUser(c.Request.Context(), userID)
	if err != nil {
		helpers.RespondError(c, "GetWonAuctionsHandler", err, map[string]any{"user_id": userID})
		return
	}

	resp := make([]helpers.WonAuctionResponse, 0, len(won))
	for _, w := range won {
		resp = append(resp, helpers.WonAuctionResponse{
			AuctionResponse: helpers.ToAuctionResponse(w.Auction),
			WinningBid:      w.WinningBid,
		})
	}

	utils.JSONResponse(c, http.StatusOK, resp, "won auctions retrieved successfully")
	helpers.LogSuccess("GetWonAuctionsHandler", "won auctions retrieved successfully", map[string]any{
		"user_id": userID,
		"count":   len(resp),
	})
}

// ForceCloseHandler handles POST /admin/auctions/:auction_id/force-close
func (h *AuctionHandler) ForceCloseHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	a, err := h.service.ForceClose(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "ForceCloseHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(a), "auction closed")
	utils.Warn("ForceCloseHandler: auction force closed by admin", map[string]any{"auction_id": auctionID})
}

// ForceCloseAllForUserHandler handles POST /admin/users/:user_id/force-close
func (h *AuctionHandler) ForceCloseAllForUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	won, err := h.service.ForceCloseAllForUser(c.Request.Context(), userID)
	if err != nil {
		helpers.RespondError(c, "ForceCloseAllForUserHandler", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ForceCloseUserResponse{UserID: userID, Closed: won},
		fmt.Sprintf("force closed %d auctions for user %s", won, userID))
	utils.Warn("ForceCloseAllForUserHandler: auctions force closed by admin", map[string]any{"user_id": userID, "won": won})
}
