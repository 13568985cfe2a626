package helpers

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type CreateAuctionRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description" binding:"required"`
	StartingBid decimal.Decimal `json:"starting_bid"`
	Deadline    *time.Time      `json:"deadline"`
	ImageURL    string          `json:"image_url"`
}

// UpdateAuctionRequest uses pointers so absent fields stay unchanged
type UpdateAuctionRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	StartingBid *decimal.Decimal `json:"starting_bid"`
	Deadline    *time.Time       `json:"deadline"`
}

type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type AuctionResponse struct {
	AuctionID   string          `json:"auction_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	ImageURL    string          `json:"image_url"`
	StartingBid decimal.Decimal `json:"starting_bid"`
	OwnerID     string          `json:"owner_id"`
	CreatedAt   string          `json:"created_at"`
	Deadline    string          `json:"deadline"`
	Closed      bool            `json:"closed"`
	Winner      *string         `json:"winner"`
}

type BidResponse struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt string          `json:"created_at"`
}

type WinnerResponse struct {
	AuctionID  string           `json:"auction_id"`
	Status     string           `json:"status"`
	WinnerID   string           `json:"winner_id,omitempty"`
	WinnerName string           `json:"winner_name,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Deadline   string           `json:"deadline"`
}

type WonAuctionResponse struct {
	AuctionResponse
	WinningBid decimal.Decimal `json:"winning_bid"`
}

type ForceCloseUserResponse struct {
	UserID string `json:"user_id"`
	Closed int    `json:"closed"`
}
