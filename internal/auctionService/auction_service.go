package auction

import (
	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/lifecycle"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"
	"auction-engine/internal/storage"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// WinnerStatus is the answer to a winner query
type WinnerStatus string

const (
	StatusNotEnded WinnerStatus = "not_ended"
	StatusNoWinner WinnerStatus = "no_winner"
	StatusWinner   WinnerStatus = "winner"
)

// ImageUpload carries image bytes for a new auction
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// CreateAuctionInput holds owner-supplied fields for a new auction.
// Either Image or ImageURL must be set.
type CreateAuctionInput struct {
	Title       string
	Description string
	StartingBid decimal.Decimal
	Deadline    *time.Time
	ImageURL    string
	Image       *ImageUpload
}

// UpdateAuctionInput holds the owner-editable fields; nil means unchanged
type UpdateAuctionInput struct {
	Title       *string
	Description *string
	StartingBid *decimal.Decimal
	Deadline    *time.Time
}

// WinnerResult is the outcome of a winner query
type WinnerResult struct {
	AuctionID  string
	Status     WinnerStatus
	WinnerID   string
	WinnerName string
	Amount     decimal.Decimal
	Deadline   time.Time
}

// WonAuction is an auction a user won, with their winning amount
type WonAuction struct {
	Auction    model.Auction
	WinningBid decimal.Decimal
}

// AuctionService defines the business logic around the auction lifecycle
type AuctionService struct {
	repo     repository.AuctionDB
	applier  *lifecycle.Applier
	images   storage.ImageStore
	notifier notify.Notifier
	now      func() time.Time
}

// Option customizes an AuctionService
type Option func(*AuctionService)

// WithImageStore enables image uploads on auction creation
func WithImageStore(s storage.ImageStore) Option {
	return func(svc *AuctionService) { svc.images = s }
}

// WithNotifier sets the sink for bid-placed events
func WithNotifier(n notify.Notifier) Option {
	return func(svc *AuctionService) { svc.notifier = n }
}

// WithClock replaces time.Now; use the same clock as the applier
func WithClock(now func() time.Time) Option {
	return func(svc *AuctionService) { svc.now = now }
}

// NewAuctionService creates a new AuctionService instance
func NewAuctionService(repo repository.AuctionDB, applier *lifecycle.Applier, opts ...Option) *AuctionService {
	s := &AuctionService{
		repo:     repo,
		applier:  applier,
		notifier: notify.LogNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAuction validates and stores a new auction owned by ownerID
func (s *AuctionService) CreateAuction(ctx context.Context, ownerID string, in CreateAuctionInput) (model.Auction, error) {
	now := s.now()
	if err := s.validateCreate(ownerID, in, now); err != nil {
		return model.Auction{}, err
	}

	a := model.Auction{
		AuctionID:   utils.GenerateID(),
		Title:       in.Title,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		StartingBid: in.StartingBid,
		OwnerID:     ownerID,
		CreatedAt:   now,
		Deadline:    now.Add(s.applier.Duration()),
		UpdatedAt:   now,
	}
	if in.Deadline != nil {
		a.Deadline = in.Deadline.UTC()
	}

	if in.Image != nil {
		key := fmt.Sprintf("auctions/%s/%s%s", a.AuctionID, utils.GenerateID(), filepath.Ext(in.Image.Filename))
		url, err := s.images.Upload(ctx, key, in.Image.Reader, in.Image.Size, in.Image.ContentType)
		if err != nil {
			return model.Auction{}, fmt.Errorf("service: failed to upload image for auction %s: %w", a.AuctionID, err)
		}
		a.ImageURL = url
	}

	if err := s.repo.CreateAuction(ctx, a); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}
	a.Version = 1

	utils.Info("service: auction created", map[string]any{
		"auction_id": a.AuctionID,
		"owner_id":   ownerID,
		"deadline":   a.Deadline.Format(time.RFC3339),
	})
	return a, nil
}

func (s *AuctionService) validateCreate(ownerID string, in CreateAuctionInput, now time.Time) error {
	if ownerID == "" {
		return fmt.Errorf("service: %w - missing owner", auctionerrors.ErrUnauthorized)
	}
	if in.Title == "" || in.Description == "" {
		return fmt.Errorf("service: %w - title and description are required", auctionerrors.ErrInvalidInput)
	}
	if !in.StartingBid.IsPositive() {
		return fmt.Errorf("service: %w - starting bid must be positive", auctionerrors.ErrInvalidAmount)
	}
	if in.Deadline != nil && !in.Deadline.After(now) {
		return fmt.Errorf("service: %w - deadline must be in the future", auctionerrors.ErrInvalidInput)
	}
	switch {
	case in.Image != nil && s.images == nil:
		return fmt.Errorf("service: %w - image storage is not configured", auctionerrors.ErrInvalidInput)
	case in.Image == nil && in.ImageURL == "":
		return fmt.Errorf("service: %w - image is required", auctionerrors.ErrInvalidInput)
	}
	return nil
}

// GetAuction returns an auction after running the closing decision on it, so
// a caller never sees an open auction past its deadline.
func (s *AuctionService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidInput)
	}

	a, _, err := s.applier.Evaluate(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns stored records as-is. An expired auction may still
// read as open here until the next sweep.
func (s *AuctionService) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	auctions, err := s.repo.ListAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return auctions, nil
}

// ListAuctionsByOwner returns the auctions created by ownerID
func (s *AuctionService) ListAuctionsByOwner(ctx context.Context, ownerID string) ([]model.Auction, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("service: %w - empty owner ID", auctionerrors.ErrInvalidInput)
	}

	auctions, err := s.repo.ListAuctionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions for owner %s: %w", ownerID, err)
	}
	return auctions, nil
}

// UpdateAuction applies an owner edit. It goes through the same version
// check as the closing applier, so it cannot overwrite a concurrent close.
func (s *AuctionService) UpdateAuction(ctx context.Context, ownerID, auctionID string, in UpdateAuctionInput) (model.Auction, error) {
	a, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, err
	}
	if a.OwnerID != ownerID {
		return model.Auction{}, fmt.Errorf("service: %w - only the owner can edit auction %s", auctionerrors.ErrForbidden, auctionID)
	}
	if a.Closed {
		return model.Auction{}, fmt.Errorf("service: %w - auction %s cannot be edited", auctionerrors.ErrClosed, auctionID)
	}

	next := a
	now := s.now()
	if in.Title != nil && *in.Title != "" {
		next.Title = *in.Title
	}
	if in.Description != nil && *in.Description != "" {
		next.Description = *in.Description
	}
	if in.StartingBid != nil && !in.StartingBid.Equal(a.StartingBid) {
		if !in.StartingBid.IsPositive() {
			return model.Auction{}, fmt.Errorf("service: %w - starting bid must be positive", auctionerrors.ErrInvalidAmount)
		}
		bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
		if err != nil {
			return model.Auction{}, fmt.Errorf("service: failed to check bids for auction %s: %w", auctionID, err)
		}
		if len(bids) > 0 {
			return model.Auction{}, fmt.Errorf("service: %w - auction %s has %d bids", auctionerrors.ErrStartingBidLocked, auctionID, len(bids))
		}
		next.StartingBid = *in.StartingBid
	}
	if in.Deadline != nil {
		if !in.Deadline.After(now) {
			return model.Auction{}, fmt.Errorf("service: %w - deadline must be in the future", auctionerrors.ErrInvalidInput)
		}
		next.Deadline = in.Deadline.UTC()
	}
	next.UpdatedAt = now

	stored, err := s.repo.UpdateAuction(ctx, next, a.Version)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to update auction %s: %w", auctionID, err)
	}
	return stored, nil
}

// DeleteAuction removes an auction and its bids. Owner only.
func (s *AuctionService) DeleteAuction(ctx context.Context, ownerID, auctionID string) error {
	if auctionID == "" {
		return fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidInput)
	}

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	if a.OwnerID != ownerID {
		return fmt.Errorf("service: %w - only the owner can delete auction %s", auctionerrors.ErrForbidden, auctionID)
	}

	if err := s.repo.DeleteAuction(ctx, auctionID); err != nil {
		return fmt.Errorf("service: failed to delete auction %s: %w", auctionID, err)
	}
	return nil
}

// PlaceBid validates and records a bid. The closed check runs after the
// closing decision but is not a barrier: a bid accepted while a closer is
// between its bid snapshot and its write stays recorded without being
// considered for that close.
func (s *AuctionService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.Bid, error) {
	if auctionID == "" || bidderID == "" {
		metrics.BidsRejected.WithLabelValues("invalid_input").Inc()
		return model.Bid{}, fmt.Errorf("service: %w - missing auctionID or bidderID", auctionerrors.ErrInvalidInput)
	}

	a, _, err := s.applier.Evaluate(ctx, auctionID)
	if err != nil {
		if errors.Is(err, auctionerrors.ErrNotFound) {
			metrics.BidsRejected.WithLabelValues("not_found").Inc()
		}
		return model.Bid{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}
	if err := validateBid(a, bidderID, amount); err != nil {
		return model.Bid{}, err
	}

	bid := model.Bid{
		BidID:     utils.GenerateID(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: s.now(),
	}

	if err := s.repo.RecordBid(ctx, bid); err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to record bid for auction %s by user %s: %w", auctionID, bidderID, err)
	}

	metrics.BidsPlaced.Inc()
	s.notifier.Notify(ctx, notify.Event{Type: notify.EventBidPlaced, AuctionID: auctionID, At: bid.CreatedAt})
	return bid, nil
}

// validateBid checks business rules for bidding
func validateBid(a model.Auction, bidderID string, amount decimal.Decimal) error {
	switch {
	case a.OwnerID == bidderID:
		metrics.BidsRejected.WithLabelValues("forbidden").Inc()
		return fmt.Errorf("service: %w - owner cannot bid on own auction", auctionerrors.ErrForbidden)
	case a.Closed:
		metrics.BidsRejected.WithLabelValues("closed").Inc()
		return fmt.Errorf("service: %w - auction %s no longer accepts bids", auctionerrors.ErrClosed, a.AuctionID)
	case !amount.IsPositive() || amount.LessThan(a.StartingBid):
		metrics.BidsRejected.WithLabelValues("invalid_amount").Inc()
		return fmt.Errorf("service: %w - starting bid is %s", auctionerrors.ErrInvalidAmount, a.StartingBid.String())
	}
	return nil
}

// GetBids returns all bids for an auction
func (s *AuctionService) GetBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidInput)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetWinner reports whether the auction has ended and who won it
func (s *AuctionService) GetWinner(ctx context.Context, auctionID string) (WinnerResult, error) {
	a, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return WinnerResult{}, err
	}

	res := WinnerResult{AuctionID: a.AuctionID, Deadline: a.Deadline}
	if !a.Closed {
		res.Status = StatusNotEnded
		return res, nil
	}
	if !a.HasWinner() {
		res.Status = StatusNoWinner
		return res, nil
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return WinnerResult{}, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	winning, err := lifecycle.ResolveWinner(bidsBy(bids, *a.Winner))
	if err != nil {
		return WinnerResult{}, fmt.Errorf("service: winner %s of auction %s has no bids: %w", *a.Winner, auctionID, err)
	}

	res.Status = StatusWinner
	res.WinnerID = *a.Winner
	res.WinnerName = s.displayName(ctx, *a.Winner)
	res.Amount = winning.Amount
	return res, nil
}

func (s *AuctionService) displayName(ctx context.Context, userID string) string {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, auctionerrors.ErrNotFound) {
			utils.Warn("service: user lookup failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
		return userID
	}
	return u.Username
}

// GetAuctionsWonByUser returns the closed auctions whose recorded winner is userID
func (s *AuctionService) GetAuctionsWonByUser(ctx context.Context, userID string) ([]WonAuction, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", auctionerrors.ErrInvalidInput)
	}

	bids, err := s.repo.GetBidsByBidder(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for user %s: %w", userID, err)
	}

	won := []WonAuction{}
	seen := make(map[string]bool)
	for _, b := range bids {
		if seen[b.AuctionID] {
			continue
		}
		seen[b.AuctionID] = true

		a, _, err := s.applier.Evaluate(ctx, b.AuctionID)
		if err != nil {
			if errors.Is(err, auctionerrors.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("service: failed to evaluate auction %s: %w", b.AuctionID, err)
		}
		if !a.Closed || !a.HasWinner() || *a.Winner != userID {
			continue
		}

		winning, err := lifecycle.ResolveWinner(bidsOn(bids, a.AuctionID))
		if err != nil {
			return nil, fmt.Errorf("service: failed to resolve winning bid for auction %s: %w", a.AuctionID, err)
		}
		won = append(won, WonAuction{Auction: a, WinningBid: winning.Amount})
	}
	return won, nil
}

// ForceClose closes an auction immediately without reopening it
func (s *AuctionService) ForceClose(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidInput)
	}

	a, _, err := s.applier.ForceClose(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to force close auction %s: %w", auctionID, err)
	}
	utils.Warn("service: auction force closed", map[string]any{"auction_id": auctionID, "closed": a.Closed})
	return a, nil
}

// ForceCloseAllForUser settles every open, expired auction userID bid on and
// returns how many of them userID won. Each auction goes through the same
// closing decision as a read, so auctions won by someone else are closed too.
func (s *AuctionService) ForceCloseAllForUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("service: %w - empty user ID", auctionerrors.ErrInvalidInput)
	}

	bids, err := s.repo.GetBidsByBidder(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("service: failed to get bids for user %s: %w", userID, err)
	}

	won := 0
	seen := make(map[string]bool)
	for _, b := range bids {
		if seen[b.AuctionID] {
			continue
		}
		seen[b.AuctionID] = true

		a, out, err := s.applier.Evaluate(ctx, b.AuctionID)
		if err != nil {
			if errors.Is(err, auctionerrors.ErrNotFound) {
				continue
			}
			return won, fmt.Errorf("service: failed to evaluate auction %s: %w", b.AuctionID, err)
		}
		if out.Changed && out.Kind == lifecycle.CloseWithWinner && *a.Winner == userID {
			won++
		}
	}

	utils.Warn("service: auctions force closed for user", map[string]any{
		"user_id":  userID,
		"auctions": len(seen),
		"won":      won,
	})
	return won, nil
}

func bidsBy(bids []model.Bid, bidderID string) []model.Bid {
	out := make([]model.Bid, 0, len(bids))
	for _, b := range bids {
		if b.BidderID == bidderID {
			out = append(out, b)
		}
	}
	return out
}

func bidsOn(bids []model.Bid, auctionID string) []model.Bid {
	out := make([]model.Bid, 0, len(bids))
	for _, b := range bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	return out
}
