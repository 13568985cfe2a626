package repository

import (
	"auction-engine/internal/auctionerrors"
	model "auction-engine/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the auction record store. Records are keyed by opaque
// identifiers; the only multi-field write guard is UpdateAuction's version check.
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context) ([]model.Auction, error)
	ListOpenAuctions(ctx context.Context) ([]model.Auction, error)
	ListAuctionsByOwner(ctx context.Context, ownerID string) ([]model.Auction, error)
	// UpdateAuction replaces the stored record only if its version still
	// equals expectedVersion, and returns the stored record with the new version.
	UpdateAuction(ctx context.Context, auction model.Auction, expectedVersion int64) (model.Auction, error)
	DeleteAuction(ctx context.Context, auctionID string) error
	RecordBid(ctx context.Context, bid model.Bid) error
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error)
	GetUser(ctx context.Context, userID string) (model.User, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu            sync.RWMutex
	auctions      map[string]model.Auction // key: auctionID -> value: auction
	bids          map[string][]model.Bid   // key: auctionID -> value: list of bids
	bidderAuction map[string][]string      // key: bidderID -> value: auctionIDs the bidder has bid on
	users         map[string]model.User
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:      make(map[string]model.Auction),
		bids:          make(map[string][]model.Bid),
		bidderAuction: make(map[string][]string),
		users:         make(map[string]model.User),
	}
}

// CreateAuction stores a new auction with version 1
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - empty auction ID", auctionerrors.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[auction.AuctionID]; exists {
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, auctionerrors.ErrVersionConflict)
	}
	auction.Version = 1
	r.auctions[auction.AuctionID] = cloneAuction(auction)
	return nil
}

// GetAuction returns a copy of the stored auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, auctionerrors.ErrNotFound)
	}
	return cloneAuction(a), nil
}

// ListAuctions returns all auctions ordered by creation time
func (r *MemoryRepo) ListAuctions(_ context.Context) ([]model.Auction, error) {
	return r.filterAuctions(func(model.Auction) bool { return true }), nil
}

// ListOpenAuctions returns auctions with closed = false
func (r *MemoryRepo) ListOpenAuctions(_ context.Context) ([]model.Auction, error) {
	return r.filterAuctions(func(a model.Auction) bool { return !a.Closed }), nil
}

// ListAuctionsByOwner returns auctions created by ownerID
func (r *MemoryRepo) ListAuctionsByOwner(_ context.Context, ownerID string) ([]model.Auction, error) {
	return r.filterAuctions(func(a model.Auction) bool { return a.OwnerID == ownerID }), nil
}

func (r *MemoryRepo) filterAuctions(keep func(model.Auction) bool) []model.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if keep(a) {
			out = append(out, cloneAuction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AuctionID < out[j].AuctionID
	})
	return out
}

// UpdateAuction performs a compare-and-swap on the auction version
func (r *MemoryRepo) UpdateAuction(_ context.Context, auction model.Auction, expectedVersion int64) (model.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.auctions[auction.AuctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("update auction %s: %w", auction.AuctionID, auctionerrors.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return model.Auction{}, fmt.Errorf("update auction %s: stored version %d, expected %d: %w",
			auction.AuctionID, current.Version, expectedVersion, auctionerrors.ErrVersionConflict)
	}

	auction.Version = expectedVersion + 1
	r.auctions[auction.AuctionID] = cloneAuction(auction)
	return cloneAuction(auction), nil
}

// DeleteAuction removes an auction and all of its bids
func (r *MemoryRepo) DeleteAuction(_ context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return fmt.Errorf("delete auction %s: %w", auctionID, auctionerrors.ErrNotFound)
	}

	for _, b := range r.bids[auctionID] {
		r.bidderAuction[b.BidderID] = removeID(r.bidderAuction[b.BidderID], auctionID)
		if len(r.bidderAuction[b.BidderID]) == 0 {
			delete(r.bidderAuction, b.BidderID)
		}
	}
	delete(r.bids, auctionID)
	delete(r.auctions, auctionID)
	return nil
}

// RecordBid records a bid on an existing auction. It does not look at the
// closed flag; that check belongs to bid ingestion.
func (r *MemoryRepo) RecordBid(_ context.Context, bid model.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, auctionerrors.ErrNotFound)
	}

	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)

	for _, id := range r.bidderAuction[bid.BidderID] {
		if id == bid.AuctionID {
			return nil
		}
	}
	r.bidderAuction[bid.BidderID] = append(r.bidderAuction[bid.BidderID], bid.AuctionID)

	return nil
}

// GetBidsByAuction returns all bids for an auction in ingestion order.
// An auction without bids yields an empty slice.
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, auctionerrors.ErrNotFound)
	}
	return append([]model.Bid{}, r.bids[auctionID]...), nil
}

// GetBidsByBidder returns every bid placed by bidderID
func (r *MemoryRepo) GetBidsByBidder(_ context.Context, bidderID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []model.Bid{}
	for _, auctionID := range r.bidderAuction[bidderID] {
		for _, b := range r.bids[auctionID] {
			if b.BidderID == bidderID {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// GetUser returns a user from the directory
func (r *MemoryRepo) GetUser(_ context.Context, userID string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return model.User{}, fmt.Errorf("get user %s: %w", userID, auctionerrors.ErrNotFound)
	}
	return u, nil
}

// AddUser seeds the user directory. Registration lives outside this service.
func (r *MemoryRepo) AddUser(user model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.UserID] = user
}

func cloneAuction(a model.Auction) model.Auction {
	if a.Winner != nil {
		w := *a.Winner
		a.Winner = &w
	}
	return a
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
