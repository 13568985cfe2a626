package repository

import (
	"auction-engine/internal/auctionerrors"
	model "auction-engine/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements AuctionDB on top of MongoDB. Conditional updates filter
// on {_id, version}; there are no multi-document transactions, so deleting an
// auction removes its bids first and the auction second.
type MongoRepo struct {
	auctions *mongo.Collection
	bids     *mongo.Collection
	users    *mongo.Collection
}

type auctionDoc struct {
	ID          string               `bson:"_id"`
	Title       string               `bson:"title"`
	Description string               `bson:"description"`
	ImageURL    string               `bson:"image_url"`
	StartingBid primitive.Decimal128 `bson:"starting_bid"`
	OwnerID     string               `bson:"owner_id"`
	CreatedAt   time.Time            `bson:"created_at"`
	Deadline    time.Time            `bson:"deadline"`
	Closed      bool                 `bson:"closed"`
	Winner      *string              `bson:"winner"`
	Version     int64                `bson:"version"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

type bidDoc struct {
	ID        string               `bson:"_id"`
	AuctionID string               `bson:"auction_id"`
	BidderID  string               `bson:"bidder_id"`
	Amount    primitive.Decimal128 `bson:"amount"`
	CreatedAt time.Time            `bson:"created_at"`
}

type userDoc struct {
	ID       string `bson:"_id"`
	Username string `bson:"username"`
}

// NewMongoRepo wires the auctions, bids and users collections of db and
// ensures the indexes used by the predicate queries.
func NewMongoRepo(ctx context.Context, db *mongo.Database) (*MongoRepo, error) {
	r := &MongoRepo{
		auctions: db.Collection("auctions"),
		bids:     db.Collection("bids"),
		users:    db.Collection("users"),
	}

	if _, err := r.auctions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "closed", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("mongo: create auction indexes: %w", err)
	}
	if _, err := r.bids.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "auction_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "bidder_id", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("mongo: create bid indexes: %w", err)
	}
	return r, nil
}

func (r *MongoRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	auction.Version = 1
	doc, err := toAuctionDoc(auction)
	if err != nil {
		return err
	}
	if _, err := r.auctions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create auction %s: %w", auction.AuctionID, auctionerrors.ErrVersionConflict)
		}
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, err)
	}
	return nil
}

func (r *MongoRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	var doc auctionDoc
	err := r.auctions.FindOne(ctx, bson.M{"_id": auctionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, auctionerrors.ErrNotFound)
		}
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return fromAuctionDoc(doc)
}

func (r *MongoRepo) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	return r.findAuctions(ctx, bson.M{})
}

func (r *MongoRepo) ListOpenAuctions(ctx context.Context) ([]model.Auction, error) {
	return r.findAuctions(ctx, bson.M{"closed": false})
}

func (r *MongoRepo) ListAuctionsByOwner(ctx context.Context, ownerID string) ([]model.Auction, error) {
	return r.findAuctions(ctx, bson.M{"owner_id": ownerID})
}

func (r *MongoRepo) findAuctions(ctx context.Context, filter bson.M) ([]model.Auction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.auctions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find auctions: %w", err)
	}
	defer cur.Close(ctx)

	out := []model.Auction{}
	for cur.Next(ctx) {
		var doc auctionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode auction: %w", err)
		}
		a, err := fromAuctionDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, cur.Err()
}

// UpdateAuction replaces the record only when {_id, version} still matches.
func (r *MongoRepo) UpdateAuction(ctx context.Context, auction model.Auction, expectedVersion int64) (model.Auction, error) {
	auction.Version = expectedVersion + 1
	doc, err := toAuctionDoc(auction)
	if err != nil {
		return model.Auction{}, err
	}

	res, err := r.auctions.ReplaceOne(ctx, bson.M{"_id": auction.AuctionID, "version": expectedVersion}, doc)
	if err != nil {
		return model.Auction{}, fmt.Errorf("update auction %s: %w", auction.AuctionID, err)
	}
	if res.MatchedCount == 0 {
		n, err := r.auctions.CountDocuments(ctx, bson.M{"_id": auction.AuctionID})
		if err != nil {
			return model.Auction{}, fmt.Errorf("update auction %s: %w", auction.AuctionID, err)
		}
		if n == 0 {
			return model.Auction{}, fmt.Errorf("update auction %s: %w", auction.AuctionID, auctionerrors.ErrNotFound)
		}
		return model.Auction{}, fmt.Errorf("update auction %s: expected version %d: %w",
			auction.AuctionID, expectedVersion, auctionerrors.ErrVersionConflict)
	}
	return auction, nil
}

func (r *MongoRepo) DeleteAuction(ctx context.Context, auctionID string) error {
	if _, err := r.bids.DeleteMany(ctx, bson.M{"auction_id": auctionID}); err != nil {
		return fmt.Errorf("delete bids for auction %s: %w", auctionID, err)
	}
	res, err := r.auctions.DeleteOne(ctx, bson.M{"_id": auctionID})
	if err != nil {
		return fmt.Errorf("delete auction %s: %w", auctionID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete auction %s: %w", auctionID, auctionerrors.ErrNotFound)
	}
	return nil
}

func (r *MongoRepo) RecordBid(ctx context.Context, bid model.Bid) error {
	n, err := r.auctions.CountDocuments(ctx, bson.M{"_id": bid.AuctionID})
	if err != nil {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, err)
	}
	if n == 0 {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, auctionerrors.ErrNotFound)
	}

	amount, err := primitive.ParseDecimal128(bid.Amount.String())
	if err != nil {
		return fmt.Errorf("record bid for auction %s: encode amount: %w", bid.AuctionID, err)
	}
	doc := bidDoc{
		ID:        bid.BidID,
		AuctionID: bid.AuctionID,
		BidderID:  bid.BidderID,
		Amount:    amount,
		CreatedAt: bid.CreatedAt,
	}
	if _, err := r.bids.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, err)
	}
	return nil
}

func (r *MongoRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	n, err := r.auctions.CountDocuments(ctx, bson.M{"_id": auctionID})
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, auctionerrors.ErrNotFound)
	}
	return r.findBids(ctx, bson.M{"auction_id": auctionID})
}

func (r *MongoRepo) GetBidsByBidder(ctx context.Context, bidderID string) ([]model.Bid, error) {
	return r.findBids(ctx, bson.M{"bidder_id": bidderID})
}

func (r *MongoRepo) findBids(ctx context.Context, filter bson.M) ([]model.Bid, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.bids.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find bids: %w", err)
	}
	defer cur.Close(ctx)

	out := []model.Bid{}
	for cur.Next(ctx) {
		var doc bidDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode bid: %w", err)
		}
		amount, err := decimal.NewFromString(doc.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("decode bid %s amount: %w", doc.ID, err)
		}
		out = append(out, model.Bid{
			BidID:     doc.ID,
			AuctionID: doc.AuctionID,
			BidderID:  doc.BidderID,
			Amount:    amount,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, cur.Err()
}

func (r *MongoRepo) GetUser(ctx context.Context, userID string) (model.User, error) {
	var doc userDoc
	if err := r.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.User{}, fmt.Errorf("get user %s: %w", userID, auctionerrors.ErrNotFound)
		}
		return model.User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return model.User{UserID: doc.ID, Username: doc.Username}, nil
}

func toAuctionDoc(a model.Auction) (auctionDoc, error) {
	startingBid, err := primitive.ParseDecimal128(a.StartingBid.String())
	if err != nil {
		return auctionDoc{}, fmt.Errorf("encode starting bid for auction %s: %w", a.AuctionID, err)
	}
	return auctionDoc{
		ID:          a.AuctionID,
		Title:       a.Title,
		Description: a.Description,
		ImageURL:    a.ImageURL,
		StartingBid: startingBid,
		OwnerID:     a.OwnerID,
		CreatedAt:   a.CreatedAt,
		Deadline:    a.Deadline,
		Closed:      a.Closed,
		Winner:      a.Winner,
		Version:     a.Version,
		UpdatedAt:   a.UpdatedAt,
	}, nil
}

func fromAuctionDoc(doc auctionDoc) (model.Auction, error) {
	startingBid, err := decimal.NewFromString(doc.StartingBid.String())
	if err != nil {
		return model.Auction{}, fmt.Errorf("decode starting bid for auction %s: %w", doc.ID, err)
	}
	return model.Auction{
		AuctionID:   doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		ImageURL:    doc.ImageURL,
		StartingBid: startingBid,
		OwnerID:     doc.OwnerID,
		CreatedAt:   doc.CreatedAt,
		Deadline:    doc.Deadline,
		Closed:      doc.Closed,
		Winner:      doc.Winner,
		Version:     doc.Version,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

// ConnectMongo opens a connection and returns the client. Caller should call client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		dctx, dcancel := context.WithTimeout(context.Background(), timeout)
		defer dcancel()
		_ = client.Disconnect(dctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}
