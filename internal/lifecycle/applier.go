package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/utils"
)

// DefaultDuration is the length of one auction round
const DefaultDuration = 5 * time.Minute

const maxAttempts = 3

// Store is the part of the record store the applier needs
type Store interface {
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	UpdateAuction(ctx context.Context, auction model.Auction, expectedVersion int64) (model.Auction, error)
}

// Outcome reports what Apply or Evaluate did
type Outcome struct {
	Kind    Kind
	Changed bool
}

// Applier is the only writer of an auction's closed and winner fields.
// Every write is conditional on the version of the snapshot it was decided
// from, so two closers racing on one auction produce exactly one write.
type Applier struct {
	store    Store
	notifier notify.Notifier
	duration time.Duration
	now      func() time.Time
}

// ApplierOption customizes an Applier
type ApplierOption func(*Applier)

// WithClock replaces time.Now
func WithClock(now func() time.Time) ApplierOption {
	return func(a *Applier) { a.now = now }
}

// WithNotifier sets the sink for state change events
func WithNotifier(n notify.Notifier) ApplierOption {
	return func(a *Applier) { a.notifier = n }
}

// NewApplier creates an Applier. A non-positive duration uses DefaultDuration.
func NewApplier(store Store, duration time.Duration, opts ...ApplierOption) *Applier {
	if duration <= 0 {
		duration = DefaultDuration
	}
	a := &Applier{
		store:    store,
		notifier: notify.LogNotifier{},
		duration: duration,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Duration returns the round length used for reopen and legacy deadlines
func (ap *Applier) Duration() time.Duration {
	return ap.duration
}

// Apply writes decision d, computed from snapshot, to the store. If the stored
// record moved past snapshot.Version the write is dropped and the error wraps
// auctionerrors.ErrAlreadyClosing.
func (ap *Applier) Apply(ctx context.Context, snapshot model.Auction, d Decision) (model.Auction, Outcome, error) {
	if d.Kind == StayOpen {
		return snapshot, Outcome{Kind: StayOpen}, nil
	}
	if snapshot.Closed {
		return snapshot, Outcome{Kind: d.Kind}, fmt.Errorf("apply %s to auction %s: %w", d.Kind, snapshot.AuctionID, auctionerrors.ErrAlreadyClosing)
	}

	now := ap.now()
	next := snapshot
	next.UpdatedAt = now

	switch d.Kind {
	case CloseWithWinner:
		if d.Winner == nil {
			return snapshot, Outcome{Kind: d.Kind}, fmt.Errorf("apply %s to auction %s: %w - missing winning bid",
				d.Kind, snapshot.AuctionID, auctionerrors.ErrInvalidInput)
		}
		bidder := d.Winner.BidderID
		next.Closed = true
		next.Winner = &bidder
	case CloseNoWinner:
		// a new round, not a reversal of a real close
		next.CreatedAt = now
		next.Deadline = now.Add(ap.duration)
		next.Closed = false
		next.Winner = nil
	case CloseEmpty:
		next.Closed = true
		next.Winner = nil
	default:
		return snapshot, Outcome{Kind: d.Kind}, fmt.Errorf("apply decision %d to auction %s: %w", d.Kind, snapshot.AuctionID, auctionerrors.ErrInvalidInput)
	}

	stored, err := ap.store.UpdateAuction(ctx, next, snapshot.Version)
	if err != nil {
		if errors.Is(err, auctionerrors.ErrVersionConflict) {
			metrics.CloseConflicts.Inc()
			return snapshot, Outcome{Kind: d.Kind}, fmt.Errorf("apply %s to auction %s: %w", d.Kind, snapshot.AuctionID, auctionerrors.ErrAlreadyClosing)
		}
		return snapshot, Outcome{Kind: d.Kind}, fmt.Errorf("apply %s to auction %s: %w", d.Kind, snapshot.AuctionID, err)
	}

	metrics.Transitions.WithLabelValues(d.Kind.String()).Inc()
	ap.emit(ctx, stored, d)
	return stored, Outcome{Kind: d.Kind, Changed: true}, nil
}

// Evaluate runs the closing decision for one auction against fresh state and
// applies it. A lost race is re-read and decided again; once the auction is
// closed by someone else the re-decision is StayOpen and nothing is written.
// If every attempt loses, the error wraps auctionerrors.ErrVersionConflict and
// no record is returned, since the last read is open past its deadline.
func (ap *Applier) Evaluate(ctx context.Context, auctionID string) (model.Auction, Outcome, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		a, err := ap.store.GetAuction(ctx, auctionID)
		if err != nil {
			return model.Auction{}, Outcome{}, fmt.Errorf("evaluate auction %s: %w", auctionID, err)
		}
		a = WithDeadline(a, ap.duration)

		now := ap.now()
		if !Due(a, now) {
			return a, Outcome{Kind: StayOpen}, nil
		}

		bids, err := ap.store.GetBidsByAuction(ctx, auctionID)
		if err != nil {
			return model.Auction{}, Outcome{}, fmt.Errorf("evaluate auction %s: %w", auctionID, err)
		}

		updated, out, err := ap.Apply(ctx, a, Decide(a, bids, now))
		if errors.Is(err, auctionerrors.ErrAlreadyClosing) {
			utils.Debug("lifecycle: lost close race, re-reading", map[string]any{
				"auction_id": auctionID,
				"attempt":    attempt,
			})
			continue
		}
		if err != nil {
			return model.Auction{}, Outcome{}, err
		}
		return updated, out, nil
	}

	utils.Warn("lifecycle: giving up after repeated write conflicts", map[string]any{
		"auction_id": auctionID,
		"attempts":   maxAttempts,
	})
	return model.Auction{}, Outcome{}, fmt.Errorf("evaluate auction %s: %w", auctionID, auctionerrors.ErrVersionConflict)
}

// ForceClose closes an auction now regardless of its deadline. With bids it
// records the resolved winner; without bids it closes empty and does not reopen.
func (ap *Applier) ForceClose(ctx context.Context, auctionID string) (model.Auction, Outcome, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		a, err := ap.store.GetAuction(ctx, auctionID)
		if err != nil {
			return model.Auction{}, Outcome{}, fmt.Errorf("force close auction %s: %w", auctionID, err)
		}
		a = WithDeadline(a, ap.duration)
		if a.Closed {
			return a, Outcome{Kind: StayOpen}, nil
		}

		bids, err := ap.store.GetBidsByAuction(ctx, auctionID)
		if err != nil {
			return model.Auction{}, Outcome{}, fmt.Errorf("force close auction %s: %w", auctionID, err)
		}

		d := Decision{Kind: CloseEmpty}
		if winner, err := ResolveWinner(bids); err == nil {
			d = Decision{Kind: CloseWithWinner, Winner: &winner}
		}

		updated, out, err := ap.Apply(ctx, a, d)
		if errors.Is(err, auctionerrors.ErrAlreadyClosing) {
			continue
		}
		if err != nil {
			return model.Auction{}, Outcome{}, err
		}
		return updated, out, nil
	}
	return model.Auction{}, Outcome{}, fmt.Errorf("force close auction %s: %w", auctionID, auctionerrors.ErrVersionConflict)
}

func (ap *Applier) emit(ctx context.Context, a model.Auction, d Decision) {
	ev := notify.Event{AuctionID: a.AuctionID, At: a.UpdatedAt}
	fields := map[string]any{"auction_id": a.AuctionID, "kind": d.Kind.String()}

	switch d.Kind {
	case CloseWithWinner:
		ev.Type = notify.EventAuctionClosed
		ev.WinnerID = d.Winner.BidderID
		fields["winner_id"] = ev.WinnerID
		fields["winning_bid_id"] = d.Winner.BidID
		fields["amount"] = d.Winner.Amount.String()
	case CloseEmpty:
		ev.Type = notify.EventAuctionClosed
	case CloseNoWinner:
		deadline := a.Deadline
		ev.Type = notify.EventAuctionReopened
		ev.NewDeadline = &deadline
		fields["deadline"] = deadline.Format(time.RFC3339)
	}

	utils.Info("lifecycle: auction state changed", fields)
	ap.notifier.Notify(ctx, ev)
}
