package lifecycle

import (
	"time"

	model "auction-engine/internal/models"
)

// Kind is the state transition a Decision asks for
type Kind int

const (
	StayOpen Kind = iota
	CloseWithWinner
	// CloseNoWinner restarts the round: a deadline passed with zero bids.
	CloseNoWinner
	// CloseEmpty closes without a winner and without reopening. Only
	// ForceClose produces it.
	CloseEmpty
)

func (k Kind) String() string {
	switch k {
	case StayOpen:
		return "stay_open"
	case CloseWithWinner:
		return "close_with_winner"
	case CloseNoWinner:
		return "reopen"
	case CloseEmpty:
		return "close_empty"
	default:
		return "unknown"
	}
}

// Decision is the output of Decide. Winner is set only for CloseWithWinner.
type Decision struct {
	Kind   Kind
	Winner *model.Bid
}

// Due reports whether an auction is open and at or past its deadline
func Due(a model.Auction, now time.Time) bool {
	return !a.Closed && !now.Before(a.Deadline)
}

// Decide maps an auction snapshot, its bids and the current time to a
// transition. It reads and writes nothing.
func Decide(a model.Auction, bids []model.Bid, now time.Time) Decision {
	if !Due(a, now) {
		return Decision{Kind: StayOpen}
	}
	winner, err := ResolveWinner(bids)
	if err != nil {
		return Decision{Kind: CloseNoWinner}
	}
	return Decision{Kind: CloseWithWinner, Winner: &winner}
}

// WithDeadline fills a missing deadline from the creation time. A stored
// deadline is never recomputed.
func WithDeadline(a model.Auction, duration time.Duration) model.Auction {
	if a.Deadline.IsZero() {
		a.Deadline = a.CreatedAt.Add(duration)
	}
	return a
}
