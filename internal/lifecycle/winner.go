package lifecycle

import (
	"fmt"

	"auction-engine/internal/auctionerrors"
	model "auction-engine/internal/models"
)

// ResolveWinner returns the winning bid: highest amount, then earliest
// timestamp, then smallest bid ID. The order is total, so any permutation of
// the same bids yields the same winner.
func ResolveWinner(bids []model.Bid) (model.Bid, error) {
	if len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("resolve winner: %w", auctionerrors.ErrNoBids)
	}

	winning := bids[0]
	for _, b := range bids[1:] {
		if outranks(b, winning) {
			winning = b
		}
	}
	return winning, nil
}

func outranks(a, b model.Bid) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.BidID < b.BidID
}
