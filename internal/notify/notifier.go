package notify

import (
	"context"
	"time"

	"auction-engine/utils"
)

// EventType names an observable auction state change
type EventType string

const (
	EventBidPlaced       EventType = "bid-placed"
	EventAuctionClosed   EventType = "auction-closed"
	EventAuctionReopened EventType = "auction-reopened"
)

// Event is published to connected observers so they can refresh without polling
type Event struct {
	Type        EventType  `json:"type"`
	AuctionID   string     `json:"auctionId"`
	NewDeadline *time.Time `json:"newDeadline,omitempty"`
	WinnerID    string     `json:"winnerId,omitempty"`
	At          time.Time  `json:"at"`
}

// Notifier delivers events best-effort. Implementations never return delivery
// errors to the caller; a lost event is logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// LogNotifier writes events to the structured log only
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) {
	fields := map[string]any{
		"type":       string(ev.Type),
		"auction_id": ev.AuctionID,
	}
	if ev.NewDeadline != nil {
		fields["new_deadline"] = ev.NewDeadline.UTC().Format(time.RFC3339)
	}
	if ev.WinnerID != "" {
		fields["winner_id"] = ev.WinnerID
	}
	utils.Info("auction event", fields)
}

// Multi fans an event out to several notifiers in order
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
