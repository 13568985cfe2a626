package perftests

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auction "auction-engine/internal/auctionService"
	"auction-engine/internal/lifecycle"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"

	"github.com/shopspring/decimal"
)

// discard keeps event logging out of the measurements
type discard struct{}

func (discard) Notify(context.Context, notify.Event) {}

// stepClock moves forward a fixed step every time it is read, so long
// benchmarks cross auction deadlines without sleeping.
type stepClock struct {
	start time.Time
	step  time.Duration
	reads atomic.Int64
}

func (c *stepClock) Now() time.Time {
	return c.start.Add(time.Duration(c.reads.Add(1)) * c.step)
}

type stack struct {
	repo    *repository.MemoryRepo
	applier *lifecycle.Applier
	svc     *auction.AuctionService
}

func newStack(b *testing.B, now func() time.Time, numAuctions int) stack {
	b.Helper()
	repo := repository.NewMemoryRepo()
	applier := lifecycle.NewApplier(repo, lifecycle.DefaultDuration, lifecycle.WithClock(now), lifecycle.WithNotifier(discard{}))
	svc := auction.NewAuctionService(repo, applier, auction.WithClock(now), auction.WithNotifier(discard{}))

	created := now()
	for i := 0; i < numAuctions; i++ {
		a := model.Auction{
			AuctionID:   fmt.Sprintf("auction_%d", i),
			Title:       fmt.Sprintf("title_%d", i),
			Description: "Load test auction",
			StartingBid: decimal.NewFromInt(100),
			OwnerID:     "owner",
			CreatedAt:   created,
			Deadline:    created.Add(lifecycle.DefaultDuration),
		}
		if err := repo.CreateAuction(context.Background(), a); err != nil {
			b.Fatalf("seed auction: %v", err)
		}
	}
	return stack{repo: repo, applier: applier, svc: svc}
}

// OperationMetrics collects latencies safely
type OperationMetrics struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (min, max, avg, p95, p99 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	min = latencies[0]
	max = latencies[len(latencies)-1]

	var total time.Duration
	for _, d := range latencies {
		total += d
	}
	avg = total / time.Duration(len(latencies))
	p95 = latencies[int(0.95*float64(len(latencies)))]
	p99 = latencies[int(0.99*float64(len(latencies)))]
	return
}
