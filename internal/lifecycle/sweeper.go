package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/utils"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSweepInterval    = 30 * time.Second
	DefaultSweepConcurrency = 8
)

var ErrSweeperStarted = errors.New("sweeper already started")

// OpenLister enumerates auctions with closed = false
type OpenLister interface {
	ListOpenAuctions(ctx context.Context) ([]model.Auction, error)
}

// Evaluator runs the closing decision for one auction
type Evaluator interface {
	Evaluate(ctx context.Context, auctionID string) (model.Auction, Outcome, error)
}

// TickReport summarizes one sweep
type TickReport struct {
	Evaluated int
	Changed   int
	Failed    int
}

// Sweeper periodically evaluates every open auction. It is owned by the
// process: Start launches it once and Stop cancels it and waits for the
// running tick to finish.
type Sweeper struct {
	lister      OpenLister
	eval        Evaluator
	interval    time.Duration
	concurrency int
	evalTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SweeperOption customizes a Sweeper
type SweeperOption func(*Sweeper)

// WithConcurrency bounds how many auctions one tick evaluates at once
func WithConcurrency(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithEvalTimeout bounds a single auction evaluation. Zero means no bound.
func WithEvalTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.evalTimeout = d }
}

func NewSweeper(lister OpenLister, eval Evaluator, interval time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		lister:      lister,
		eval:        eval,
		interval:    interval,
		concurrency: DefaultSweepConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweep loop in the background until ctx is done or Stop is called
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrSweeperStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run sweeps once immediately and then on every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	utils.Info("sweeper: started", map[string]any{
		"interval":    s.interval.String(),
		"concurrency": s.concurrency,
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			utils.Info("sweeper: stopped", nil)
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every open auction once. Evaluations are independent: one
// failing or panicking auction is logged and counted, the rest still run.
func (s *Sweeper) Tick(ctx context.Context) TickReport {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	auctions, err := s.lister.ListOpenAuctions(ctx)
	if err != nil {
		metrics.SweepErrors.Inc()
		utils.Error("sweeper: failed to list open auctions", map[string]any{"error": err.Error()})
		return TickReport{Failed: 1}
	}

	var changed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, a := range auctions {
		auctionID := a.AuctionID
		g.Go(func() error {
			ok, err := s.evaluateOne(ctx, auctionID)
			if err != nil {
				failed.Add(1)
				metrics.SweepErrors.Inc()
				utils.Error("sweeper: evaluation failed", map[string]any{
					"auction_id": auctionID,
					"error":      err.Error(),
				})
				return nil
			}
			if ok {
				changed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.SweepTicks.Inc()
	report := TickReport{
		Evaluated: len(auctions),
		Changed:   int(changed.Load()),
		Failed:    int(failed.Load()),
	}
	utils.Debug("sweeper: tick complete", map[string]any{
		"evaluated": report.Evaluated,
		"changed":   report.Changed,
		"failed":    report.Failed,
		"took":      time.Since(start).String(),
	})
	return report
}

func (s *Sweeper) evaluateOne(ctx context.Context, auctionID string) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating auction %s: %v", auctionID, r)
		}
	}()

	if s.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.evalTimeout)
		defer cancel()
	}

	_, out, err := s.eval.Evaluate(ctx, auctionID)
	if err != nil {
		return false, err
	}
	return out.Changed, nil
}
