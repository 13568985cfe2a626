package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/auctionerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type fixture struct {
	repo     *repository.MemoryRepo
	clock    *fakeClock
	notifier *recordingNotifier
	applier  *Applier
}

func newFixture(t *testing.T, bids ...model.Bid) fixture {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewMemoryRepo()
	require.NoError(t, repo.CreateAuction(ctx, openAuction()))
	for _, b := range bids {
		require.NoError(t, repo.RecordBid(ctx, b))
	}

	clock := &fakeClock{now: t0}
	rec := &recordingNotifier{}
	return fixture{
		repo:     repo,
		clock:    clock,
		notifier: rec,
		applier:  NewApplier(repo, DefaultDuration, WithClock(clock.Now), WithNotifier(rec)),
	}
}

func TestApplier_Evaluate_TieBreakScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		bidAt("bid-a", "bidder-a", 50, 60*time.Second),
		bidAt("bid-b", "bidder-b", 50, 90*time.Second),
	)
	f.clock.Set(t0.Add(5*time.Minute + time.Second))

	got, out, err := f.applier.Evaluate(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, CloseWithWinner, out.Kind)
	require.True(t, got.Closed)
	require.NotNil(t, got.Winner)
	require.Equal(t, "bidder-a", *got.Winner)
	require.Equal(t, int64(2), got.Version)

	stored, err := f.repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, stored.Closed)
	require.Equal(t, "bidder-a", *stored.Winner)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, notify.EventAuctionClosed, events[0].Type)
	require.Equal(t, "bidder-a", events[0].WinnerID)
}

func TestApplier_Evaluate_ZeroBidsReopens(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	now := t0.Add(5*time.Minute + time.Second)
	f.clock.Set(now)
	previous := openAuction().Deadline

	got, out, err := f.applier.Evaluate(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, CloseNoWinner, out.Kind)

	require.False(t, got.Closed)
	require.Nil(t, got.Winner)
	require.Equal(t, now, got.CreatedAt)
	require.Equal(t, now.Add(DefaultDuration), got.Deadline)
	require.True(t, got.Deadline.After(previous))

	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, notify.EventAuctionReopened, events[0].Type)
	require.NotNil(t, events[0].NewDeadline)
	require.Equal(t, now.Add(DefaultDuration), *events[0].NewDeadline)

	// the new round is not due yet
	_, out, err = f.applier.Evaluate(context.Background(), "a1")
	require.NoError(t, err)
	require.False(t, out.Changed)
	require.Len(t, f.notifier.Events(), 1)
}

func TestApplier_Evaluate_BeforeDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, bidAt("b1", "alice", 60, time.Second))
	f.clock.Set(t0.Add(4 * time.Minute))

	got, out, err := f.applier.Evaluate(context.Background(), "a1")
	require.NoError(t, err)
	require.False(t, out.Changed)
	require.Equal(t, StayOpen, out.Kind)
	require.False(t, got.Closed)
	require.Nil(t, got.Winner)
	require.Empty(t, f.notifier.Events())
}

func TestApplier_Evaluate_LegacyDeadline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	legacy := openAuction()
	legacy.Deadline = time.Time{}
	require.NoError(t, repo.CreateAuction(ctx, legacy))

	clock := &fakeClock{now: t0.Add(time.Minute)}
	ap := NewApplier(repo, DefaultDuration, WithClock(clock.Now), WithNotifier(&recordingNotifier{}))

	got, _, err := ap.Evaluate(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, t0.Add(DefaultDuration), got.Deadline)
	require.False(t, got.Closed)
}

func TestApplier_Evaluate_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, _, err := f.applier.Evaluate(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrNotFound))
}

func TestApplier_Evaluate_StoreErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := repository.NewMockAuctionDB(ctrl)
	clock := &fakeClock{now: t0.Add(time.Hour)}
	ap := NewApplier(mockRepo, DefaultDuration, WithClock(clock.Now), WithNotifier(&recordingNotifier{}))

	mockRepo.EXPECT().GetAuction(gomock.Any(), "a1").Return(openAuction(), nil)
	mockRepo.EXPECT().GetBidsByAuction(gomock.Any(), "a1").Return(nil, errors.New("connection reset"))

	_, _, err := ap.Evaluate(context.Background(), "a1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}

// conflictingStore loses every conditional write
type conflictingStore struct {
	*repository.MemoryRepo
	writes int
}

func (s *conflictingStore) UpdateAuction(context.Context, model.Auction, int64) (model.Auction, error) {
	s.writes++
	return model.Auction{}, auctionerrors.ErrVersionConflict
}

func TestApplier_Evaluate_PersistentConflictReturnsError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, bidAt("b1", "alice", 60, time.Second))
	store := &conflictingStore{MemoryRepo: f.repo}
	clock := &fakeClock{now: t0.Add(5*time.Minute + time.Second)}
	rec := &recordingNotifier{}
	ap := NewApplier(store, DefaultDuration, WithClock(clock.Now), WithNotifier(rec))

	got, out, err := ap.Evaluate(context.Background(), "a1")
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrVersionConflict))
	require.Empty(t, got.AuctionID)
	require.False(t, out.Changed)
	require.Equal(t, maxAttempts, store.writes)
	require.Empty(t, rec.Events())
}

func TestApplier_Apply_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, bidAt("b1", "alice", 70, time.Second), bidAt("b2", "bob", 60, 2*time.Second))
	f.clock.Set(t0.Add(6 * time.Minute))

	snapshot, err := f.repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	bids, err := f.repo.GetBidsByAuction(ctx, "a1")
	require.NoError(t, err)
	d := Decide(snapshot, bids, f.clock.Now())
	require.Equal(t, CloseWithWinner, d.Kind)

	_, out, err := f.applier.Apply(ctx, snapshot, d)
	require.NoError(t, err)
	require.True(t, out.Changed)
	once, err := f.repo.GetAuction(ctx, "a1")
	require.NoError(t, err)

	_, out, err = f.applier.Apply(ctx, snapshot, d)
	require.True(t, errors.Is(err, auctionerrors.ErrAlreadyClosing))
	require.False(t, out.Changed)
	twice, err := f.repo.GetAuction(ctx, "a1")
	require.NoError(t, err)

	require.Equal(t, once.Closed, twice.Closed)
	require.Equal(t, *once.Winner, *twice.Winner)
	require.Equal(t, once.Version, twice.Version)
	require.Equal(t, once.UpdatedAt, twice.UpdatedAt)
	require.Len(t, f.notifier.Events(), 1)
}

func TestApplier_Apply_StayOpenIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	snapshot := openAuction()

	got, out, err := f.applier.Apply(context.Background(), snapshot, Decision{Kind: StayOpen})
	require.NoError(t, err)
	require.False(t, out.Changed)
	require.Equal(t, snapshot.Version, got.Version)
}

func TestApplier_Apply_RejectsClosedSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	snapshot := openAuction()
	snapshot.Closed = true
	bid := bidAt("b1", "alice", 60, time.Second)

	_, out, err := f.applier.Apply(context.Background(), snapshot, Decision{Kind: CloseWithWinner, Winner: &bid})
	require.True(t, errors.Is(err, auctionerrors.ErrAlreadyClosing))
	require.False(t, out.Changed)
}

func TestApplier_ConcurrentClosersFirstWriterWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, bidAt("b1", "alice", 60, time.Second))
	f.clock.Set(t0.Add(5*time.Minute + time.Second))

	// both closers snapshot the same version
	snapshot, err := f.repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	firstBids, err := f.repo.GetBidsByAuction(ctx, "a1")
	require.NoError(t, err)

	// a late bid lands before the second closer reads bids
	require.NoError(t, f.repo.RecordBid(ctx, bidAt("b2", "bob", 90, 5*time.Minute)))
	secondBids, err := f.repo.GetBidsByAuction(ctx, "a1")
	require.NoError(t, err)

	first := Decide(snapshot, firstBids, f.clock.Now())
	second := Decide(snapshot, secondBids, f.clock.Now())
	require.Equal(t, "alice", first.Winner.BidderID)
	require.Equal(t, "bob", second.Winner.BidderID)

	_, out, err := f.applier.Apply(ctx, snapshot, first)
	require.NoError(t, err)
	require.True(t, out.Changed)

	_, out, err = f.applier.Apply(ctx, snapshot, second)
	require.True(t, errors.Is(err, auctionerrors.ErrAlreadyClosing))
	require.False(t, out.Changed)

	final, err := f.repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.True(t, final.Closed)
	require.Equal(t, "alice", *final.Winner)
}

func TestApplier_ConcurrentEvaluateSingleTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t, bidAt("b1", "alice", 60, time.Second), bidAt("b2", "bob", 55, 2*time.Second))
	f.clock.Set(t0.Add(10 * time.Minute))

	var wg sync.WaitGroup
	var mu sync.Mutex
	changed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, out, err := f.applier.Evaluate(context.Background(), "a1")
			require.NoError(t, err)
			require.True(t, got.Closed)
			require.Equal(t, "alice", *got.Winner)
			if out.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, changed)
	require.Len(t, f.notifier.Events(), 1)
}

func TestApplier_ConcurrentReopenSingleTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.clock.Set(t0.Add(10 * time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := f.applier.Evaluate(context.Background(), "a1")
			require.NoError(t, err)
			require.False(t, got.Closed)
		}()
	}
	wg.Wait()

	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, notify.EventAuctionReopened, events[0].Type)
}

func TestApplier_WinnerIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, bidAt("b1", "alice", 60, time.Second))
	f.clock.Set(t0.Add(6 * time.Minute))

	_, out, err := f.applier.Evaluate(ctx, "a1")
	require.NoError(t, err)
	require.True(t, out.Changed)

	// a higher bid slips in after the close; later evaluations ignore it
	require.NoError(t, f.repo.RecordBid(ctx, bidAt("b2", "bob", 500, 6*time.Minute)))
	for i := 1; i <= 3; i++ {
		f.clock.Set(t0.Add(time.Duration(6+i) * time.Minute))
		got, out, err := f.applier.Evaluate(ctx, "a1")
		require.NoError(t, err)
		require.False(t, out.Changed)
		require.Equal(t, "alice", *got.Winner)
	}
}

func TestApplier_BidDuringCloseIsNotConsidered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, bidAt("b1", "alice", 60, time.Second))
	f.clock.Set(t0.Add(5*time.Minute + time.Second))

	snapshot, err := f.repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	bids, err := f.repo.GetBidsByAuction(ctx, "a1")
	require.NoError(t, err)
	d := Decide(snapshot, bids, f.clock.Now())

	// accepted between the bid snapshot and the close write
	require.NoError(t, f.repo.RecordBid(ctx, bidAt("late", "bob", 1000, 5*time.Minute)))

	got, _, err := f.applier.Apply(ctx, snapshot, d)
	require.NoError(t, err)
	require.True(t, got.Closed)
	require.Equal(t, "alice", *got.Winner)

	persisted, err := f.repo.GetBidsByAuction(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, persisted, 2)
}

func TestApplier_ForceClose(t *testing.T) {
	t.Parallel()

	t.Run("with_bids_ignores_deadline", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, bidAt("b1", "alice", 60, time.Second), bidAt("b2", "bob", 80, 2*time.Second))
		f.clock.Set(t0.Add(time.Minute))

		got, out, err := f.applier.ForceClose(context.Background(), "a1")
		require.NoError(t, err)
		require.True(t, out.Changed)
		require.Equal(t, CloseWithWinner, out.Kind)
		require.True(t, got.Closed)
		require.Equal(t, "bob", *got.Winner)
	})

	t.Run("without_bids_does_not_reopen", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.clock.Set(t0.Add(time.Minute))

		got, out, err := f.applier.ForceClose(context.Background(), "a1")
		require.NoError(t, err)
		require.Equal(t, CloseEmpty, out.Kind)
		require.True(t, got.Closed)
		require.Nil(t, got.Winner)

		events := f.notifier.Events()
		require.Len(t, events, 1)
		require.Equal(t, notify.EventAuctionClosed, events[0].Type)
		require.Empty(t, events[0].WinnerID)

		// a closed auction is left alone by later sweeps
		f.clock.Set(t0.Add(time.Hour))
		again, out, err := f.applier.Evaluate(context.Background(), "a1")
		require.NoError(t, err)
		require.False(t, out.Changed)
		require.True(t, again.Closed)
	})

	t.Run("already_closed_is_unchanged", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, bidAt("b1", "alice", 60, time.Second))
		f.clock.Set(t0.Add(6 * time.Minute))
		_, _, err := f.applier.Evaluate(context.Background(), "a1")
		require.NoError(t, err)

		got, out, err := f.applier.ForceClose(context.Background(), "a1")
		require.NoError(t, err)
		require.False(t, out.Changed)
		require.Equal(t, "alice", *got.Winner)
	})
}
