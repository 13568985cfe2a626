package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	auction "auction-engine/internal/auctionService"
	"auction-engine/internal/auth"
	"auction-engine/internal/config"
	"auction-engine/internal/lifecycle"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/internal/storage"
	"auction-engine/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load configuration", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)

	repo, ready, closeStore := openStore(ctx, cfg)
	defer closeStore()

	notifier, closeNotifier := openNotifier(ctx, cfg)
	defer closeNotifier()

	applier := lifecycle.NewApplier(repo, cfg.Auction.Duration, lifecycle.WithNotifier(notifier))

	svcOpts := []auction.Option{auction.WithNotifier(notifier)}
	if cfg.MinIO.Endpoint != "" {
		images, err := storage.NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			utils.Fatal("failed to initialise image storage", map[string]any{"endpoint": cfg.MinIO.Endpoint, "error": err.Error()})
		}
		svcOpts = append(svcOpts, auction.WithImageStore(images))
		utils.Info("image uploads enabled", map[string]any{"bucket": cfg.MinIO.Bucket})
	}
	auctionSvc := auction.NewAuctionService(repo, applier, svcOpts...)

	sweeper := lifecycle.NewSweeper(repo, applier, cfg.Auction.SweepInterval,
		lifecycle.WithConcurrency(cfg.Auction.SweepConcurrency),
		lifecycle.WithEvalTimeout(cfg.Auction.SweepEvalTimeout),
	)
	if err := sweeper.Start(ctx); err != nil {
		utils.Fatal("failed to start sweeper", map[string]any{"error": err.Error()})
	}

	if cfg.AdminKey == "" {
		utils.Warn("ADMIN_API_KEY not set; admin routes disabled", nil)
	}
	router := server.SetupRouter(server.Deps{
		Service:     auctionSvc,
		Verifier:    auth.NewHMACVerifier(cfg.JWT.Secret),
		AdminKey:    cfg.AdminKey,
		RateLimiter: server.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:       ready,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Info("starting auction server", map[string]any{
			"addr":           srv.Addr,
			"duration":       cfg.Auction.Duration.String(),
			"sweep_interval": cfg.Auction.SweepInterval.String(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Fatal("failed to start server", map[string]any{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	utils.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Auction.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("http server shutdown failed", map[string]any{"error": err.Error()})
	}
	sweeper.Stop()
}

// openStore connects to MongoDB when MONGODB_URI is set and otherwise falls
// back to a seeded in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (repository.AuctionDB, server.ReadinessCheck, func()) {
	if cfg.MongoDB.URI == "" {
		repo := repository.NewMemoryRepo()
		prepopulate(repo, cfg.Auction.Duration)
		utils.Warn("MONGODB_URI not set; using in-memory store", nil)
		return repo, nil, func() {}
	}

	client, err := repository.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
	if err != nil {
		utils.Fatal("failed to connect to mongodb", map[string]any{"error": err.Error()})
	}
	repo, err := repository.NewMongoRepo(ctx, client.Database(cfg.MongoDB.Database))
	if err != nil {
		utils.Fatal("failed to prepare mongodb collections", map[string]any{"error": err.Error()})
	}
	utils.Info("connected to mongodb", map[string]any{"database": cfg.MongoDB.Database})

	ready := func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			utils.Warn("mongodb disconnect failed", map[string]any{"error": err.Error()})
		}
	}
	return repo, ready, closeFn
}

// openNotifier always logs events and additionally publishes them to Redis
// when REDIS_ADDR is set.
func openNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, func()) {
	if cfg.Redis.Addr == "" {
		return notify.LogNotifier{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// events are best effort; keep running and let publishes fail
		utils.Warn("redis unreachable at startup", map[string]any{"addr": cfg.Redis.Addr, "error": err.Error()})
	}
	pub := notify.NewRedisPublisher(client, cfg.Redis.Channel)
	utils.Info("publishing auction events to redis", map[string]any{"channel": pub.Channel()})

	return notify.Multi{notify.LogNotifier{}, pub}, func() { _ = client.Close() }
}

// prepopulate adds sample users and auctions to the in-memory repo
func prepopulate(repo *repository.MemoryRepo, duration time.Duration) {
	ctx := context.Background()
	now := time.Now().UTC()

	users := []model.User{
		{UserID: "user1", Username: "alice"},
		{UserID: "user2", Username: "bob"},
		{UserID: "user3", Username: "carol"},
	}
	for _, u := range users {
		repo.AddUser(u)
	}

	auctions := []model.Auction{
		{AuctionID: "auction1", Title: "Vintage camera", Description: "35mm rangefinder", StartingBid: decimal.NewFromInt(100), OwnerID: "user1"},
		{AuctionID: "auction2", Title: "Oak desk", Description: "Solid oak writing desk", StartingBid: decimal.NewFromInt(200), OwnerID: "user2"},
		{AuctionID: "auction3", Title: "Road bike", Description: "Steel frame, 56cm", StartingBid: decimal.NewFromInt(150), OwnerID: "user3"},
	}
	for _, a := range auctions {
		a.ImageURL = "https://placehold.co/600x400?text=" + a.AuctionID
		a.CreatedAt = now
		a.Deadline = now.Add(duration)
		a.UpdatedAt = now
		if err := repo.CreateAuction(ctx, a); err != nil {
			utils.Warn("failed to seed auction", map[string]any{"auction_id": a.AuctionID, "error": err.Error()})
		}
	}
}
