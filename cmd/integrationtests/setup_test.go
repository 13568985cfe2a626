package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	auction "auction-engine/internal/auctionService"
	"auction-engine/internal/auth"
	"auction-engine/internal/lifecycle"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret = "integration-secret"
	adminKey  = "integration-admin"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Env is a full in-process stack: memory store, lifecycle engine, HTTP
// router and a Redis publisher backed by miniredis.
type Env struct {
	Router  *gin.Engine
	Repo    *repository.MemoryRepo
	Clock   *clock
	Sweeper *lifecycle.Sweeper
	Redis   *redis.Client
	Channel string
}

// SetupTestEnv initializes the router with an in-memory repository for integration testing.
func SetupTestEnv(t *testing.T, users ...model.User) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	pub := notify.NewRedisPublisher(rdb, "")

	repo := repository.NewMemoryRepo()
	for _, u := range users {
		repo.AddUser(u)
	}

	clk := &clock{now: start}
	applier := lifecycle.NewApplier(repo, lifecycle.DefaultDuration,
		lifecycle.WithClock(clk.Now),
		lifecycle.WithNotifier(pub),
	)
	svc := auction.NewAuctionService(repo, applier, auction.WithClock(clk.Now), auction.WithNotifier(pub))

	router := server.SetupRouter(server.Deps{
		Service:  svc,
		Verifier: auth.NewHMACVerifier(jwtSecret),
		AdminKey: adminKey,
	})

	return &Env{
		Router:  router,
		Repo:    repo,
		Clock:   clk,
		Sweeper: lifecycle.NewSweeper(repo, applier, time.Hour),
		Redis:   rdb,
		Channel: pub.Channel(),
	}
}

// Token returns a bearer header value for userID
func Token(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken(jwtSecret, userID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

// Do executes an HTTP request and parses the JSON envelope. Empty userID sends no token.
func (e *Env) Do(t *testing.T, method, url, userID string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", Token(t, userID))
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return resp, w
}

// Data returns the data object of a successful envelope
func Data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", resp)
	return data
}

// CreateAuction creates an auction through the API and returns its ID
func (e *Env) CreateAuction(t *testing.T, ownerID, startingBid string) string {
	t.Helper()
	resp, w := e.Do(t, "POST", "/auctions", ownerID, map[string]any{
		"title":        "Camera",
		"description":  "35mm rangefinder",
		"starting_bid": startingBid,
		"image_url":    "http://img.local/camera.png",
	})
	require.Equal(t, 201, w.Code, "create auction: %v", resp)
	return Data(t, resp)["auction_id"].(string)
}

// DoAdmin executes a request carrying the admin key
func (e *Env) DoAdmin(t *testing.T, method, url string) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	req.Header.Set(server.AdminKeyHeader, adminKey)
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp, w
}
