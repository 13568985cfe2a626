package integrationtests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"auction-engine/internal/lifecycle"
	model "auction-engine/internal/models"
	"auction-engine/internal/notify"

	"github.com/stretchr/testify/require"
)

func bid(t *testing.T, env *Env, auctionID, bidderID string, amount any) (map[string]any, int) {
	t.Helper()
	resp, w := env.Do(t, http.MethodPost, "/auctions/"+auctionID+"/bids", bidderID, map[string]any{"amount": amount})
	return resp, w.Code
}

func TestAuctionLifecycle_EqualBidsEarliestWins(t *testing.T) {
	env := SetupTestEnv(t, model.User{UserID: "alice", Username: "Alice"}, model.User{UserID: "bob", Username: "Bob"})
	id := env.CreateAuction(t, "owner", "10")

	env.Clock.Advance(60 * time.Second)
	_, code := bid(t, env, id, "alice", 50)
	require.Equal(t, http.StatusCreated, code)

	env.Clock.Advance(30 * time.Second)
	_, code = bid(t, env, id, "bob", 50)
	require.Equal(t, http.StatusCreated, code)

	resp, w := env.Do(t, http.MethodGet, "/auctions/"+id+"/winner", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "not_ended", Data(t, resp)["status"])

	env.Clock.Advance(5*time.Minute + time.Second - 90*time.Second)

	resp, w = env.Do(t, http.MethodGet, "/auctions/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := Data(t, resp)
	require.Equal(t, true, data["closed"])
	require.Equal(t, "alice", data["winner"])

	resp, w = env.Do(t, http.MethodGet, "/auctions/"+id+"/winner", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	winner := Data(t, resp)
	require.Equal(t, "winner", winner["status"])
	require.Equal(t, "Alice", winner["winner_name"])
	require.Equal(t, "50", winner["amount"])

	_, code = bid(t, env, id, "bob", 500)
	require.Equal(t, http.StatusConflict, code)

	resp, w = env.Do(t, http.MethodGet, "/users/me/won", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 1)
}

func TestAuctionLifecycle_ZeroBidsReopens(t *testing.T) {
	env := SetupTestEnv(t)
	id := env.CreateAuction(t, "owner", "10")

	env.Clock.Advance(5*time.Minute + time.Second)

	resp, w := env.Do(t, http.MethodGet, "/auctions/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := Data(t, resp)
	require.Equal(t, false, data["closed"])
	require.Nil(t, data["winner"])

	deadline, err := time.Parse(time.RFC3339, data["deadline"].(string))
	require.NoError(t, err)
	require.True(t, deadline.Equal(env.Clock.Now().Add(lifecycle.DefaultDuration)))

	_, code := bid(t, env, id, "alice", 10)
	require.Equal(t, http.StatusCreated, code)
}

func TestAuctionLifecycle_SweeperClosesWithoutReads(t *testing.T) {
	env := SetupTestEnv(t)
	withBid := env.CreateAuction(t, "owner", "10")
	empty := env.CreateAuction(t, "owner", "10")

	_, code := bid(t, env, withBid, "alice", 12)
	require.Equal(t, http.StatusCreated, code)

	env.Clock.Advance(lifecycle.DefaultDuration)
	report := env.Sweeper.Tick(context.Background())
	require.Equal(t, 2, report.Evaluated)
	require.Equal(t, 2, report.Changed)
	require.Zero(t, report.Failed)

	closed, err := env.Repo.GetAuction(context.Background(), withBid)
	require.NoError(t, err)
	require.True(t, closed.Closed)
	require.Equal(t, "alice", *closed.Winner)

	reopened, err := env.Repo.GetAuction(context.Background(), empty)
	require.NoError(t, err)
	require.False(t, reopened.Closed)

	resp, w := env.Do(t, http.MethodGet, "/auctions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 2)
}

func TestBidValidation(t *testing.T) {
	env := SetupTestEnv(t)
	id := env.CreateAuction(t, "owner", "50")

	tests := []struct {
		name       string
		bidder     string
		amount     any
		wantStatus int
	}{
		{name: "below_starting_bid", bidder: "alice", amount: 40, wantStatus: http.StatusBadRequest},
		{name: "owner_cannot_bid", bidder: "owner", amount: 60, wantStatus: http.StatusForbidden},
		{name: "no_token", bidder: "", amount: 60, wantStatus: http.StatusUnauthorized},
		{name: "decimal_amount", bidder: "alice", amount: "50.01", wantStatus: http.StatusCreated},
		{name: "unknown_auction", bidder: "alice", amount: 60, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := id
			if tt.name == "unknown_auction" {
				target = "does-not-exist"
			}
			_, code := bid(t, env, target, tt.bidder, tt.amount)
			require.Equal(t, tt.wantStatus, code)
		})
	}
}

func TestOwnerOperations(t *testing.T) {
	env := SetupTestEnv(t)
	id := env.CreateAuction(t, "owner", "50")

	resp, w := env.Do(t, http.MethodPut, "/auctions/"+id, "mallory", map[string]any{"title": "mine now"})
	require.Equal(t, http.StatusForbidden, w.Code, "%v", resp)

	resp, w = env.Do(t, http.MethodPut, "/auctions/"+id, "owner", map[string]any{"title": "Camera, boxed", "starting_bid": "45"})
	require.Equal(t, http.StatusOK, w.Code, "%v", resp)
	require.Equal(t, "Camera, boxed", Data(t, resp)["title"])

	_, code := bid(t, env, id, "alice", 45)
	require.Equal(t, http.StatusCreated, code)

	_, w = env.Do(t, http.MethodPut, "/auctions/"+id, "owner", map[string]any{"starting_bid": "5"})
	require.Equal(t, http.StatusConflict, w.Code)

	resp, w = env.Do(t, http.MethodGet, "/users/me/auctions", "owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 1)

	_, w = env.Do(t, http.MethodDelete, "/auctions/"+id, "owner", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, w = env.Do(t, http.MethodGet, "/auctions/"+id+"/bids", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminForceClose(t *testing.T) {
	env := SetupTestEnv(t)
	id := env.CreateAuction(t, "owner", "50")

	_, w := env.Do(t, http.MethodPost, "/admin/auctions/"+id+"/force-close", "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	resp, w := env.DoAdmin(t, http.MethodPost, "/admin/auctions/"+id+"/force-close")
	require.Equal(t, http.StatusOK, w.Code, "%v", resp)
	require.Equal(t, true, Data(t, resp)["closed"])
	require.Nil(t, Data(t, resp)["winner"])

	resp, w = env.Do(t, http.MethodGet, "/auctions/"+id+"/winner", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no_winner", Data(t, resp)["status"])
}

func TestEventsPublished(t *testing.T) {
	env := SetupTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := env.Redis.Subscribe(ctx, env.Channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	id := env.CreateAuction(t, "owner", "10")
	_, code := bid(t, env, id, "alice", 11)
	require.Equal(t, http.StatusCreated, code)

	env.Clock.Advance(lifecycle.DefaultDuration)
	_, w := env.Do(t, http.MethodGet, "/auctions/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []notify.Event
	for len(got) < 2 {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var ev notify.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		got = append(got, ev)
	}

	require.Equal(t, notify.EventBidPlaced, got[0].Type)
	require.Equal(t, id, got[0].AuctionID)
	require.Equal(t, notify.EventAuctionClosed, got[1].Type)
	require.Equal(t, "alice", got[1].WinnerID)
}

func TestAdminForceCloseAllForUser(t *testing.T) {
	env := SetupTestEnv(t)
	mine := env.CreateAuction(t, "owner", "10")
	theirs := env.CreateAuction(t, "owner", "10")

	_, code := bid(t, env, mine, "alice", 20)
	require.Equal(t, http.StatusCreated, code)
	_, code = bid(t, env, theirs, "alice", 20)
	require.Equal(t, http.StatusCreated, code)
	_, code = bid(t, env, theirs, "bob", 30)
	require.Equal(t, http.StatusCreated, code)

	resp, w := env.DoAdmin(t, http.MethodPost, "/admin/users/alice/force-close")
	require.Equal(t, http.StatusOK, w.Code, "%v", resp)
	require.Equal(t, float64(0), Data(t, resp)["closed"])

	env.Clock.Advance(lifecycle.DefaultDuration)

	resp, w = env.DoAdmin(t, http.MethodPost, "/admin/users/alice/force-close")
	require.Equal(t, http.StatusOK, w.Code, "%v", resp)
	require.Equal(t, float64(1), Data(t, resp)["closed"])

	resp, w = env.Do(t, http.MethodGet, "/users/me/won", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 1)

	closed, err := env.Repo.GetAuction(context.Background(), theirs)
	require.NoError(t, err)
	require.True(t, closed.Closed)
	require.Equal(t, "bob", *closed.Winner)
}
