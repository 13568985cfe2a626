package server

import (
	"context"
	"net/http"

	"auction-engine/internal/auth"
	handler "auction-engine/services/auction/handler"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// ReadinessCheck reports whether the backing stores are reachable
type ReadinessCheck func(ctx context.Context) error

// Deps is everything SetupRouter wires into routes. AdminKey, RateLimiter,
// Metrics and Ready are optional.
type Deps struct {
	Service     handler.AuctionServiceInterface
	Verifier    auth.Verifier
	AdminKey    string
	RateLimiter *RateLimiter
	Metrics     http.Handler
	Ready       ReadinessCheck
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	auctionHandler := handler.NewAuctionHandler(deps.Service)

	router.GET("/health", func(c *gin.Context) {
		utils.JSONResponse(c, http.StatusOK, gin.H{"status": "ok"}, "healthy")
	})
	router.GET("/ready", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c.Request.Context()); err != nil {
				utils.JSONError(c, http.StatusServiceUnavailable, err, "not ready")
				return
			}
		}
		utils.JSONResponse(c, http.StatusOK, gin.H{"status": "ready"}, "ready")
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	public := router.Group("/auctions")
	{
		public.GET("", auctionHandler.ListAuctionsHandler)
		public.GET("/:auction_id", auctionHandler.GetAuctionHandler)
		public.GET("/:auction_id/bids", auctionHandler.GetBidsHandler)
		public.GET("/:auction_id/winner", auctionHandler.GetWinnerHandler)
	}

	authed := router.Group("", AuthMiddleware(deps.Verifier))
	{
		authed.POST("/auctions", auctionHandler.CreateAuctionHandler)
		authed.PUT("/auctions/:auction_id", auctionHandler.UpdateAuctionHandler)
		authed.DELETE("/auctions/:auction_id", auctionHandler.DeleteAuctionHandler)
		authed.GET("/users/me/auctions", auctionHandler.GetMyAuctionsHandler)
		authed.GET("/users/me/won", auctionHandler.GetWonAuctionsHandler)

		bidChain := []gin.HandlerFunc{auctionHandler.PlaceBidHandler}
		if deps.RateLimiter != nil {
			bidChain = append([]gin.HandlerFunc{deps.RateLimiter.Middleware()}, bidChain...)
		}
		authed.POST("/auctions/:auction_id/bids", bidChain...)
	}

	if deps.AdminKey != "" {
		admin := router.Group("/admin", AdminKeyMiddleware(deps.AdminKey))
		{
			admin.POST("/auctions/:auction_id/force-close", auctionHandler.ForceCloseHandler)
			admin.POST("/users/:user_id/force-close", auctionHandler.ForceCloseAllForUserHandler)
		}
	}

	return router
}
