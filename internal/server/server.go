// Package server exposes the venue over http and websocket
package server

import (
	"github.com/chucky-1/venue/internal/hub"
	"github.com/chucky-1/venue/internal/model"
	"github.com/chucky-1/venue/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Watchlists is the storage the watchlist endpoints work with
type Watchlists interface {
	CreateWatchlist(ctx context.Context, userID, name string) (*model.Watchlist, error)
	GetWatchlists(ctx context.Context, userID string) ([]*model.Watchlist, error)
}

// Server holds handlers of the venue endpoints
type Server struct {
	executor   *service.Executor
	valuator   *service.Valuator
	watchlists Watchlists
	hub        *hub.Hub
	prices     service.PriceSource
	upgrader   websocket.Upgrader

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewServer is constructor
func NewServer(executor *service.Executor, valuator *service.Valuator, watchlists Watchlists,
	h *hub.Hub, prices service.PriceSource) *Server {
	return &Server{
		executor:   executor,
		valuator:   valuator,
		watchlists: watchlists,
		hub:        h,
		prices:     prices,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

// Router registers all routes
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	api := router.Group("/api")
	api.POST("/trade", s.placeOrder)
	api.GET("/portfolio", s.getPortfolio)
	api.GET("/trades", s.getTrades)
	api.POST("/watchlist", s.createWatchlist)
	api.GET("/watchlist/:userId", s.getWatchlists)
	api.GET("/stocks/:symbol", s.getQuote)
	router.GET("/ws", s.stream)
	return router
}

type orderRequest struct {
	UserID   string `json:"userId"`
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	Side     string `json:"side"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "REJECTED",
			"reason":  service.InvalidInput,
			"message": "invalid request body",
		})
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	fill, err := s.executor.Execute(c.Request.Context(), req.UserID, req.Symbol, req.Quantity, model.Side(req.Side))
	if err != nil {
		var rejection *service.Rejection
		if errors.As(err, &rejection) {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "REJECTED",
				"reason":  rejection.Reason,
				"message": rejection.Message,
			})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "ERROR",
			"message": "order temporarily cannot be executed, try again",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "FILLED",
		"fillPrice": fill.Price,
		"trade":     fill.Trade,
	})
}

func (s *Server) getPortfolio(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	portfolio, err := s.valuator.Valuate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, portfolio)
}

func (s *Server) getTrades(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	trades, err := s.executor.Trades(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trades temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

type watchlistRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func (s *Server) createWatchlist(c *gin.Context) {
	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and name are required"})
		return
	}
	w, err := s.watchlists.CreateWatchlist(c.Request.Context(), req.UserID, req.Name)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watchlist temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) getWatchlists(c *gin.Context) {
	watchlists, err := s.watchlists.GetWatchlists(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watchlist temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"watchlists": watchlists})
}

func (s *Server) getQuote(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	tick, ok := s.prices.Snapshot(symbol)
	if !ok {
		price := s.prices.Ensure(symbol)
		tick = &model.Tick{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}
		if fresh, live := s.prices.Snapshot(symbol); live {
			tick = fresh
		}
	}
	c.JSON(http.StatusOK, tick)
}
