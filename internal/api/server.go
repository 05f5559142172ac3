// Package api serves a read-only status surface for operators. It shares
// no mutable state with the trading cycle beyond the snapshot the bot
// publishes after each cycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"spot-trading-bot/internal/database"
)

// StatusSnapshot is the bot's published view of its last completed cycle.
type StatusSnapshot struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	FastMA       float64   `json:"fast_ma"`
	SlowMA       float64   `json:"slow_ma"`
	RSI          float64   `json:"rsi"`
	Volatility   float64   `json:"volatility"`
	Decision     string    `json:"decision"`
	Rule         string    `json:"rule"`
	IsLong       bool      `json:"is_long"`
	EntryPrice   float64   `json:"entry_price"`
	AssetBalance float64   `json:"asset_balance"`
	QuoteBalance float64   `json:"quote_balance"`
	CycleAt      time.Time `json:"cycle_at"`
	CycleCount   int64     `json:"cycle_count"`
}

// StatusBoard holds the latest snapshot under a read lock. Single writer
// (the trading cycle), many readers (HTTP handlers).
type StatusBoard struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

func (b *StatusBoard) Publish(s StatusSnapshot) {
	b.mu.Lock()
	b.snap = s
	b.mu.Unlock()
}

func (b *StatusBoard) Snapshot() StatusSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port           int
	ProductionMode bool
	AllowOrigins   []string
}

// Server is the read-only operator API.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *database.Repository
	board      *StatusBoard
	config     ServerConfig
	logger     zerolog.Logger
}

// NewServer builds the router. repo may be nil when the bot runs without a
// database; audit endpoints then report empty lists.
func NewServer(config ServerConfig, repo *database.Repository, board *StatusBoard, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		repo:   repo,
		board:  board,
		config: config,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/trades", s.handleTrades)
		v1.GET("/balances", s.handleBalances)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.board.Snapshot())
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, []database.TradeRecord{})
		return
	}
	trades, err := s.repo.RecentTrades(c.Request.Context(), 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("trade history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trade history unavailable"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) handleBalances(c *gin.Context) {
	snap := s.board.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"symbol":        snap.Symbol,
		"asset_balance": snap.AssetBalance,
		"quote_balance": snap.QuoteBalance,
		"is_long":       snap.IsLong,
		"entry_price":   snap.EntryPrice,
		"as_of":         snap.CycleAt,
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}
	s.logger.Info().Int("port", s.config.Port).Msg("status API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
