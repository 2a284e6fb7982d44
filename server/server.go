package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	appconfig "cryptotrader/config"
	"cryptotrader/logger"
	"cryptotrader/stream"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Trader is the trading surface the HTTP handlers depend on. *trading.Bot
// implements it.
type Trader interface {
	AccountInfo(ctx context.Context) (*futures.Account, error)
	Positions(ctx context.Context, symbol string) ([]*futures.PositionRisk, error)
	ValidateQuantity(ctx context.Context, symbol string, quantity float64) error
	PositionSize(ctx context.Context, symbol string, riskPercentage float64) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (*futures.CreateOrderResponse, error)
	PlaceLimitOrder(ctx context.Context, symbol, side string, quantity, price float64) (*futures.CreateOrderResponse, error)
	PlaceStopLimitOrder(ctx context.Context, symbol, side string, quantity, price, stopPrice float64) (*futures.CreateOrderResponse, error)
	PlaceStopMarketOrder(ctx context.Context, symbol, side string, quantity, stopPrice float64) (*futures.CreateOrderResponse, error)
	PlaceTrailingStopOrder(ctx context.Context, symbol, side string, quantity, callbackRate, activationPrice float64) (*futures.CreateOrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*futures.CancelOrderResponse, error)
	OrderStatus(ctx context.Context, symbol string, orderID int64) (*futures.Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]*futures.Order, error)
	HistoricalTrades(ctx context.Context, symbol string, limit int) ([]*futures.Trade, error)
	Report(ctx context.Context) (string, error)
}

// Server hosts the REST API and the websocket endpoints.
type Server struct {
	config     *appconfig.Config
	hub        *stream.Hub
	mux        *stream.Multiplexer
	trader     Trader
	log        *logger.Log
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer wires the HTTP layer to the stream hub, the multiplexer and the
// trading surface.
func NewServer(cfg *appconfig.Config, hub *stream.Hub, mux *stream.Multiplexer, trader Trader) *Server {
	return &Server{
		config: cfg,
		hub:    hub,
		mux:    mux,
		trader: trader,
		log:    logger.GetLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	log := s.log.WithComponent("server")

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:    s.config.Server.Address,
		Handler: router,
	}

	log.WithFields(logger.Fields{"address": s.config.Server.Address}).Info("starting http server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		log.Info("http server stopped")
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware())
	_ = router.SetTrustedProxies(nil)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    s.config.Cryptotrader.Name,
			"version": s.config.Cryptotrader.Version,
			"status":  "running",
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	orders := router.Group("/api/orders")
	{
		orders.POST("/place", s.placeOrder)
		orders.GET("/open", s.openOrders)
		orders.GET("/status", s.orderStatus)
		orders.DELETE("/cancel", s.cancelOrder)
		orders.GET("/trades", s.recentTrades)
	}

	account := router.Group("/api/account")
	{
		account.GET("/balance", s.accountBalance)
		account.GET("/positions", s.accountPositions)
		account.GET("/report", s.accountReport)
	}

	ws := router.Group("/ws")
	{
		ws.GET("/trade", s.tradeSocket)
		ws.GET("/ticker/:symbol", s.tickerSocket)
		ws.GET("/mini_ticker", s.miniTickerSocket)
		ws.GET("/kline/:symbol/:interval", s.klineSocket)
		ws.GET("/depth/:symbol", s.depthSocket)
		ws.GET("/user_data", s.userDataSocket)
	}

	return router
}

// corsMiddleware allows any origin so browser dashboards can call the API
// directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
