package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cryptotrader/internal/symbols"
	"cryptotrader/logger"
	"cryptotrader/models"
	"cryptotrader/trading"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/gin-gonic/gin"
)

// placeOrder handles POST /api/orders/place. The quantity may be supplied
// directly or derived from risk_percentage and the account balance.
func (s *Server) placeOrder(c *gin.Context) {
	log := s.log.WithComponent("server")

	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	symbol := symbols.Normalize(req.Symbol)
	if !symbols.Valid(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Symbol required"})
		return
	}

	side := strings.ToUpper(strings.TrimSpace(req.Side))
	if side != "BUY" && side != "SELL" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Side must be BUY or SELL"})
		return
	}

	orderType := strings.ToUpper(strings.TrimSpace(req.OrderType))
	if orderType == "OCO" {
		// Futures accounts have no OCO endpoint. A STOP_MARKET order covers
		// the protective leg on its own.
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "OCO orders are not supported on futures, place a STOP_MARKET order for the protective leg instead",
		})
		return
	}

	ctx := c.Request.Context()

	quantity := req.Quantity
	if quantity <= 0 {
		if req.RiskPercentage <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Quantity or risk percentage required"})
			return
		}
		var err error
		quantity, err = s.trader.PositionSize(ctx, symbol, req.RiskPercentage)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Error("position sizing failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to calculate position size"})
			return
		}
	}

	if err := s.trader.ValidateQuantity(ctx, symbol, quantity); err != nil {
		var qe *trading.QuantityError
		if errors.As(err, &qe) {
			c.JSON(http.StatusBadRequest, gin.H{"error": qe.Error()})
			return
		}
		log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Error("quantity validation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to validate quantity"})
		return
	}

	var (
		order *futures.CreateOrderResponse
		err   error
	)
	switch orderType {
	case models.OrderTypeMarket:
		order, err = s.trader.PlaceMarketOrder(ctx, symbol, side, quantity)
	case models.OrderTypeLimit:
		if req.Price <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Price required for limit orders"})
			return
		}
		order, err = s.trader.PlaceLimitOrder(ctx, symbol, side, quantity, req.Price)
	case models.OrderTypeStopLimit:
		if req.Price <= 0 || req.StopPrice <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Price and stop_price required for stop-limit orders"})
			return
		}
		order, err = s.trader.PlaceStopLimitOrder(ctx, symbol, side, quantity, req.Price, req.StopPrice)
	case models.OrderTypeStopMarket:
		if req.StopPrice <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Stop price required for stop-market orders"})
			return
		}
		order, err = s.trader.PlaceStopMarketOrder(ctx, symbol, side, quantity, req.StopPrice)
	case models.OrderTypeTrailingStop:
		if req.CallbackRate <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Callback rate required for trailing stop orders"})
			return
		}
		order, err = s.trader.PlaceTrailingStopOrder(ctx, symbol, side, quantity, req.CallbackRate, req.ActivationPrice)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported order type"})
		return
	}

	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"symbol":     symbol,
			"order_type": orderType,
		}).Error("order placement failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to place order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "order": order})
}

// openOrders handles GET /api/orders/open. An optional symbol query narrows
// the result to one market.
func (s *Server) openOrders(c *gin.Context) {
	symbol := symbols.Normalize(c.Query("symbol"))
	orders, err := s.trader.OpenOrders(c.Request.Context(), symbol)
	if err != nil {
		s.log.WithComponent("server").WithError(err).Error("open orders lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch open orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// orderStatus handles GET /api/orders/status?symbol=...&order_id=...
func (s *Server) orderStatus(c *gin.Context) {
	symbol, orderID, ok := s.orderQuery(c)
	if !ok {
		return
	}
	order, err := s.trader.OrderStatus(c.Request.Context(), symbol, orderID)
	if err != nil {
		s.log.WithComponent("server").WithError(err).WithFields(logger.Fields{
			"symbol":   symbol,
			"order_id": orderID,
		}).Error("order lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// cancelOrder handles DELETE /api/orders/cancel?symbol=...&order_id=...
func (s *Server) cancelOrder(c *gin.Context) {
	symbol, orderID, ok := s.orderQuery(c)
	if !ok {
		return
	}
	result, err := s.trader.CancelOrder(c.Request.Context(), symbol, orderID)
	if err != nil {
		s.log.WithComponent("server").WithError(err).WithFields(logger.Fields{
			"symbol":   symbol,
			"order_id": orderID,
		}).Error("order cancel failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to cancel order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "order": result})
}

// recentTrades handles GET /api/orders/trades?symbol=...&limit=...
func (s *Server) recentTrades(c *gin.Context) {
	symbol := symbols.Normalize(c.Query("symbol"))
	if !symbols.Valid(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Symbol required"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	trades, err := s.trader.HistoricalTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		s.log.WithComponent("server").WithError(err).WithFields(logger.Fields{
			"symbol": symbol,
		}).Error("trade history lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// orderQuery extracts and validates the symbol and order_id query parameters
// shared by the status and cancel endpoints.
func (s *Server) orderQuery(c *gin.Context) (string, int64, bool) {
	symbol := symbols.Normalize(c.Query("symbol"))
	idValue := c.Query("order_id")
	if !symbols.Valid(symbol) || idValue == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and order_id are required"})
		return "", 0, false
	}
	orderID, err := strconv.ParseInt(idValue, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order_id"})
		return "", 0, false
	}
	return symbol, orderID, true
}
