package server

import (
	"net/http"

	"cryptotrader/internal/symbols"

	"github.com/gin-gonic/gin"
)

// accountBalance handles GET /api/account/balance.
func (s *Server) accountBalance(c *gin.Context) {
	account, err := s.trader.AccountInfo(c.Request.Context())
	if err != nil {
		s.log.WithComponent("server").WithError(err).Error("account lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch account balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": account})
}

// accountPositions handles GET /api/account/positions. An optional symbol
// query narrows the result to one market.
func (s *Server) accountPositions(c *gin.Context) {
	symbol := symbols.Normalize(c.Query("symbol"))
	positions, err := s.trader.Positions(c.Request.Context(), symbol)
	if err != nil {
		s.log.WithComponent("server").WithError(err).Error("position lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// accountReport handles GET /api/account/report and returns the formatted
// trading report.
func (s *Server) accountReport(c *gin.Context) {
	report, err := s.trader.Report(c.Request.Context())
	if err != nil {
		s.log.WithComponent("server").WithError(err).Error("report generation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to generate report"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
