package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PriceReader returns the current price, found == false when unavailable
type PriceReader interface {
	CurrentPrice(ctx context.Context) (string, bool)
}

// PriceController serves the current price of the tracked instrument
type PriceController struct {
	prices PriceReader
	symbol string
}

// NewPriceController creates a new price controller
func NewPriceController(prices PriceReader, symbol string) *PriceController {
	return &PriceController{prices: prices, symbol: symbol}
}

// GetCurrentPrice returns the cached price, fetching it on a miss
// GET /api/v1/price
func (pc *PriceController) GetCurrentPrice(c *gin.Context) {
	price, ok := pc.prices.CurrentPrice(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "unavailable",
			"symbol":  pc.symbol,
			"message": "Current price data is unavailable. Please try again shortly.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":  pc.symbol,
		"price":   price,
		"message": "Current " + pc.symbol + " price: " + price,
	})
}
