package models

import "github.com/shopspring/decimal"

// TradeEvent is one message from the exchange trade stream.
// Only the price is consumed.
type TradeEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// TickerPrice is the response of the exchange ticker endpoint
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// ParsePrice validates a decimal-as-string price. The original string is what gets cached.
func ParsePrice(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(raw)
}
