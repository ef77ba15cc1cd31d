package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLC observation for a single instrument.
// Prices are stored in paise (int64) to avoid floating-point drift; the
// float conversion happens once, when bars are turned into series.
type Bar struct {
	Key    string    `json:"key"` // "exchange:token"
	TF     int       `json:"tf"`  // bar duration in seconds
	TS     time.Time `json:"ts"`  // bucket start time (UTC)
	Open   int64     `json:"open"`
	High   int64     `json:"high"`
	Low    int64     `json:"low"`
	Close  int64     `json:"close"`
	Volume int64     `json:"volume"`
}

// PaiseToPrice converts an integer paise amount to rupees.
func PaiseToPrice(paise int64) float64 {
	return decimal.New(paise, -2).InexactFloat64()
}

// PriceToPaise converts a decimal price string (e.g. "101.25") to paise.
func PriceToPaise(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
