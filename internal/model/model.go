// Package model has structs of the domain
package model

import "time"

// Side is the direction of an order
type Side string

// Sides of an order
const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether the side is one of the known values
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Symbol describes one tradable instrument
type Symbol struct {
	Title     string
	BasePrice float64
}

// Tick is one simulated price update for a symbol
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// User is an account with a cash balance
type User struct {
	ID      string
	Balance float64
}

// Position is the net holding of one user in one symbol
type Position struct {
	ID       int64
	UserID   string
	Symbol   string
	Quantity int64
	AvgPrice float64
}

// Trade is one executed order. Trades are append-only and never change
type Trade struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Symbol    string    `json:"symbol"`
	Quantity  int64     `json:"quantity"`
	Price     float64   `json:"price"`
	Side      Side      `json:"side"`
	CreatedAt time.Time `json:"createdAt"`
}

// Holding is one position valued against the last traded price
type Holding struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"quantity"`
	AvgPrice     float64 `json:"avgPrice"`
	LTP          float64 `json:"ltp"`
	CurrentValue float64 `json:"currentValue"`
	PnL          float64 `json:"pnl"`
	PnLPercent   float64 `json:"pnlPercent"`
}

// Portfolio aggregates all holdings of a user plus the cash balance
type Portfolio struct {
	Balance           float64    `json:"balance"`
	TotalInvested     float64    `json:"totalInvested"`
	TotalCurrentValue float64    `json:"totalCurrentValue"`
	TotalPnL          float64    `json:"totalPnL"`
	Holdings          []*Holding `json:"holdings"`
}

// Watchlist is a named list of symbols a user follows
type Watchlist struct {
	ID     int64  `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}
