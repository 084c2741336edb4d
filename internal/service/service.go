// Package service has business logic of the venue
package service

import (
	"github.com/chucky-1/venue/internal/model"
	log "github.com/sirupsen/logrus"

	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// commitAttempts bounds the retries of the validate-commit sequence when the
// ledger reports a conflict. The price is read fresh on every attempt
const commitAttempts = 3

// Ledger is the authoritative store of balances, positions and trades
type Ledger interface {
	GetOrCreateUser(ctx context.Context, userID string) (*model.User, error)
	GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error)
	GetPositions(ctx context.Context, userID string) ([]*model.Position, error)
	GetTrades(ctx context.Context, userID string) ([]*model.Trade, error)
	ApplyBuy(ctx context.Context, userID, symbol string, qty int64, price float64) (*model.Trade, error)
	ApplySell(ctx context.Context, userID, symbol string, qty int64, price float64) (*model.Trade, error)
}

// PriceSource is where orders and valuations read the live price
type PriceSource interface {
	Ensure(symbol string) float64
	Snapshot(symbol string) (*model.Tick, bool)
}

// Publisher announces executed trades downstream
type Publisher interface {
	Publish(ctx context.Context, trade *model.Trade) error
}

// Fill is a successful execution acknowledgement
type Fill struct {
	Price float64
	Trade *model.Trade
}

// Executor validates and applies orders. Orders of one user serialize on a
// per-user mutex so the read-balance-then-write-balance sequence cannot race
type Executor struct {
	ledger  Ledger
	prices  PriceSource
	pub     Publisher
	muUsers sync.Mutex
	users   map[string]*sync.Mutex
}

// NewExecutor is constructor. Publisher may be nil
func NewExecutor(ledger Ledger, prices PriceSource, pub Publisher) *Executor {
	return &Executor{
		ledger: ledger,
		prices: prices,
		pub:    pub,
		users:  make(map[string]*sync.Mutex),
	}
}

// Execute runs one order to a committed fill or a clean rejection.
// Business rejections come back as *Rejection and are never retried,
// ledger conflicts are retried a bounded number of times with a fresh price
func (e *Executor) Execute(ctx context.Context, userID, symbol string, qty int64, side model.Side) (*Fill, error) {
	if userID == "" || symbol == "" {
		return nil, &Rejection{Reason: InvalidInput, Message: "userId and symbol are required"}
	}
	if qty <= 0 {
		return nil, &Rejection{Reason: InvalidInput, Message: fmt.Sprintf("quantity must be positive, got %d", qty)}
	}
	if !side.Valid() {
		return nil, &Rejection{Reason: InvalidInput, Message: fmt.Sprintf("side must be BUY or SELL, got %q", side)}
	}

	mu := e.userMutex(userID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		fill, err := e.attempt(ctx, userID, symbol, qty, side)
		if err == nil {
			return fill, nil
		}
		var rejection *Rejection
		if errors.As(err, &rejection) {
			return nil, rejection
		}
		lastErr = err
		log.Errorf("order %s %d %s for %s did not commit: %v", side, qty, symbol, userID, err)
	}
	return nil, fmt.Errorf("order did not commit after %d attempts: %w", commitAttempts, lastErr)
}

// attempt is one pass of the PRICED, VALIDATED, COMMITTED sequence with a
// single price snapshot used throughout
func (e *Executor) attempt(ctx context.Context, userID, symbol string, qty int64, side model.Side) (*Fill, error) {
	price := e.snapshotPrice(symbol)

	u, err := e.ledger.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var trade *model.Trade
	switch side {
	case model.Buy:
		total := round2(float64(qty) * price)
		if u.Balance < total {
			return nil, &Rejection{
				Reason:  InsufficientFunds,
				Message: fmt.Sprintf("insufficient funds: need %.2f, have %.2f", total, u.Balance),
			}
		}
		trade, err = e.ledger.ApplyBuy(ctx, userID, symbol, qty, price)
	case model.Sell:
		var position *model.Position
		position, err = e.ledger.GetPosition(ctx, userID, symbol)
		if err != nil {
			return nil, err
		}
		if position.Quantity < qty {
			return nil, &Rejection{
				Reason:  InsufficientHoldings,
				Message: fmt.Sprintf("insufficient holdings: have %d, requested %d", position.Quantity, qty),
			}
		}
		trade, err = e.ledger.ApplySell(ctx, userID, symbol, qty, price)
	}
	if err != nil {
		return nil, err
	}

	if e.pub != nil {
		if err = e.pub.Publish(ctx, trade); err != nil {
			log.Error(err)
		}
	}
	return &Fill{Price: price, Trade: trade}, nil
}

// Trades returns the trade log of the user
func (e *Executor) Trades(ctx context.Context, userID string) ([]*model.Trade, error) {
	if _, err := e.ledger.GetOrCreateUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.ledger.GetTrades(ctx, userID)
}

// snapshotPrice reads the price once for the whole order. The symbol is
// created on the fly when unknown
func (e *Executor) snapshotPrice(symbol string) float64 {
	if tick, ok := e.prices.Snapshot(symbol); ok {
		return tick.Price
	}
	return e.prices.Ensure(symbol)
}

func (e *Executor) userMutex(userID string) *sync.Mutex {
	e.muUsers.Lock()
	defer e.muUsers.Unlock()
	mu, ok := e.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.users[userID] = mu
	}
	return mu
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
