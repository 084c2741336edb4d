package service

import (
	"github.com/chucky-1/venue/internal/model"
	"github.com/chucky-1/venue/internal/repository"
	"github.com/stretchr/testify/assert"

	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeLedger applies buys and sells atomically in memory: on error nothing
// is mutated, exactly like the transactional repository
type fakeLedger struct {
	mu        sync.Mutex
	users     map[string]*model.User
	positions map[string]*model.Position
	trades    []*model.Trade
	failures  int
	failErr   error
	nextID    int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		users:     make(map[string]*model.User),
		positions: make(map[string]*model.Position),
	}
}

func key(userID, symbol string) string {
	return userID + "/" + symbol
}

func (f *fakeLedger) GetOrCreateUser(_ context.Context, userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		u = &model.User{ID: userID, Balance: repository.StartingBalance}
		f.users[userID] = u
	}
	return &model.User{ID: u.ID, Balance: u.Balance}, nil
}

func (f *fakeLedger) GetPosition(_ context.Context, userID, symbol string) (*model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[key(userID, symbol)]
	if !ok {
		return &model.Position{UserID: userID, Symbol: symbol}, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeLedger) GetPositions(_ context.Context, userID string) ([]*model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var positions []*model.Position
	for _, p := range f.positions {
		if p.UserID == userID {
			cp := *p
			positions = append(positions, &cp)
		}
	}
	return positions, nil
}

func (f *fakeLedger) GetTrades(_ context.Context, userID string) ([]*model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var trades []*model.Trade
	for _, t := range f.trades {
		if t.UserID == userID {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

func (f *fakeLedger) ApplyBuy(_ context.Context, userID, symbol string, qty int64, price float64) (*model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, f.failErr
	}
	u := f.users[userID]
	total := round2(float64(qty) * price)
	if u.Balance < total {
		return nil, repository.ErrConflict
	}
	u.Balance = round2(u.Balance - total)

	p, ok := f.positions[key(userID, symbol)]
	if !ok {
		f.positions[key(userID, symbol)] = &model.Position{UserID: userID, Symbol: symbol, Quantity: qty, AvgPrice: price}
	} else {
		p.AvgPrice = round2((float64(p.Quantity)*p.AvgPrice + float64(qty)*price) / float64(p.Quantity+qty))
		p.Quantity += qty
	}
	return f.appendTrade(userID, symbol, qty, price, model.Buy), nil
}

func (f *fakeLedger) ApplySell(_ context.Context, userID, symbol string, qty int64, price float64) (*model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, f.failErr
	}
	p, ok := f.positions[key(userID, symbol)]
	if !ok || p.Quantity < qty {
		return nil, repository.ErrConflict
	}
	p.Quantity -= qty
	if p.Quantity == 0 {
		delete(f.positions, key(userID, symbol))
	}
	u := f.users[userID]
	u.Balance = round2(u.Balance + round2(float64(qty)*price))
	return f.appendTrade(userID, symbol, qty, price, model.Sell), nil
}

func (f *fakeLedger) appendTrade(userID, symbol string, qty int64, price float64, side model.Side) *model.Trade {
	f.nextID++
	t := &model.Trade{
		ID:        f.nextID,
		UserID:    userID,
		Symbol:    symbol,
		Quantity:  qty,
		Price:     price,
		Side:      side,
		CreatedAt: time.Now().UTC(),
	}
	f.trades = append(f.trades, t)
	return t
}

func (f *fakeLedger) balance(userID string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID].Balance
}

func (f *fakeLedger) position(userID, symbol string) (model.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[key(userID, symbol)]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: make(map[string]float64)}
}

func (f *fakePrices) set(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

func (f *fakePrices) Ensure(symbol string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		price = 1000
		f.prices[symbol] = price
	}
	return price
}

func (f *fakePrices) Snapshot(symbol string) (*model.Tick, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		return nil, false
	}
	return &model.Tick{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}, true
}

func TestExecutor_InvalidInput(t *testing.T) {
	testTable := []struct {
		name   string
		userID string
		symbol string
		qty    int64
		side   model.Side
	}{
		{
			name:   "empty user",
			symbol: "TCS",
			qty:    1,
			side:   model.Buy,
		},
		{
			name:   "empty symbol",
			userID: "u1",
			qty:    1,
			side:   model.Buy,
		},
		{
			name:   "zero quantity",
			userID: "u1",
			symbol: "TCS",
			side:   model.Buy,
		},
		{
			name:   "negative quantity",
			userID: "u1",
			symbol: "TCS",
			qty:    -5,
			side:   model.Sell,
		},
		{
			name:   "unknown side",
			userID: "u1",
			symbol: "TCS",
			qty:    1,
			side:   "HOLD",
		},
	}

	for _, testCase := range testTable {
		t.Run(testCase.name, func(t *testing.T) {
			ledger := newFakeLedger()
			e := NewExecutor(ledger, newFakePrices(), nil)
			fill, err := e.Execute(context.Background(), testCase.userID, testCase.symbol, testCase.qty, testCase.side)
			assert.Nil(t, fill)
			var rejection *Rejection
			assert.ErrorAs(t, err, &rejection)
			assert.Equal(t, InvalidInput, rejection.Reason)
			assert.Empty(t, ledger.trades)
		})
	}
}

func TestExecutor_BuyThenSell(t *testing.T) {
	ledger := newFakeLedger()
	prices := newFakePrices()
	prices.set("RELIANCE", 2450)
	e := NewExecutor(ledger, prices, nil)

	fill, err := e.Execute(context.Background(), "u1", "RELIANCE", 10, model.Buy)
	assert.NoError(t, err)
	assert.Equal(t, 2450.0, fill.Price)
	assert.Equal(t, repository.StartingBalance-24500, ledger.balance("u1"))

	p, ok := ledger.position("u1", "RELIANCE")
	assert.True(t, ok)
	assert.Equal(t, int64(10), p.Quantity)
	assert.Equal(t, 2450.0, p.AvgPrice)

	// the position is deleted when the sell empties it
	prices.set("RELIANCE", 2500)
	fill, err = e.Execute(context.Background(), "u1", "RELIANCE", 10, model.Sell)
	assert.NoError(t, err)
	assert.Equal(t, 2500.0, fill.Price)
	assert.Equal(t, repository.StartingBalance-24500+25000, ledger.balance("u1"))
	_, ok = ledger.position("u1", "RELIANCE")
	assert.False(t, ok)

	trades, err := e.Trades(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestExecutor_InsufficientFunds(t *testing.T) {
	ledger := newFakeLedger()
	ledger.users["u1"] = &model.User{ID: "u1", Balance: 100}
	prices := newFakePrices()
	prices.set("TCS", 500)
	e := NewExecutor(ledger, prices, nil)

	fill, err := e.Execute(context.Background(), "u1", "TCS", 1, model.Buy)
	assert.Nil(t, fill)
	var rejection *Rejection
	assert.ErrorAs(t, err, &rejection)
	assert.Equal(t, InsufficientFunds, rejection.Reason)
	assert.Contains(t, rejection.Message, "500.00")
	assert.Contains(t, rejection.Message, "100.00")

	// rejection leaves no trace
	assert.Equal(t, 100.0, ledger.balance("u1"))
	_, ok := ledger.position("u1", "TCS")
	assert.False(t, ok)
	assert.Empty(t, ledger.trades)
}

func TestExecutor_BuyExactBalance(t *testing.T) {
	ledger := newFakeLedger()
	ledger.users["u1"] = &model.User{ID: "u1", Balance: 500}
	prices := newFakePrices()
	prices.set("TCS", 250)
	e := NewExecutor(ledger, prices, nil)

	fill, err := e.Execute(context.Background(), "u1", "TCS", 2, model.Buy)
	assert.NoError(t, err)
	assert.Equal(t, 250.0, fill.Price)
	assert.Equal(t, 0.0, ledger.balance("u1"))
}

func TestExecutor_InsufficientHoldings(t *testing.T) {
	ledger := newFakeLedger()
	ledger.users["u1"] = &model.User{ID: "u1", Balance: 1000}
	ledger.positions[key("u1", "TCS")] = &model.Position{UserID: "u1", Symbol: "TCS", Quantity: 3, AvgPrice: 100}
	prices := newFakePrices()
	prices.set("TCS", 120)
	e := NewExecutor(ledger, prices, nil)

	fill, err := e.Execute(context.Background(), "u1", "TCS", 5, model.Sell)
	assert.Nil(t, fill)
	var rejection *Rejection
	assert.ErrorAs(t, err, &rejection)
	assert.Equal(t, InsufficientHoldings, rejection.Reason)
	assert.Contains(t, rejection.Message, "have 3")
	assert.Contains(t, rejection.Message, "requested 5")

	assert.Equal(t, 1000.0, ledger.balance("u1"))
	p, _ := ledger.position("u1", "TCS")
	assert.Equal(t, int64(3), p.Quantity)
	assert.Empty(t, ledger.trades)
}

func TestExecutor_WeightedAveragePrice(t *testing.T) {
	ledger := newFakeLedger()
	ledger.users["u1"] = &model.User{ID: "u1", Balance: 10000}
	ledger.positions[key("u1", "TCS")] = &model.Position{UserID: "u1", Symbol: "TCS", Quantity: 10, AvgPrice: 100}
	prices := newFakePrices()
	prices.set("TCS", 200)
	e := NewExecutor(ledger, prices, nil)

	_, err := e.Execute(context.Background(), "u1", "TCS", 10, model.Buy)
	assert.NoError(t, err)
	p, _ := ledger.position("u1", "TCS")
	assert.Equal(t, int64(20), p.Quantity)
	assert.Equal(t, 150.0, p.AvgPrice)
}

func TestExecutor_RetriesConflict(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failures = 2
	ledger.failErr = repository.ErrConflict
	prices := newFakePrices()
	prices.set("TCS", 100)
	e := NewExecutor(ledger, prices, nil)

	fill, err := e.Execute(context.Background(), "u1", "TCS", 1, model.Buy)
	assert.NoError(t, err)
	assert.Equal(t, 100.0, fill.Price)
	assert.Len(t, ledger.trades, 1)
}

func TestExecutor_RetriesExhausted(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failures = commitAttempts
	ledger.failErr = fmt.Errorf("storage unavailable")
	prices := newFakePrices()
	prices.set("TCS", 100)
	e := NewExecutor(ledger, prices, nil)

	before, err := ledger.GetOrCreateUser(context.Background(), "u1")
	assert.NoError(t, err)

	fill, err := e.Execute(context.Background(), "u1", "TCS", 1, model.Buy)
	assert.Nil(t, fill)
	assert.Error(t, err)
	var rejection *Rejection
	assert.False(t, errors.As(err, &rejection))

	// a failed commit leaves the whole pre-state intact
	assert.Equal(t, before.Balance, ledger.balance("u1"))
	_, ok := ledger.position("u1", "TCS")
	assert.False(t, ok)
	assert.Empty(t, ledger.trades)
}

func TestExecutor_ConcurrentBuysNeverOverdraw(t *testing.T) {
	ledger := newFakeLedger()
	ledger.users["u1"] = &model.User{ID: "u1", Balance: 1000}
	prices := newFakePrices()
	prices.set("TCS", 300)
	e := NewExecutor(ledger, prices, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Execute(context.Background(), "u1", "TCS", 1, model.Buy)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, ledger.balance("u1"), 0.0)
	assert.Len(t, ledger.trades, 3)
}

func TestExecutor_ConcurrentUsersAllFill(t *testing.T) {
	ledger := newFakeLedger()
	prices := newFakePrices()
	prices.set("TCS", 300)
	e := NewExecutor(ledger, prices, nil)

	const users = 20
	errs := make(chan error, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Execute(context.Background(), fmt.Sprintf("u%d", i), "TCS", 1, model.Buy)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	// distinct users never contend for funds, every order fills
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, ledger.trades, users)
	for i := 0; i < users; i++ {
		assert.Equal(t, repository.StartingBalance-300, ledger.balance(fmt.Sprintf("u%d", i)))
	}
}

func TestExecutor_AutoProvisionsUnknownSymbol(t *testing.T) {
	ledger := newFakeLedger()
	prices := newFakePrices()
	e := NewExecutor(ledger, prices, nil)

	fill, err := e.Execute(context.Background(), "u1", "XYZ123", 1, model.Buy)
	assert.NoError(t, err)
	assert.Equal(t, 1000.0, fill.Price)
}
