// Package simulator generates prices for symbols with a random walk
package simulator

import (
	"github.com/chucky-1/venue/internal/model"
	log "github.com/sirupsen/logrus"

	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// minPrice is the clamp so a long negative excursion never takes a price to zero
const minPrice = 0.01

// Volatility is picked per symbol as a fraction of price
const (
	minVolatility = 0.0005
	maxVolatility = 0.005
)

// basePrices seeds the walk for well-known symbols. Unknown symbols get a random base
var basePrices = map[string]float64{
	"RELIANCE": 2450,
	"TCS":      3800,
	"HDFCBANK": 1650,
	"INFY":     1500,
	"NVDA":     880,
	"BTC":      65000,
}

// TickCache keeps the latest tick of every symbol
type TickCache interface {
	Set(tick *model.Tick) error
	Get(symbol string) (*model.Tick, error)
}

// SymbolStore persists lazily created symbols
type SymbolStore interface {
	UpsertSymbol(ctx context.Context, symbol string, basePrice float64) error
}

type state struct {
	price      float64
	base       float64
	volatility float64
	updated    time.Time
	cancel     context.CancelFunc
	refs       int
}

// Simulator owns the price of every symbol. One goroutine per running symbol
// writes the price, everybody else reads snapshots
type Simulator struct {
	ctx      context.Context
	muState  sync.RWMutex
	symbols  map[string]*state
	chTick   chan *model.Tick
	cache    TickCache
	store    SymbolStore
	interval time.Duration
	muRnd    sync.Mutex
	rnd      *rand.Rand
}

// NewSimulator is constructor. Cache and store may be nil
func NewSimulator(ctx context.Context, chTick chan *model.Tick, cache TickCache, store SymbolStore,
	interval time.Duration, rnd *rand.Rand) *Simulator {
	return &Simulator{
		ctx:      ctx,
		symbols:  make(map[string]*state),
		chTick:   chTick,
		cache:    cache,
		store:    store,
		interval: interval,
		rnd:      rnd,
	}
}

// Ensure creates the symbol on first reference and returns its current price.
// An unknown symbol is never an error: it gets a base price and starts walking
func (s *Simulator) Ensure(symbol string) float64 {
	s.muState.Lock()
	defer s.muState.Unlock()
	st, ok := s.symbols[symbol]
	if ok {
		return st.price
	}
	base := s.basePrice(symbol)
	st = &state{
		price:      base,
		base:       base,
		volatility: s.volatility(),
		updated:    time.Now().UTC(),
	}
	s.symbols[symbol] = st
	log.Infof("symbol %s auto-provisioned with base price %.2f", symbol, base)
	if s.store != nil {
		if err := s.store.UpsertSymbol(s.ctx, symbol, base); err != nil {
			log.Error(err)
		}
	}
	return st.price
}

// Snapshot returns one atomic read of the latest price of a symbol
func (s *Simulator) Snapshot(symbol string) (*model.Tick, bool) {
	s.muState.RLock()
	defer s.muState.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return nil, false
	}
	return &model.Tick{Symbol: symbol, Price: st.price, Timestamp: st.updated}, true
}

// Start begins generating ticks for the symbol. Calls are counted:
// the loop runs from the first Start until the matching last Stop
func (s *Simulator) Start(symbol string) {
	s.Ensure(symbol)
	s.muState.Lock()
	defer s.muState.Unlock()
	st := s.symbols[symbol]
	st.refs++
	if st.refs > 1 {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	st.cancel = cancel
	go s.run(ctx, symbol)
}

// Stop releases one reference. The generation loop is cancelled with the last one
func (s *Simulator) Stop(symbol string) {
	s.muState.Lock()
	defer s.muState.Unlock()
	st, ok := s.symbols[symbol]
	if !ok || st.refs == 0 {
		return
	}
	st.refs--
	if st.refs > 0 {
		return
	}
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
}

func (s *Simulator) run(ctx context.Context, symbol string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick, ok := s.tick(symbol)
			if !ok {
				return
			}
			select {
			case s.chTick <- tick:
			case <-ctx.Done():
				return
			}
			if s.cache != nil {
				if err := s.cache.Set(tick); err != nil {
					log.Error(err)
				}
			}
		}
	}
}

// tick advances the walk by price * volatility * U, U uniform on [-0.5, 0.5]
func (s *Simulator) tick(symbol string) (*model.Tick, bool) {
	u := s.float64() - 0.5
	s.muState.Lock()
	defer s.muState.Unlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return nil, false
	}
	next := round2(st.price + st.price*st.volatility*u)
	if next < minPrice {
		next = minPrice
	}
	st.price = next
	st.updated = time.Now().UTC()
	return &model.Tick{Symbol: symbol, Price: st.price, Timestamp: st.updated}, true
}

func (s *Simulator) basePrice(symbol string) float64 {
	if base, ok := basePrices[symbol]; ok {
		return base
	}
	if s.cache != nil {
		tick, err := s.cache.Get(symbol)
		if err == nil && tick.Price >= minPrice {
			return tick.Price
		}
	}
	return round2(100 + s.float64()*4900)
}

func (s *Simulator) volatility() float64 {
	return minVolatility + s.float64()*(maxVolatility-minVolatility)
}

func (s *Simulator) float64() float64 {
	s.muRnd.Lock()
	defer s.muRnd.Unlock()
	return s.rnd.Float64()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
