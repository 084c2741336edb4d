package service

import (
	"github.com/chucky-1/venue/internal/model"

	"context"
)

// Valuator combines positions with current prices into a portfolio view.
// Read-only, safe to call while trading
type Valuator struct {
	ledger Ledger
	prices PriceSource
}

// NewValuator is constructor
func NewValuator(ledger Ledger, prices PriceSource) *Valuator {
	return &Valuator{ledger: ledger, prices: prices}
}

// Valuate prices every position of the user against the last traded price
// and aggregates the totals. Cash balance is reported separately
func (v *Valuator) Valuate(ctx context.Context, userID string) (*model.Portfolio, error) {
	u, err := v.ledger.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := v.ledger.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	portfolio := model.Portfolio{
		Balance:  u.Balance,
		Holdings: make([]*model.Holding, 0, len(positions)),
	}
	for _, p := range positions {
		ltp := v.ltp(p.Symbol)
		currentValue := round2(float64(p.Quantity) * ltp)
		investedValue := round2(float64(p.Quantity) * p.AvgPrice)
		pnl := round2(currentValue - investedValue)
		var pnlPercent float64
		if investedValue != 0 {
			pnlPercent = round2(pnl / investedValue * 100)
		}
		portfolio.Holdings = append(portfolio.Holdings, &model.Holding{
			Symbol:       p.Symbol,
			Quantity:     p.Quantity,
			AvgPrice:     p.AvgPrice,
			LTP:          ltp,
			CurrentValue: currentValue,
			PnL:          pnl,
			PnLPercent:   pnlPercent,
		})
		portfolio.TotalInvested = round2(portfolio.TotalInvested + investedValue)
		portfolio.TotalCurrentValue = round2(portfolio.TotalCurrentValue + currentValue)
	}
	portfolio.TotalPnL = round2(portfolio.TotalCurrentValue - portfolio.TotalInvested)
	return &portfolio, nil
}

func (v *Valuator) ltp(symbol string) float64 {
	if tick, ok := v.prices.Snapshot(symbol); ok {
		return tick.Price
	}
	return v.prices.Ensure(symbol)
}
