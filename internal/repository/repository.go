// Package repository stores users, positions and trades in the database
package repository

import (
	"github.com/chucky-1/venue/internal/model"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"context"
	"errors"
	"fmt"
	"math"
)

// StartingBalance is the cash every user begins with
const StartingBalance = 1000000.00

// ErrConflict reports that a transaction lost against a concurrent update.
// The caller may retry with a fresh price
var ErrConflict = errors.New("ledger conflict")

// Repository works with postgres through a connection pool. A single
// pgx.Conn cannot serve overlapping queries, the pool can
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository is constructor
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreateUser returns the user, creating it with the starting balance
// on first reference
func (r *Repository) GetOrCreateUser(ctx context.Context, userID string) (*model.User, error) {
	_, err := r.pool.Exec(ctx, "INSERT INTO users (id, balance) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING",
		userID, StartingBalance)
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", userID, err)
	}
	u := model.User{ID: userID}
	err = r.pool.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1", userID).Scan(&u.Balance)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &u, nil
}

// GetPosition returns the position of the user in the symbol.
// No row means no position: quantity zero, not an error
func (r *Repository) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	p := model.Position{UserID: userID, Symbol: symbol}
	err := r.pool.QueryRow(ctx,
		"SELECT id, quantity, avg_price FROM positions WHERE user_id = $1 AND symbol = $2",
		userID, symbol).Scan(&p.ID, &p.Quantity, &p.AvgPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, symbol, err)
	}
	return &p, nil
}

// GetPositions returns all positions of the user
func (r *Repository) GetPositions(ctx context.Context, userID string) ([]*model.Position, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, symbol, quantity, avg_price FROM positions WHERE user_id = $1 ORDER BY symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("get positions of %s: %w", userID, err)
	}
	defer rows.Close()

	var positions []*model.Position
	for rows.Next() {
		p := model.Position{UserID: userID}
		if err = rows.Scan(&p.ID, &p.Symbol, &p.Quantity, &p.AvgPrice); err != nil {
			return nil, err
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

// GetTrades returns the trade log of the user, newest first
func (r *Repository) GetTrades(ctx context.Context, userID string) ([]*model.Trade, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, symbol, quantity, price, side, created_at FROM trades WHERE user_id = $1 ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("get trades of %s: %w", userID, err)
	}
	defer rows.Close()

	var trades []*model.Trade
	for rows.Next() {
		t := model.Trade{UserID: userID}
		if err = rows.Scan(&t.ID, &t.Symbol, &t.Quantity, &t.Price, &t.Side, &t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// ApplyBuy deducts value from the balance, upserts the position with a
// weighted average price and appends the trade, all in one transaction.
// The balance guard makes a racing overdraft abort with ErrConflict
func (r *Repository) ApplyBuy(ctx context.Context, userID, symbol string, qty int64, price float64) (*model.Trade, error) {
	total := round2(float64(qty) * price)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin buy: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx,
		"UPDATE users SET balance = round((balance - $1)::numeric, 2) WHERE id = $2 AND balance >= $1",
		total, userID)
	if err != nil {
		return nil, fmt.Errorf("deduct balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, ErrConflict
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO positions (user_id, symbol, quantity, avg_price) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (user_id, symbol) DO UPDATE SET "+
			"avg_price = round(((positions.quantity * positions.avg_price + EXCLUDED.quantity * EXCLUDED.avg_price) / "+
			"(positions.quantity + EXCLUDED.quantity))::numeric, 2), "+
			"quantity = positions.quantity + EXCLUDED.quantity",
		userID, symbol, qty, price)
	if err != nil {
		return nil, fmt.Errorf("upsert position: %w", err)
	}

	trade, err := insertTrade(ctx, tx, userID, symbol, qty, price, model.Buy)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit buy: %w", err)
	}
	return trade, nil
}

// ApplySell credits value to the balance, decrements the position and appends
// the trade in one transaction. A position that reaches zero is deleted.
// The quantity guard makes a racing oversell abort with ErrConflict
func (r *Repository) ApplySell(ctx context.Context, userID, symbol string, qty int64, price float64) (*model.Trade, error) {
	total := round2(float64(qty) * price)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin sell: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx,
		"UPDATE positions SET quantity = quantity - $1 WHERE user_id = $2 AND symbol = $3 AND quantity >= $1",
		qty, userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("decrement position: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, ErrConflict
	}

	_, err = tx.Exec(ctx,
		"DELETE FROM positions WHERE user_id = $1 AND symbol = $2 AND quantity = 0",
		userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("delete empty position: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE users SET balance = round((balance + $1)::numeric, 2) WHERE id = $2",
		total, userID)
	if err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}

	trade, err := insertTrade(ctx, tx, userID, symbol, qty, price, model.Sell)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit sell: %w", err)
	}
	return trade, nil
}

// UpsertSymbol persists a lazily created symbol with its base price
func (r *Repository) UpsertSymbol(ctx context.Context, symbol string, basePrice float64) error {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO symbols (title, base_price) VALUES ($1, $2) ON CONFLICT (title) DO NOTHING",
		symbol, basePrice)
	if err != nil {
		return fmt.Errorf("upsert symbol %s: %w", symbol, err)
	}
	return nil
}

// CreateWatchlist creates a named watchlist for the user
func (r *Repository) CreateWatchlist(ctx context.Context, userID, name string) (*model.Watchlist, error) {
	w := model.Watchlist{UserID: userID, Name: name}
	err := r.pool.QueryRow(ctx,
		"INSERT INTO watchlists (user_id, name) VALUES ($1, $2) RETURNING id",
		userID, name).Scan(&w.ID)
	if err != nil {
		return nil, fmt.Errorf("create watchlist: %w", err)
	}
	return &w, nil
}

// GetWatchlists returns all watchlists of the user
func (r *Repository) GetWatchlists(ctx context.Context, userID string) ([]*model.Watchlist, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, name FROM watchlists WHERE user_id = $1 ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("get watchlists of %s: %w", userID, err)
	}
	defer rows.Close()

	var watchlists []*model.Watchlist
	for rows.Next() {
		w := model.Watchlist{UserID: userID}
		if err = rows.Scan(&w.ID, &w.Name); err != nil {
			return nil, err
		}
		watchlists = append(watchlists, &w)
	}
	return watchlists, rows.Err()
}

func insertTrade(ctx context.Context, tx pgx.Tx, userID, symbol string, qty int64,
	price float64, side model.Side) (*model.Trade, error) {
	t := model.Trade{UserID: userID, Symbol: symbol, Quantity: qty, Price: price, Side: side}
	err := tx.QueryRow(ctx,
		"INSERT INTO trades (user_id, symbol, quantity, price, side) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		userID, symbol, qty, price, side).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append trade: %w", err)
	}
	return &t, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
