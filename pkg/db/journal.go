package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DecisionRecord is one journaled verdict.
type DecisionRecord struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	OrderType  string    `json:"order_type"`
	Admitted   bool      `json:"admitted"`
	Reason     string    `json:"reason"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// FillRecord is one journaled execution report.
type FillRecord struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"realized_pnl"`
	CreatedAt   time.Time `json:"created_at"`
}

// InsertDecision appends one verdict to the journal.
func (d *Database) InsertDecision(ctx context.Context, rec DecisionRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO decisions (id, symbol, side, order_type, admitted, reason, size, price, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Symbol, rec.Side, rec.OrderType, boolToInt(rec.Admitted),
		rec.Reason, rec.Size, rec.Price, rec.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// InsertFill appends one fill to the journal.
func (d *Database) InsertFill(ctx context.Context, rec FillRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO fills (id, symbol, side, size, price, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Symbol, rec.Side, rec.Size, rec.Price, rec.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit verdicts, newest first.
func (d *Database) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, side, order_type, admitted, reason, size, price, confidence, created_at
		FROM decisions
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var admitted int
		var orderType sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Side, &orderType, &admitted,
			&rec.Reason, &rec.Size, &rec.Price, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.Admitted = admitted == 1
		rec.OrderType = orderType.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentFills returns up to limit fills, newest first.
func (d *Database) RecentFills(ctx context.Context, limit int) ([]FillRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, side, size, price, realized_pnl, created_at
		FROM fills
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var rec FillRecord
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Side, &rec.Size, &rec.Price,
			&rec.RealizedPnL, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
