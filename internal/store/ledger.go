package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/calderf/branchline/internal/ledger"
)

// AppendTransaction appends one ledger row. The ledger is append-only; rows
// are never updated or deleted.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	metadata := tx.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, kind, amount, created_at, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		tx.ID, string(tx.Kind), tx.Amount, tx.Timestamp.UnixMilli(), metadata)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// Balance derives the wallet balance from the transaction log. It is never
// stored; the log is the only source of truth.
func (s *Store) Balance(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE kind WHEN 'earn' THEN amount ELSE -amount END), 0)
		FROM transactions`)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		return 0, fmt.Errorf("derive balance: %w", err)
	}
	if balance < 0 {
		balance = 0
	}
	return balance, nil
}

// AppendPurchase records a purchase. The item_id primary key backstops the
// one-purchase-per-item rule.
func (s *Store) AppendPurchase(ctx context.Context, p ledger.Purchase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (item_id, tx_id, created_at)
		VALUES (?, ?, ?)`,
		p.ItemID, p.TxID, p.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("append purchase: %w", err)
	}
	return nil
}

// PurchaseByItem returns the purchase for an item, or nil when the item has
// never been bought.
func (s *Store) PurchaseByItem(ctx context.Context, itemID string) (*ledger.Purchase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, tx_id, created_at FROM purchases WHERE item_id = ?`, itemID)
	var p ledger.Purchase
	var createdAt int64
	if err := row.Scan(&p.ItemID, &p.TxID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	p.Timestamp = time.UnixMilli(createdAt)
	return &p, nil
}

// Transactions lists the ledger oldest-first.
func (s *Store) Transactions(ctx context.Context) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, amount, created_at, metadata
		FROM transactions
		ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var kind string
		var createdAt int64
		if err := rows.Scan(&tx.ID, &kind, &tx.Amount, &createdAt, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Kind = ledger.Kind(kind)
		tx.Timestamp = time.UnixMilli(createdAt)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}
