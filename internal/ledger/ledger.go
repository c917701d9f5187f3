// Package ledger is the reward economy: an append-only transaction log, a
// derived balance, and one-shot item purchases.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInsufficientBalance is returned when a spend exceeds the balance. The
// log is left untouched.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrAlreadyOwned is returned when an item is purchased a second time.
var ErrAlreadyOwned = errors.New("item already owned")

// Kind distinguishes the two transaction directions.
type Kind string

const (
	KindEarn  Kind = "earn"
	KindSpend Kind = "spend"
)

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID        string
	Kind      Kind
	Amount    int64
	Timestamp time.Time
	// Metadata is a free-form JSON object ("{}" when empty).
	Metadata string
}

// Purchase marks an item as owned, pointing at the spend that paid for it.
type Purchase struct {
	ItemID    string
	TxID      string
	Timestamp time.Time
}

// Store is the persistence the wallet needs. *store.Store implements it.
type Store interface {
	AppendTransaction(ctx context.Context, tx Transaction) error
	AppendPurchase(ctx context.Context, p Purchase) error
	PurchaseByItem(ctx context.Context, itemID string) (*Purchase, error)
	Balance(ctx context.Context) (int64, error)
	Transactions(ctx context.Context) ([]Transaction, error)
}

// Wallet applies the economy rules on top of a Store. The balance is always
// derived from the log, never cached.
type Wallet struct {
	store Store
	log   *slog.Logger
	now   func() time.Time

	// Guards the check-then-append window within this process. Cross-process
	// writers are out of scope for the wallet; the store's constraints
	// backstop the purchase rule regardless.
	mu sync.Mutex
}

// NewWallet returns a wallet over store.
func NewWallet(store Store, log *slog.Logger) *Wallet {
	return &Wallet{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Balance returns the derived balance, floored at zero.
func (w *Wallet) Balance(ctx context.Context) (int64, error) {
	return w.store.Balance(ctx)
}

// Earn appends an earn transaction and returns it.
func (w *Wallet) Earn(ctx context.Context, amount int64, metadata string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("earn amount must be positive, got %d", amount)
	}
	tx := w.newTransaction(KindEarn, amount, metadata)
	if err := w.store.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	w.log.Debug("earned points", "amount", amount, "tx", tx.ID)
	return tx, nil
}

// Spend appends a spend transaction when the balance covers it. An
// insufficient balance is an ordinary negative result, not an exception:
// the log is unchanged and ErrInsufficientBalance is returned.
func (w *Wallet) Spend(ctx context.Context, amount int64, metadata string) (Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spendLocked(ctx, amount, metadata)
}

func (w *Wallet) spendLocked(ctx context.Context, amount int64, metadata string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("spend amount must be positive, got %d", amount)
	}

	balance, err := w.store.Balance(ctx)
	if err != nil {
		return Transaction{}, err
	}
	if amount > balance {
		return Transaction{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, amount)
	}
	tx := w.newTransaction(KindSpend, amount, metadata)
	if err := w.store.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	w.log.Debug("spent points", "amount", amount, "tx", tx.ID)
	return tx, nil
}

// Purchase buys an item exactly once: a repeat purchase returns
// ErrAlreadyOwned, a short balance ErrInsufficientBalance, and in either
// case nothing is appended.
func (w *Wallet) Purchase(ctx context.Context, itemID string, price int64) (Purchase, error) {
	if itemID == "" {
		return Purchase{}, fmt.Errorf("item id is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, err := w.store.PurchaseByItem(ctx, itemID)
	if err != nil {
		return Purchase{}, err
	}
	if existing != nil {
		return Purchase{}, fmt.Errorf("%w: %s", ErrAlreadyOwned, itemID)
	}

	tx, err := w.spendLocked(ctx, price, fmt.Sprintf(`{"item":%q}`, itemID))
	if err != nil {
		return Purchase{}, err
	}
	p := Purchase{
		ItemID:    itemID,
		TxID:      tx.ID,
		Timestamp: tx.Timestamp,
	}
	if err := w.store.AppendPurchase(ctx, p); err != nil {
		return Purchase{}, err
	}
	w.log.Info("item purchased", "item", itemID, "price", price)
	return p, nil
}

// Owned reports whether an item has been purchased.
func (w *Wallet) Owned(ctx context.Context, itemID string) (bool, error) {
	p, err := w.store.PurchaseByItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// History lists the transaction log oldest-first.
func (w *Wallet) History(ctx context.Context) ([]Transaction, error) {
	return w.store.Transactions(ctx)
}

func (w *Wallet) newTransaction(kind Kind, amount int64, metadata string) Transaction {
	if metadata == "" {
		metadata = "{}"
	}
	return Transaction{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Amount:    amount,
		Timestamp: w.now(),
		Metadata:  metadata,
	}
}
