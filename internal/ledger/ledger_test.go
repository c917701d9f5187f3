package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type memStore struct {
	txs       []Transaction
	purchases map[string]Purchase
}

func newMemStore() *memStore {
	return &memStore{purchases: map[string]Purchase{}}
}

func (m *memStore) AppendTransaction(_ context.Context, tx Transaction) error {
	m.txs = append(m.txs, tx)
	return nil
}

func (m *memStore) AppendPurchase(_ context.Context, p Purchase) error {
	m.purchases[p.ItemID] = p
	return nil
}

func (m *memStore) PurchaseByItem(_ context.Context, itemID string) (*Purchase, error) {
	p, ok := m.purchases[itemID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) Balance(_ context.Context) (int64, error) {
	var balance int64
	for _, tx := range m.txs {
		if tx.Kind == KindEarn {
			balance += tx.Amount
		} else {
			balance -= tx.Amount
		}
	}
	if balance < 0 {
		balance = 0
	}
	return balance, nil
}

func (m *memStore) Transactions(_ context.Context) ([]Transaction, error) {
	return append([]Transaction{}, m.txs...), nil
}

func testWallet() (*Wallet, *memStore) {
	store := newMemStore()
	return NewWallet(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestWallet_BalanceIsDerived(t *testing.T) {
	ctx := context.Background()
	w, _ := testWallet()

	mustEarn(t, w, 5)
	mustEarn(t, w, 3)
	if _, err := w.Spend(ctx, 4, ""); err != nil {
		t.Fatalf("Spend: %v", err)
	}

	balance, err := w.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 4 {
		t.Fatalf("balance=%d, want 4", balance)
	}
}

func TestWallet_SpendBeyondBalance(t *testing.T) {
	ctx := context.Background()
	w, store := testWallet()

	mustEarn(t, w, 2)
	if _, err := w.Spend(ctx, 5, ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Spend err=%v, want ErrInsufficientBalance", err)
	}

	// Failed spend leaves the log untouched.
	if len(store.txs) != 1 {
		t.Fatalf("log has %d entries, want 1", len(store.txs))
	}
	balance, _ := w.Balance(ctx)
	if balance != 2 {
		t.Fatalf("balance=%d, want 2", balance)
	}
}

func TestWallet_PurchaseOncePerItem(t *testing.T) {
	ctx := context.Background()
	w, _ := testWallet()

	mustEarn(t, w, 10)
	p, err := w.Purchase(ctx, "golden-lamp", 4)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if p.ItemID != "golden-lamp" || p.TxID == "" {
		t.Fatalf("purchase=%+v", p)
	}

	if _, err := w.Purchase(ctx, "golden-lamp", 4); !errors.Is(err, ErrAlreadyOwned) {
		t.Fatalf("second Purchase err=%v, want ErrAlreadyOwned", err)
	}

	// The failed repeat did not spend anything.
	balance, _ := w.Balance(ctx)
	if balance != 6 {
		t.Fatalf("balance=%d, want 6", balance)
	}

	owned, err := w.Owned(ctx, "golden-lamp")
	if err != nil || !owned {
		t.Fatalf("Owned=%v, %v", owned, err)
	}
}

func TestWallet_PurchaseNeedsBalance(t *testing.T) {
	ctx := context.Background()
	w, store := testWallet()

	mustEarn(t, w, 3)
	if _, err := w.Purchase(ctx, "vault-door", 8); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Purchase err=%v, want ErrInsufficientBalance", err)
	}
	if len(store.purchases) != 0 {
		t.Fatalf("purchase recorded despite failure: %v", store.purchases)
	}
}

func TestWallet_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	w, _ := testWallet()
	if _, err := w.Earn(ctx, 0, ""); err == nil {
		t.Fatalf("Earn(0) should fail")
	}
	if _, err := w.Spend(ctx, -2, ""); err == nil {
		t.Fatalf("Spend(-2) should fail")
	}
}

func mustEarn(t *testing.T, w *Wallet, amount int64) {
	t.Helper()
	if _, err := w.Earn(context.Background(), amount, ""); err != nil {
		t.Fatalf("Earn(%d): %v", amount, err)
	}
}

func TestWallet_ConcurrentPurchasesOfOneItem(t *testing.T) {
	ctx := context.Background()
	w, store := testWallet()
	mustEarn(t, w, 20)

	const racers = 4
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Purchase(ctx, "lantern", 4)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, owned int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadyOwned):
			owned++
		default:
			t.Fatalf("Purchase: %v", err)
		}
	}
	if won != 1 || owned != racers-1 {
		t.Fatalf("won=%d owned=%d, want exactly one winner", won, owned)
	}

	// Exactly one spend hit the log; the losers left it untouched.
	var spends int
	for _, tx := range store.txs {
		if tx.Kind == KindSpend {
			spends++
		}
	}
	if spends != 1 {
		t.Fatalf("spend transactions=%d, want 1", spends)
	}
	if len(store.purchases) != 1 {
		t.Fatalf("purchases=%d, want 1", len(store.purchases))
	}
}
