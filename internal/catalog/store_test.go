package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"

	"tallystore/internal/common/database"
	"tallystore/internal/common/money"
	"tallystore/internal/wallet"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping database test")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.New(context.Background(), database.Config{
		URL:      url,
		MaxConns: 5,
		MinConns: 1,
		Migrate:  true,
	}, logger)
	if err != nil {
		t.Fatalf("connect database: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func seedUser(t *testing.T, db *database.DB, balance money.Money) string {
	t.Helper()
	ctx := context.Background()
	userID := ulid.Make().String()

	store := wallet.NewStore(db)
	err := store.CreateProfile(ctx, &wallet.Profile{
		UserID:   userID,
		Email:    fmt.Sprintf("%s@example.test", userID),
		FullName: "Test Buyer",
		Balance:  money.Zero(money.NGN),
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if balance.IsPositive() {
		if _, err := store.CreditWallet(ctx, db.Pool(), userID, balance); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return userID
}

func seedGroup(t *testing.T, db *database.DB, price money.Money, stock int) string {
	t.Helper()
	ctx := context.Background()
	store := NewStore(db)

	categoryID := ulid.Make().String()
	err := store.CreateCategory(ctx, &Category{
		ID:   categoryID,
		Name: "Test Platform",
		Slug: "test-" + categoryID,
	})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}

	groupID := ulid.Make().String()
	err = store.CreateGroup(ctx, &Group{
		ID:         groupID,
		CategoryID: categoryID,
		Name:       "Aged accounts",
		Price:      price,
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	accounts := make([]*Account, stock)
	for i := range accounts {
		accounts[i] = &Account{
			ID:       ulid.Make().String(),
			GroupID:  groupID,
			Username: fmt.Sprintf("user%d", i),
			Password: "secret",
		}
	}
	if err := store.AddAccounts(ctx, accounts); err != nil {
		t.Fatalf("add accounts: %v", err)
	}
	return groupID
}

func testService(db *database.DB) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(db, wallet.NewStore(db), nil, logger)
}

func TestPurchaseDebitsAndDeliversAccount(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	svc := testService(db)

	price := money.Naira(2000)
	userID := seedUser(t, db, money.Naira(5000))
	groupID := seedGroup(t, db, price, 2)

	order, account, err := svc.Purchase(ctx, userID, groupID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if account.Username == "" || account.Password == "" {
		t.Fatal("purchase must deliver credentials")
	}
	if !order.Amount.Equal(price) {
		t.Fatalf("order amount = %s, want %s", order.Amount, price)
	}

	profile, err := wallet.NewStore(db).GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	want := money.Naira(3000)
	if !profile.Balance.Equal(want) {
		t.Fatalf("balance = %s, want %s", profile.Balance, want)
	}

	group, err := svc.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.Available != 1 {
		t.Fatalf("available = %d, want 1 after one sale", group.Available)
	}

	orders, accounts, err := svc.ListOrders(ctx, userID, 10, 0)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 || accounts[0].Username != account.Username {
		t.Fatal("order history must include the delivered account")
	}
}

func TestPurchaseInsufficientBalanceLeavesStockUntouched(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	svc := testService(db)

	userID := seedUser(t, db, money.Naira(100))
	groupID := seedGroup(t, db, money.Naira(2000), 1)

	_, _, err := svc.Purchase(ctx, userID, groupID)
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	group, err := svc.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.Available != 1 {
		t.Fatalf("available = %d, want 1 (failed purchase must roll back the claim)", group.Available)
	}
}

func TestPurchaseOutOfStock(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	svc := testService(db)

	userID := seedUser(t, db, money.Naira(10000))
	groupID := seedGroup(t, db, money.Naira(2000), 0)

	_, _, err := svc.Purchase(ctx, userID, groupID)
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("err = %v, want ErrOutOfStock", err)
	}
}

func TestConcurrentPurchasesClaimDistinctAccounts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	svc := testService(db)

	const buyers = 4
	const stock = 2
	price := money.Naira(1000)
	groupID := seedGroup(t, db, price, stock)

	userIDs := make([]string, buyers)
	for i := range userIDs {
		userIDs[i] = seedUser(t, db, money.Naira(5000))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sold     = map[string]bool{}
		credited int
		outOf    int
	)
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, account, err := svc.Purchase(ctx, userID, groupID)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrOutOfStock) {
				outOf++
				return
			}
			if err != nil {
				t.Errorf("purchase: %v", err)
				return
			}
			if sold[account.ID] {
				t.Errorf("account %s sold twice", account.ID)
			}
			sold[account.ID] = true
			credited++
		}(userID)
	}
	wg.Wait()

	if credited != stock || outOf != buyers-stock {
		t.Fatalf("sold = %d, out of stock = %d; want %d and %d", credited, outOf, stock, buyers-stock)
	}
}
