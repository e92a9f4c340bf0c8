package clientdata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:clientdata_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(db)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	return repo
}

type cachedPrice struct {
	Price float64 `json:"price"`
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo := testRepo(t)

	if err := repo.Store("current_prices", "AAPL", cachedPrice{Price: 190.5}, TTLCurrentPrice); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	data, err := repo.GetIfFresh("current_prices", "AAPL")
	if err != nil {
		t.Fatalf("GetIfFresh failed: %v", err)
	}
	if data == nil {
		t.Fatal("expected fresh cache hit")
	}

	var got cachedPrice
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Price != 190.5 {
		t.Errorf("price = %v, want 190.5", got.Price)
	}
}

func TestGetIfFreshMissAndExpiry(t *testing.T) {
	repo := testRepo(t)

	data, err := repo.GetIfFresh("exchange_rates", "USD:KRW")
	if err != nil {
		t.Fatalf("GetIfFresh failed: %v", err)
	}
	if data != nil {
		t.Fatal("expected miss for unknown key")
	}

	// Store already expired
	if err := repo.Store("exchange_rates", "USD:KRW", cachedPrice{Price: 1350}, -time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	data, err = repo.GetIfFresh("exchange_rates", "USD:KRW")
	if err != nil {
		t.Fatalf("GetIfFresh failed: %v", err)
	}
	if data != nil {
		t.Fatal("expected expired entry to miss")
	}

	// Stale fallback still returns it
	data, err = repo.Get("exchange_rates", "USD:KRW")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if data == nil {
		t.Fatal("expected stale entry from Get")
	}
}

func TestStoreUpserts(t *testing.T) {
	repo := testRepo(t)

	if err := repo.Store("current_prices", "AAPL", cachedPrice{Price: 1}, TTLCurrentPrice); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := repo.Store("current_prices", "AAPL", cachedPrice{Price: 2}, TTLCurrentPrice); err != nil {
		t.Fatalf("Store (upsert) failed: %v", err)
	}

	data, err := repo.GetIfFresh("current_prices", "AAPL")
	if err != nil {
		t.Fatalf("GetIfFresh failed: %v", err)
	}
	var got cachedPrice
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Price != 2 {
		t.Errorf("price = %v, want upserted value 2", got.Price)
	}
}

func TestDeleteExpired(t *testing.T) {
	repo := testRepo(t)

	if err := repo.Store("masters", "AAPL", cachedPrice{Price: 1}, -time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := repo.Store("masters", "QQQ", cachedPrice{Price: 2}, TTLMaster); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	deleted, err := repo.DeleteExpired("masters")
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestValidateTable(t *testing.T) {
	repo := testRepo(t)
	if err := repo.Store("queues; DROP TABLE queues", "x", cachedPrice{}, time.Minute); err == nil {
		t.Fatal("expected invalid table name to be rejected")
	}
}
