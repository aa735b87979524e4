package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/webmvc/internal/adapter/postgres"
	"github.com/Strob0t/webmvc/internal/config"
	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// setupStore creates a pool, runs all migrations and returns a ready-to-use
// FlashStore. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.FlashStore {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := config.Defaults().Postgres
	cfg.DSN = dsn
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewFlashStore(pool)
}

func TestFlashStoreRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	err := s.Update(ctx, id, func(maps []mvc.FlashMap) ([]mvc.FlashMap, error) {
		if len(maps) != 0 {
			t.Errorf("expected fresh session, got %d maps", len(maps))
		}
		return append(maps, *mvc.NewFlashMap().Put("msg", "saved")), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []mvc.FlashMap
	if err := s.Update(ctx, id, func(maps []mvc.FlashMap) ([]mvc.FlashMap, error) {
		got = maps
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 map, got %d", len(got))
	}
	if v, _ := got[0].Get("msg"); v != "saved" {
		t.Fatalf("unexpected attribute %v", v)
	}
}

func TestFlashStoreConcurrentRemoveOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	if err := s.Update(ctx, id, func(maps []mvc.FlashMap) ([]mvc.FlashMap, error) {
		return append(maps, *mvc.NewFlashMap().Put("k", "v")), nil
	}); err != nil {
		t.Fatal(err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, id, func(maps []mvc.FlashMap) ([]mvc.FlashMap, error) {
				mu.Lock()
				seen += len(maps)
				mu.Unlock()
				return nil, nil
			})
		}()
	}
	wg.Wait()
	if seen != 1 {
		t.Fatalf("flash map observed %d times, want 1", seen)
	}
}

func TestFlashStorePurgeStale(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	if err := s.Update(ctx, uuid.NewString(), func(maps []mvc.FlashMap) ([]mvc.FlashMap, error) {
		return append(maps, *mvc.NewFlashMap().Put("k", "v")), nil
	}); err != nil {
		t.Fatal(err)
	}
	n, err := s.PurgeStale(ctx, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Errorf("expected at least one purged row, got %d", n)
	}
}
