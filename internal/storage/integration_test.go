package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// testPool connects to the database named by TEST_DATABASE_URL and ensures
// the schema. Tests using it are skipped when the variable is unset, so the
// default `go test` run stays hermetic.
func testPool(t *testing.T) *Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool, err := Connect(ctx, config.DatabaseConfig{
		URL:             url,
		MaxConns:        4,
		ConnectAttempts: 2,
		ConnectBackoff:  100 * time.Millisecond,
		MaxBackoff:      time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return pool
}

func TestTryRecordAtomicSingleWinner(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewTriggerRepo(pool)

	conditionID := "it-" + uuid.NewString()
	trigger := func(token string) types.Trigger {
		return types.Trigger{
			TokenID:     token,
			ConditionID: conditionID,
			Threshold:   0.95,
			Price:       decimal.NewFromFloat(0.96),
			Size:        decimal.NewFromInt(100),
			Score:       0.5,
			Outcome:     "Yes",
			TriggeredAt: time.Now().UTC(),
		}
	}

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		token := "tok-a"
		if i%2 == 1 {
			token = "tok-b"
		}
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			inserted, err := repo.TryRecordAtomic(ctx, trigger(token))
			if err != nil {
				t.Errorf("TryRecordAtomic: %v", err)
				return
			}
			if inserted {
				wins <- token
			}
		}(token)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %d (%v), want exactly 1", len(winners), winners)
	}

	stored, found, err := repo.Get(ctx, conditionID, 0.95)
	if err != nil || !found {
		t.Fatalf("Get after race: found=%v err=%v", found, err)
	}
	if stored.TokenID != winners[0] {
		t.Errorf("stored token = %s, want the winner %s", stored.TokenID, winners[0])
	}
}

func TestSessionLockContention(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	// Two distinct pinned connections contend for the same key; only the
	// first holds it until release.
	key := TriggerLockKey("it-lock-"+uuid.NewString(), 0)

	conn1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn1.Release()
	conn2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn2.Release()

	got, err := TrySessionLock(ctx, conn1, key)
	if err != nil || !got {
		t.Fatalf("first acquire: got=%v err=%v", got, err)
	}
	got, err = TrySessionLock(ctx, conn2, key)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Fatal("second session acquired a held lock")
	}

	if err := ReleaseSessionLock(ctx, conn1, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, err = TrySessionLock(ctx, conn2, key)
	if err != nil || !got {
		t.Fatalf("acquire after release: got=%v err=%v", got, err)
	}
	if err := ReleaseSessionLock(ctx, conn2, key); err != nil {
		t.Fatalf("release second: %v", err)
	}
}

func TestWatermarkNeverMovesBackward(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewWatermarkRepo(pool)

	key := "it-" + uuid.NewString()
	for _, v := range []int64{100, 250, 180} {
		if err := repo.Update(ctx, StreamTrades, key, v); err != nil {
			t.Fatalf("update %d: %v", v, err)
		}
	}

	got, err := repo.Get(ctx, StreamTrades, key)
	if err != nil {
		t.Fatal(err)
	}
	if got != 250 {
		t.Errorf("watermark = %d, want 250 (stale update must not regress it)", got)
	}
}
