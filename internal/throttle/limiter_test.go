package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLimiter(t *testing.T) {
	t.Run("first fire allowed, repeat within period blocked", func(t *testing.T) {
		clock := time.Unix(1000, 0)
		l := NewLocal()
		l.now = func() time.Time { return clock }

		if !l.MarkAndTest(context.Background(), "report_crash_loop", "prod:api", time.Minute) {
			t.Fatal("first fire must be allowed")
		}
		if l.MarkAndTest(context.Background(), "report_crash_loop", "prod:api", time.Minute) {
			t.Fatal("repeat within period must be blocked")
		}

		clock = clock.Add(61 * time.Second)
		if !l.MarkAndTest(context.Background(), "report_crash_loop", "prod:api", time.Minute) {
			t.Fatal("fire after period must be allowed")
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := NewLocal()
		if !l.MarkAndTest(context.Background(), "a", "k1", time.Hour) {
			t.Fatal("k1 first fire")
		}
		if !l.MarkAndTest(context.Background(), "a", "k2", time.Hour) {
			t.Fatal("k2 should be unaffected by k1")
		}
		if !l.MarkAndTest(context.Background(), "b", "k1", time.Hour) {
			t.Fatal("action b should be unaffected by action a")
		}
	})

	t.Run("action and key do not collide across the separator", func(t *testing.T) {
		l := NewLocal()
		if !l.MarkAndTest(context.Background(), "ab", "c", time.Hour) {
			t.Fatal("first pair")
		}
		if !l.MarkAndTest(context.Background(), "a", "bc", time.Hour) {
			t.Fatal("distinct pairs must not share state")
		}
	})

	t.Run("single winner under concurrency", func(t *testing.T) {
		l := NewLocal()
		var allowed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.MarkAndTest(context.Background(), "act", "key", time.Hour) {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		if got := allowed.Load(); got != 1 {
			t.Fatalf("allowed = %d, want exactly 1", got)
		}
	})
}
