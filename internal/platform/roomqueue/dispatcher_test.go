package roomqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDispatcher_PerKeyOrder(t *testing.T) {
	d := New(context.Background(), zerolog.Nop())

	var mu sync.Mutex
	seen := map[string][]int{}
	for i := 0; i < 50; i++ {
		for _, key := range []string{"!a", "!b", "!c"} {
			i, key := i, key
			if err := d.Submit(key, func(context.Context) {
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
		}
	}
	d.Wait()

	for key, got := range seen {
		if len(got) != 50 {
			t.Fatalf("%s: expected 50 jobs, got %d", key, len(got))
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("%s: job %d ran out of order (got %d)", key, i, v)
			}
		}
	}
	if d.Active() != 0 {
		t.Errorf("expected idle workers to exit, %d still active", d.Active())
	}
}

func TestDispatcher_NoConcurrencyWithinKey(t *testing.T) {
	d := New(context.Background(), zerolog.Nop())

	var running, maxRunning int32
	for i := 0; i < 20; i++ {
		d.Submit("!room", func(context.Context) {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	d.Wait()

	if maxRunning != 1 {
		t.Errorf("expected at most one job at a time per key, saw %d", maxRunning)
	}
}

func TestDispatcher_KeysRunInParallel(t *testing.T) {
	d := New(context.Background(), zerolog.Nop())

	release := make(chan struct{})
	started := make(chan string, 2)
	for _, key := range []string{"!a", "!b"} {
		key := key
		d.Submit(key, func(context.Context) {
			started <- key
			<-release
		})
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("jobs for different keys did not run concurrently")
		}
	}
	close(release)
	d.Wait()
}

func TestDispatcher_PanicDoesNotStopKey(t *testing.T) {
	d := New(context.Background(), zerolog.Nop())

	var ran int32
	d.Submit("!a", func(context.Context) { panic("boom") })
	d.Submit("!a", func(context.Context) { atomic.StoreInt32(&ran, 1) })
	d.Wait()

	if atomic.LoadInt32(&ran) != 1 {
		t.Error("job after a panic did not run")
	}
}

func TestDispatcher_RejectsAfterWait(t *testing.T) {
	d := New(context.Background(), zerolog.Nop())
	d.Wait()
	if err := d.Submit("!a", func(context.Context) {}); err == nil {
		t.Fatal("expected Submit after Wait to fail")
	}
}
