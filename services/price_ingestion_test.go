package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func trade(price string) []byte {
	return []byte(`{"e":"trade","E":1700000000000,"s":"BTCUSDT","t":1,"p":"` + price + `","q":"0.01","T":1700000000000}`)
}

func newTestStream(cache PriceCache, clock *fakeClock) *PriceIngestionStream {
	s := NewPriceIngestionStream(IngestionConfig{URL: "ws://unused", TickInterval: time.Second}, cache, zap.NewNop())
	s.now = clock.Now
	return s
}

func cached(t *testing.T, cache PriceCache) string {
	t.Helper()
	v, _, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return v
}

func TestHandleMessageDecimation(t *testing.T) {
	cache := NewMemoryPriceCache()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s := newTestStream(cache, clock)
	ctx := context.Background()

	// t=0ms accepted, t=300ms dropped, t=1000ms accepted
	s.handleMessage(ctx, trade("100.00"))
	if got := cached(t, cache); got != "100.00" {
		t.Fatalf("after first tick cache = %q, want 100.00", got)
	}

	clock.Advance(300 * time.Millisecond)
	s.handleMessage(ctx, trade("101.00"))
	if got := cached(t, cache); got != "100.00" {
		t.Fatalf("tick inside window overwrote cache: %q", got)
	}

	clock.Advance(700 * time.Millisecond)
	s.handleMessage(ctx, trade("102.00"))
	if got := cached(t, cache); got != "102.00" {
		t.Fatalf("tick at window boundary not accepted, cache = %q", got)
	}
}

func TestHandleMessageMalformedDoesNotConsumeWindow(t *testing.T) {
	cache := NewMemoryPriceCache()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s := newTestStream(cache, clock)
	ctx := context.Background()

	s.handleMessage(ctx, []byte(`not json`))
	s.handleMessage(ctx, []byte(`{"e":"trade","s":"BTCUSDT"}`))
	s.handleMessage(ctx, trade("abc"))

	if _, found, _ := cache.Get(ctx); found {
		t.Fatal("malformed ticks must not reach the cache")
	}

	s.handleMessage(ctx, trade("99.5"))
	if got := cached(t, cache); got != "99.5" {
		t.Errorf("cache = %q, want 99.5", got)
	}
}

func TestAcceptConcurrentSingleWinner(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s := newTestStream(NewMemoryPriceCache(), clock)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.accept(clock.Now()) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("accepted %d ticks in one window, want 1", wins)
	}
}

var upgrader = websocket.Upgrader{}

func TestRunEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, p := range []string{"67000.01", "67000.02", "67000.03"} {
			if err := conn.WriteMessage(websocket.TextMessage, trade(p)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cache := NewMemoryPriceCache()
	s := NewPriceIngestionStream(IngestionConfig{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		TickInterval: time.Hour,
	}, cache, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if v, found, _ := cache.Get(ctx); found {
			if v != "67000.01" {
				t.Errorf("cache = %q, want first tick of the window", v)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no tick reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// give the remaining ticks time to arrive and be dropped
	time.Sleep(100 * time.Millisecond)
	if got := cached(t, cache); got != "67000.01" {
		t.Errorf("cache = %q after window, want 67000.01", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunGivesUpAfterMaxReconnects(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s := NewPriceIngestionStream(IngestionConfig{URL: url, MaxReconnects: 2}, NewMemoryPriceCache(), zap.NewNop())
	s.newBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, ErrStreamGaveUp) {
		t.Fatalf("Run() = %v, want ErrStreamGaveUp", err)
	}
}

func TestRunReconnectsAfterDrop(t *testing.T) {
	var (
		mu    sync.Mutex
		dials int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()

		if n == 1 {
			// first session drops immediately
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, trade("42.42"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cache := NewMemoryPriceCache()
	s := NewPriceIngestionStream(IngestionConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, cache, zap.NewNop())
	s.newBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(5 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v, found, _ := cache.Get(ctx); found && v == "42.42" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stream did not recover after the connection dropped")
}
