package warmer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edge-warmer/internal/fetcher"
	"github.com/JakeFAU/edge-warmer/internal/runlog"
	"github.com/JakeFAU/edge-warmer/internal/target"
)

var sgDomain = target.Domain{
	Key:      "sg",
	BaseURL:  "https://example.sg",
	Identity: target.Identity{Label: "SG", UserAgent: "warm-agent"},
}

type rowRecorder struct {
	mu   sync.Mutex
	rows []runlog.Fields
}

func (r *rowRecorder) Log(f runlog.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, f)
}

func (r *rowRecorder) byURL() map[string]runlog.Fields {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]runlog.Fields, len(r.rows))
	for _, row := range r.rows {
		out[row.URL] = row
	}
	return out
}

type purgeRecorder struct {
	mu   sync.Mutex
	urls []string
}

func (p *purgeRecorder) Purge(_ context.Context, rawURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, rawURL)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func okResponse(headers map[string]string) fetcher.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return fetcher.Response{StatusCode: http.StatusOK, Headers: h}
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.sg/p/%d", i)
	}
	return out
}

func TestBatchesPreserveOrder(t *testing.T) {
	t.Parallel()

	got := Batches([]string{"a", "b", "c", "d", "e"}, 2)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, got)
	require.Empty(t, Batches(nil, 3))
	require.Len(t, Batches([]string{"a", "b"}, 0), 2)
}

func TestWarmRunsBatchesSequentiallyWithDelayBetween(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, batch    int
		wantBatches int
	}{
		{n: 5, batch: 2, wantBatches: 3},
		{n: 4, batch: 1, wantBatches: 4},
		{n: 3, batch: 10, wantBatches: 1},
		{n: 0, batch: 1, wantBatches: 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d,b=%d", tt.n, tt.batch), func(t *testing.T) {
			t.Parallel()

			var inFlight, maxInFlight atomic.Int32
			getter := fetcher.GetterFunc(func(context.Context, string, target.Identity) (fetcher.Response, error) {
				cur := inFlight.Add(1)
				for {
					prev := maxInFlight.Load()
					if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return okResponse(map[string]string{"X-Litespeed-Cache": "hit"}), nil
			})

			sleeper := &sleepRecorder{}
			rows := &rowRecorder{}
			w := New(getter, nil, Config{BatchSize: tt.batch, InterBatchDelay: 2 * time.Second, Sleep: sleeper.Sleep}, nil)
			stats := w.Warm(context.Background(), sgDomain, urls(tt.n), rows)

			require.Equal(t, tt.wantBatches, stats.Batches)
			require.Equal(t, tt.n, stats.Warmed)
			require.Len(t, rows.rows, tt.n)
			require.LessOrEqual(t, int(maxInFlight.Load()), tt.batch)

			wantDelays := max(tt.wantBatches-1, 0)
			require.Len(t, sleeper.delays, wantDelays)
			var total time.Duration
			for _, d := range sleeper.delays {
				total += d
			}
			require.Equal(t, time.Duration(wantDelays)*2*time.Second, total)
		})
	}
}

func TestWarmFetchesBatchMembersConcurrently(t *testing.T) {
	t.Parallel()

	const n = 4
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	getter := fetcher.GetterFunc(func(ctx context.Context, _ string, _ target.Identity) (fetcher.Response, error) {
		arrived.Done()
		select {
		case <-release:
			return okResponse(nil), nil
		case <-time.After(2 * time.Second):
			return fetcher.Response{}, errors.New("batch members did not run concurrently")
		}
	})

	w := New(getter, nil, Config{BatchSize: n}, nil)
	stats := w.Warm(context.Background(), sgDomain, urls(n), &rowRecorder{})
	require.Equal(t, n, stats.Warmed)
	require.Zero(t, stats.Failed)
}

func TestWarmPurgesOnlyWhenSecondaryCacheIsCold(t *testing.T) {
	t.Parallel()

	secondary := map[string]string{
		"https://example.sg/hit":      "HIT",
		"https://example.sg/lowerhit": "hit",
		"https://example.sg/miss":     "MISS",
		"https://example.sg/absent":   "",
	}
	getter := fetcher.GetterFunc(func(_ context.Context, rawURL string, _ target.Identity) (fetcher.Response, error) {
		h := map[string]string{}
		if v := secondary[rawURL]; v != "" {
			h["X-Litespeed-Cache"] = v
		}
		return okResponse(h), nil
	})

	purger := &purgeRecorder{}
	w := New(getter, purger, Config{BatchSize: 4, Sleep: (&sleepRecorder{}).Sleep}, nil)
	stats := w.Warm(context.Background(), sgDomain, []string{
		"https://example.sg/hit",
		"https://example.sg/lowerhit",
		"https://example.sg/miss",
		"https://example.sg/absent",
	}, &rowRecorder{})
	w.Drain()

	require.ElementsMatch(t, []string{"https://example.sg/miss", "https://example.sg/absent"}, purger.urls)
	require.Equal(t, 2, stats.Purged)
}

type slowPurger struct {
	delay time.Duration
	done  atomic.Int32
}

func (p *slowPurger) Purge(context.Context, string) {
	time.Sleep(p.delay)
	p.done.Add(1)
}

func TestWarmDoesNotWaitForPurges(t *testing.T) {
	t.Parallel()

	getter := fetcher.GetterFunc(func(context.Context, string, target.Identity) (fetcher.Response, error) {
		return okResponse(map[string]string{"X-Litespeed-Cache": "miss"}), nil
	})
	purger := &slowPurger{delay: 300 * time.Millisecond}
	w := New(getter, purger, Config{BatchSize: 2, Sleep: (&sleepRecorder{}).Sleep}, nil)

	start := time.Now()
	stats := w.Warm(context.Background(), sgDomain, urls(6), &rowRecorder{})
	elapsed := time.Since(start)

	require.Equal(t, 3, stats.Batches)
	require.Equal(t, 6, stats.Purged)
	require.Less(t, elapsed, 150*time.Millisecond, "batches waited on purges")

	w.Drain()
	require.Equal(t, int32(6), purger.done.Load())
}

type panickyPurger struct{}

func (panickyPurger) Purge(context.Context, string) { panic("purge client bug") }

func TestWarmRecoversPurgePanic(t *testing.T) {
	t.Parallel()

	getter := fetcher.GetterFunc(func(context.Context, string, target.Identity) (fetcher.Response, error) {
		return okResponse(nil), nil
	})
	w := New(getter, panickyPurger{}, Config{BatchSize: 1, Sleep: (&sleepRecorder{}).Sleep}, nil)

	stats := w.Warm(context.Background(), sgDomain, urls(2), &rowRecorder{})
	require.NotPanics(t, w.Drain)
	require.Equal(t, 2, stats.Purged)
}

func TestWarmAttributesRowsToEdgeLocationOnlyOnSuccess(t *testing.T) {
	t.Parallel()

	getter := fetcher.GetterFunc(func(_ context.Context, rawURL string, _ target.Identity) (fetcher.Response, error) {
		switch rawURL {
		case "https://example.sg/ok":
			return fetcher.Response{
				StatusCode: http.StatusOK,
				Headers: http.Header{
					"Cf-Cache-Status":   []string{"HIT"},
					"X-Litespeed-Cache": []string{"hit"},
					"Cf-Ray":            []string{"abcd-SIN"},
				},
			}, nil
		case "https://example.sg/bare":
			return okResponse(nil), nil
		default:
			return fetcher.Response{}, errors.New("read: connection reset by peer")
		}
	})

	rows := &rowRecorder{}
	w := New(getter, nil, Config{BatchSize: 3}, nil)
	stats := w.Warm(context.Background(), sgDomain, []string{
		"https://example.sg/ok",
		"https://example.sg/bare",
		"https://example.sg/broken",
	}, rows)

	require.Equal(t, 2, stats.Warmed)
	require.Equal(t, 1, stats.Failed)

	got := rows.byURL()
	ok := got["https://example.sg/ok"]
	require.Equal(t, "SIN", ok.Country)
	require.Equal(t, http.StatusOK, ok.Status)
	require.Equal(t, "HIT", ok.EdgeCache)
	require.Equal(t, "hit", ok.SecondaryCache)
	require.Equal(t, "abcd-SIN", ok.TraceID)
	require.False(t, ok.Error)
	require.Empty(t, ok.Message)

	bare := got["https://example.sg/bare"]
	require.Equal(t, NotApplicable, bare.Country)
	require.Equal(t, NotApplicable, bare.EdgeCache)
	require.Equal(t, NotApplicable, bare.SecondaryCache)
	require.Equal(t, NotApplicable, bare.TraceID)

	broken := got["https://example.sg/broken"]
	require.Equal(t, "SG", broken.Country)
	require.True(t, broken.Error)
	require.Equal(t, "read: connection reset by peer", broken.Message)
	require.Zero(t, broken.Status)
}

func TestWarmStopsWhenDelayIsInterrupted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	getter := fetcher.GetterFunc(func(context.Context, string, target.Identity) (fetcher.Response, error) {
		calls.Add(1)
		return okResponse(map[string]string{"X-Litespeed-Cache": "hit"}), nil
	})
	sleep := func(context.Context, time.Duration) error { return context.Canceled }

	w := New(getter, nil, Config{BatchSize: 1, InterBatchDelay: time.Second, Sleep: sleep}, nil)
	stats := w.Warm(context.Background(), sgDomain, urls(3), &rowRecorder{})
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, stats.Batches)
}

func TestEdgeLocation(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"abcd-SIN":     "SIN",
		"8a1b2c3d-KUL": "KUL",
		"id-HKG-extra": "HKG-extra",
		"abcd":         NotApplicable,
		"abcd-":        NotApplicable,
		"":             NotApplicable,
		NotApplicable:  NotApplicable,
	}
	for in, want := range tests {
		require.Equal(t, want, EdgeLocation(in), "trace %q", in)
	}
}

func TestNeedsPurge(t *testing.T) {
	t.Parallel()

	require.False(t, NeedsPurge("HIT"))
	require.False(t, NeedsPurge(" hit "))
	require.True(t, NeedsPurge("miss"))
	require.True(t, NeedsPurge(NotApplicable))
	require.True(t, NeedsPurge(""))
}
