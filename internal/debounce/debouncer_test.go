package debounce

import (
	"sync"
	"testing"
	"time"
)

func TestMergeText_SkipsPureMediaChunks(t *testing.T) {
	tests := []struct {
		name   string
		chunks []InboundChunk
		want   string
	}{
		{
			name:   "all text",
			chunks: []InboundChunk{{Text: "hi"}, {Text: "there"}},
			want:   "hi\nthere",
		},
		{
			name:   "text and media",
			chunks: []InboundChunk{{Text: "look at this"}, {MediaURL: "https://x/img.png"}},
			want:   "look at this",
		},
		{
			name:   "all media",
			chunks: []InboundChunk{{MediaURL: "https://x/a.png"}, {MediaURL: "https://x/b.png"}},
			want:   "",
		},
		{
			name:   "empty",
			chunks: nil,
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeText(tt.chunks); got != tt.want {
				t.Errorf("mergeText(%v) = %q, want %q", tt.chunks, got, tt.want)
			}
		})
	}
}

func TestDebouncer_CoalescesWithinWindow(t *testing.T) {
	var mu sync.Mutex
	var dispatched []Turn

	d := New(30*time.Millisecond, 500*time.Millisecond, func(turn Turn) bool {
		mu.Lock()
		dispatched = append(dispatched, turn)
		mu.Unlock()
		return false
	})

	key := Key{TenantID: 1, ContactID: 2}
	now := time.Now()
	d.Ingest(1, 1, 2, "thread-1", "15550000", "15559999", InboundChunk{Text: "hello", ReceivedAt: now})
	d.Ingest(1, 1, 2, "thread-1", "15550000", "15559999", InboundChunk{Text: "world", ReceivedAt: now.Add(5 * time.Millisecond)})

	if !d.Pending(key) {
		t.Fatalf("expected a pending turn immediately after Ingest")
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 1 {
		t.Fatalf("expected exactly one dispatched turn, got %d", len(dispatched))
	}
	if dispatched[0].MergedText != "hello\nworld" {
		t.Errorf("MergedText = %q, want %q", dispatched[0].MergedText, "hello\nworld")
	}
}

func TestDebouncer_RespectsMaxSpanCeiling(t *testing.T) {
	var mu sync.Mutex
	var dispatchedAt time.Time

	window := 40 * time.Millisecond
	maxSpan := 60 * time.Millisecond
	d := New(window, maxSpan, func(turn Turn) bool {
		mu.Lock()
		// Ingests after the ceiling flush start a second Turn; only the
		// first dispatch measures the ceiling.
		if dispatchedAt.IsZero() {
			dispatchedAt = time.Now()
		}
		mu.Unlock()
		return false
	})

	start := time.Now()
	// Keep extending the window every 20ms, which would coalesce forever
	// without the maxSpan ceiling.
	for i := 0; i < 5; i++ {
		d.Ingest(1, 1, 3, "thread-2", "15550000", "15559999", InboundChunk{Text: "x", ReceivedAt: time.Now()})
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if dispatchedAt.IsZero() {
		t.Fatal("expected a dispatch to have occurred")
	}
	if elapsed := dispatchedAt.Sub(start); elapsed > maxSpan+50*time.Millisecond {
		t.Errorf("dispatch took %v, expected close to maxSpan %v", elapsed, maxSpan)
	}
}

func TestDebouncer_DeferredReArmsFreshTurn(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	d := New(20*time.Millisecond, 500*time.Millisecond, func(turn Turn) bool {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return calls == 1 // defer the first flush, accept the second
	})

	key := Key{TenantID: 5, ContactID: 9}
	d.Ingest(5, 1, 9, "thread-3", "15550001", "15559998", InboundChunk{Text: "first", ReceivedAt: time.Now()})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected the deferred turn to be re-armed and redispatched, got %d calls", calls)
	}
	_ = key
}
