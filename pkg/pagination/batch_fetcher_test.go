package pagination

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/internal/testutil"
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
)

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.Itoa(1000 + i)
	}
	return ids
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		size     int
		expected []int
	}{
		{name: "empty", n: 0, size: 100, expected: []int{}},
		{name: "less than one chunk", n: 7, size: 100, expected: []int{7}},
		{name: "exactly one chunk", n: 100, size: 100, expected: []int{100}},
		{name: "one over", n: 101, size: 100, expected: []int{100, 1}},
		{name: "several", n: 250, size: 100, expected: []int{100, 100, 50}},
		{name: "non-positive size uses the maximum", n: 150, size: 0, expected: []int{100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := makeIDs(tt.n)
			chunks := Chunk(ids, tt.size)

			sizes := make([]int, len(chunks))
			var flat []string
			for i, c := range chunks {
				sizes[i] = len(c)
				flat = append(flat, c...)
			}
			if !slices.Equal(sizes, tt.expected) {
				t.Errorf("chunk sizes = %v, want %v", sizes, tt.expected)
			}
			if !slices.Equal(flat, ids) && tt.n > 0 {
				t.Error("chunks do not preserve the id order")
			}
		})
	}
}

func TestNewBatchFetcher_Defaults(t *testing.T) {
	bf := NewBatchFetcher(nil, nil, Config{ChunkSize: 500})

	if bf.config.ChunkSize != MaxChunkSize {
		t.Errorf("ChunkSize = %d, want %d", bf.config.ChunkSize, MaxChunkSize)
	}
	if bf.config.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", bf.config.MaxConcurrency)
	}
	if bf.config.IDParam != "ids" {
		t.Errorf("IDParam = %q, want ids", bf.config.IDParam)
	}
	if bf.normalizer == nil {
		t.Error("normalizer is nil")
	}
}

// lookupFunc answers every chunk with one tweet per id. Earlier chunks are
// answered later so that responses arrive out of order.
func lookupFunc(calls *atomic.Int32, chunks int) FetchFunc {
	return func(ctx context.Context, endpoint string, params url.Values) (*page.Page, error) {
		n := int(calls.Add(1))
		ids := strings.Split(params.Get("ids"), ",")

		select {
		case <-time.After(time.Duration(chunks-n) * 5 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return page.Decode([]byte(testutil.PageJSON(ids, "")))
	}
}

func TestFetchAll_DeliversInChunkOrder(t *testing.T) {
	ids := makeIDs(250)
	var calls atomic.Int32
	bf := NewBatchFetcher(lookupFunc(&calls, 3), nil, DefaultConfig())

	var (
		got     []string
		indexes []int
	)
	err := bf.FetchAll(context.Background(), "tweets", ids, url.Values{"tweet.fields": {"id"}}, func(res ChunkResult) error {
		indexes = append(indexes, res.Index)
		for _, e := range res.Page.Data {
			id, _ := e.String("id")
			got = append(got, id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if calls.Load() != 3 {
		t.Errorf("requests = %d, want 3", calls.Load())
	}
	if !slices.Equal(indexes, []int{0, 1, 2}) {
		t.Errorf("chunk order = %v, want [0 1 2]", indexes)
	}
	if !slices.Equal(got, ids) {
		t.Error("entities were not delivered in id order")
	}
}

func TestFetchAll_KeepsBaseParams(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []url.Values
	)
	fetch := func(ctx context.Context, endpoint string, params url.Values) (*page.Page, error) {
		mu.Lock()
		seen = append(seen, params)
		mu.Unlock()
		return page.Decode([]byte(testutil.PageJSON(nil, "")))
	}

	base := url.Values{"expansions": {"author_id"}}
	bf := NewBatchFetcher(fetch, nil, Config{ChunkSize: 2, MaxConcurrency: 1})
	if err := bf.FetchAll(context.Background(), "tweets", []string{"1", "2", "3"}, base, func(ChunkResult) error { return nil }); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("requests = %d, want 2", len(seen))
	}
	if seen[0].Get("ids") != "1,2" || seen[1].Get("ids") != "3" {
		t.Errorf("ids = %q, %q", seen[0].Get("ids"), seen[1].Get("ids"))
	}
	for _, p := range seen {
		if p.Get("expansions") != "author_id" {
			t.Errorf("lost base params: %v", p)
		}
	}
	if base.Has("ids") {
		t.Error("FetchAll() modified the caller's params")
	}
}

func TestFetchAll_FetchErrorCancelsRest(t *testing.T) {
	cause := errors.New("lookup failed")
	var calls atomic.Int32

	fetch := func(ctx context.Context, endpoint string, params url.Values) (*page.Page, error) {
		if calls.Add(1) == 1 {
			return nil, cause
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	bf := NewBatchFetcher(fetch, nil, Config{ChunkSize: 1, MaxConcurrency: 1})
	delivered := 0
	err := bf.FetchAll(context.Background(), "tweets", makeIDs(10), nil, func(ChunkResult) error {
		delivered++
		return nil
	})

	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want the lookup failure", err)
	}
	if delivered != 0 {
		t.Errorf("delivered %d chunks, want 0", delivered)
	}
	if n := calls.Load(); n >= 10 {
		t.Errorf("requests = %d, want the remaining chunks skipped", n)
	}
}

func TestFetchAll_ConsumerErrorStops(t *testing.T) {
	var calls atomic.Int32
	bf := NewBatchFetcher(lookupFunc(&calls, 0), nil, Config{ChunkSize: 1, MaxConcurrency: 1})

	stop := errors.New("disk full")
	err := bf.FetchAll(context.Background(), "tweets", makeIDs(5), nil, func(res ChunkResult) error {
		if res.Index == 1 {
			return stop
		}
		return nil
	})

	if !errors.Is(err, stop) {
		t.Errorf("error = %v, want the consumer error", err)
	}
}

func TestFetchAll_Empty(t *testing.T) {
	bf := NewBatchFetcher(func(context.Context, string, url.Values) (*page.Page, error) {
		t.Fatal("fetch called for no ids")
		return nil, nil
	}, nil, DefaultConfig())

	if err := bf.FetchAll(context.Background(), "tweets", nil, nil, nil); err != nil {
		t.Errorf("FetchAll() error = %v", err)
	}
}
