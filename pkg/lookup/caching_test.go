package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sternrassler/repo-mashup/pkg/cache"
	"github.com/Sternrassler/repo-mashup/pkg/mashup"
	"github.com/Sternrassler/repo-mashup/pkg/metrics"
)

// countingLookup records calls and returns a fixed result or error.
type countingLookup struct {
	calls    int
	keywords []string
	result   []mashup.Subject
	err      error
}

func (l *countingLookup) FindSubjects(_ context.Context, keyword string) ([]mashup.Subject, error) {
	l.calls++
	l.keywords = append(l.keywords, keyword)
	if l.err != nil {
		return nil, l.err
	}
	return l.result, nil
}

// failingStore fails every operation with a backend error.
type failingStore struct {
	gets, sets int
}

func (s *failingStore) Get(context.Context, string) ([]mashup.Subject, error) {
	s.gets++
	return nil, errors.New("connection reset")
}

func (s *failingStore) Set(context.Context, string, []mashup.Subject, time.Duration) error {
	s.sets++
	return errors.New("connection reset")
}

// panickingStore panics on every operation.
type panickingStore struct{}

func (panickingStore) Get(context.Context, string) ([]mashup.Subject, error) {
	panic("corrupted cache")
}

func (panickingStore) Set(context.Context, string, []mashup.Subject, time.Duration) error {
	panic("corrupted cache")
}

func newTestMetrics(t *testing.T) *metrics.Prometheus {
	t.Helper()
	m, err := metrics.NewPrometheus("lookup_test", prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPrometheus() error = %v", err)
	}
	return m
}

func counterValue(m *metrics.Prometheus, name string) float64 {
	return testutil.ToFloat64(m.Counter(name).(prometheus.Counter))
}

var testConfig = Config{TTL: time.Minute, MaxLimit: 10, SortField: "stars"}

func TestCaching_HitAvoidsInnerCall(t *testing.T) {
	inner := &countingLookup{result: []mashup.Subject{{Name: "reactor"}, {Name: "rxjava"}}}
	m := newTestMetrics(t)
	c := NewCaching(inner, cache.NewExpiring[[]mashup.Subject]("primary", 10), testConfig, WithMetrics(m))
	ctx := context.Background()

	first, err := c.FindSubjects(ctx, "reactive")
	if err != nil {
		t.Fatalf("first FindSubjects error = %v", err)
	}
	second, err := c.FindSubjects(ctx, "reactive")
	if err != nil {
		t.Fatalf("second FindSubjects error = %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
	if len(second) != len(first) || second[0].Name != "reactor" {
		t.Errorf("cached result = %+v, want %+v", second, first)
	}
	if got := counterValue(m, MetricCacheHits); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := counterValue(m, MetricCacheMisses); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestCaching_EquivalentKeywordsShareEntry(t *testing.T) {
	inner := &countingLookup{result: []mashup.Subject{{Name: "reactor"}}}
	c := NewCaching(inner, cache.NewExpiring[[]mashup.Subject]("primary", 10), testConfig)
	ctx := context.Background()

	for _, kw := range []string{"reactive", "  reactive", "reactive  "} {
		if _, err := c.FindSubjects(ctx, kw); err != nil {
			t.Fatalf("FindSubjects(%q) error = %v", kw, err)
		}
	}

	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
	if c.Key(" reactive ") != "mashup:search:reactive:limit=10:sort=stars" {
		t.Errorf("Key() = %q", c.Key(" reactive "))
	}
}

func TestCaching_FailureNotCached(t *testing.T) {
	cause := errors.New("upstream unavailable")
	inner := &countingLookup{err: cause}
	store := cache.NewExpiring[[]mashup.Subject]("primary", 10)
	c := NewCaching(inner, store, testConfig)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.FindSubjects(ctx, "reactive"); err != cause {
			t.Errorf("attempt %d: error = %v, want unchanged cause", i, err)
		}
	}

	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
	if store.Len() != 0 {
		t.Errorf("store Len() = %d, want 0", store.Len())
	}
}

func TestCaching_DisabledIsPassThrough(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		inner := &countingLookup{result: []mashup.Subject{{Name: "reactor"}}}
		m := newTestMetrics(t)
		store := cache.NewExpiring[[]mashup.Subject]("primary", 10)
		c := NewCaching(inner, store, Config{TTL: ttl, MaxLimit: 10}, WithMetrics(m))

		for i := 0; i < 3; i++ {
			if _, err := c.FindSubjects(context.Background(), "reactive"); err != nil {
				t.Fatalf("FindSubjects error = %v", err)
			}
		}

		if inner.calls != 3 {
			t.Errorf("ttl=%v: inner calls = %d, want 3", ttl, inner.calls)
		}
		if got := counterValue(m, MetricCacheMisses); got != 3 {
			t.Errorf("ttl=%v: misses = %v, want 3", ttl, got)
		}
		if store.Len() != 0 {
			t.Errorf("ttl=%v: store Len() = %d, want 0", ttl, store.Len())
		}
	}
}

func TestCaching_StoreFailureIsMiss(t *testing.T) {
	inner := &countingLookup{result: []mashup.Subject{{Name: "reactor"}}}
	store := &failingStore{}
	m := newTestMetrics(t)
	c := NewCaching(inner, store, testConfig, WithMetrics(m))

	got, err := c.FindSubjects(context.Background(), "reactive")
	if err != nil {
		t.Fatalf("store failure must not fail the lookup: %v", err)
	}
	if len(got) != 1 || inner.calls != 1 {
		t.Errorf("got %+v with %d inner calls", got, inner.calls)
	}
	if store.gets != 1 || store.sets != 1 {
		t.Errorf("store gets/sets = %d/%d, want 1/1", store.gets, store.sets)
	}
	if got := counterValue(m, MetricCacheErrors); got != 2 {
		t.Errorf("cache errors = %v, want 2", got)
	}
}

func TestCaching_StorePanicIsMiss(t *testing.T) {
	inner := &countingLookup{result: []mashup.Subject{{Name: "reactor"}}}
	c := NewCaching(inner, panickingStore{}, testConfig)

	got, err := c.FindSubjects(context.Background(), "reactive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || inner.calls != 1 {
		t.Errorf("got %+v with %d inner calls", got, inner.calls)
	}
}

func TestCaching_InvalidKeyword(t *testing.T) {
	inner := &countingLookup{}
	c := NewCaching(inner, cache.NewExpiring[[]mashup.Subject]("primary", 10), testConfig)

	if _, err := c.FindSubjects(context.Background(), "   "); !errors.Is(err, mashup.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if inner.calls != 0 {
		t.Errorf("inner calls = %d, want 0", inner.calls)
	}
}

func TestCaching_ExpiredEntryRefetched(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	inner := &countingLookup{result: []mashup.Subject{{Name: "reactor"}}}
	store := cache.NewExpiring[[]mashup.Subject]("primary", 10, cache.WithClock(clock))
	c := NewCaching(inner, store, testConfig)
	ctx := context.Background()

	_, _ = c.FindSubjects(ctx, "reactive")
	now = now.Add(2 * time.Minute)
	_, _ = c.FindSubjects(ctx, "reactive")

	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2 after TTL", inner.calls)
	}
}

func TestCaching_HitReturnsCopy(t *testing.T) {
	inner := &countingLookup{result: []mashup.Subject{{Name: "reactor"}, {Name: "rxjava"}}}
	c := NewCaching(inner, cache.NewExpiring[[]mashup.Subject]("primary", 10), testConfig)
	ctx := context.Background()

	if _, err := c.FindSubjects(ctx, "reactive"); err != nil {
		t.Fatalf("first FindSubjects error = %v", err)
	}

	hit, err := c.FindSubjects(ctx, "reactive")
	if err != nil {
		t.Fatalf("second FindSubjects error = %v", err)
	}
	hit[0].Name = "changed"

	again, err := c.FindSubjects(ctx, "reactive")
	if err != nil {
		t.Fatalf("third FindSubjects error = %v", err)
	}
	if again[0].Name != "reactor" {
		t.Errorf("cached subject = %q after caller modified a hit, want reactor", again[0].Name)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}
