package watch

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olxwatch/internal/config"
	"olxwatch/internal/domain"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// memStore is an in-memory SeenStore that counts MarkSeen calls.
type memStore struct {
	seen      map[int64]time.Time
	markCalls int
}

func newMemStore() *memStore {
	return &memStore{seen: make(map[int64]time.Time)}
}

func (s *memStore) HasSeen(ctx context.Context, platformID int64) (bool, error) {
	_, ok := s.seen[platformID]
	return ok, nil
}

func (s *memStore) MarkSeen(ctx context.Context, platformID int64, publishedOn time.Time) (uint64, error) {
	s.markCalls++
	s.seen[platformID] = publishedOn
	return uint64(s.markCalls), nil
}

// fakeSource serves fixed listings per URL, or an error.
type fakeSource struct {
	listings map[string][]*domain.Listing
	err      error
}

func (f *fakeSource) FetchListings(ctx context.Context, url string) ([]*domain.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.listings[url], nil
}

type notified struct {
	listingID int64
	category  string
}

type fakeNotifier struct {
	sent []notified
}

func (f *fakeNotifier) Notify(ctx context.Context, listing *domain.Listing, category string) error {
	f.sent = append(f.sent, notified{listing.ID, category})
	return nil
}

// countingFetcher counts description fetches.
type countingFetcher struct {
	calls int
	text  string
}

func (f *countingFetcher) FetchDescription(ctx context.Context, url string) (string, error) {
	f.calls++
	return f.text, nil
}

func listingWith(id int64, title, postedAt string, fetcher domain.DescriptionFetcher) *domain.Listing {
	return domain.NewListing(id, title, "100 zł", "https://www.olx.pl/d/oferta/x.html", "", false, "Kraków", postedAt, fetcher)
}

func newTestWatcher(targets []config.Target, store SeenStore, source *fakeSource, notifier *fakeNotifier) *Watcher {
	w := New(targets, store, source, notifier, time.Second, 0, testLogger())
	w.now = func() time.Time { return time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC) }
	return w
}

func TestProcessTarget_DedupIdempotence(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	target := config.Target{Name: "CPUs", URL: "https://olx.pl/cpus"}
	source := &fakeSource{listings: map[string][]*domain.Listing{
		target.URL: {listingWith(901, "Ryzen 7600", "Dzisiaj o 10:00", nil)},
	}}
	w := newTestWatcher([]config.Target{target}, store, source, notifier)

	ctx := context.Background()
	w.processTarget(ctx, target)
	w.processTarget(ctx, target)

	assert.Equal(t, 1, store.markCalls, "the same listing id must be marked seen exactly once")
	assert.Len(t, notifier.sent, 1, "at most one notification for a repeated id")
	assert.Equal(t, notified{901, "CPUs"}, notifier.sent[0])
}

func TestProcessTarget_FilteredOutStillMarkedSeen(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	target := config.Target{Name: "CPUs", URL: "u", Filters: []string{"ryzen"}}
	source := &fakeSource{listings: map[string][]*domain.Listing{
		"u": {listingWith(902, "Intel i5", "Dzisiaj o 10:00", &countingFetcher{text: "no match here"})},
	}}
	w := newTestWatcher([]config.Target{target}, store, source, notifier)

	ctx := context.Background()
	w.processTarget(ctx, target)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, 1, store.markCalls, "a filtered-out listing is still marked seen")

	// Even if the filters change later, the listing stays silent.
	relaxed := config.Target{Name: "CPUs", URL: "u"}
	w.targets = []config.Target{relaxed}
	w.processTarget(ctx, relaxed)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, 1, store.markCalls)
}

func TestProcessTarget_PageFailureIsZeroResults(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	target := config.Target{Name: "CPUs", URL: "u"}
	source := &fakeSource{err: errors.New("navigation failed")}
	w := newTestWatcher([]config.Target{target}, store, source, notifier)

	w.processTarget(context.Background(), target)
	assert.Empty(t, notifier.sent)
	assert.Zero(t, store.markCalls)
}

func TestProcessTarget_BadDateAbandonsTargetNotCycle(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	broken := config.Target{Name: "Broken", URL: "a"}
	healthy := config.Target{Name: "Healthy", URL: "b"}
	source := &fakeSource{listings: map[string][]*domain.Listing{
		"a": {
			listingWith(1, "first", "some new date format", nil),
			listingWith(2, "second", "Dzisiaj o 10:00", nil),
		},
		"b": {listingWith(3, "third", "Dzisiaj o 11:00", nil)},
	}}
	w := newTestWatcher([]config.Target{broken, healthy}, store, source, notifier)

	w.runCycle(context.Background())

	// Listing 2 sits behind the unparseable one and is skipped this cycle;
	// the next target still runs.
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notified{3, "Healthy"}, notifier.sent[0])
	assert.Equal(t, 1, store.markCalls)
}

func TestMatchesTarget_TitleShortCircuitsDescriptionFetch(t *testing.T) {
	fetcher := &countingFetcher{text: "whatever"}
	l := listingWith(1, "AMD Ryzen 5 7600", "Dzisiaj o 10:00", fetcher)
	target := config.Target{Name: "CPUs", URL: "u", Filters: []string{"intel", "ryzen"}}

	assert.True(t, matchesTarget(context.Background(), l, target))
	assert.Zero(t, fetcher.calls, "a title hit must never trigger a description fetch")
}

func TestMatchesTarget_DescriptionFetchedOnceForAllKeywords(t *testing.T) {
	fetcher := &countingFetcher{text: "sprzedam procesor Ryzen, stan idealny"}
	l := listingWith(1, "Procesor", "Dzisiaj o 10:00", fetcher)
	target := config.Target{Name: "CPUs", URL: "u", Filters: []string{"intel", "ryzen"}}

	assert.True(t, matchesTarget(context.Background(), l, target))
	assert.Equal(t, 1, fetcher.calls)
}

func TestMatchesTarget_EmptyFiltersMatchAll(t *testing.T) {
	fetcher := &countingFetcher{}
	l := listingWith(1, "anything", "Dzisiaj o 10:00", fetcher)

	assert.True(t, matchesTarget(context.Background(), l, config.Target{Name: "All", URL: "u"}))
	assert.Zero(t, fetcher.calls)
}

func TestMatchesTarget_NoMatchAnywhere(t *testing.T) {
	fetcher := &countingFetcher{text: "nothing relevant"}
	l := listingWith(1, "boring ad", "Dzisiaj o 10:00", fetcher)
	target := config.Target{Name: "CPUs", URL: "u", Filters: []string{"ryzen"}}

	assert.False(t, matchesTarget(context.Background(), l, target))
	assert.Equal(t, 1, fetcher.calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newMemStore()
	notifier := &fakeNotifier{}
	source := &fakeSource{}
	w := newTestWatcher(nil, store, source, notifier)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}
}

func TestNextDelay_WithinJitterBounds(t *testing.T) {
	w := newTestWatcher(nil, newMemStore(), &fakeSource{}, &fakeNotifier{})
	w.interval = 30 * time.Second
	w.jitter = 5 * time.Second

	for i := 0; i < 200; i++ {
		d := w.nextDelay()
		assert.GreaterOrEqual(t, d, 25*time.Second)
		assert.LessOrEqual(t, d, 35*time.Second)
	}
}
