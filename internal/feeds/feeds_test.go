package feeds

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"rsstt/internal/fetcher"
	"rsstt/internal/opml"
	"rsstt/internal/storage"
)

type sentMessage struct {
	ChatID int64
	Text   string
}

type mockPublisher struct {
	mu       sync.Mutex
	messages []sentMessage
	delay    time.Duration
	err      error
	onSend   func()
}

func (m *mockPublisher) Publish(chatID int64, text string) error {
	m.mu.Lock()
	delay, err, onSend := m.delay, m.err, m.onSend
	m.mu.Unlock()

	if onSend != nil {
		onSend()
	}
	time.Sleep(delay)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *mockPublisher) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockPublisher) getMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sentMessage, len(m.messages))
	copy(cp, m.messages)
	return cp
}

// mockHTTP serves bodies keyed by URL; unknown URLs get a 404.
type mockHTTP struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (m *mockHTTP) set(url, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[url] = body
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	body, ok := m.bodies[req.URL.String()]
	m.mu.Unlock()
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}, nil
}

const (
	feedURL  = "https://changelog.example.com/rss"
	otherURL = "https://other.example.com/rss"
)

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/sample.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func newTestEngine(t *testing.T) (*Engine, *mockPublisher, *mockHTTP, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	xml := loadFixture(t)
	httpClient := &mockHTTP{bodies: map[string]string{feedURL: xml, otherURL: xml}}
	pub := &mockPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(store, fetcher.New(httpClient), pub, 0, log)
	return e, pub, httpClient, store
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		e, pub, _, store := newTestEngine(t)
		feed, err := e.Add(ctx, "News", feedURL, 100)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if diff := cmp.Diff("News", feed.Name); diff != "" {
			t.Errorf("name (-want +got):\n%s", diff)
		}

		feeds, _ := store.ListFeeds(ctx)
		if diff := cmp.Diff(1, len(feeds)); diff != "" {
			t.Errorf("feed count (-want +got):\n%s", diff)
		}
		if len(pub.getMessages()) != 0 {
			t.Error("adding a feed must not relay anything")
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		e, _, _, store := newTestEngine(t)
		if _, err := e.Add(ctx, "News", feedURL, 100); err != nil {
			t.Fatalf("add: %v", err)
		}
		_, err := e.Add(ctx, "News", otherURL, 100)
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		feeds, _ := store.ListFeeds(ctx)
		if diff := cmp.Diff(1, len(feeds)); diff != "" {
			t.Errorf("feed count (-want +got):\n%s", diff)
		}
	})

	t.Run("unreachable link", func(t *testing.T) {
		e, _, _, store := newTestEngine(t)
		_, err := e.Add(ctx, "Broken", "https://missing.example.com/rss", 100)
		if !errors.Is(err, ErrInvalidFeed) {
			t.Fatalf("expected ErrInvalidFeed, got %v", err)
		}
		feeds, _ := store.ListFeeds(ctx)
		if len(feeds) != 0 {
			t.Errorf("expected no feeds, got %d", len(feeds))
		}
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("existing", func(t *testing.T) {
		e, _, _, store := newTestEngine(t)
		if _, err := e.Add(ctx, "News", feedURL, 100); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := e.Remove(ctx, "News"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		feeds, _ := store.ListFeeds(ctx)
		if len(feeds) != 0 {
			t.Errorf("expected empty collection, got %d", len(feeds))
		}
	})

	t.Run("missing", func(t *testing.T) {
		e, _, _, store := newTestEngine(t)
		if _, err := e.Add(ctx, "News", feedURL, 100); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := e.Remove(ctx, "Missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		feeds, _ := store.ListFeeds(ctx)
		if diff := cmp.Diff(1, len(feeds)); diff != "" {
			t.Errorf("collection changed (-want +got):\n%s", diff)
		}
	})
}

func TestExportEmpty(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	data, err := e.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil export for empty collection, got %q", data)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _, _, _ := newTestEngine(t)
	for name, link := range map[string]string{"News": feedURL, "Other": otherURL} {
		if _, err := src.Add(ctx, name, link, 100); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	t.Run("into a fresh collection", func(t *testing.T) {
		dst, _, _, store := newTestEngine(t)
		res, err := dst.Import(ctx, data, 200)
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		if diff := cmp.Diff(2, len(res.Valid)); diff != "" {
			t.Errorf("valid count (-want +got):\n%s", diff)
		}
		if len(res.Invalid) != 0 {
			t.Errorf("expected no invalid feeds, got %v", res.Invalid)
		}
		feeds, _ := store.ListFeeds(ctx)
		for _, f := range feeds {
			if f.ChatID != 200 {
				t.Errorf("feed %q destination = %d, want 200", f.Name, f.ChatID)
			}
		}
	})

	t.Run("into the same collection", func(t *testing.T) {
		res, err := src.Import(ctx, data, 100)
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		if diff := cmp.Diff(2, len(res.Valid)); diff != "" {
			t.Errorf("valid count (-want +got):\n%s", diff)
		}
		if len(res.Invalid) != 0 {
			t.Errorf("expected no invalid feeds, got %v", res.Invalid)
		}
	})
}

func TestImportClassifiesInvalid(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := newTestEngine(t)
	if _, err := e.Add(ctx, "News", feedURL, 100); err != nil {
		t.Fatalf("add: %v", err)
	}

	data, err := opml.Encode([]opml.Subscription{
		{Name: "News", Link: otherURL},
		{Name: "Dead", Link: "https://dead.example.com/rss"},
		{Name: "Other", Link: otherURL},
	}, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	res, err := e.Import(ctx, data, 100)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	want := &ImportResult{
		Valid: []opml.Subscription{{Name: "Other", Link: otherURL}},
		Invalid: []opml.Subscription{
			{Name: "News", Link: otherURL},
			{Name: "Dead", Link: "https://dead.example.com/rss"},
		},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("import result mismatch (-want +got):\n%s", diff)
	}
}

func TestImportUnparsable(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	_, err := e.Import(context.Background(), []byte("not an outline"), 100)
	if !errors.Is(err, ErrUnparsable) {
		t.Fatalf("expected ErrUnparsable, got %v", err)
	}
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	e, pub, httpClient, _ := newTestEngine(t)

	httpClient.set(feedURL, `<?xml version="1.0"?><rss version="2.0"><channel><title>Changelog</title>
		<item><title>Old</title><guid>old</guid></item>
	</channel></rss>`)
	if _, err := e.Add(ctx, "News", feedURL, 100); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := e.Poll(ctx, false); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n := len(pub.getMessages()); n != 0 {
		t.Fatalf("expected nothing new, got %d messages", n)
	}

	httpClient.set(feedURL, `<?xml version="1.0"?><rss version="2.0"><channel><title>Changelog</title>
		<item><title>Newest</title><guid>newest</guid></item>
		<item><title>Newer</title><guid>newer</guid></item>
		<item><title>Old</title><guid>old</guid></item>
	</channel></rss>`)
	if err := e.Poll(ctx, false); err != nil {
		t.Fatalf("poll: %v", err)
	}

	msgs := pub.getMessages()
	var titles []string
	for _, m := range msgs {
		if m.ChatID != 100 {
			t.Errorf("message sent to %d, want 100", m.ChatID)
		}
		titles = append(titles, strings.Split(m.Text, "\n\n")[1])
	}
	if diff := cmp.Diff([]string{"Newer", "Newest"}, titles); diff != "" {
		t.Errorf("relayed titles (-want +got):\n%s", diff)
	}

	if err := e.Poll(ctx, false); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if diff := cmp.Diff(2, len(pub.getMessages())); diff != "" {
		t.Errorf("second poll must not resend (-want +got):\n%s", diff)
	}
}

func TestOverlappingPollsRelayOnce(t *testing.T) {
	ctx := context.Background()
	e, pub, httpClient, _ := newTestEngine(t)

	httpClient.set(feedURL, `<?xml version="1.0"?><rss version="2.0"><channel><title>Changelog</title>
		<item><title>Old</title><guid>old</guid></item>
	</channel></rss>`)
	if _, err := e.Add(ctx, "News", feedURL, 100); err != nil {
		t.Fatalf("add: %v", err)
	}

	httpClient.set(feedURL, `<?xml version="1.0"?><rss version="2.0"><channel><title>Changelog</title>
		<item><title>Third</title><guid>third</guid></item>
		<item><title>Second</title><guid>second</guid></item>
		<item><title>First</title><guid>first</guid></item>
		<item><title>Old</title><guid>old</guid></item>
	</channel></rss>`)
	pub.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.Poll(ctx, false)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	var titles []string
	for _, m := range pub.getMessages() {
		titles = append(titles, strings.Split(m.Text, "\n\n")[1])
	}
	if diff := cmp.Diff([]string{"First", "Second", "Third"}, titles, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("each new entry must be relayed once (-want +got):\n%s", diff)
	}
}

func TestPollRetriesFailedPublish(t *testing.T) {
	ctx := context.Background()
	e, pub, httpClient, store := newTestEngine(t)

	httpClient.set(feedURL, `<?xml version="1.0"?><rss version="2.0"><channel><title>Changelog</title>
		<item><title>Old</title><guid>old</guid></item>
	</channel></rss>`)
	feed, err := e.Add(ctx, "News", feedURL, 100)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	httpClient.set(feedURL, `<?xml version="1.0"?><rss version="2.0"><channel><title>Changelog</title>
		<item><title>Fresh</title><guid>fresh</guid></item>
		<item><title>Old</title><guid>old</guid></item>
	</channel></rss>`)
	pub.setErr(errors.New("telegram unavailable"))

	if err := e.Poll(ctx, false); err == nil {
		t.Fatal("expected poll to report the failed send")
	}
	seen, err := store.IsSeen(ctx, feed.ID, "fresh")
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if seen {
		t.Fatal("an entry that failed to send must stay unseen")
	}

	pub.setErr(nil)
	if err := e.Poll(ctx, false); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if err := e.Poll(ctx, false); err != nil {
		t.Fatalf("poll: %v", err)
	}

	var titles []string
	for _, m := range pub.getMessages() {
		titles = append(titles, strings.Split(m.Text, "\n\n")[1])
	}
	if diff := cmp.Diff([]string{"Fresh"}, titles); diff != "" {
		t.Errorf("retried entry should be relayed once (-want +got):\n%s", diff)
	}
}

func TestRemoveDuringPoll(t *testing.T) {
	ctx := context.Background()
	e, pub, httpClient, store := newTestEngine(t)

	httpClient.set(feedURL, `<?xml version="1.0"?><rss version="2.0"><channel><title>Changelog</title>
		<item><title>Old</title><guid>old</guid></item>
	</channel></rss>`)
	feed, err := e.Add(ctx, "News", feedURL, 100)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	httpClient.set(feedURL, `<?xml version="1.0"?><rss version="2.0"><channel><title>Changelog</title>
		<item><title>Second</title><guid>second</guid></item>
		<item><title>First</title><guid>first</guid></item>
		<item><title>Old</title><guid>old</guid></item>
	</channel></rss>`)
	var once sync.Once
	pub.onSend = func() {
		once.Do(func() {
			if err := e.Remove(ctx, "News"); err != nil {
				t.Errorf("remove: %v", err)
			}
		})
	}

	if err := e.Poll(ctx, false); err != nil {
		t.Fatalf("poll: %v", err)
	}

	feeds, err := store.ListFeeds(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(feeds) != 0 {
		t.Errorf("removed feed came back: %+v", feeds)
	}
	if seen, _ := store.IsSeen(ctx, feed.ID, "second"); seen {
		t.Error("removed feed left a seen entry behind")
	}
	if diff := cmp.Diff(1, len(pub.getMessages())); diff != "" {
		t.Errorf("only the entry claimed before removal is relayed (-want +got):\n%s", diff)
	}
}

func TestPollFetchAll(t *testing.T) {
	ctx := context.Background()
	e, pub, _, _ := newTestEngine(t)
	if _, err := e.Add(ctx, "News", feedURL, 100); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := e.Poll(ctx, true); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if diff := cmp.Diff(5, len(pub.getMessages())); diff != "" {
		t.Errorf("fetch-all should relay every entry (-want +got):\n%s", diff)
	}
}

func TestPollReportsFeedFailures(t *testing.T) {
	ctx := context.Background()
	e, pub, httpClient, _ := newTestEngine(t)
	if _, err := e.Add(ctx, "News", feedURL, 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := e.Add(ctx, "Other", otherURL, 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	httpClient.set(feedURL, "garbage")

	err := e.Poll(ctx, true)
	if err == nil || !strings.Contains(err.Error(), `"News"`) {
		t.Fatalf("expected error naming the broken feed, got %v", err)
	}
	if diff := cmp.Diff(5, len(pub.getMessages())); diff != "" {
		t.Errorf("healthy feed should still be relayed (-want +got):\n%s", diff)
	}
}

func TestPreview(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end int
		wantTitles []string
	}{
		{name: "first entry", start: 0, end: 1, wantTitles: []string{"Release 3.0 is out"}},
		{name: "range", start: 1, end: 3, wantTitles: []string{"Security advisory for 2.9", "Release 2.9.4"}},
		{name: "end past last entry", start: 4, end: 10, wantTitles: []string{"Release 2.9.3"}},
		{name: "all", start: 0, end: ToEnd, wantTitles: []string{
			"Release 3.0 is out",
			"Security advisory for 2.9",
			"Release 2.9.4",
			"Community call recording",
			"Release 2.9.3",
		}},
		{name: "empty range", start: 3, end: 3, wantTitles: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, pub, _, store := newTestEngine(t)
			if err := e.Preview(ctx, feedURL, 100, tt.start, tt.end, true); err != nil {
				t.Fatalf("preview: %v", err)
			}
			var titles []string
			for _, m := range pub.getMessages() {
				titles = append(titles, strings.Split(m.Text, "\n\n")[1])
			}
			if diff := cmp.Diff(tt.wantTitles, titles); diff != "" {
				t.Errorf("titles (-want +got):\n%s", diff)
			}
			feeds, _ := store.ListFeeds(ctx)
			if len(feeds) != 0 {
				t.Error("preview must not persist anything")
			}
		})
	}
}

func TestPreviewInvalidLink(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	err := e.Preview(context.Background(), "https://missing.example.com/rss", 100, 0, 1, true)
	if !errors.Is(err, ErrInvalidFeed) {
		t.Fatalf("expected ErrInvalidFeed, got %v", err)
	}
}

func TestFormatPost(t *testing.T) {
	tests := []struct {
		name  string
		entry fetcher.Entry
		want  string
	}{
		{
			name:  "full entry",
			entry: fetcher.Entry{Title: "Release 3.0", Description: "Plugin API.", Link: "https://example.com/3.0"},
			want:  "[Changelog]\n\nRelease 3.0\n\nPlugin API.\n\nhttps://example.com/3.0",
		},
		{
			name:  "no description",
			entry: fetcher.Entry{Title: "Title Only", Link: "https://example.com"},
			want:  "[Changelog]\n\nTitle Only\n\nhttps://example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatPost("Changelog", tt.entry)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
