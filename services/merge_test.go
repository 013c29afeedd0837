package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"fleamarket-scraper/llm"
	"fleamarket-scraper/models"
)

// countingNormalizer counts Normalize calls per URL and fails URLs
// containing "fail".
type countingNormalizer struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCountingNormalizer() *countingNormalizer {
	return &countingNormalizer{calls: make(map[string]int)}
}

func (c *countingNormalizer) Normalize(_ context.Context, in NormalizeInput) (*models.StructuredRecord, error) {
	c.mu.Lock()
	c.calls[in.URL]++
	c.mu.Unlock()

	if strings.Contains(in.URL, "fail") {
		return nil, models.ErrNormalizeFailed
	}
	return &models.StructuredRecord{
		MarketName: "new " + in.URL,
		URL:        in.URL,
		Sessions:   []models.Session{{}},
	}, nil
}

func (c *countingNormalizer) callsFor(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[url]
}

func existingRecords(urls ...string) []models.StructuredRecord {
	out := make([]models.StructuredRecord, len(urls))
	for i, u := range urls {
		out[i] = models.StructuredRecord{MarketName: "old " + u, URL: u, Sessions: []models.Session{{}}}
	}
	return out
}

func postsFor(urls ...string) []models.RawPost {
	out := make([]models.RawPost, len(urls))
	for i, u := range urls {
		out[i] = models.RawPost{URL: u, Title: "t" + u, RawText: "body"}
	}
	return out
}

func recordURLs(recs []models.StructuredRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.URL
	}
	return out
}

func TestMergeSkipsExistingURLs(t *testing.T) {
	norm := newCountingNormalizer()
	m := NewMerger(norm, 1, newTestLogger())

	res := m.Merge(context.Background(), existingRecords("U", "V"), postsFor("U", "W"), false)

	if got := norm.callsFor("U"); got != 0 {
		t.Errorf("U normalized %d time(s); want 0", got)
	}
	if got := norm.callsFor("W"); got != 1 {
		t.Errorf("W normalized %d time(s); want 1", got)
	}
	if got := strings.Join(recordURLs(res.Records), ","); got != "U,V,W" {
		t.Errorf("records = %s; want U,V,W", got)
	}
	if res.Records[0].MarketName != "old U" {
		t.Errorf("existing record replaced: %+v", res.Records[0])
	}
	want := models.RunStats{Processed: 1, Skipped: 1}
	if res.Stats != want {
		t.Errorf("stats = %+v; want %+v", res.Stats, want)
	}
}

func TestMergeForceReprocessesEverything(t *testing.T) {
	norm := newCountingNormalizer()
	m := NewMerger(norm, 3, newTestLogger())

	res := m.Merge(context.Background(), existingRecords("U", "V"), postsFor("U", "W", "X"), true)

	for _, u := range []string{"U", "W", "X"} {
		if got := norm.callsFor(u); got != 1 {
			t.Errorf("%s normalized %d time(s); want exactly 1", u, got)
		}
	}
	if got := strings.Join(recordURLs(res.Records), ","); got != "U,W,X" {
		t.Errorf("records = %s; want U,W,X (V dropped on force)", got)
	}
	if res.Records[0].MarketName != "new U" {
		t.Errorf("forced run should carry fresh output, got %+v", res.Records[0])
	}
}

func TestMergeMissingURLIsCountedFailure(t *testing.T) {
	svc := &fakeCompletion{respond: func(llm.Request) (string, error) { return hongdaeResponse, nil }}
	m := NewMerger(newTestNormalizer(svc), 1, newTestLogger())

	res := m.Merge(context.Background(), nil, []models.RawPost{{Title: "no link", RawText: "x"}}, false)

	if len(res.Records) != 0 {
		t.Errorf("records = %+v; want none", res.Records)
	}
	if res.Stats.Failed != 1 {
		t.Errorf("Failed = %d; want 1", res.Stats.Failed)
	}
	if svc.count() != 0 {
		t.Errorf("completion calls = %d; want 0", svc.count())
	}
	if len(res.Failures) != 1 || res.Failures[0].Reason != models.ErrKeyMissing.Error() {
		t.Errorf("failures = %+v", res.Failures)
	}
}

func TestMergeMalformedResponsesAreCountedNotKept(t *testing.T) {
	svc := &fakeCompletion{respond: func(llm.Request) (string, error) { return "not json at all", nil }}
	m := NewMerger(newTestNormalizer(svc), 1, newTestLogger())

	res := m.Merge(context.Background(), nil, postsFor("https://x/bad"), false)

	if len(res.Records) != 0 || res.Stats.Failed != 1 {
		t.Errorf("records=%d failed=%d; want 0 and 1", len(res.Records), res.Stats.Failed)
	}
	if svc.count() != 3 {
		t.Errorf("completion calls = %d; want 3", svc.count())
	}
	if !errors.Is(res.Err(), models.ErrNormalizeFailed) {
		t.Errorf("Err() = %v; want ErrNormalizeFailed", res.Err())
	}
}

func TestMergeKeepsInputOrderUnderConcurrency(t *testing.T) {
	norm := newCountingNormalizer()
	m := NewMerger(norm, MaxNormalizeConcurrency, newTestLogger())

	urls := []string{"a", "b", "fail-c", "d", "e", "f", "g"}
	res := m.Merge(context.Background(), nil, postsFor(urls...), false)

	if got := strings.Join(recordURLs(res.Records), ","); got != "a,b,d,e,f,g" {
		t.Errorf("records = %s", got)
	}
	want := models.RunStats{Processed: 6, Failed: 1}
	if res.Stats != want {
		t.Errorf("stats = %+v; want %+v", res.Stats, want)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v; partial failure is not a stage failure", res.Err())
	}
}

func TestMergeDeduplicatesFreshCorpus(t *testing.T) {
	norm := newCountingNormalizer()
	res := NewMerger(norm, 1, newTestLogger()).Merge(context.Background(), nil, postsFor("a", "a"), false)

	if norm.callsFor("a") != 1 {
		t.Errorf("a normalized %d times; want 1", norm.callsFor("a"))
	}
	if res.Stats.Skipped != 1 || len(res.Records) != 1 {
		t.Errorf("stats = %+v records = %d", res.Stats, len(res.Records))
	}
}
