package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fleamarket-scraper/models"
	"fleamarket-scraper/services"
	"fleamarket-scraper/storage"
	"fleamarket-scraper/utils"
)

type fakeCrawler struct {
	entries []models.ListEntry
	listErr error
}

func (f *fakeCrawler) CrawlList(_ context.Context, known []string) ([]models.ListEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	seen := utils.NewLinkSet(known...)
	var out []models.ListEntry
	for _, e := range f.entries {
		if seen.Add(e.Link) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeCrawler) CrawlDetails(_ context.Context, entries []models.ListEntry, existing []string) ([]models.RawPost, models.RunStats) {
	var stats models.RunStats
	seen := utils.NewLinkSet(existing...)
	var posts []models.RawPost
	for _, e := range entries {
		if !seen.Add(e.Link) {
			stats.Skipped++
			continue
		}
		stats.Processed++
		posts = append(posts, models.RawPost{URL: e.Link, Title: e.Title, RawText: "장소: 서울숲\n" + e.Title})
	}
	return posts, stats
}

// fakeNormalizer returns a fixed record per URL and counts calls.
type fakeNormalizer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func (f *fakeNormalizer) Normalize(_ context.Context, in services.NormalizeInput) (*models.StructuredRecord, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[in.URL]++
	f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("normalizer: %w", models.ErrNormalizeFailed)
	}
	return &models.StructuredRecord{
		MarketName: in.Title,
		Place:      "서울숲",
		URL:        in.URL,
		Sessions:   []models.Session{{StartDate: "2025-10-18", EndDate: "2025-10-19"}},
		Source:     &models.Source{Title: in.Title, ImageURL: in.ImageURL},
	}, nil
}

func (f *fakeNormalizer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type harness struct {
	dir        string
	corpus     *storage.Corpus
	crawler    *fakeCrawler
	normalizer *fakeNormalizer
	remoteErr  error
	localErr   error
}

func newHarness(t *testing.T, links ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:        dir,
		corpus:     storage.NewCorpus(filepath.Join(dir, "data")),
		crawler:    &fakeCrawler{},
		normalizer: &fakeNormalizer{},
	}
	for _, l := range links {
		h.crawler.entries = append(h.crawler.entries, models.ListEntry{Title: "마켓 " + l, Link: "https://forum.example.com/" + l})
	}
	return h
}

func (h *harness) opener(name string, failWith *error) StoreOpener {
	return func(ctx context.Context) (storage.Store, error) {
		if *failWith != nil {
			return nil, *failWith
		}
		return storage.NewSQLiteStore(ctx, filepath.Join(h.dir, name+".db"), services.DefaultDenylist(), utils.NewDiscardLogger())
	}
}

func (h *harness) pipeline() *Pipeline {
	logger := utils.NewDiscardLogger()
	merger := services.NewMerger(h.normalizer, 2, logger)
	return New(h.corpus, h.crawler, merger, h.opener("local", &h.localErr), h.opener("remote", &h.remoteErr), logger)
}

func (h *harness) remoteCount(t *testing.T) int {
	t.Helper()
	s, err := storage.NewSQLiteStore(context.Background(), filepath.Join(h.dir, "remote.db"), nil, utils.NewDiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	markets, err := s.ListAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return len(markets)
}

func stageByName(r *services.RunReport, name string) models.StageResult {
	for _, s := range r.Stages {
		if s.Name == name {
			return s
		}
	}
	return models.StageResult{}
}

func TestRunFullPipeline(t *testing.T) {
	h := newHarness(t, "p/1", "p/2")
	report, err := h.pipeline().Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Success() {
		t.Fatalf("run failed: %+v", report.Stages)
	}
	if len(report.Stages) != 4 {
		t.Errorf("stages = %d; want 4", len(report.Stages))
	}
	if got := stageByName(report, StageRemote).Stats.Processed; got != 2 {
		t.Errorf("remote processed = %d; want 2", got)
	}
	if n := h.remoteCount(t); n != 2 {
		t.Errorf("remote markets = %d; want 2", n)
	}

	recs, _ := h.corpus.LoadRecords()
	if len(recs) != 2 {
		t.Errorf("structured corpus = %d records; want 2", len(recs))
	}
}

func TestRunIsIncremental(t *testing.T) {
	h := newHarness(t, "p/1", "p/2")
	if _, err := h.pipeline().Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	h.crawler.entries = append(h.crawler.entries, models.ListEntry{Title: "새 마켓", Link: "https://forum.example.com/p/3"})
	report, err := h.pipeline().Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	if n := h.normalizer.total(); n != 3 {
		t.Errorf("normalize calls = %d; want 3 (p/1 and p/2 only once)", n)
	}
	norm := stageByName(report, StageNormalize).Stats
	if norm.Processed != 1 || norm.Skipped != 2 {
		t.Errorf("normalize stats = %+v", norm)
	}
	if recs, _ := h.corpus.LoadRecords(); len(recs) != 3 {
		t.Errorf("structured corpus = %d records; want 3", len(recs))
	}
}

func TestRunForceReplacesCorpus(t *testing.T) {
	h := newHarness(t, "p/1", "p/2")
	if err := h.corpus.SaveRecords([]models.StructuredRecord{{URL: "https://forum.example.com/stale", MarketName: "old",
		Sessions: []models.Session{{}}}}); err != nil {
		t.Fatal(err)
	}

	report, err := h.pipeline().Run(context.Background(), Options{Force: true})
	if err != nil || !report.Success() {
		t.Fatalf("run: %v %+v", err, report.Stages)
	}
	recs, _ := h.corpus.LoadRecords()
	for _, r := range recs {
		if strings.HasSuffix(r.URL, "stale") {
			t.Error("forced run kept a stale record")
		}
	}
	if len(recs) != 2 {
		t.Errorf("records = %d; want 2", len(recs))
	}
}

func TestRunLocalFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, "p/1")
	h.localErr = errors.New("disk full")

	report, err := h.pipeline().Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Success() {
		t.Error("local store failure must not fail the run")
	}
	local := stageByName(report, StageLocal)
	if !local.Ran || local.Success {
		t.Errorf("local stage = %+v", local)
	}
	if !stageByName(report, StageRemote).Success {
		t.Error("remote stage should still run")
	}
}

func TestRunRemoteFailureIsFatal(t *testing.T) {
	h := newHarness(t, "p/1")
	h.remoteErr = errors.New("connection refused")

	report, _ := h.pipeline().Run(context.Background(), Options{})
	if report.Success() {
		t.Error("remote store failure must fail the run")
	}
}

func TestRunFetchFailureStopsRun(t *testing.T) {
	h := newHarness(t)
	h.crawler.listErr = errors.New("all pages failed")

	report, _ := h.pipeline().Run(context.Background(), Options{})
	if report.Success() {
		t.Error("fetch failure must fail the run")
	}
	for _, name := range []string{StageNormalize, StageLocal, StageRemote} {
		if stageByName(report, name).Ran {
			t.Errorf("%s ran after a fatal fetch failure", name)
		}
	}
	if h.normalizer.total() != 0 {
		t.Error("normalizer called after fetch failure")
	}
}

func TestRunAllNormalizationsFail(t *testing.T) {
	h := newHarness(t, "p/1", "p/2")
	h.normalizer.fail = true

	report, _ := h.pipeline().Run(context.Background(), Options{})
	norm := stageByName(report, StageNormalize)
	if norm.Success || norm.Stats.Failed != 2 {
		t.Errorf("normalize stage = %+v", norm)
	}
	if report.Success() {
		t.Error("run must fail")
	}
	if !h.corpus.Exists(NormalizeFailuresFile) {
		t.Error("failures file not written")
	}
}

func TestRunSkipModes(t *testing.T) {
	h := newHarness(t, "p/1")

	if _, err := h.pipeline().Run(context.Background(), Options{SkipFetch: true}); !errors.Is(err, ErrMissingCorpus) {
		t.Errorf("skip-fetch without corpus: err = %v; want ErrMissingCorpus", err)
	}
	if _, err := h.pipeline().Run(context.Background(), Options{SkipNormalize: true}); !errors.Is(err, ErrMissingCorpus) {
		t.Errorf("skip-normalize without corpus: err = %v; want ErrMissingCorpus", err)
	}

	if _, err := h.pipeline().Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	calls := h.normalizer.total()

	report, err := h.pipeline().Run(context.Background(), Options{SkipFetch: true, SkipNormalize: true, SkipExisting: true})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Success() {
		t.Fatalf("stages = %+v", report.Stages)
	}
	if stageByName(report, StageFetch).Ran || stageByName(report, StageNormalize).Ran {
		t.Error("skipped stages ran")
	}
	if h.normalizer.total() != calls {
		t.Error("normalizer called in skip-normalize mode")
	}
	if got := stageByName(report, StageRemote).Stats.Skipped; got != 1 {
		t.Errorf("remote skipped = %d; want 1 with skip-existing", got)
	}
}
