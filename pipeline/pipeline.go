package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"fleamarket-scraper/models"
	"fleamarket-scraper/services"
	"fleamarket-scraper/storage"
	"fleamarket-scraper/utils"
)

// Stage names as they appear in logs and the run summary.
const (
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageLocal     = "local"
	StageRemote    = "remote"
)

// NormalizeFailuresFile lists the posts a normalize stage could not turn
// into records.
const NormalizeFailuresFile = "normalize_failures.json"

// ErrMissingCorpus means a skipped stage left nothing for the next one.
var ErrMissingCorpus = errors.New("pipeline: input corpus missing")

// Crawler fetches new listing entries and their posts.
type Crawler interface {
	CrawlList(ctx context.Context, known []string) ([]models.ListEntry, error)
	CrawlDetails(ctx context.Context, entries []models.ListEntry, existing []string) ([]models.RawPost, models.RunStats)
}

// StoreOpener connects to a store on demand.
type StoreOpener func(ctx context.Context) (storage.Store, error)

// Options select the run mode.
type Options struct {
	// Force re-normalizes every post and replaces the structured corpus.
	Force bool
	// SkipFetch reuses the previously fetched posts.
	SkipFetch bool
	// SkipNormalize reuses the previously normalized records.
	SkipNormalize bool
	// SkipExisting leaves markets already in a store untouched.
	SkipExisting bool
}

// Pipeline runs fetch → normalize → local store → remote store.
type Pipeline struct {
	corpus     *storage.Corpus
	crawler    Crawler
	merger     *services.Merger
	openLocal  StoreOpener
	openRemote StoreOpener
	logger     *utils.Logger
	now        func() time.Time
}

// New creates a Pipeline. crawler and merger may be nil when the
// corresponding stage is always skipped.
func New(corpus *storage.Corpus, crawler Crawler, merger *services.Merger, openLocal, openRemote StoreOpener, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		corpus:     corpus,
		crawler:    crawler,
		merger:     merger,
		openLocal:  openLocal,
		openRemote: openRemote,
		logger:     logger,
		now:        time.Now,
	}
}

type stage struct {
	name  string
	fatal bool
	skip  bool
	run   func(ctx context.Context) (models.RunStats, error)
}

// Run executes the stages selected by opts. A fatal stage failure stops the
// run; later stages are reported as skipped. The returned error is non-nil
// only when the run could not start at all.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*services.RunReport, error) {
	report := services.NewRunReport(p.now())

	if err := p.preflight(opts); err != nil {
		report.Finish(p.now())
		return report, err
	}

	p.logger.Info("[pipeline] Run mode — force: %v | skip-fetch: %v | skip-normalize: %v | skip-existing: %v",
		opts.Force, opts.SkipFetch, opts.SkipNormalize, opts.SkipExisting)

	stages := []stage{
		{name: StageFetch, fatal: true, skip: opts.SkipFetch, run: p.fetch},
		{name: StageNormalize, fatal: true, skip: opts.SkipNormalize, run: func(ctx context.Context) (models.RunStats, error) {
			return p.normalize(ctx, opts.Force)
		}},
		{name: StageLocal, fatal: false, run: func(ctx context.Context) (models.RunStats, error) {
			return p.persist(ctx, StageLocal, p.openLocal, opts.SkipExisting)
		}},
		{name: StageRemote, fatal: true, run: func(ctx context.Context) (models.RunStats, error) {
			return p.persist(ctx, StageRemote, p.openRemote, opts.SkipExisting)
		}},
	}

	aborted := false
	for _, s := range stages {
		if s.skip || aborted {
			p.logger.Info("[pipeline] ⏭  %s skipped", s.name)
			report.Add(models.StageResult{Name: s.name, Fatal: s.fatal})
			continue
		}

		p.logger.Info("[pipeline] ▶ %s", s.name)
		start := p.now()
		stats, err := s.run(ctx)
		result := models.StageResult{
			Name:     s.name,
			Ran:      true,
			Success:  err == nil,
			Fatal:    s.fatal,
			Err:      err,
			Duration: p.now().Sub(start),
			Stats:    stats,
		}
		report.Add(result)

		switch {
		case err == nil:
			p.logger.Info("[pipeline] ✔ %s done in %.1fs", s.name, result.Duration.Seconds())
		case s.fatal:
			p.logger.Error("[pipeline] ✘ %s failed: %v", s.name, err)
			aborted = true
		default:
			p.logger.Warn("[pipeline] %s failed (non-fatal): %v", s.name, err)
		}
	}

	report.Finish(p.now())
	return report, nil
}

// preflight checks that every skipped stage left its output behind.
func (p *Pipeline) preflight(opts Options) error {
	if opts.SkipFetch && !opts.SkipNormalize && !p.corpus.Exists(storage.DetailsFile) {
		return fmt.Errorf("%w: --skip-fetch needs %s", ErrMissingCorpus, p.corpus.Path(storage.DetailsFile))
	}
	if opts.SkipNormalize && !p.corpus.Exists(storage.StructuredFile) {
		return fmt.Errorf("%w: --skip-normalize needs %s", ErrMissingCorpus, p.corpus.Path(storage.StructuredFile))
	}
	if !opts.SkipFetch && p.crawler == nil {
		return errors.New("pipeline: no crawler configured")
	}
	if !opts.SkipNormalize && p.merger == nil {
		return errors.New("pipeline: no normalizer configured")
	}
	return nil
}

func (p *Pipeline) fetch(ctx context.Context) (models.RunStats, error) {
	var stats models.RunStats

	known, err := p.corpus.LoadEntries()
	if err != nil {
		return stats, err
	}
	knownLinks := make([]string, 0, len(known))
	for _, e := range known {
		knownLinks = append(knownLinks, e.Link)
	}

	fresh, err := p.crawler.CrawlList(ctx, knownLinks)
	if err != nil {
		return stats, err
	}
	entries := append(known, fresh...)
	if err := p.corpus.SaveEntries(entries); err != nil {
		return stats, fmt.Errorf("save entries: %w", err)
	}
	p.logger.Info("[pipeline] Listing corpus: %d entries (%d new)", len(entries), len(fresh))

	captured, err := p.corpus.LoadPosts()
	if err != nil {
		return stats, err
	}
	capturedURLs := make([]string, 0, len(captured))
	for _, post := range captured {
		capturedURLs = append(capturedURLs, post.URL)
	}

	posts, stats := p.crawler.CrawlDetails(ctx, entries, capturedURLs)
	all := append(captured, posts...)
	if err := p.corpus.SavePosts(all); err != nil {
		return stats, fmt.Errorf("save posts: %w", err)
	}
	p.logger.Info("[pipeline] Post corpus: %d posts (%d new)", len(all), len(posts))

	if len(all) == 0 {
		return stats, fmt.Errorf("%w: no posts fetched", ErrMissingCorpus)
	}
	return stats, nil
}

func (p *Pipeline) normalize(ctx context.Context, force bool) (models.RunStats, error) {
	posts, err := p.corpus.LoadPosts()
	if err != nil {
		return models.RunStats{}, err
	}
	if len(posts) == 0 {
		return models.RunStats{}, fmt.Errorf("%w: %s is empty", ErrMissingCorpus, p.corpus.Path(storage.DetailsFile))
	}

	var existing []models.StructuredRecord
	if !force {
		if existing, err = p.corpus.LoadRecords(); err != nil {
			return models.RunStats{}, err
		}
	}

	result := p.merger.Merge(ctx, existing, posts, force)
	if err := p.corpus.SaveRecords(result.Records); err != nil {
		return result.Stats, fmt.Errorf("save records: %w", err)
	}
	p.logger.Info("[pipeline] Structured corpus: %d records", len(result.Records))

	failuresPath := p.corpus.Path(NormalizeFailuresFile)
	if len(result.Failures) > 0 {
		if err := storage.WriteJSON(failuresPath, result.Failures); err != nil {
			p.logger.Warn("[pipeline] Could not write %s: %v", filepath.Base(failuresPath), err)
		} else {
			p.logger.Warn("[pipeline] %d failed post(s) listed in %s", len(result.Failures), failuresPath)
		}
	}
	return result.Stats, result.Err()
}

func (p *Pipeline) persist(ctx context.Context, name string, open StoreOpener, skipExisting bool) (models.RunStats, error) {
	recs, err := p.corpus.LoadRecords()
	if err != nil {
		return models.RunStats{}, err
	}
	if len(recs) == 0 {
		return models.RunStats{}, fmt.Errorf("%w: %s is empty", ErrMissingCorpus, p.corpus.Path(storage.StructuredFile))
	}
	if open == nil {
		return models.RunStats{}, fmt.Errorf("%s store not configured", name)
	}

	store, err := open(ctx)
	if err != nil {
		return models.RunStats{}, fmt.Errorf("open %s store: %w", name, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			p.logger.Warn("[pipeline] Closing %s store: %v", name, err)
		}
	}()

	stats, _ := services.NewPersister(name, store, skipExisting, p.logger).Save(ctx, recs)
	return stats, services.StageError(stats, len(recs))
}
