package forum

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"fleamarket-scraper/models"
	"fleamarket-scraper/services"
	"fleamarket-scraper/utils"
)

// MinDetailText is the raw text length, in characters, below which the
// lightweight detail fetch is judged incomplete.
const MinDetailText = 500

// CrawlerConfig tunes the list and detail crawls.
type CrawlerConfig struct {
	BaseURL           string
	MaxPages          int
	ListConcurrency   int
	DetailConcurrency int
	MaxRetries        int
	RetryDelay        time.Duration
	RateLimitMs       int
	MinDetailText     int
}

// Crawler walks the forum's listing pages and post pages.
type Crawler struct {
	cfg       CrawlerConfig
	light     FetchStrategy
	rendered  func() (FetchStrategy, error)
	extractor *services.Extractor
	logger    *utils.Logger
	retry     *utils.RetryConfig

	mu       sync.Mutex
	fallback FetchStrategy
}

// NewCrawler creates a Crawler. light serves every fetch until a probe fails;
// rendered builds the browser-backed fallback on demand.
func NewCrawler(cfg CrawlerConfig, light FetchStrategy, rendered func() (FetchStrategy, error), extractor *services.Extractor, logger *utils.Logger) *Crawler {
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if cfg.MinDetailText == 0 {
		cfg.MinDetailText = MinDetailText
	}
	return &Crawler{
		cfg:       cfg,
		light:     light,
		rendered:  rendered,
		extractor: extractor,
		logger:    logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryDelay,
			Logger:      logger,
		},
	}
}

// Close releases the fallback strategy if the crawler started one.
func (c *Crawler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallback == nil {
		return nil
	}
	err := c.fallback.Close()
	c.fallback = nil
	return err
}

// openFallback builds the rendered strategy once; the list and detail
// crawls share it. and shared by the list and detail crawls.
func (c *Crawler) openFallback() (FetchStrategy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallback != nil {
		return c.fallback, nil
	}
	if c.rendered == nil {
		return nil, errors.New("no rendered fetch configured")
	}
	s, err := c.rendered()
	if err != nil {
		return nil, err
	}
	c.fallback = s
	return s, nil
}

type pageResult struct {
	entries []models.ListEntry
	err     error
}

// CrawlList fetches listing pages 1..MaxPages and returns the cards whose
// links are not in known, in page order. It fails only when no page could
// be read.
func (c *Crawler) CrawlList(ctx context.Context, known []string) ([]models.ListEntry, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("crawler: base url: %w", err)
	}
	c.logger.Info("[crawler] Crawling %d listing page(s) of %s", c.cfg.MaxPages, c.cfg.BaseURL)

	results := make([]pageResult, c.cfg.MaxPages)

	// Page 1 doubles as the probe.
	var first pageResult
	probe := func(ctx context.Context, s FetchStrategy) bool {
		first = c.fetchList(ctx, s, base, 1)
		return first.err == nil && len(first.entries) > 0
	}
	strategy := SelectStrategy(ctx, c.light, c.openFallback, probe, c.logger)
	if strategy != c.light {
		first = c.fetchList(ctx, strategy, base, 1)
	}
	results[0] = first

	pool := utils.NewWorkerPool(c.cfg.ListConcurrency, c.cfg.RateLimitMs)
	for page := 2; page <= c.cfg.MaxPages; page++ {
		page := page
		err := pool.Submit(ctx, func() {
			results[page-1] = c.fetchList(ctx, strategy, base, page)
		})
		if err != nil {
			results[page-1] = pageResult{err: err}
		}
	}
	pool.Wait()

	seen := utils.NewLinkSet(known...)
	var (
		entries []models.ListEntry
		okPages int
		skipped int
	)
	for i, r := range results {
		if r.err != nil {
			c.logger.Warn("[crawler] Page %d failed: %v", i+1, r.err)
			continue
		}
		okPages++
		for _, e := range r.entries {
			if !seen.Add(e.Link) {
				skipped++
				continue
			}
			entries = append(entries, e)
		}
	}

	if okPages == 0 {
		return nil, fmt.Errorf("crawler: all %d listing page(s) failed", c.cfg.MaxPages)
	}
	c.logger.Info("[crawler] Listing done — pages ok: %d/%d | new: %d | known: %d",
		okPages, c.cfg.MaxPages, len(entries), skipped)
	return entries, nil
}

func (c *Crawler) fetchList(ctx context.Context, s FetchStrategy, base *url.URL, page int) pageResult {
	pageURL := PageURL(c.cfg.BaseURL, page)
	entries, err := utils.Retry(ctx, c.retry, fmt.Sprintf("list page %d", page), func(ctx context.Context) ([]models.ListEntry, error) {
		html, err := s.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		return ParseList(html, base)
	})
	if err == nil {
		c.logger.Debug("[crawler] Page %d: %d card(s) via %s", page, len(entries), s.Name())
	}
	return pageResult{entries: entries, err: err}
}

// CrawlDetails fetches the post page of every entry whose link is not in
// existing. Results keep entry order; failed posts are counted and dropped.
func (c *Crawler) CrawlDetails(ctx context.Context, entries []models.ListEntry, existing []string) ([]models.RawPost, models.RunStats) {
	var stats models.RunStats

	known := utils.NewLinkSet(existing...)
	var todo []models.ListEntry
	for _, e := range entries {
		if !known.Add(e.Link) {
			stats.Skipped++
			continue
		}
		todo = append(todo, e)
	}
	c.logger.Info("[crawler] %d post(s) to fetch, %d already captured", len(todo), stats.Skipped)
	if len(todo) == 0 {
		return nil, stats
	}

	posts := make([]*models.RawPost, len(todo))
	errs := make([]error, len(todo))

	// The first link doubles as the probe.
	probe := func(ctx context.Context, s FetchStrategy) bool {
		posts[0], errs[0] = c.fetchDetail(ctx, s, todo[0])
		return errs[0] == nil && utf8.RuneCountInString(posts[0].RawText) >= c.cfg.MinDetailText
	}
	strategy := SelectStrategy(ctx, c.light, c.openFallback, probe, c.logger)
	if strategy != c.light {
		posts[0], errs[0] = c.fetchDetail(ctx, strategy, todo[0])
	}

	pool := utils.NewWorkerPool(c.cfg.DetailConcurrency, c.cfg.RateLimitMs)
	for i := 1; i < len(todo); i++ {
		i := i
		err := pool.Submit(ctx, func() {
			posts[i], errs[i] = c.fetchDetail(ctx, strategy, todo[i])
			if errs[i] == nil {
				c.logger.Info("[crawler] [%d/%d] %s", i+1, len(todo), todo[i].Title)
			}
		})
		if err != nil {
			errs[i] = err
		}
	}
	pool.Wait()

	out := make([]models.RawPost, 0, len(todo))
	for i, p := range posts {
		if errs[i] != nil {
			stats.Failed++
			c.logger.Warn("[crawler] Post %s failed: %v", todo[i].Link, errs[i])
			continue
		}
		stats.Processed++
		out = append(out, *p)
	}
	c.logger.Info("[crawler] Details done — fetched: %d | failed: %d | skipped: %d",
		stats.Processed, stats.Failed, stats.Skipped)
	return out, stats
}

func (c *Crawler) fetchDetail(ctx context.Context, s FetchStrategy, e models.ListEntry) (*models.RawPost, error) {
	post, err := utils.Retry(ctx, c.retry, "post "+e.Link, func(ctx context.Context) (*models.RawPost, error) {
		html, err := s.Fetch(ctx, e.Link)
		if err != nil {
			return nil, err
		}
		return ParseDetail(html, e.Link)
	})
	if err != nil {
		return nil, err
	}

	if post.Title == "" {
		post.Title = e.Title
	}
	if post.ImageURL == "" {
		post.ImageURL = e.ImageURL
	}
	c.extractor.Apply(post)
	return post, nil
}
