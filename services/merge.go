package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"fleamarket-scraper/models"
	"fleamarket-scraper/utils"
)

// MaxNormalizeConcurrency caps outstanding completion calls.
const MaxNormalizeConcurrency = 5

// RecordNormalizer is the capability the merge layer needs from the engine.
type RecordNormalizer interface {
	Normalize(ctx context.Context, in NormalizeInput) (*models.StructuredRecord, error)
}

// ItemFailure names a post that produced no record and why.
type ItemFailure struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// MergeResult is the output collection of one normalization run.
type MergeResult struct {
	Records  []models.StructuredRecord
	Stats    models.RunStats
	Failures []ItemFailure
}

// Merger decides which posts need normalization and combines the results
// with previously normalized records.
type Merger struct {
	normalizer  RecordNormalizer
	concurrency int
	logger      *utils.Logger
}

// NewMerger creates a Merger. concurrency is clamped to
// [1, MaxNormalizeConcurrency]; 1 normalizes strictly in order.
func NewMerger(normalizer RecordNormalizer, concurrency int, logger *utils.Logger) *Merger {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxNormalizeConcurrency {
		concurrency = MaxNormalizeConcurrency
	}
	return &Merger{normalizer: normalizer, concurrency: concurrency, logger: logger}
}

// Merge normalizes every post whose URL is not in existing (or every post
// when force is set). Without force the result is existing followed by the
// new records; with force it is the new records only.
func (m *Merger) Merge(ctx context.Context, existing []models.StructuredRecord, posts []models.RawPost, force bool) MergeResult {
	var result MergeResult

	known := utils.NewLinkSet()
	if !force {
		for _, rec := range existing {
			known.Add(rec.URL)
		}
	}

	var todo []models.RawPost
	for _, post := range posts {
		switch {
		case post.URL == "":
			m.logger.Warn("[merge] Post %q has no url — excluded", post.Title)
			result.Stats.Failed++
			result.Failures = append(result.Failures, ItemFailure{
				Title:  post.Title,
				Reason: models.ErrKeyMissing.Error(),
			})
		case known.Contains(post.URL):
			m.logger.Debug("[merge] Skipping already-normalized %s", post.URL)
			result.Stats.Skipped++
		default:
			known.Add(post.URL)
			todo = append(todo, post)
		}
	}

	m.logger.Info("[merge] %d post(s) to normalize, %d skipped (force=%v)", len(todo), result.Stats.Skipped, force)

	fresh := make([]*models.StructuredRecord, len(todo))
	errs := make([]error, len(todo))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	var progress sync.Mutex
	done := 0
	for i := range todo {
		i := i
		g.Go(func() error {
			rec, err := m.normalizer.Normalize(gctx, InputFromPost(&todo[i]))
			fresh[i], errs[i] = rec, err

			progress.Lock()
			done++
			m.logger.Info("[merge] [%d/%d] %s", done, len(todo), todo[i].URL)
			progress.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if !force {
		result.Records = append(result.Records, existing...)
	}
	for i, rec := range fresh {
		if errs[i] != nil || rec == nil {
			reason := "no record produced"
			if errs[i] != nil {
				reason = errs[i].Error()
			}
			result.Stats.Failed++
			result.Failures = append(result.Failures, ItemFailure{URL: todo[i].URL, Title: todo[i].Title, Reason: reason})
			continue
		}
		result.Stats.Processed++
		result.Records = append(result.Records, *rec)
	}

	m.logger.Info("[merge] Done — processed: %d | skipped: %d | failed: %d",
		result.Stats.Processed, result.Stats.Skipped, result.Stats.Failed)
	return result
}

// Err reports a run in which every attempted post failed.
func (r MergeResult) Err() error {
	if r.Stats.Failed > 0 && r.Stats.Processed == 0 && r.Stats.Skipped == 0 {
		return fmt.Errorf("merge: all %d post(s) failed: %w", r.Stats.Failed, models.ErrNormalizeFailed)
	}
	return nil
}
