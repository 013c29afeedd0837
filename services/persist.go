package services

import (
	"context"
	"fmt"

	"fleamarket-scraper/models"
	"fleamarket-scraper/storage"
	"fleamarket-scraper/utils"
)

// Persister writes normalized records to one store, one record at a time.
type Persister struct {
	name         string
	store        storage.Store
	skipExisting bool
	logger       *utils.Logger
}

// NewPersister creates a Persister. name labels log lines ("local", "remote").
func NewPersister(name string, store storage.Store, skipExisting bool, logger *utils.Logger) *Persister {
	return &Persister{name: name, store: store, skipExisting: skipExisting, logger: logger}
}

// Save upserts every record and returns the per-item counts. A failed record
// is counted and logged; it never stops the batch.
func (p *Persister) Save(ctx context.Context, recs []models.StructuredRecord) (models.RunStats, []ItemFailure) {
	var (
		stats    models.RunStats
		failures []ItemFailure
	)

	for i := range recs {
		rec := &recs[i]
		if err := ctx.Err(); err != nil {
			p.logger.Warn("[persist:%s] Cancelled with %d record(s) left", p.name, len(recs)-i)
			break
		}

		if p.skipExisting {
			exists, err := p.store.Exists(ctx, rec.URL)
			if err != nil {
				p.logger.Warn("[persist:%s] Exists check failed for %s: %v", p.name, rec.URL, err)
			} else if exists {
				stats.Skipped++
				continue
			}
		}

		id, err := p.store.Upsert(ctx, rec, rec.ImageURL())
		if err != nil {
			p.logger.Error("[persist:%s] %s: %v", p.name, rec.URL, err)
			stats.Failed++
			failures = append(failures, ItemFailure{URL: rec.URL, Title: rec.MarketName, Reason: err.Error()})
			continue
		}
		stats.Processed++
		p.logger.Debug("[persist:%s] %s → market %d (%d session(s))", p.name, rec.URL, id, len(rec.Sessions))
	}

	p.logger.Info("[persist:%s] Saved: %d | skipped: %d | failed: %d", p.name, stats.Processed, stats.Skipped, stats.Failed)
	return stats, failures
}

// StageError reports whether a persistence run should fail its stage: the
// batch had records but none reached the store.
func StageError(stats models.RunStats, total int) error {
	if total > 0 && stats.Processed == 0 && stats.Skipped == 0 {
		return fmt.Errorf("none of %d record(s) were stored: %w", total, models.ErrPersistence)
	}
	return nil
}
