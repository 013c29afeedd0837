package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleamarket-scraper/models"
)

// ErrNotFound is returned by GetMarket for an unknown id.
var ErrNotFound = errors.New("market not found")

// Store is the persistence boundary shared by the local and remote stores.
// Each Upsert is atomic for its own record; nothing spans records.
type Store interface {
	Exists(ctx context.Context, url string) (bool, error)
	// Upsert inserts or updates the market keyed by url, then replaces its
	// sessions, and returns the market id.
	Upsert(ctx context.Context, rec *models.StructuredRecord, imageURL string) (int64, error)
	ListAll(ctx context.Context) ([]models.Market, error)
	ListSessions(ctx context.Context, marketID int64) ([]models.MarketSession, error)
	GetMarket(ctx context.Context, id int64) (*models.Market, error)
	UpdateCoordinates(ctx context.Context, id int64, lat, lng float64) error
	Close() error
}

// FieldCleaner blanks placeholder values before they reach a column.
type FieldCleaner interface {
	Clean(s string) string
}

type identityCleaner struct{}

func (identityCleaner) Clean(s string) string { return s }

const dateLayout = "2006-01-02"

// dateValue maps a cleaned session date to its column value: nil for empty
// or unparseable dates so date columns hold NULL instead of text.
func dateValue(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return nil, false
	}
	return s, true
}

func persistenceError(op, url string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, url, models.ErrPersistence, err)
}

// LoadDetails returns every market with its sessions, newest first.
func LoadDetails(ctx context.Context, s Store) ([]models.MarketDetail, error) {
	markets, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	details := make([]models.MarketDetail, 0, len(markets))
	for _, m := range markets {
		sessions, err := s.ListSessions(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, models.MarketDetail{Market: m, Sessions: sessions})
	}
	return details, nil
}
