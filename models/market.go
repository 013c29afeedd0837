package models

import "time"

// ListEntry is one card scraped from a forum listing page.
type ListEntry struct {
	Title    string `json:"title"`
	ImageURL string `json:"image_url"`
	Link     string `json:"link"`
}

// RawPost holds a detail page as captured by the crawler, before any LLM
// involvement. MarketName, DateTime and Place are the Field Extractor's
// label-anchored candidates and may be empty.
type RawPost struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	MarketName string `json:"market_name"`
	DateTime   string `json:"date_time"`
	Place      string `json:"place"`
	RawText    string `json:"raw_text"`
	ImageURL   string `json:"image_url"`
	PostDate   string `json:"post_date"`
}

// Session is one date/time window of a market. Unknown values are empty
// strings, never placeholder text.
type Session struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Notes     string `json:"notes"`
}

// IsBlank reports whether every field of the session is empty.
func (s Session) IsBlank() bool {
	return s.StartDate == "" && s.EndDate == "" && s.StartTime == "" &&
		s.EndTime == "" && s.Notes == ""
}

// Source is informational metadata about the post a record came from.
type Source struct {
	Title         string `json:"title"`
	ImageURL      string `json:"image_url"`
	RawTextLength int    `json:"raw_text_length"`
}

// StructuredRecord is the normalized output for one post, keyed by URL.
type StructuredRecord struct {
	MarketName string    `json:"market_name"`
	Place      string    `json:"place"`
	URL        string    `json:"url"`
	Sessions   []Session `json:"sessions"`
	Source     *Source   `json:"_source,omitempty"`
}

// ImageURL returns the poster image recorded in the source metadata.
func (r *StructuredRecord) ImageURL() string {
	if r.Source == nil {
		return ""
	}
	return r.Source.ImageURL
}

// Market is the persisted row for one unique URL.
type Market struct {
	ID         int64    `json:"id"`
	MarketName string   `json:"market_name"`
	Place      string   `json:"place"`
	URL        string   `json:"url"`
	ImageURL   string   `json:"image_url"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
}

// HasLocation reports whether the market has been geocoded.
func (m *Market) HasLocation() bool {
	return m.Lat != nil && m.Lng != nil
}

// MarketSession is a persisted session owned by a Market.
type MarketSession struct {
	ID        int64  `json:"id"`
	MarketID  int64  `json:"market_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Notes     string `json:"notes"`
}

// MarketDetail is a market together with its sessions, as served by the
// read API and written by the CSV export.
type MarketDetail struct {
	Market
	Sessions []MarketSession `json:"sessions"`
}

// RunStats aggregates per-item outcomes of a stage.
type RunStats struct {
	Processed int
	Skipped   int
	Failed    int
}

// Add folds other into s.
func (s *RunStats) Add(other RunStats) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// StageResult records how one pipeline stage went.
type StageResult struct {
	Name     string
	Ran      bool
	Success  bool
	Fatal    bool
	Err      error
	Duration time.Duration
	Stats    RunStats
}
