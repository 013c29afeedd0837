package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"fleamarket-scraper/models"
)

var csvHeader = []string{
	"market_id", "market_name", "place", "url", "image_url", "lat", "lng",
	"start_date", "end_date", "start_time", "end_time", "notes",
}

// CSVWriter writes markets to a CSV file, one row per session.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	// UTF-8 BOM so spreadsheet apps read Hangul correctly.
	if _, err := f.WriteString("\uFEFF"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write bom: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteMarkets appends the rows for each market. A market without sessions
// still gets one row with empty session columns.
func (c *CSVWriter) WriteMarkets(details []models.MarketDetail) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := 0
	for _, d := range details {
		sessions := d.Sessions
		if len(sessions) == 0 {
			sessions = []models.MarketSession{{}}
		}
		for _, s := range sessions {
			row := []string{
				strconv.FormatInt(d.ID, 10),
				d.MarketName,
				d.Place,
				d.URL,
				d.ImageURL,
				formatCoord(d.Lat),
				formatCoord(d.Lng),
				s.StartDate,
				s.EndDate,
				s.StartTime,
				s.EndTime,
				s.Notes,
			}
			if err := c.writer.Write(row); err != nil {
				return rows, fmt.Errorf("csv: write row: %w", err)
			}
			rows++
		}
	}

	c.writer.Flush()
	return rows, c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 7, 64)
}
