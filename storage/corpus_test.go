package storage

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fleamarket-scraper/models"
)

func TestCorpusMissingFilesAreEmpty(t *testing.T) {
	c := NewCorpus(t.TempDir())

	entries, err := c.LoadEntries()
	if err != nil || len(entries) != 0 {
		t.Errorf("LoadEntries = %v, %v", entries, err)
	}
	posts, err := c.LoadPosts()
	if err != nil || len(posts) != 0 {
		t.Errorf("LoadPosts = %v, %v", posts, err)
	}
	recs, err := c.LoadRecords()
	if err != nil || len(recs) != 0 {
		t.Errorf("LoadRecords = %v, %v", recs, err)
	}
	if c.Exists(StructuredFile) {
		t.Error("Exists reported a file that was never written")
	}
}

func TestCorpusRoundTrip(t *testing.T) {
	c := NewCorpus(filepath.Join(t.TempDir(), "data"))

	recs := []models.StructuredRecord{{
		MarketName: "홍대 <플리마켓>",
		Place:      "홍대입구역",
		URL:        "https://x/1",
		Sessions:   []models.Session{{StartDate: "2025-10-25"}},
		Source:     &models.Source{Title: "홍대", RawTextLength: 42},
	}}
	if err := c.SaveRecords(recs); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	raw, err := os.ReadFile(c.Path(StructuredFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "홍대 <플리마켓>") {
		t.Errorf("file should keep Hangul and <> unescaped:\n%s", raw)
	}
	if !strings.Contains(string(raw), `"_source"`) {
		t.Errorf("file should carry _source metadata:\n%s", raw)
	}

	got, err := c.LoadRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ImageURL() != "" || got[0].Source.RawTextLength != 42 {
		t.Errorf("LoadRecords = %+v", got)
	}
}

func TestCorpusEmptyCollectionsEncodeAsArrays(t *testing.T) {
	c := NewCorpus(t.TempDir())
	if err := c.SavePosts(nil); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(c.Path(DetailsFile))
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Errorf("got %q; want []", raw)
	}
}

func TestCorpusCorruptFile(t *testing.T) {
	c := NewCorpus(t.TempDir())
	if err := os.WriteFile(c.Path(PostsFile), []byte("{oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LoadEntries(); !errors.Is(err, models.ErrDecode) {
		t.Errorf("LoadEntries = %v; want ErrDecode", err)
	}
}

func TestCSVWriterOneRowPerSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "markets.csv")
	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatal(err)
	}

	lat, lng := 37.5, 127.0
	n, err := w.WriteMarkets([]models.MarketDetail{
		{
			Market: models.Market{ID: 1, MarketName: "A", URL: "https://x/a", Lat: &lat, Lng: &lng},
			Sessions: []models.MarketSession{
				{StartDate: "2025-10-25"},
				{StartDate: "2025-10-26"},
			},
		},
		{Market: models.Market{ID: 2, MarketName: "B", URL: "https://x/b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("rows = %d; want 3", n)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d lines; want header + 3", len(rows))
	}
	if rows[1][5] != "37.5000000" || rows[3][5] != "" {
		t.Errorf("lat column = %q / %q", rows[1][5], rows[3][5])
	}
	if rows[2][7] != "2025-10-26" {
		t.Errorf("start_date = %q", rows[2][7])
	}
}
