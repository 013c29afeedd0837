package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"fleamarket-scraper/models"
)

// Corpus file names under the data directory.
const (
	PostsFile      = "posts.json"
	DetailsFile    = "details.json"
	StructuredFile = "structured.json"
)

// Corpus reads and rewrites the JSON files that carry work between stages
// and between runs.
type Corpus struct {
	dir string
}

// NewCorpus returns a Corpus rooted at dir.
func NewCorpus(dir string) *Corpus {
	return &Corpus{dir: dir}
}

// Path returns the full path of a corpus file.
func (c *Corpus) Path(name string) string {
	return filepath.Join(c.dir, name)
}

// Exists reports whether a corpus file has been written.
func (c *Corpus) Exists(name string) bool {
	_, err := os.Stat(c.Path(name))
	return err == nil
}

// LoadEntries reads posts.json. A missing file yields no entries.
func (c *Corpus) LoadEntries() ([]models.ListEntry, error) {
	var entries []models.ListEntry
	if err := ReadJSON(c.Path(PostsFile), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveEntries rewrites posts.json.
func (c *Corpus) SaveEntries(entries []models.ListEntry) error {
	return WriteJSON(c.Path(PostsFile), nonNil(entries))
}

// LoadPosts reads details.json. A missing file yields no posts.
func (c *Corpus) LoadPosts() ([]models.RawPost, error) {
	var posts []models.RawPost
	if err := ReadJSON(c.Path(DetailsFile), &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// SavePosts rewrites details.json.
func (c *Corpus) SavePosts(posts []models.RawPost) error {
	return WriteJSON(c.Path(DetailsFile), nonNil(posts))
}

// LoadRecords reads structured.json. A missing file yields no records.
func (c *Corpus) LoadRecords() ([]models.StructuredRecord, error) {
	var recs []models.StructuredRecord
	if err := ReadJSON(c.Path(StructuredFile), &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// SaveRecords rewrites structured.json.
func (c *Corpus) SaveRecords(recs []models.StructuredRecord) error {
	return WriteJSON(c.Path(StructuredFile), nonNil(recs))
}

// ReadJSON decodes the file at path into v. A missing file leaves v
// untouched and is not an error.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("corpus: read %q: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corpus: decode %q: %w: %w", path, models.ErrDecode, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON, replacing path atomically.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("corpus: create dir: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("corpus: encode %q: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("corpus: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("corpus: write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("corpus: close %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("corpus: replace %q: %w", path, err)
	}
	return nil
}

// nonNil makes empty collections encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
