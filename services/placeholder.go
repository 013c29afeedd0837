package services

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"fleamarket-scraper/models"
)

// DefaultPlaceholders are the "unknown / to be announced" tokens the forum's
// posters and the completion service produce.
var DefaultPlaceholders = []string{"미정", "추후 공지", "TBD", "미확정", "추가 예정", "추후 안내"}

// Denylist is a set of placeholder tokens that must never be stored literally.
type Denylist struct {
	tokens map[string]struct{}
}

// NewDenylist builds a Denylist from tokens. Surrounding whitespace is ignored.
func NewDenylist(tokens ...string) *Denylist {
	d := &Denylist{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			d.tokens[t] = struct{}{}
		}
	}
	return d
}

// DefaultDenylist returns a Denylist of DefaultPlaceholders.
func DefaultDenylist() *Denylist {
	return NewDenylist(DefaultPlaceholders...)
}

type denylistFile struct {
	IncludeDefaults *bool               `yaml:"include_defaults"`
	Locales         map[string][]string `yaml:"locales"`
}

// LoadDenylist reads a YAML file of per-locale tokens:
//
//	include_defaults: true
//	locales:
//	  en: ["to be announced", "TBA"]
//
// An empty path returns DefaultDenylist.
func LoadDenylist(path string) (*Denylist, error) {
	if path == "" {
		return DefaultDenylist(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("denylist: read %q: %w", path, err)
	}

	var f denylistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("denylist: parse %q: %w", path, err)
	}

	var tokens []string
	if f.IncludeDefaults == nil || *f.IncludeDefaults {
		tokens = append(tokens, DefaultPlaceholders...)
	}
	for _, locale := range f.Locales {
		tokens = append(tokens, locale...)
	}
	return NewDenylist(tokens...), nil
}

// Contains reports whether s is a placeholder token.
func (d *Denylist) Contains(s string) bool {
	_, ok := d.tokens[strings.TrimSpace(s)]
	return ok
}

// Clean returns "" for placeholder tokens and s otherwise.
func (d *Denylist) Clean(s string) string {
	if d.Contains(s) {
		return ""
	}
	return s
}

// Tokens returns the tokens in sorted order.
func (d *Denylist) Tokens() []string {
	out := make([]string, 0, len(d.tokens))
	for t := range d.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Sanitize blanks every placeholder in the record's place and session fields
// and returns how many fields were changed.
func (d *Denylist) Sanitize(rec *models.StructuredRecord) int {
	changed := 0
	clean := func(field *string) {
		if *field != "" && d.Contains(*field) {
			*field = ""
			changed++
		}
	}

	clean(&rec.Place)
	for i := range rec.Sessions {
		s := &rec.Sessions[i]
		clean(&s.StartDate)
		clean(&s.EndDate)
		clean(&s.StartTime)
		clean(&s.EndTime)
		clean(&s.Notes)
	}
	return changed
}
