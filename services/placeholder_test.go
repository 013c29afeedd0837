package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fleamarket-scraper/models"
)

func TestDenylistContains(t *testing.T) {
	d := DefaultDenylist()
	tests := []struct {
		in   string
		want bool
	}{
		{"미정", true},
		{" 추후 공지 ", true},
		{"TBD", true},
		{"미정인 장소", false},
		{"", false},
		{"서울숲", false},
	}
	for _, tt := range tests {
		if got := d.Contains(tt.in); got != tt.want {
			t.Errorf("Contains(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestDenylistSanitize(t *testing.T) {
	rec := &models.StructuredRecord{
		MarketName: "미정",
		Place:      "미정",
		Sessions: []models.Session{
			{StartDate: "2025-10-18", EndDate: "추후 공지", StartTime: "TBD", EndTime: "18:00", Notes: "미확정"},
		},
	}
	if n := DefaultDenylist().Sanitize(rec); n != 4 {
		t.Errorf("Sanitize changed %d fields; want 4", n)
	}
	s := rec.Sessions[0]
	if rec.Place != "" || s.EndDate != "" || s.StartTime != "" || s.Notes != "" {
		t.Errorf("placeholders left: %+v", rec)
	}
	if s.StartDate != "2025-10-18" || s.EndTime != "18:00" {
		t.Errorf("real values changed: %+v", s)
	}
	if rec.MarketName != "미정" {
		t.Error("market name is not a sanitized field")
	}
}

func TestLoadDenylist(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name     string
		body     string
		contains []string
		missing  []string
	}{
		{
			name:     "locales plus defaults",
			body:     "locales:\n  en: [\"to be announced\", TBA]\n",
			contains: []string{"미정", "to be announced", "TBA"},
		},
		{
			name:     "locales only",
			body:     "include_defaults: false\nlocales:\n  ja: [\"未定\"]\n",
			contains: []string{"未定"},
			missing:  []string{"미정"},
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := LoadDenylist(write(strings.Repeat("x", i+1)+".yaml", tt.body))
			if err != nil {
				t.Fatal(err)
			}
			for _, s := range tt.contains {
				if !d.Contains(s) {
					t.Errorf("missing %q in %v", s, d.Tokens())
				}
			}
			for _, s := range tt.missing {
				if d.Contains(s) {
					t.Errorf("unexpected %q", s)
				}
			}
		})
	}

	if d, err := LoadDenylist(""); err != nil || len(d.Tokens()) != len(DefaultPlaceholders) {
		t.Errorf("LoadDenylist(\"\") = %v, %v", d, err)
	}
	if _, err := LoadDenylist(write("bad.yaml", "locales: [")); err == nil {
		t.Error("expected parse error")
	}
}
