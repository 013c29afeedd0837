package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"fleamarket-scraper/models"
)

func TestStripFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```JSON\n{\"a\":1}```  ", `{"a":1}`},
		{"", ""},
	}

	for _, tt := range tests {
		if got := StripFence(tt.in); got != tt.want {
			t.Errorf("StripFence(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Place string `json:"place"`
	}
	if err := DecodeJSON("```json\n{\"place\":\"Hongik\"}\n```", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Place != "Hongik" {
		t.Errorf("place: got %q, want Hongik", out.Place)
	}

	for _, bad := range []string{"", "not json", "```json\n{\"place\":\n```"} {
		if err := DecodeJSON(bad, &out); !errors.Is(err, models.ErrDecode) {
			t.Errorf("DecodeJSON(%q) = %v; want ErrDecode", bad, err)
		}
	}
}

func TestTextAcceptsLooseJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"13:00"`, "13:00"},
		{`3`, "3"},
		{`2.5`, "2.5"},
		{`true`, "true"},
		{`null`, ""},
		{`["11월 8일", "9일"]`, "11월 8일, 9일"},
		{`["a", null, 2]`, "a, 2"},
		{`{"k": "v"}`, ""},
	}

	for _, tt := range tests {
		var got Text
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Errorf("Unmarshal(%s): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("Unmarshal(%s) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeJSONWithTextFields(t *testing.T) {
	var out struct {
		Notes Text `json:"notes"`
	}
	if err := DecodeJSON(`{"notes": 3}`, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Notes != "3" {
		t.Errorf("notes = %q; want 3", out.Notes)
	}
}
