package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"fleamarket-scraper/models"
)

// newGeoServer fakes the Kakao local search and Nominatim endpoints.
// addresses/keywords/nominatim map a query to "lat,lng" pairs.
func newGeoServer(t *testing.T, addresses, keywords, nominatim map[string][2]string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	mux := http.NewServeMux()

	kakao := func(table map[string][2]string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			if r.Header.Get("Authorization") != "KakaoAK test-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			docs := []map[string]string{}
			if c, ok := table[r.URL.Query().Get("query")]; ok {
				docs = append(docs, map[string]string{"y": c[0], "x": c[1], "address_name": "주소 " + r.URL.Query().Get("query")})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"documents": docs})
		}
	}
	mux.HandleFunc("/v2/local/search/address.json", kakao(addresses))
	mux.HandleFunc("/v2/local/search/keyword.json", kakao(keywords))
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("User-Agent") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		out := []map[string]string{}
		if c, ok := nominatim[r.URL.Query().Get("q")]; ok {
			out = append(out, map[string]string{"lat": c[0], "lon": c[1], "display_name": "OSM"})
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestGeocoder(srv *httptest.Server) *Geocoder {
	return NewGeocoder(GeocoderConfig{
		KakaoAPIKey:  "test-key",
		KakaoBaseURL: srv.URL,
		NominatimURL: srv.URL + "/search",
		UserAgent:    "fleamarket-test",
	}, DefaultDenylist(), newTestLogger())
}

func TestGeocodeStepOrder(t *testing.T) {
	srv, _ := newGeoServer(t,
		map[string][2]string{"서울 성동구 뚝섬로 273": {"37.5443", "127.0374"}},
		map[string][2]string{"서울숲 야외무대": {"37.5446", "127.0379"}},
		map[string][2]string{"망원한강공원": {"37.5548", "126.8976"}},
	)
	g := newTestGeocoder(srv)

	tests := []struct {
		place      string
		wantMethod string
		wantLat    float64
	}{
		{"서울 성동구 뚝섬로 273", "address_search", 37.5443},
		{"서울숲 야외무대 (2층)", "keyword_search_cleaned", 37.5446},
		{"망원한강공원", "nominatim", 37.5548},
	}

	for _, tt := range tests {
		t.Run(tt.place, func(t *testing.T) {
			c, err := g.Geocode(context.Background(), tt.place)
			if err != nil {
				t.Fatalf("Geocode(%q): %v", tt.place, err)
			}
			if c.Method != tt.wantMethod || c.Lat != tt.wantLat {
				t.Errorf("Geocode(%q) = %+v; want method %s lat %v", tt.place, c, tt.wantMethod, tt.wantLat)
			}
		})
	}
}

func TestGeocodeRejectsOutsideKorea(t *testing.T) {
	srv, _ := newGeoServer(t, nil, map[string][2]string{"Paris": {"48.85", "2.35"}}, nil)

	if _, err := newTestGeocoder(srv).Geocode(context.Background(), "Paris"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("err = %v; want ErrNoMatch", err)
	}
}

func TestGeocodePlaceholderMakesNoRequest(t *testing.T) {
	srv, hits := newGeoServer(t, nil, nil, nil)
	g := newTestGeocoder(srv)

	for _, p := range []string{"", "  ", "미정", "추후 공지"} {
		if _, err := g.Geocode(context.Background(), p); !errors.Is(err, ErrNoMatch) {
			t.Errorf("Geocode(%q) = %v; want ErrNoMatch", p, err)
		}
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("requests = %d; want 0", atomic.LoadInt32(hits))
	}
}

func TestGeocodeCachesResults(t *testing.T) {
	srv, hits := newGeoServer(t, map[string][2]string{"홍대입구역": {"37.557", "126.924"}}, nil, nil)
	g := newTestGeocoder(srv)

	for i := 0; i < 3; i++ {
		if _, err := g.Geocode(context.Background(), "홍대입구역"); err != nil {
			t.Fatal(err)
		}
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("requests = %d; want 1", atomic.LoadInt32(hits))
	}
}

func TestCleanPlace(t *testing.T) {
	tests := []struct{ in, want string }{
		{"서울숲 야외무대 (2층)", "서울숲 야외무대"},
		{"성수동 카페거리 3층!", "성수동 카페거리"},
		{"홍대 걷고싶은거리 * 일대", "홍대 걷고싶은거리 일대"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanPlace(tt.in); got != tt.want {
			t.Errorf("CleanPlace(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnrichUpdatesStoreAndReportsFailures(t *testing.T) {
	srv, _ := newGeoServer(t, map[string][2]string{"서울숲": {"37.5444", "127.0374"}}, nil, nil)
	g := newTestGeocoder(srv)

	store := newMemStore()
	ctx := context.Background()
	for _, rec := range []models.StructuredRecord{
		{MarketName: "A", Place: "서울숲", URL: "https://x/a"},
		{MarketName: "B", Place: "", URL: "https://x/b"},
		{MarketName: "C", Place: "어딘가 모르는 곳", URL: "https://x/c"},
	} {
		rec := rec
		if _, err := store.Upsert(ctx, &rec, ""); err != nil {
			t.Fatal(err)
		}
	}

	stats, failures, err := g.Enrich(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Processed != 1 || stats.Failed != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if !store.markets["https://x/a"].HasLocation() {
		t.Error("market A not updated")
	}
	if len(failures) != 2 || failures[0].MarketName != "C" || failures[1].Reason != "no venue" {
		t.Errorf("failures = %+v", failures)
	}

	// A second run skips the located market.
	stats, _, _ = g.Enrich(ctx, store)
	if stats.Skipped != 1 {
		t.Errorf("second run skipped = %d; want 1", stats.Skipped)
	}
}
