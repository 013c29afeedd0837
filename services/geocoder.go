package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"fleamarket-scraper/models"
	"fleamarket-scraper/storage"
	"fleamarket-scraper/utils"
)

// ErrNoMatch means every search step came back empty.
var ErrNoMatch = errors.New("geocoder: no match")

// Coordinates is a geocoding result.
type Coordinates struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
	Method  string  `json:"method"`
}

// GeocoderConfig configures the search endpoints.
type GeocoderConfig struct {
	KakaoAPIKey     string
	KakaoBaseURL    string
	NominatimURL    string
	UserAgent       string
	Timeout         time.Duration
	RequestInterval time.Duration
}

// Geocoder resolves venue text to coordinates: Kakao address search, Kakao
// keyword search, Kakao keyword search on cleaned text, then Nominatim.
type Geocoder struct {
	cfg      GeocoderConfig
	client   *http.Client
	denylist *Denylist
	logger   *utils.Logger

	mu    sync.Mutex
	cache map[string]*Coordinates
}

// NewGeocoder creates a Geocoder.
func NewGeocoder(cfg GeocoderConfig, denylist *Denylist, logger *utils.Logger) *Geocoder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if denylist == nil {
		denylist = DefaultDenylist()
	}
	return &Geocoder{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		denylist: denylist,
		logger:   logger,
		cache:    make(map[string]*Coordinates),
	}
}

// Results outside this box are discarded as mismatches.
const (
	koreaMinLat = 33.0
	koreaMaxLat = 38.5
	koreaMinLng = 124.0
	koreaMaxLng = 132.0
)

var (
	parenRegexp      = regexp.MustCompile(`\([^)]*\)`)
	floorRegexp      = regexp.MustCompile(`\d+층`)
	searchCharRegexp = regexp.MustCompile(`[^가-힣a-zA-Z0-9\s\-]`)
)

// CleanPlace strips parentheses, floor numbers and punctuation that confuse
// keyword search.
func CleanPlace(text string) string {
	cleaned := parenRegexp.ReplaceAllString(text, "")
	cleaned = floorRegexp.ReplaceAllString(cleaned, "")
	cleaned = searchCharRegexp.ReplaceAllString(cleaned, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

// Geocode resolves place. Empty or placeholder text returns ErrNoMatch
// without any request.
func (g *Geocoder) Geocode(ctx context.Context, place string) (*Coordinates, error) {
	place = strings.TrimSpace(place)
	if place == "" || g.denylist.Contains(place) {
		return nil, ErrNoMatch
	}

	g.mu.Lock()
	if c, ok := g.cache[place]; ok {
		g.mu.Unlock()
		return c, nil
	}
	g.mu.Unlock()

	type step struct {
		method string
		query  string
		search func(ctx context.Context, query string) (*Coordinates, error)
	}
	var steps []step
	if g.cfg.KakaoAPIKey != "" {
		steps = append(steps,
			step{"address_search", place, g.kakaoAddress},
			step{"keyword_search", place, g.kakaoKeyword},
		)
		if cleaned := CleanPlace(place); cleaned != "" && cleaned != place {
			steps = append(steps, step{"keyword_search_cleaned", cleaned, g.kakaoKeyword})
		}
	}
	if g.cfg.NominatimURL != "" {
		steps = append(steps, step{"nominatim", place, g.nominatim})
	}

	var errs []error
	for _, s := range steps {
		c, err := s.search(ctx, s.query)
		if err != nil {
			g.logger.Debug("[geocoder] %s(%q): %v", s.method, s.query, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.method, err))
			continue
		}
		if c == nil || !inKorea(c) {
			continue
		}
		c.Method = s.method
		g.mu.Lock()
		g.cache[place] = c
		g.mu.Unlock()
		return c, nil
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoMatch, errors.Join(errs...))
	}
	return nil, ErrNoMatch
}

func inKorea(c *Coordinates) bool {
	return c.Lat >= koreaMinLat && c.Lat <= koreaMaxLat && c.Lng >= koreaMinLng && c.Lng <= koreaMaxLng
}

type kakaoResponse struct {
	Documents []struct {
		AddressName string `json:"address_name"`
		PlaceName   string `json:"place_name"`
		X           string `json:"x"`
		Y           string `json:"y"`
	} `json:"documents"`
}

func (g *Geocoder) kakaoAddress(ctx context.Context, query string) (*Coordinates, error) {
	return g.kakaoSearch(ctx, "/v2/local/search/address.json", query)
}

func (g *Geocoder) kakaoKeyword(ctx context.Context, query string) (*Coordinates, error) {
	return g.kakaoSearch(ctx, "/v2/local/search/keyword.json", query)
}

func (g *Geocoder) kakaoSearch(ctx context.Context, path, query string) (*Coordinates, error) {
	endpoint := strings.TrimRight(g.cfg.KakaoBaseURL, "/") + path + "?" + url.Values{"query": {query}}.Encode()
	var resp kakaoResponse
	if err := g.getJSON(ctx, endpoint, map[string]string{"Authorization": "KakaoAK " + g.cfg.KakaoAPIKey}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Documents) == 0 {
		return nil, nil
	}

	doc := resp.Documents[0]
	lat, errLat := strconv.ParseFloat(doc.Y, 64)
	lng, errLng := strconv.ParseFloat(doc.X, 64)
	if errLat != nil || errLng != nil {
		return nil, fmt.Errorf("kakao: bad coordinates %q,%q: %w", doc.Y, doc.X, models.ErrDecode)
	}
	addr := doc.AddressName
	if addr == "" {
		addr = query
	}
	return &Coordinates{Lat: lat, Lng: lng, Address: addr}, nil
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (g *Geocoder) nominatim(ctx context.Context, query string) (*Coordinates, error) {
	params := url.Values{
		"q":            {query},
		"format":       {"json"},
		"limit":        {"1"},
		"countrycodes": {"kr"},
	}
	var results []nominatimResult
	headers := map[string]string{"User-Agent": g.cfg.UserAgent, "Accept-Language": "ko"}
	if err := g.getJSON(ctx, g.cfg.NominatimURL+"?"+params.Encode(), headers, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return nil, fmt.Errorf("nominatim: bad coordinates: %w", models.ErrDecode)
	}
	return &Coordinates{Lat: lat, Lng: lng, Address: results[0].DisplayName}, nil
}

func (g *Geocoder) getJSON(ctx context.Context, endpoint string, headers map[string]string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: HTTP %d", models.ErrTransport, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", models.ErrDecode, err)
	}
	return nil
}

// GeocodeFailure is one entry of the failures side file.
type GeocodeFailure struct {
	ID         int64  `json:"id"`
	MarketName string `json:"market_name"`
	Place      string `json:"place"`
	Reason     string `json:"reason"`
}

// Enrich geocodes every market in store that has no coordinates yet and
// writes the result back. Every market that could not be resolved is
// returned for the failures file.
func (g *Geocoder) Enrich(ctx context.Context, store storage.Store) (models.RunStats, []GeocodeFailure, error) {
	var (
		stats    models.RunStats
		failures []GeocodeFailure
	)

	markets, err := store.ListAll(ctx)
	if err != nil {
		return stats, nil, fmt.Errorf("geocoder: list markets: %w", err)
	}

	var pending []models.Market
	for _, m := range markets {
		if m.HasLocation() {
			stats.Skipped++
			continue
		}
		pending = append(pending, m)
	}
	g.logger.Info("[geocoder] %d market(s), %d without coordinates", len(markets), len(pending))

	for i, m := range pending {
		if ctx.Err() != nil {
			break
		}
		g.logger.Info("[geocoder] [%d/%d] %s — %q", i+1, len(pending), m.MarketName, m.Place)

		fail := func(reason string) {
			stats.Failed++
			failures = append(failures, GeocodeFailure{ID: m.ID, MarketName: m.MarketName, Place: m.Place, Reason: reason})
		}

		if strings.TrimSpace(m.Place) == "" || g.denylist.Contains(m.Place) {
			g.logger.Warn("[geocoder] No venue for market %d — skipped", m.ID)
			fail("no venue")
			continue
		}

		c, err := g.Geocode(ctx, m.Place)
		if err != nil {
			g.logger.Warn("[geocoder] Could not resolve %q: %v", m.Place, err)
			fail("all search steps failed")
			g.pause(ctx)
			continue
		}

		if err := store.UpdateCoordinates(ctx, m.ID, c.Lat, c.Lng); err != nil {
			g.logger.Error("[geocoder] Update failed for market %d: %v", m.ID, err)
			fail("store update failed: " + err.Error())
			continue
		}
		stats.Processed++
		g.logger.Info("[geocoder] (%.6f, %.6f) via %s", c.Lat, c.Lng, c.Method)
		g.pause(ctx)
	}

	g.logger.Info("[geocoder] Done — resolved: %d | failed: %d | already located: %d", stats.Processed, stats.Failed, stats.Skipped)
	return stats, failures, nil
}

// pause spaces out requests to stay under the search APIs' rate limits.
func (g *Geocoder) pause(ctx context.Context) {
	if g.cfg.RequestInterval <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(g.cfg.RequestInterval):
	}
}
