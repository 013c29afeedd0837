package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fleamarket-scraper/models"
	"fleamarket-scraper/storage"
	"fleamarket-scraper/utils"
)

const (
	dateLayout          = "2006-01-02"
	defaultUpcomingSize = 50
)

// NewHandler creates a Handler over store.
func NewHandler(store storage.Store, placeholders PlaceholderSet, logger *utils.Logger) *Handler {
	return &Handler{store: store, placeholders: placeholders, logger: logger, now: time.Now}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"status":    "ok",
		"timestamp": h.now().Format(time.RFC3339),
	}
	if markets, err := h.store.ListAll(c.Request.Context()); err == nil {
		health["markets"] = len(markets)
	} else {
		health["status"] = "degraded"
		h.logger.Error("[api] health: %v", err)
	}
	c.JSON(http.StatusOK, health)
}

// ListMarkets returns every market, newest first. With start_date and/or
// end_date only markets with an overlapping session are returned, carrying
// just those sessions.
func (h *Handler) ListMarkets(c *gin.Context) {
	start, end, ok := dateRange(c)
	if !ok {
		return
	}

	details, ok := h.load(c)
	if !ok {
		return
	}
	if start != "" || end != "" {
		details = filterSessions(details, func(s models.MarketSession) bool {
			return overlaps(s, start, end)
		})
	}
	respond(c, details, "markets listed")
}

// ListForMap returns the date-filtered markets flattened for the map view.
func (h *Handler) ListForMap(c *gin.Context) {
	start, end, ok := dateRange(c)
	if !ok {
		return
	}
	details, ok := h.load(c)
	if !ok {
		return
	}
	if start != "" || end != "" {
		details = filterSessions(details, func(s models.MarketSession) bool {
			return overlaps(s, start, end)
		})
	}

	out := make([]MapMarket, 0, len(details))
	for _, d := range details {
		out = append(out, toMapMarket(d))
	}
	respond(c, out, "map data listed")
}

// ListWithLocation returns markets whose venue is known.
func (h *Handler) ListWithLocation(c *gin.Context) {
	details, ok := h.load(c)
	if !ok {
		return
	}
	out := details[:0]
	for _, d := range details {
		if strings.TrimSpace(d.Place) == "" || h.placeholders.Contains(d.Place) {
			continue
		}
		out = append(out, d)
	}
	respond(c, out, "markets with location listed")
}

// ListUpcoming returns markets with a session starting today or later,
// soonest first.
func (h *Handler) ListUpcoming(c *gin.Context) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 {
		limit = defaultUpcomingSize
	}
	details, ok := h.load(c)
	if !ok {
		return
	}

	today := h.now().Format(dateLayout)
	details = filterSessions(details, func(s models.MarketSession) bool {
		return s.StartDate != "" && s.StartDate >= today
	})
	sort.SliceStable(details, func(i, j int) bool {
		return earliestStart(details[i]) < earliestStart(details[j])
	})
	if len(details) > limit {
		details = details[:limit]
	}
	respond(c, details, "upcoming markets listed")
}

func (h *Handler) GetMarket(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, response{Message: "invalid market id"})
		return
	}

	ctx := c.Request.Context()
	market, err := h.store.GetMarket(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, response{Message: "market not found"})
		return
	}
	if err != nil {
		h.fail(c, "get market", err)
		return
	}
	sessions, err := h.store.ListSessions(ctx, id)
	if err != nil {
		h.fail(c, "list sessions", err)
		return
	}
	c.JSON(http.StatusOK, response{
		Success: true,
		Message: "market found",
		Data:    models.MarketDetail{Market: *market, Sessions: nonNil(sessions)},
	})
}

func (h *Handler) load(c *gin.Context) ([]models.MarketDetail, bool) {
	details, err := storage.LoadDetails(c.Request.Context(), h.store)
	if err != nil {
		h.fail(c, "load markets", err)
		return nil, false
	}
	for i := range details {
		details[i].Sessions = nonNil(details[i].Sessions)
	}
	return details, true
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	h.logger.Error("[api] %s: %v", op, err)
	c.JSON(http.StatusInternalServerError, response{Message: "internal error"})
}

func respond[T any](c *gin.Context, data []T, msg string) {
	n := len(data)
	c.JSON(http.StatusOK, response{Success: true, Message: msg, Data: nonNil(data), Count: &n})
}

func dateRange(c *gin.Context) (string, string, bool) {
	start, end := c.Query("start_date"), c.Query("end_date")
	for _, d := range []string{start, end} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			c.JSON(http.StatusBadRequest, response{Message: "dates must be YYYY-MM-DD"})
			return "", "", false
		}
	}
	return start, end, true
}

// overlaps reports whether s intersects [start, end]. Either bound may be
// empty; a session missing the date a bound compares against never matches.
func overlaps(s models.MarketSession, start, end string) bool {
	if start != "" && (s.EndDate == "" || s.EndDate < start) {
		return false
	}
	if end != "" && (s.StartDate == "" || s.StartDate > end) {
		return false
	}
	return true
}

// filterSessions keeps the matching sessions of each market and drops
// markets left with none.
func filterSessions(details []models.MarketDetail, keep func(models.MarketSession) bool) []models.MarketDetail {
	out := make([]models.MarketDetail, 0, len(details))
	for _, d := range details {
		var sessions []models.MarketSession
		for _, s := range d.Sessions {
			if keep(s) {
				sessions = append(sessions, s)
			}
		}
		if len(sessions) == 0 {
			continue
		}
		d.Sessions = sessions
		out = append(out, d)
	}
	return out
}

func earliestStart(d models.MarketDetail) string {
	first := ""
	for _, s := range d.Sessions {
		if s.StartDate != "" && (first == "" || s.StartDate < first) {
			first = s.StartDate
		}
	}
	return first
}

func toMapMarket(d models.MarketDetail) MapMarket {
	m := MapMarket{
		Title:    d.MarketName,
		Place:    d.Place,
		URL:      d.URL,
		ImageURL: d.ImageURL,
		DateList: sessionDates(d.Sessions),
		Time:     sessionTime(d.Sessions),
	}
	if d.HasLocation() {
		m.Lat, m.Lng = *d.Lat, *d.Lng
	}
	switch len(m.DateList) {
	case 0:
		m.Dates = "날짜 미정"
	case 1:
		m.Dates = m.DateList[0]
	default:
		m.Dates = m.DateList[0] + " ~ " + m.DateList[len(m.DateList)-1]
	}
	return m
}

// maxSessionDays bounds how many days one session expands into. Longer
// ranges contribute only their first and last day.
const maxSessionDays = 366

// sessionDates expands every session into the days it covers, sorted and
// without duplicates.
func sessionDates(sessions []models.MarketSession) []string {
	seen := make(map[string]struct{})
	for _, s := range sessions {
		start, err := time.Parse(dateLayout, s.StartDate)
		if err != nil {
			continue
		}
		last := start
		if end, err := time.Parse(dateLayout, s.EndDate); err == nil && !end.Before(start) {
			last = end
		}
		if last.Sub(start) >= maxSessionDays*24*time.Hour {
			seen[start.Format(dateLayout)] = struct{}{}
			seen[last.Format(dateLayout)] = struct{}{}
			continue
		}
		for d := start; !d.After(last); d = d.AddDate(0, 0, 1) {
			seen[d.Format(dateLayout)] = struct{}{}
		}
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func sessionTime(sessions []models.MarketSession) string {
	for _, s := range sessions {
		switch {
		case s.StartTime != "" && s.EndTime != "":
			return s.StartTime + " ~ " + s.EndTime
		case s.StartTime != "":
			return s.StartTime + "부터"
		case s.EndTime != "":
			return s.EndTime + "까지"
		}
	}
	return "시간 미정"
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
