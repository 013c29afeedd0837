package api

import (
	"time"

	"fleamarket-scraper/storage"
	"fleamarket-scraper/utils"
)

// PlaceholderSet recognises "to be announced" venue text.
type PlaceholderSet interface {
	Contains(s string) bool
}

// Handler serves the read-only market endpoints from a Store.
type Handler struct {
	store        storage.Store
	placeholders PlaceholderSet
	logger       *utils.Logger
	now          func() time.Time
}

// MapMarket is the flattened shape used by the map front end.
type MapMarket struct {
	Title    string   `json:"title"`
	Place    string   `json:"place"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Dates    string   `json:"dates"`
	DateList []string `json:"date_list"`
	Time     string   `json:"time"`
	URL      string   `json:"url"`
	ImageURL string   `json:"image_url"`
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
}
