package forum

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"fleamarket-scraper/models"
)

const (
	cardSelector      = ".col-xs-6.col-sm-3.col-md-3.item"
	cardTitleSelector = ".tpl-forum-list-title"
)

// ParseList extracts the post cards of one listing page. Links and image
// URLs are resolved against base. Cards without a title or a link are dropped.
func ParseList(html string, base *url.URL) ([]models.ListEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse list page: %w", err)
	}

	var entries []models.ListEntry
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		title := strings.TrimSpace(card.Find(cardTitleSelector).First().Text())
		href, _ := card.Find("a").First().Attr("href")
		link := resolve(base, href)
		if title == "" || link == "" {
			return
		}
		src, _ := card.Find("img").First().Attr("src")
		entries = append(entries, models.ListEntry{
			Title:    title,
			ImageURL: resolve(base, src),
			Link:     link,
		})
	})
	return entries, nil
}

// PageURL returns the listing URL for page n. Page 1 is the base URL itself.
func PageURL(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s?page=%d", base, n)
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "#") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
