package forum

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"fleamarket-scraper/models"
	"fleamarket-scraper/services"
)

// ErrNoContent means a detail page had no recognisable post body.
var ErrNoContent = errors.New("forum: no post content")

// Post bodies are looked up in this order.
var bodySelectors = []string{".fr-element.fr-view", ".content", ".post-content", "article"}

// ParseDetail captures a post page as a RawPost. The body falls back to
// readability extraction when none of the known containers is present.
// Candidate fields are left for the Extractor.
func ParseDetail(html, pageURL string) (*models.RawPost, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail %s: %w", pageURL, err)
	}
	base, _ := url.Parse(pageURL)

	post := &models.RawPost{URL: pageURL}

	title := doc.Find("title").First()
	if strings.TrimSpace(title.Text()) == "" {
		title = doc.Find("h1").First()
	}
	post.Title = strings.TrimSpace(title.Text())

	if date := firstNonEmpty(doc, ".tpl-forum-date", ".date"); date != "" {
		post.PostDate = services.ParsePostDate(date)
	}

	var body *goquery.Selection
	for _, sel := range bodySelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			body = s
			break
		}
	}

	if body != nil {
		post.RawText = textLines(body)
		if src, ok := body.Find("img").First().Attr("src"); ok {
			post.ImageURL = resolve(base, src)
		}
	} else {
		article, err := readability.FromReader(strings.NewReader(html), base)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNoContent, pageURL, err)
		}
		post.RawText = strings.TrimSpace(article.TextContent)
		post.ImageURL = resolve(base, article.Image)
		if post.Title == "" {
			post.Title = strings.TrimSpace(article.Title)
		}
	}

	if post.RawText == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, pageURL)
	}
	return post, nil
}

func firstNonEmpty(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// textLines joins the text nodes under sel with newlines, so block
// boundaries in the editor markup become line boundaries.
func textLines(sel *goquery.Selection) string {
	var lines []string
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "#text":
				if t := strings.TrimSpace(c.Text()); t != "" {
					lines = append(lines, t)
				}
			case "script", "style", "#comment":
			default:
				walk(c)
			}
		})
	}
	walk(sel)
	return strings.Join(lines, "\n")
}
