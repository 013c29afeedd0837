package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"fleamarket-scraper/models"
	"fleamarket-scraper/utils"
)

// Labels may be preceded by bullets or decoration such as "▶" or "-".
const labelPrefix = `(?mi)^[^\p{L}\p{N}\n]*`

var (
	// marketNameRegexp captures the value after a "market name:" label
	marketNameRegexp = regexp.MustCompile(labelPrefix + `(?:프리마켓명|플리마켓명|행사명|market\s*name)[ \t]*:[ \t]*(.*)$`)
	// dateRegexp captures the value after a "date:" label; the label may carry
	// a suffix such as "날짜 및 시간" before the colon
	dateRegexp = regexp.MustCompile(labelPrefix + `(?:날짜|일시|일정|date)[^:\n]*:[ \t]*(.*)$`)
	// placeRegexp captures the value after a "place:" label
	placeRegexp = regexp.MustCompile(labelPrefix + `(?:장소|위치|place|venue)[ \t]*:[ \t]*(.*)$`)
	// postDateRegexp captures the forum's "2025. 10. 2" timestamp
	postDateRegexp = regexp.MustCompile(`(\d{4})\.\s*(\d{1,2})\.\s*(\d{1,2})`)
)

// Candidates are the cheap, unvalidated field guesses for one post.
type Candidates struct {
	MarketName string
	DateTime   string
	Place      string
}

// Extractor pulls label-anchored candidate fields out of raw post text.
type Extractor struct {
	logger *utils.Logger
}

// NewExtractor creates an Extractor with the given logger.
func NewExtractor(logger *utils.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract returns the first match of each label pattern, or "" when absent.
func (e *Extractor) Extract(rawText string) Candidates {
	text := FoldText(rawText)
	c := Candidates{
		MarketName: firstMatch(marketNameRegexp, text),
		DateTime:   firstMatch(dateRegexp, text),
		Place:      firstMatch(placeRegexp, text),
	}
	e.logger.Debug("[extractor] candidates — name: %q | date: %q | place: %q", c.MarketName, c.DateTime, c.Place)
	return c
}

// Apply fills the post's candidate fields from its raw text.
func (e *Extractor) Apply(post *models.RawPost) {
	c := e.Extract(post.RawText)
	post.MarketName = c.MarketName
	post.DateTime = c.DateTime
	post.Place = c.Place
}

// ParsePostDate converts the forum's "YYYY. M. D" timestamp to YYYY-MM-DD.
func ParsePostDate(raw string) string {
	m := postDateRegexp.FindStringSubmatch(raw)
	if len(m) < 4 {
		return ""
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(month) || t.Day() != day {
		return ""
	}
	return t.Format("2006-01-02")
}

// FoldText composes Hangul to NFC and folds full-width punctuation such as
// "：" to its ASCII form so label patterns match consistently.
func FoldText(s string) string {
	return width.Fold.String(norm.NFC.String(s))
}

func firstMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return normaliseText(m[1])
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
