package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"fleamarket-scraper/llm"
	"fleamarket-scraper/models"
	"fleamarket-scraper/utils"
)

// DefaultMarketName is used when neither the model nor the post title
// provides a name.
const DefaultMarketName = "제목 미정"

const imageMaxTokens = 800

// NormalizeInput is everything the engine knows about one post.
type NormalizeInput struct {
	RawText       string
	URL           string
	Title         string
	ImageURL      string
	OriginalPlace string
	PostDate      string
}

// InputFromPost builds a NormalizeInput from a captured post.
func InputFromPost(p *models.RawPost) NormalizeInput {
	return NormalizeInput{
		RawText:       strings.TrimSpace(p.RawText),
		URL:           p.URL,
		Title:         strings.TrimSpace(p.Title),
		ImageURL:      p.ImageURL,
		OriginalPlace: strings.TrimSpace(p.Place),
		PostDate:      strings.TrimSpace(p.PostDate),
	}
}

// Normalizer turns post text (and, when needed, the poster image) into a
// StructuredRecord through the completion service.
type Normalizer struct {
	svc      llm.CompletionService
	denylist *Denylist
	retry    *utils.RetryConfig
	logger   *utils.Logger
}

// NewNormalizer creates a Normalizer. maxAttempts bounds the text and image
// passes independently.
func NewNormalizer(svc llm.CompletionService, denylist *Denylist, maxAttempts int, logger *utils.Logger) *Normalizer {
	if denylist == nil {
		denylist = DefaultDenylist()
	}
	return &Normalizer{
		svc:      svc,
		denylist: denylist,
		retry:    &utils.RetryConfig{MaxAttempts: maxAttempts, Logger: logger},
		logger:   logger,
	}
}

// Normalize runs the text pass, the conditional image supplementation,
// defaulting and placeholder sanitization. It returns an error only when the
// URL is missing or the text pass exhausts its attempts; no partial record
// is returned in that case.
func (n *Normalizer) Normalize(ctx context.Context, in NormalizeInput) (*models.StructuredRecord, error) {
	if in.URL == "" {
		return nil, fmt.Errorf("normalizer: %w", models.ErrKeyMissing)
	}

	rec, err := n.textPass(ctx, in)
	if err != nil {
		n.logger.Warn("[normalizer] Text pass failed for %s: %v", in.URL, err)
		return nil, fmt.Errorf("normalizer: %s: %w: %w", in.URL, models.ErrNormalizeFailed, err)
	}

	rec.URL = in.URL
	rec.Source = nil
	if strings.TrimSpace(rec.MarketName) == "" {
		rec.MarketName = in.Title
	}
	if strings.TrimSpace(rec.MarketName) == "" {
		rec.MarketName = DefaultMarketName
	}

	if n.incomplete(rec) && isRemoteImage(in.ImageURL) {
		n.logger.Info("[normalizer] Text pass incomplete for %s — trying poster image", in.URL)
		n.supplementFromImage(ctx, rec, in)
	}

	if len(rec.Sessions) == 0 {
		rec.Sessions = []models.Session{{}}
	}
	if changed := n.denylist.Sanitize(rec); changed > 0 {
		n.logger.Warn("[normalizer] Blanked %d placeholder field(s) in %s", changed, in.URL)
	}

	rec.Source = &models.Source{
		Title:         in.Title,
		ImageURL:      in.ImageURL,
		RawTextLength: utf8.RuneCountInString(in.RawText),
	}
	return rec, nil
}

func (n *Normalizer) textPass(ctx context.Context, in NormalizeInput) (*models.StructuredRecord, error) {
	prompt := buildTextPrompt(in.RawText, in.URL, in.OriginalPlace, in.PostDate, n.denylist.Tokens())

	return utils.Retry(ctx, n.retry, "text-pass", func(ctx context.Context) (*models.StructuredRecord, error) {
		out, err := n.svc.Complete(ctx, llm.Request{
			System:      textSystemPrompt,
			Prompt:      prompt,
			Temperature: llm.DefaultTemperature,
		})
		if err != nil {
			return nil, err
		}
		var w wireRecord
		if err := decodeObject(out, &w); err != nil {
			return nil, err
		}
		return w.record(), nil
	})
}

// incomplete reports a validation gap: no venue, no sessions, or a first
// session without a start date. Placeholder values count as missing.
func (n *Normalizer) incomplete(rec *models.StructuredRecord) bool {
	if n.blank(rec.Place) || len(rec.Sessions) == 0 {
		return true
	}
	return n.blank(rec.Sessions[0].StartDate)
}

func (n *Normalizer) blank(s string) bool {
	return strings.TrimSpace(s) == "" || n.denylist.Contains(s)
}

type imageFields struct {
	Place    llm.Text `json:"place"`
	DateInfo llm.Text `json:"date_info"`
	TimeInfo llm.Text `json:"time_info"`
}

// supplementFromImage never fails the record: errors are logged and the
// text-pass result is kept.
func (n *Normalizer) supplementFromImage(ctx context.Context, rec *models.StructuredRecord, in NormalizeInput) {
	img, err := utils.Retry(ctx, n.retry, "image-pass", func(ctx context.Context) (imageFields, error) {
		out, err := n.svc.Complete(ctx, llm.Request{
			Prompt:      buildImagePrompt(n.denylist.Tokens()),
			ImageURL:    in.ImageURL,
			Temperature: llm.DefaultTemperature,
			MaxTokens:   imageMaxTokens,
		})
		if err != nil {
			return imageFields{}, err
		}
		var f imageFields
		err = decodeObject(out, &f)
		return f, err
	})
	if err != nil {
		n.logger.Warn("[normalizer] Image pass failed for %s: %v", in.ImageURL, err)
		return
	}

	if !n.blank(img.Place.String()) {
		rec.Place = img.Place.String()
	}

	out, err := n.svc.Complete(ctx, llm.Request{
		System:      refineSystemPrompt,
		Prompt:      buildRefinePrompt(rec.MarketName, rec.Place, in.URL, img.DateInfo.String(), img.TimeInfo.String(), n.denylist.Tokens()),
		Temperature: llm.DefaultTemperature,
	})
	if err != nil {
		n.logger.Warn("[normalizer] Refine pass failed for %s: %v", in.URL, err)
		return
	}

	var refined struct {
		Sessions wireSessions `json:"sessions"`
	}
	if err := decodeObject(out, &refined); err != nil {
		n.logger.Warn("[normalizer] Refine pass returned unusable JSON for %s: %v", in.URL, err)
		return
	}
	if len(refined.Sessions) > 0 {
		rec.Sessions = refined.Sessions.sessions()
		n.logger.Info("[normalizer] Sessions replaced from poster image for %s", in.URL)
	}
}

// wireRecord is the model's answer as sent. Loosely typed values are
// coerced to text instead of failing the decode.
type wireRecord struct {
	MarketName llm.Text     `json:"market_name"`
	Place      llm.Text     `json:"place"`
	Sessions   wireSessions `json:"sessions"`
}

func (w *wireRecord) record() *models.StructuredRecord {
	return &models.StructuredRecord{
		MarketName: w.MarketName.String(),
		Place:      w.Place.String(),
		Sessions:   w.Sessions.sessions(),
	}
}

type wireSession struct {
	StartDate llm.Text `json:"start_date"`
	EndDate   llm.Text `json:"end_date"`
	StartTime llm.Text `json:"start_time"`
	EndTime   llm.Text `json:"end_time"`
	Notes     llm.Text `json:"notes"`
}

// wireSessions accepts a list of session objects or a single object.
// Entries that are not objects are dropped.
type wireSessions []wireSession

func (ws *wireSessions) UnmarshalJSON(b []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		items = []json.RawMessage{b}
	}
	out := make(wireSessions, 0, len(items))
	for _, raw := range items {
		var s wireSession
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	*ws = out
	return nil
}

func (ws wireSessions) sessions() []models.Session {
	if len(ws) == 0 {
		return nil
	}
	out := make([]models.Session, len(ws))
	for i, s := range ws {
		out[i] = models.Session{
			StartDate: s.StartDate.String(),
			EndDate:   s.EndDate.String(),
			StartTime: s.StartTime.String(),
			EndTime:   s.EndTime.String(),
			Notes:     s.Notes.String(),
		}
	}
	return out
}

// decodeObject decodes a fenced JSON object into v. An empty object counts
// as a decode failure.
func decodeObject(text string, v any) error {
	var probe map[string]json.RawMessage
	if err := llm.DecodeJSON(text, &probe); err != nil {
		return err
	}
	if len(probe) == 0 {
		return fmt.Errorf("normalizer: empty JSON object: %w", models.ErrDecode)
	}
	return llm.DecodeJSON(text, v)
}

func isRemoteImage(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
