// Package extract pulls movie fields out of rendered search-results HTML using CSS selectors.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/movie"
)

// Selectors names the CSS selectors used to locate each field within a result item.
type Selectors struct {
	Item     string
	Title    string
	Image    string
	Metadata string
	Rating   string
	Plot     string
}

// DefaultSelectors matches the IMDb advanced search result list.
var DefaultSelectors = Selectors{
	Item:     "li.ipc-metadata-list-summary-item",
	Title:    "h3.ipc-title__text",
	Image:    "img.ipc-image",
	Metadata: ".dli-title-metadata-item",
	Rating:   "span.ipc-rating-star--rating",
	Plot:     "div.ipc-html-content-inner-div",
}

var ordinalPrefix = regexp.MustCompile(`^\d+\.\s`)

// Extractor implements ingest.Extractor with goquery.
type Extractor struct {
	sel    Selectors
	logger *zap.Logger
}

// New builds an Extractor. Empty selector fields fall back to DefaultSelectors.
func New(sel Selectors, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{sel: withDefaults(sel), logger: logger}
}

// Extract returns one movie per result item, in page order. Items without a title are
// skipped and repeated titles collapse to their last occurrence.
func (e *Extractor) Extract(html []byte) ([]movie.Movie, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var (
		movies  []movie.Movie
		skipped int
	)
	doc.Find(e.sel.Item).Each(func(_ int, item *goquery.Selection) {
		m, ok := e.extractItem(item)
		if !ok {
			skipped++
			return
		}
		movies = append(movies, m)
	})
	if skipped > 0 {
		e.logger.Warn("skipped result items without a title", zap.Int("count", skipped))
	}
	return movie.Dedupe(movies), nil
}

func (e *Extractor) extractItem(item *goquery.Selection) (movie.Movie, bool) {
	title := cleanTitle(text(item.Find(e.sel.Title).First()))
	if title == "" {
		return movie.Movie{}, false
	}
	m := movie.Movie{Title: title}

	if alt, ok := item.Find(e.sel.Image).First().Attr("alt"); ok {
		m.Cast = castFromAlt(alt)
	}

	meta := item.Find(e.sel.Metadata)
	fields := []*string{&m.ReleaseYear, &m.Duration, &m.Category}
	meta.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= len(fields) {
			return false
		}
		*fields[i] = text(s)
		return true
	})

	m.Rating = parseRating(text(item.Find(e.sel.Rating).First()))
	m.Plot = text(item.Find(e.sel.Plot).First())
	return m, true
}

// cleanTitle strips the list ordinal ("12. ") from a result heading.
func cleanTitle(raw string) string {
	return strings.TrimSpace(ordinalPrefix.ReplaceAllString(strings.TrimSpace(raw), ""))
}

// castFromAlt keeps the names before " in " in poster alt text such as
// "Actor A, Actor B in Movie Title".
func castFromAlt(alt string) string {
	before, _, _ := strings.Cut(alt, " in ")
	return strings.TrimSpace(before)
}

func parseRating(raw string) *float64 {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < movie.MinRating || v > movie.MaxRating {
		return nil
	}
	return &v
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func withDefaults(sel Selectors) Selectors {
	if sel.Item == "" {
		sel.Item = DefaultSelectors.Item
	}
	if sel.Title == "" {
		sel.Title = DefaultSelectors.Title
	}
	if sel.Image == "" {
		sel.Image = DefaultSelectors.Image
	}
	if sel.Metadata == "" {
		sel.Metadata = DefaultSelectors.Metadata
	}
	if sel.Rating == "" {
		sel.Rating = DefaultSelectors.Rating
	}
	if sel.Plot == "" {
		sel.Plot = DefaultSelectors.Plot
	}
	return sel
}
