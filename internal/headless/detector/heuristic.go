// Package detector decides when a statically fetched search page must be re-fetched
// in a headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
)

// DefaultResultMarker is the class every rendered search result item carries.
const DefaultResultMarker = "ipc-metadata-list-summary-item"

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// ResultMarker must appear in a page that was rendered server side.
	ResultMarker string
}

// NewHeuristic creates a new detector. Zero values select the defaults.
func NewHeuristic(threshold int, marker string) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	if marker == "" {
		marker = DefaultResultMarker
	}
	return &Heuristic{BodyLengthThreshold: threshold, ResultMarker: marker}
}

// ShouldPromote reports whether page looks like an unrendered shell that needs a
// headless fetch. Non-200 responses are never promoted.
func (h *Heuristic) ShouldPromote(page ingest.Page) bool {
	if page.StatusCode != http.StatusOK {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	return !bytes.Contains(body, []byte(h.ResultMarker))
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// unterminated tag runs to EOF
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
