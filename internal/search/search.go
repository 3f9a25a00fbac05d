// Package search validates scrape parameters and turns them into a search-results URL.
package search

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the advanced title search endpoint.
const DefaultBaseURL = "https://www.imdb.com/search/title/"

// Limits applied by Validate.
const (
	MinUserRating   = 1.0
	MaxUserRating   = 10.0
	MinReleaseYear  = 1900
	DefaultPages    = 1
	DefaultMaxPages = 50
)

// Genre is a genre filter forwarded verbatim into the query string.
type Genre string

// Supported genres.
const (
	GenreComedy Genre = "comedy"
	GenreAction Genre = "action"
	GenreDrama  Genre = "drama"
	GenreHorror Genre = "horror"
)

// Genres lists every supported genre.
var Genres = []Genre{GenreComedy, GenreAction, GenreDrama, GenreHorror}

// TitleType is a title-type filter forwarded verbatim into the query string.
type TitleType string

// Supported title types.
const (
	TitleTypeFeature  TitleType = "feature"
	TitleTypeTVSeries TitleType = "tv_series"
	TitleTypeShort    TitleType = "short"
)

// TitleTypes lists every supported title type.
var TitleTypes = []TitleType{TitleTypeFeature, TitleTypeTVSeries, TitleTypeShort}

// Params captures one scrape request.
type Params struct {
	Genre       Genre     `json:"genre"`
	TitleType   TitleType `json:"title_type,omitempty"`
	UserRating  *float64  `json:"user_rating,omitempty"`
	NumVotes    *int      `json:"num_votes,omitempty"`
	ReleaseYear *int      `json:"release_year,omitempty"`
	Pages       int       `json:"pages,omitempty"`
}

// ValidationError lists every rejected parameter.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid search parameters: " + strings.Join(parts, "; ")
}

// ParseGenre matches s against the supported genres.
func ParseGenre(s string) (Genre, error) {
	g := Genre(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Genres {
		if g == known {
			return g, nil
		}
	}
	return "", fmt.Errorf("invalid genre %q, valid options are %v", s, Genres)
}

// ParseTitleType matches s against the supported title types. Empty means feature.
func ParseTitleType(s string) (TitleType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TitleTypeFeature, nil
	}
	for _, known := range TitleTypes {
		if TitleType(s) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("invalid title type %q, valid options are %v", s, TitleTypes)
}

// Normalize fills defaults without validating.
func (p Params) Normalize() Params {
	if p.TitleType == "" {
		p.TitleType = TitleTypeFeature
	}
	if p.Pages == 0 {
		p.Pages = DefaultPages
	}
	return p
}

// Validate checks p against the supported filters. maxPages <= 0 uses DefaultMaxPages.
func (p Params) Validate(now time.Time, maxPages int) error {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	p = p.Normalize()
	fields := map[string]string{}

	if _, err := ParseGenre(string(p.Genre)); err != nil {
		if p.Genre == "" {
			fields["genre"] = "must be provided"
		} else {
			fields["genre"] = err.Error()
		}
	}
	if _, err := ParseTitleType(string(p.TitleType)); err != nil {
		fields["title_type"] = err.Error()
	}
	if p.UserRating != nil && (*p.UserRating < MinUserRating || *p.UserRating > MaxUserRating) {
		fields["user_rating"] = "user rating must be a float between 1.0 and 10.0"
	}
	if p.NumVotes != nil && *p.NumVotes <= 0 {
		fields["num_votes"] = "must be greater than zero"
	}
	if p.ReleaseYear != nil && (*p.ReleaseYear < MinReleaseYear || *p.ReleaseYear > now.Year()) {
		fields["release_year"] = fmt.Sprintf("release year must be between %d and %d", MinReleaseYear, now.Year())
	}
	if p.Pages < 1 || p.Pages > maxPages {
		fields["pages"] = fmt.Sprintf("must be between 1 and %d", maxPages)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// BuildURL renders the search URL. Filter values are written verbatim and in a fixed
// order; now supplies the upper bound of the release-date range.
func BuildURL(base string, p Params, now time.Time) string {
	if base == "" {
		base = DefaultBaseURL
	}
	p = p.Normalize()

	var b strings.Builder
	b.WriteString(base)
	if strings.Contains(base, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	b.WriteString("title_type=")
	b.WriteString(string(p.TitleType))
	b.WriteString("&genres=")
	b.WriteString(string(p.Genre))

	if p.UserRating != nil && *p.UserRating != 0 {
		b.WriteString("&user_rating=")
		b.WriteString(strconv.FormatFloat(*p.UserRating, 'f', -1, 64))
		b.WriteString(",10")
	}
	if p.NumVotes != nil && *p.NumVotes != 0 {
		b.WriteString("&num_votes=")
		b.WriteString(strconv.Itoa(*p.NumVotes))
		b.WriteString(",")
	}
	if p.ReleaseYear != nil && *p.ReleaseYear != 0 {
		fmt.Fprintf(&b, "&release_date=%d-01-01,%s", *p.ReleaseYear, now.Format(time.DateOnly))
	}
	return b.String()
}
