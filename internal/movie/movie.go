// Package movie defines the movie record and the persistence contract shared by the
// scraper pipeline and the REST API.
package movie

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Field limits enforced before records reach the store.
const (
	MaxTitleLen    = 255
	MaxYearLen     = 16
	MaxDurationLen = 32
	MaxCategoryLen = 32
	MinRating      = 0.0
	MaxRating      = 10.0
)

var (
	// ErrNotFound is returned when no movie matches the requested title.
	ErrNotFound = errors.New("movie not found")
	// ErrConflict is returned when a write collides with an existing title.
	ErrConflict = errors.New("movie already exists")
)

// Movie is a single title harvested from a search-results page.
type Movie struct {
	Title       string    `json:"title"`
	ReleaseYear string    `json:"release_year,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	Category    string    `json:"category,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	Cast        string    `json:"cast,omitempty"`
	Plot        string    `json:"plot,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string  `json:"title"`
	ReleaseYear *string  `json:"release_year"`
	Duration    *string  `json:"duration"`
	Category    *string  `json:"category"`
	Rating      *float64 `json:"rating"`
	Cast        *string  `json:"cast"`
	Plot        *string  `json:"plot"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.ReleaseYear == nil && p.Duration == nil &&
		p.Category == nil && p.Rating == nil && p.Cast == nil && p.Plot == nil
}

// Apply returns a copy of m with the patch fields written over it.
func (p Patch) Apply(m Movie) Movie {
	if p.Title != nil {
		m.Title = strings.TrimSpace(*p.Title)
	}
	if p.ReleaseYear != nil {
		m.ReleaseYear = *p.ReleaseYear
	}
	if p.Duration != nil {
		m.Duration = *p.Duration
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.Rating != nil {
		r := *p.Rating
		m.Rating = &r
	}
	if p.Cast != nil {
		m.Cast = *p.Cast
	}
	if p.Plot != nil {
		m.Plot = *p.Plot
	}
	return m
}

// UpsertResult reports how many rows a bulk upsert inserted and updated.
type UpsertResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ListOptions bounds a List call.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store persists movies keyed by title. Title lookups are case-insensitive.
type Store interface {
	Upsert(ctx context.Context, movies []Movie) (UpsertResult, error)
	List(ctx context.Context, opts ListOptions) ([]Movie, error)
	Get(ctx context.Context, title string) (Movie, error)
	Create(ctx context.Context, m Movie) (Movie, error)
	Update(ctx context.Context, title string, patch Patch) (Movie, error)
	Delete(ctx context.Context, title string) error
	Ping(ctx context.Context) error
}

// FieldErrors maps a field name to the reason it was rejected.
type FieldErrors map[string]string

// Error implements error.
func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for _, k := range sortedKeys(f) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, f[k]))
	}
	return "invalid movie: " + strings.Join(parts, "; ")
}

// Validate checks field limits on a full record.
func Validate(m Movie) error {
	errs := FieldErrors{}
	checkTitle(errs, m.Title)
	checkLen(errs, "release_year", m.ReleaseYear, MaxYearLen)
	checkLen(errs, "duration", m.Duration, MaxDurationLen)
	checkLen(errs, "category", m.Category, MaxCategoryLen)
	checkRating(errs, m.Rating)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidatePatch checks the fields present in a patch.
func ValidatePatch(p Patch) error {
	errs := FieldErrors{}
	if p.Title != nil {
		checkTitle(errs, *p.Title)
	}
	if p.ReleaseYear != nil {
		checkLen(errs, "release_year", *p.ReleaseYear, MaxYearLen)
	}
	if p.Duration != nil {
		checkLen(errs, "duration", *p.Duration, MaxDurationLen)
	}
	if p.Category != nil {
		checkLen(errs, "category", *p.Category, MaxCategoryLen)
	}
	checkRating(errs, p.Rating)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Dedupe collapses movies sharing a title (case-insensitively); the last occurrence
// wins but keeps the position of the first.
func Dedupe(movies []Movie) []Movie {
	index := make(map[string]int, len(movies))
	out := make([]Movie, 0, len(movies))
	for _, m := range movies {
		key := Key(m.Title)
		if i, ok := index[key]; ok {
			out[i] = m
			continue
		}
		index[key] = len(out)
		out = append(out, m)
	}
	return out
}

// Key normalizes a title for case-insensitive comparison.
func Key(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

func checkTitle(errs FieldErrors, title string) {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		errs["title"] = "must be provided"
	case utf8.RuneCountInString(title) > MaxTitleLen:
		errs["title"] = fmt.Sprintf("must not be more than %d characters", MaxTitleLen)
	}
}

func checkLen(errs FieldErrors, field, value string, limit int) {
	if utf8.RuneCountInString(value) > limit {
		errs[field] = fmt.Sprintf("must not be more than %d characters", limit)
	}
}

func checkRating(errs FieldErrors, rating *float64) {
	if rating == nil {
		return
	}
	if *rating < MinRating || *rating > MaxRating {
		errs["rating"] = fmt.Sprintf("must be between %.1f and %.1f", MinRating, MaxRating)
	}
}
