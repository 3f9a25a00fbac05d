// Package sha256 fingerprints extracted result sets so consecutive runs of the same
// search can be compared without diffing rows.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/JakeFAU/movie-ingest/internal/movie"
)

// Fingerprint returns the hex SHA-256 digest of movies in order. Every stored field
// contributes; timestamps do not.
func Fingerprint(movies []movie.Movie) string {
	h := sha256.New()
	for _, m := range movies {
		rating := ""
		if m.Rating != nil {
			rating = strconv.FormatFloat(*m.Rating, 'f', -1, 64)
		}
		for _, field := range []string{m.Title, m.ReleaseYear, m.Duration, m.Category, rating, m.Cast, m.Plot} {
			h.Write([]byte(field))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
