package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/movie-ingest/internal/movie"
)

func scanMovie(row pgx.Row) (movie.Movie, error) {
	var (
		m                                    movie.Movie
		year, duration, category, cast, plot *string
	)
	if err := row.Scan(
		&m.Title,
		&year,
		&duration,
		&category,
		&m.Rating,
		&cast,
		&plot,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return movie.Movie{}, err //nolint:wrapcheck
	}
	m.ReleaseYear = deref(year)
	m.Duration = deref(duration)
	m.Category = deref(category)
	m.Cast = deref(cast)
	m.Plot = deref(plot)
	return m, nil
}

func writeArgs(m movie.Movie) []any {
	return []any{
		strings.TrimSpace(m.Title),
		nullable(m.ReleaseYear),
		nullable(m.Duration),
		nullable(m.Category),
		m.Rating,
		nullable(m.Cast),
		nullable(m.Plot),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
