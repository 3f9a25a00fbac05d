// Package postgres provides the Postgres-backed movie store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/movie-ingest/internal/movie"
)

const (
	defaultTable     = "movies"
	defaultListLimit = 100
	uniqueViolation  = "23505"
	movieColumns     = `title, release_year, duration, category, rating, "cast", plot, created_at, updated_at`
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for movie rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by the store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// MovieStore implements movie.Store on a single table keyed by title.
type MovieStore struct {
	pool  Pool
	table string
}

var _ movie.Store = (*MovieStore)(nil)

// NewMovieStore connects to Postgres using the provided config.
func NewMovieStore(ctx context.Context, cfg Config) (*MovieStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &MovieStore{pool: pool, table: table}, nil
}

// NewMovieStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewMovieStoreWithPool(pool Pool, table string) (*MovieStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &MovieStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *MovieStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the movie table and its case-insensitive title index.
func (s *MovieStore) Migrate(ctx context.Context) error {
	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id           BIGSERIAL PRIMARY KEY,
	title        VARCHAR(%[2]d) NOT NULL UNIQUE,
	release_year VARCHAR(%[3]d),
	duration     VARCHAR(%[4]d),
	category     VARCHAR(%[5]d),
	rating       DOUBLE PRECISION CHECK (rating >= 0 AND rating <= 10),
	"cast"       TEXT,
	plot         TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table, movie.MaxTitleLen, movie.MaxYearLen, movie.MaxDurationLen, movie.MaxCategoryLen)
	if _, err := s.pool.Exec(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	index := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_title_lower_idx ON %[1]s (lower(title))`, s.table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create title index: %w", err)
	}
	return nil
}

// Upsert writes the batch in one statement. Rows whose title already exists have every
// mutable field overwritten.
func (s *MovieStore) Upsert(ctx context.Context, movies []movie.Movie) (movie.UpsertResult, error) {
	movies = movie.Dedupe(movies)
	if len(movies) == 0 {
		return movie.UpsertResult{}, nil
	}

	n := len(movies)
	titles := make([]string, n)
	years := make([]*string, n)
	durations := make([]*string, n)
	categories := make([]*string, n)
	ratings := make([]*float64, n)
	casts := make([]*string, n)
	plots := make([]*string, n)
	for i, m := range movies {
		titles[i] = strings.TrimSpace(m.Title)
		years[i] = nullable(m.ReleaseYear)
		durations[i] = nullable(m.Duration)
		categories[i] = nullable(m.Category)
		ratings[i] = m.Rating
		casts[i] = nullable(m.Cast)
		plots[i] = nullable(m.Plot)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (title, release_year, duration, category, rating, "cast", plot)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::float8[], $6::text[], $7::text[])
ON CONFLICT ((lower(title))) DO UPDATE SET
	title = EXCLUDED.title,
	release_year = EXCLUDED.release_year,
	duration = EXCLUDED.duration,
	category = EXCLUDED.category,
	rating = EXCLUDED.rating,
	"cast" = EXCLUDED."cast",
	plot = EXCLUDED.plot,
	updated_at = now()
RETURNING (xmax = 0) AS inserted`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return movie.UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	result, err := collectUpsert(tx.Query(ctx, query, titles, years, durations, categories, ratings, casts, plots))
	if err != nil {
		rollback(ctx, tx)
		return movie.UpsertResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return movie.UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	return result, nil
}

func collectUpsert(rows pgx.Rows, err error) (movie.UpsertResult, error) {
	if err != nil {
		return movie.UpsertResult{}, fmt.Errorf("upsert movies: %w", err)
	}
	defer rows.Close()
	var result movie.UpsertResult
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return movie.UpsertResult{}, fmt.Errorf("scan upsert row: %w", err)
		}
		if inserted {
			result.Created++
		} else {
			result.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return movie.UpsertResult{}, fmt.Errorf("upsert movies: %w", err)
	}
	return result, nil
}

// List returns movies ordered by title.
func (s *MovieStore) List(ctx context.Context, opts movie.ListOptions) ([]movie.Movie, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := max(opts.Offset, 0)
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY title LIMIT $1 OFFSET $2`, movieColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	defer rows.Close()

	movies := make([]movie.Movie, 0, limit)
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movie row: %w", err)
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	return movies, nil
}

// Get looks a movie up by title, ignoring case.
func (s *MovieStore) Get(ctx context.Context, title string) (movie.Movie, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE lower(title) = lower($1)`, movieColumns, s.table)
	m, err := scanMovie(s.pool.QueryRow(ctx, query, strings.TrimSpace(title)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return movie.Movie{}, movie.ErrNotFound
		}
		return movie.Movie{}, fmt.Errorf("get movie: %w", err)
	}
	return m, nil
}

// Create inserts a new movie and fails with movie.ErrConflict if the title is taken.
func (s *MovieStore) Create(ctx context.Context, m movie.Movie) (movie.Movie, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (title, release_year, duration, category, rating, "cast", plot)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING %s`, s.table, movieColumns)
	created, err := scanMovie(s.pool.QueryRow(ctx, query, writeArgs(m)...))
	if err != nil {
		if isUniqueViolation(err) {
			return movie.Movie{}, movie.ErrConflict
		}
		return movie.Movie{}, fmt.Errorf("create movie: %w", err)
	}
	return created, nil
}

// Update applies patch to the movie matching title.
func (s *MovieStore) Update(ctx context.Context, title string, patch movie.Patch) (movie.Movie, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return movie.Movie{}, fmt.Errorf("begin update: %w", err)
	}
	updated, err := s.updateTx(ctx, tx, strings.TrimSpace(title), patch)
	if err != nil {
		rollback(ctx, tx)
		return movie.Movie{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return movie.Movie{}, fmt.Errorf("commit update: %w", err)
	}
	return updated, nil
}

func (s *MovieStore) updateTx(ctx context.Context, tx pgx.Tx, title string, patch movie.Patch) (movie.Movie, error) {
	selectQuery := fmt.Sprintf(`SELECT %s FROM %s WHERE lower(title) = lower($1) FOR UPDATE`, movieColumns, s.table)
	current, err := scanMovie(tx.QueryRow(ctx, selectQuery, title))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return movie.Movie{}, movie.ErrNotFound
		}
		return movie.Movie{}, fmt.Errorf("load movie: %w", err)
	}
	next := patch.Apply(current)
	if err := movie.Validate(next); err != nil {
		return movie.Movie{}, err
	}

	updateQuery := fmt.Sprintf(`
UPDATE %s SET title = $1, release_year = $2, duration = $3, category = $4, rating = $5,
	"cast" = $6, plot = $7, updated_at = now()
WHERE lower(title) = lower($8)
RETURNING %s`, s.table, movieColumns)
	args := append(writeArgs(next), current.Title)
	updated, err := scanMovie(tx.QueryRow(ctx, updateQuery, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return movie.Movie{}, movie.ErrConflict
		}
		return movie.Movie{}, fmt.Errorf("update movie: %w", err)
	}
	return updated, nil
}

// Delete removes the movie matching title.
func (s *MovieStore) Delete(ctx context.Context, title string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE lower(title) = lower($1)`, s.table)
	tag, err := s.pool.Exec(ctx, query, strings.TrimSpace(title))
	if err != nil {
		return fmt.Errorf("delete movie: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return movie.ErrNotFound
	}
	return nil
}

// Ping checks connectivity for readiness checks.
func (s *MovieStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
