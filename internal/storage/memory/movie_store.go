package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/movie-ingest/internal/movie"
)

// MovieStore keeps movies in a map keyed by lower-cased title.
type MovieStore struct {
	mu     sync.RWMutex
	movies map[string]movie.Movie
	now    func() time.Time
}

var _ movie.Store = (*MovieStore)(nil)

// NewMovieStore creates an empty in-memory movie store.
func NewMovieStore() *MovieStore {
	return &MovieStore{
		movies: make(map[string]movie.Movie),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts new titles and overwrites the fields of existing ones.
func (s *MovieStore) Upsert(_ context.Context, movies []movie.Movie) (movie.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result movie.UpsertResult
	now := s.now()
	for _, m := range movie.Dedupe(movies) {
		m.Title = strings.TrimSpace(m.Title)
		key := movie.Key(m.Title)
		if existing, ok := s.movies[key]; ok {
			m.CreatedAt = existing.CreatedAt
			result.Updated++
		} else {
			m.CreatedAt = now
			result.Created++
		}
		m.UpdatedAt = now
		s.movies[key] = cloneMovie(m)
	}
	return result, nil
}

// List returns movies ordered by title.
func (s *MovieStore) List(_ context.Context, opts movie.ListOptions) ([]movie.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]movie.Movie, 0, len(s.movies))
	for _, m := range s.movies {
		all = append(all, cloneMovie(m))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Title < all[j].Title })

	offset := min(max(opts.Offset, 0), len(all))
	all = all[offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

// Get looks a movie up by title, ignoring case.
func (s *MovieStore) Get(_ context.Context, title string) (movie.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.movies[movie.Key(title)]
	if !ok {
		return movie.Movie{}, movie.ErrNotFound
	}
	return cloneMovie(m), nil
}

// Create stores a new movie.
func (s *MovieStore) Create(_ context.Context, m movie.Movie) (movie.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Title = strings.TrimSpace(m.Title)
	key := movie.Key(m.Title)
	if _, exists := s.movies[key]; exists {
		return movie.Movie{}, movie.ErrConflict
	}
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	s.movies[key] = cloneMovie(m)
	return cloneMovie(m), nil
}

// Update applies patch to the movie matching title.
func (s *MovieStore) Update(_ context.Context, title string, patch movie.Patch) (movie.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldKey := movie.Key(title)
	current, ok := s.movies[oldKey]
	if !ok {
		return movie.Movie{}, movie.ErrNotFound
	}
	next := patch.Apply(current)
	if err := movie.Validate(next); err != nil {
		return movie.Movie{}, err
	}
	newKey := movie.Key(next.Title)
	if newKey != oldKey {
		if _, taken := s.movies[newKey]; taken {
			return movie.Movie{}, movie.ErrConflict
		}
		delete(s.movies, oldKey)
	}
	next.UpdatedAt = s.now()
	s.movies[newKey] = cloneMovie(next)
	return cloneMovie(next), nil
}

// Delete removes the movie matching title.
func (s *MovieStore) Delete(_ context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := movie.Key(title)
	if _, ok := s.movies[key]; !ok {
		return movie.ErrNotFound
	}
	delete(s.movies, key)
	return nil
}

// Ping always succeeds.
func (s *MovieStore) Ping(context.Context) error { return nil }

func cloneMovie(m movie.Movie) movie.Movie {
	if m.Rating != nil {
		r := *m.Rating
		m.Rating = &r
	}
	return m
}
