package httpapi

import (
	"sync"
	"time"

	"github.com/John-Robertt/nodeprobe/internal/render"
)

// Store holds the artifacts of the latest finished run. Runs replace the
// whole set at once so readers never see a mix of two runs.
type Store struct {
	mu      sync.RWMutex
	files   map[string][]byte
	updated time.Time
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Set(arts []render.Artifact, updated time.Time) {
	files := make(map[string][]byte, len(arts))
	for _, a := range arts {
		files[a.Path] = a.Content
	}
	s.mu.Lock()
	s.files = files
	s.updated = updated
	s.mu.Unlock()
}

func (s *Store) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.files[path]
	return b, ok
}

// Ready reports whether a run has completed; Updated is zero before that.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.files != nil
}

func (s *Store) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
