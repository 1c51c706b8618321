package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

type jsonDocument struct {
	Facts   map[string]string `json:"facts"`
	History []string          `json:"history"`
}

// JSONFileStore keeps memory in a single JSON document of the form
// {"facts": {...}, "history": [...]}. Every write rewrites the file.
type JSONFileStore struct {
	path       string
	maxHistory int
	doc        jsonDocument

	mu sync.Mutex
}

// OpenJSONFile loads path, creating it if missing. A file that cannot be
// parsed is reset to an empty document.
func OpenJSONFile(path string, maxHistory int) (*JSONFileStore, error) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	s := &JSONFileStore{path: path, maxHistory: maxHistory, doc: freshDocument()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, s.save()
	case err != nil:
		return nil, fmt.Errorf("failed to read memory file: %w", err)
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("memory file corrupt, resetting", "path", path, "error", err)
		return s, s.save()
	}
	if doc.Facts == nil {
		doc.Facts = map[string]string{}
	}
	doc.History = capHistory(doc.History, maxHistory)
	s.doc = doc
	return s, nil
}

func freshDocument() jsonDocument {
	return jsonDocument{Facts: map[string]string{}, History: []string{}}
}

func capHistory(history []string, limit int) []string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	if history == nil {
		history = []string{}
	}
	return history
}

func (s *JSONFileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.doc.Facts[key]
	return value, ok, nil
}

func (s *JSONFileStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Facts[key] = value
	return s.save()
}

func (s *JSONFileStore) AddHistory(_ context.Context, entry string) error {
	if strings.TrimSpace(entry) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.History = capHistory(append(s.doc.History, entry), s.maxHistory)
	return s.save()
}

func (s *JSONFileStore) RecentHistory(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = max(1, limit)
	return slices.Clone(s.doc.History[max(0, len(s.doc.History)-limit):]), nil
}

func (s *JSONFileStore) Search(_ context.Context, query string) ([]string, error) {
	if query == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	results := []string{}
	keys := make([]string, 0, len(s.doc.Facts))
	for key := range s.doc.Facts {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if matches(query, key+" "+s.doc.Facts[key]) {
			results = append(results, key+": "+s.doc.Facts[key])
		}
	}
	for _, entry := range s.doc.History {
		if matches(query, entry) {
			results = append(results, "history: "+entry)
		}
	}
	return results, nil
}

func (s *JSONFileStore) Clear(_ context.Context, section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch section {
	case SectionFacts:
		s.doc.Facts = map[string]string{}
	case SectionHistory:
		s.doc.History = []string{}
	default:
		s.doc = freshDocument()
	}
	return s.save()
}

func (s *JSONFileStore) Close() error {
	return nil
}

// save must be called with mu held.
func (s *JSONFileStore) save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create memory directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode memory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write memory file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace memory file: %w", err)
	}
	return nil
}
