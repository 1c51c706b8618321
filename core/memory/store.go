// Package memory keeps facts the assistant was asked to remember and a
// capped log of recent exchanges.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const DefaultMaxHistory = 100

// Section selects what Clear removes.
type Section string

const (
	SectionAll     Section = ""
	SectionFacts   Section = "facts"
	SectionHistory Section = "history"
)

var ErrEmptyKey = errors.New("memory key is required")

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	AddHistory(ctx context.Context, entry string) error
	RecentHistory(ctx context.Context, limit int) ([]string, error)
	// Search returns facts as "key: value" and history as "history: entry"
	// for every case-insensitive substring match of query.
	Search(ctx context.Context, query string) ([]string, error)
	Clear(ctx context.Context, section Section) error
	Close() error
}

type Backend string

const (
	BackendJSON   Backend = "json"
	BackendSQLite Backend = "sqlite"
)

// Open returns the store for backend at path.
func Open(backend Backend, path string, maxHistory int) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return OpenJSONFile(path, maxHistory)
	case BackendSQLite:
		return OpenSQLite(path, maxHistory)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
}

func matches(query string, haystacks ...string) bool {
	query = strings.ToLower(query)
	for _, haystack := range haystacks {
		if strings.Contains(strings.ToLower(haystack), query) {
			return true
		}
	}
	return false
}
