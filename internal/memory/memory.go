// Package memory stores long-lived assistant facts as namespaced entries
// in the generic key-value table. Values are caller-defined JSON; search
// is a plain substring match over the stored value.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
)

const keyPrefix = "memory:"

// Entry is one remembered fact.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	kv *store.Store
}

func New(kv *store.Store) *Store { return &Store{kv: kv} }

func (m *Store) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fault.New(fault.BadRequest, "memory key must not be empty")
	}
	return m.kv.KVSet(ctx, keyPrefix+key, value)
}

func (m *Store) Get(ctx context.Context, key string) (Entry, error) {
	value, found, err := m.kv.KVGet(ctx, keyPrefix+key)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, fault.New(fault.NotFound, "no memory named %q", key)
	}
	return Entry{Key: key, Value: value}, nil
}

func (m *Store) Delete(ctx context.Context, key string) (bool, error) {
	return m.kv.KVDelete(ctx, keyPrefix+key)
}

// List returns all memories, optionally filtered by a key glob.
func (m *Store) List(ctx context.Context, glob string) ([]Entry, error) {
	pattern := keyPrefix + "*"
	if glob != "" {
		pattern = keyPrefix + glob
	}
	raw, err := m.kv.KVList(ctx, pattern)
	if err != nil {
		return nil, err
	}
	return stripPrefix(raw), nil
}

// Search returns memories whose stored value contains the query.
func (m *Store) Search(ctx context.Context, query string) ([]Entry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fault.New(fault.BadRequest, "search query must not be empty")
	}
	raw, err := m.kv.KVSearchValues(ctx, keyPrefix, query)
	if err != nil {
		return nil, err
	}
	return stripPrefix(raw), nil
}

func stripPrefix(raw []store.KVEntry) []Entry {
	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, Entry{
			Key:       strings.TrimPrefix(e.Key, keyPrefix),
			Value:     e.Value,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return entries
}
