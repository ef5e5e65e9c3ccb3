package review

import (
	"context"
	"testing"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hashes map[string]map[string]string
	sets   map[string]map[string]bool
	saddFn func(key string, members ...string) error
}

func (m *mockStore) HSet(_ context.Context, key string, fields map[string]string) error {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	return m.hashes[key], nil
}

func (m *mockStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = m.hashes[k]
	}
	return out, nil
}

func (m *mockStore) SAdd(_ context.Context, key string, members ...string) error {
	if m.saddFn != nil {
		return m.saddFn(key, members...)
	}
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]bool)
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = true
	}
	return nil
}

func (m *mockStore) SMembers(_ context.Context, key string) ([]string, error) {
	var out []string
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	return out, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]bool),
	}
	return New(ms, "vs:"), ms
}
