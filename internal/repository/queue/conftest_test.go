package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kailas-cloud/venuesearch/internal/db"
)

// mockStore is an in-memory stream + key store. Delivered tracks ids handed
// to the group, pending the delivered but unacknowledged ones; idle reclaim is
// driven by the claimable set.
type mockStore struct {
	streams   map[string][]db.StreamEntry
	groups    map[string]bool
	delivered map[string]bool
	pending   map[string]bool
	claimable []db.StreamEntry
	kv        map[string]string
	seq       int

	xaddErr   error
	readCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		streams:   make(map[string][]db.StreamEntry),
		groups:    make(map[string]bool),
		delivered: make(map[string]bool),
		pending:   make(map[string]bool),
		kv:        make(map[string]string),
	}
}

func (m *mockStore) XAdd(_ context.Context, stream string, fields map[string]string) (string, error) {
	if m.xaddErr != nil {
		return "", m.xaddErr
	}
	m.seq++
	id := fmt.Sprintf("%d-0", m.seq)
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.streams[stream] = append(m.streams[stream], db.StreamEntry{ID: id, Fields: cp})
	return id, nil
}

func (m *mockStore) XGroupCreate(_ context.Context, stream, group string) error {
	key := stream + "/" + group
	if m.groups[key] {
		return db.ErrGroupExists
	}
	m.groups[key] = true
	return nil
}

func (m *mockStore) XReadGroup(
	_ context.Context, stream, _, _ string, count int64, _ time.Duration,
) ([]db.StreamEntry, error) {
	m.readCalls++
	var out []db.StreamEntry
	for _, e := range m.streams[stream] {
		if len(out) == int(count) {
			break
		}
		if m.delivered[e.ID] {
			continue
		}
		m.delivered[e.ID] = true
		m.pending[e.ID] = true
		out = append(out, e)
	}
	return out, nil
}

func (m *mockStore) XAutoClaim(
	_ context.Context, _, _, _ string, _ time.Duration, count int64,
) ([]db.StreamEntry, error) {
	n := int(count)
	if n > len(m.claimable) {
		n = len(m.claimable)
	}
	out := m.claimable[:n]
	m.claimable = m.claimable[n:]
	return out, nil
}

func (m *mockStore) XAckDel(_ context.Context, stream, _ string, ids ...string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(m.pending, id)
		drop[id] = true
	}
	kept := m.streams[stream][:0]
	for _, e := range m.streams[stream] {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	m.streams[stream] = kept
	return nil
}

func (m *mockStore) XRange(_ context.Context, stream, _, _ string, count int64) ([]db.StreamEntry, error) {
	entries := m.streams[stream]
	if int(count) < len(entries) {
		entries = entries[:count]
	}
	return entries, nil
}

func (m *mockStore) XLen(_ context.Context, stream string) (int64, error) {
	return int64(len(m.streams[stream])), nil
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return []byte(v), nil
}

func (m *mockStore) Set(_ context.Context, key string, value []byte) error {
	m.kv[key] = string(value)
	return nil
}

func (m *mockStore) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if _, ok := m.kv[key]; ok {
		return false, nil
	}
	m.kv[key] = string(value)
	return true, nil
}

func (m *mockStore) DelIfEqual(_ context.Context, key string, value []byte) (bool, error) {
	if m.kv[key] != string(value) {
		return false, nil
	}
	delete(m.kv, key)
	return true, nil
}

func newTestQueue(t *testing.T) (*Queue, *mockStore) {
	t.Helper()
	ms := newMockStore()
	q := New(ms, "vs:", Config{
		Stream:       "reviews:extract",
		Group:        "extractors",
		BlockTimeout: time.Second,
		ClaimIdle:    time.Minute,
	})
	q.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return q, ms
}
