package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cursor is the resume position: everything before (FileIndex, RowOffset) is loaded.
type Cursor struct {
	FileIndex int       `json:"file_index"`
	RowOffset int       `json:"row_offset"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Done      bool      `json:"done"`
	UpdatedAt time.Time `json:"updated_at"`
}

// batchMark is the position right after a batch's last row.
type batchMark struct {
	seq       int
	fileIndex int
	rowOffset int
	processed int
	failed    int
}

// cursorTracker advances the cursor only across a contiguous run of finished
// batches, so a resume never skips a batch that was still in flight.
type cursorTracker struct {
	mu        sync.Mutex
	cursor    Cursor
	pending   map[int]batchMark
	next      int
	path      string
	saveEvery int
	sinceSave int
	logger    *zap.Logger
}

func newCursorTracker(dataDir string, saveEvery int, logger *zap.Logger) (*cursorTracker, error) {
	ct := &cursorTracker{
		pending:   make(map[int]batchMark),
		path:      filepath.Join(filepath.Clean(dataDir), "cursor.json"),
		saveEvery: max(saveEvery, 1),
		logger:    logger,
	}
	data, err := os.ReadFile(ct.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &ct.cursor); err != nil {
			return nil, fmt.Errorf("parse cursor %s: %w", ct.path, err)
		}
		logger.Info("Resuming from cursor",
			zap.Int("file", ct.cursor.FileIndex),
			zap.Int("offset", ct.cursor.RowOffset),
			zap.Int("processed", ct.cursor.Processed),
		)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read cursor %s: %w", ct.path, err)
	}
	return ct, nil
}

// Get returns a copy of the cursor.
func (ct *cursorTracker) Get() Cursor {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.cursor
}

// Complete records a finished batch. Batches are numbered from zero in read order.
func (ct *cursorTracker) Complete(m batchMark) {
	ct.mu.Lock()
	ct.pending[m.seq] = m
	advanced := 0
	for {
		b, ok := ct.pending[ct.next]
		if !ok {
			break
		}
		delete(ct.pending, ct.next)
		ct.next++
		ct.cursor.FileIndex = b.fileIndex
		ct.cursor.RowOffset = b.rowOffset
		ct.cursor.Processed += b.processed
		ct.cursor.Failed += b.failed
		advanced += b.processed + b.failed
	}
	if advanced > 0 {
		ct.cursor.UpdatedAt = time.Now()
	}
	ct.sinceSave += advanced
	save := ct.sinceSave >= ct.saveEvery
	if save {
		ct.sinceSave = 0
	}
	ct.mu.Unlock()

	if save {
		ct.Save()
	}
}

// Finish marks the load complete and persists it.
func (ct *cursorTracker) Finish() {
	ct.mu.Lock()
	ct.cursor.Done = true
	ct.cursor.UpdatedAt = time.Now()
	ct.mu.Unlock()
	ct.Save()
}

// Reset starts over from the first file.
func (ct *cursorTracker) Reset() {
	ct.mu.Lock()
	ct.cursor = Cursor{}
	ct.pending = make(map[int]batchMark)
	ct.next = 0
	ct.mu.Unlock()
	ct.Save()
}

// Save writes the cursor atomically. Failures are logged; the next save retries.
func (ct *cursorTracker) Save() {
	ct.mu.Lock()
	data, err := json.MarshalIndent(ct.cursor, "", "  ")
	ct.mu.Unlock()
	if err != nil {
		ct.logger.Error("Cursor marshal failed", zap.Error(err))
		return
	}
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		ct.logger.Error("Cursor write failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, ct.path); err != nil {
		ct.logger.Error("Cursor rename failed", zap.Error(err))
	}
}
