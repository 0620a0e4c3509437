package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileBackend implements Backend with a single JSON index file.
// Structure:
//
//	<dir>/
//	  entries.json   []Entry
//
// Every mutation rewrites the index atomically (tmp + rename).
type FileBackend struct {
	dir string

	mu    sync.RWMutex
	index map[string]*Entry
}

// NewFileBackend creates a FileBackend and loads the index from disk.
func NewFileBackend(dir string) (*FileBackend, error) {
	fb := &FileBackend{dir: dir, index: make(map[string]*Entry)}
	if err := fb.loadIndex(); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fb *FileBackend) Put(e *Entry) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	cp := *e
	fb.index[e.Key] = &cp
	return fb.saveIndex()
}

func (fb *FileBackend) Get(key string) (*Entry, bool, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	e, ok := fb.index[key]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

func (fb *FileBackend) Delete(key string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if _, ok := fb.index[key]; !ok {
		return nil
	}
	delete(fb.index, key)
	return fb.saveIndex()
}

func (fb *FileBackend) List() ([]*Entry, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	result := make([]*Entry, 0, len(fb.index))
	for _, e := range fb.index {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (fb *FileBackend) Close() error { return nil }

func (fb *FileBackend) indexPath() string {
	return filepath.Join(fb.dir, "entries.json")
}

func (fb *FileBackend) loadIndex() error {
	data, err := os.ReadFile(fb.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		fb.index[e.Key] = e
	}
	return nil
}

func (fb *FileBackend) saveIndex() error {
	if err := os.MkdirAll(fb.dir, 0o755); err != nil {
		return err
	}

	entries := make([]*Entry, 0, len(fb.index))
	for _, e := range fb.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := fb.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fb.indexPath())
}
