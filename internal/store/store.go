// Package store persists the single embedded key-value image: the ordered
// queue, the running-item slot, the history list, and a small settings
// blob. A JSON-serialized image written through via a temp-file-plus-rename
// atomic replace (see DESIGN.md).
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bluesky-project/qserver/internal/item"
	"github.com/bluesky-project/qserver/internal/queue"
)

// Settings is the small settings blob persisted alongside the queue.
type Settings struct {
	// EnvironmentOpenIntent records whether the worker environment was
	// open at the time of the last write. manager.Restore does not consult
	// it: a restarted manager always starts idle with no environment.
	EnvironmentOpenIntent bool `json:"environment_open_intent"`
}

// Image is the full persisted snapshot written through on every queue or
// history mutation.
type Image struct {
	Queue    []*item.Item          `json:"queue"`
	Running  *item.Item            `json:"running_item,omitempty"`
	History  []queue.HistoryEntry  `json:"history"`
	Settings Settings              `json:"settings"`
}

// Store reads and writes the persisted Image at Path.
type Store struct {
	Path string
}

// New constructs a Store rooted at path.
func New(path string) *Store {
	return &Store{Path: path}
}

// Load reads the persisted image. A missing file is not an error: it
// returns an empty Image, the same way a fresh manager starts up.
func (s *Store) Load() (*Image, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return &Image{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persisted image: %w", err)
	}
	var img Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("decode persisted image: %w", err)
	}
	return &img, nil
}

// Save writes img through to Path atomically: it writes to a temp file in
// the same directory, syncs it, then renames it over Path so a crash
// mid-write never leaves a corrupt image. The image is written through
// whenever the queue or history mutates.
func (s *Store) Save(img *Image) error {
	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return fmt.Errorf("encode persisted image: %w", err)
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".qserver-image-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp image file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp image file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp image file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp image file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("rename temp image file: %w", err)
	}
	return nil
}
