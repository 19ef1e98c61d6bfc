package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atinyakov/DocKeeper/internal/models"
)

// FileBackend is a MemoryBackend that writes every collection to a single
// JSON file after each change. Values are stored as relaxed Extended JSON
// so ObjectIDs and dates survive a restart.
type FileBackend struct {
	*MemoryBackend
	path string
}

// OpenFileBackend loads path, if it exists, and returns a backend that
// keeps it current.
func OpenFileBackend(path string) (*FileBackend, error) {
	mem := NewMemoryBackend()
	if err := load(path, mem.collections); err != nil {
		return nil, err
	}
	b := &FileBackend{MemoryBackend: mem, path: path}
	mem.onChange = b.save
	return b, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

func load(path string, into map[string][]models.Record) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read data file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc bson.M
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return fmt.Errorf("parse data file %s: %w", path, err)
	}
	for name, v := range doc {
		items, ok := models.CloneValue(v).(primitive.A)
		if !ok {
			return fmt.Errorf("parse data file %s: collection %q is not an array", path, name)
		}
		docs := make([]models.Record, 0, len(items))
		for _, item := range items {
			rec, ok := item.(models.Record)
			if !ok {
				return fmt.Errorf("parse data file %s: collection %q holds a %T", path, name, item)
			}
			docs = append(docs, rec)
		}
		into[name] = docs
	}
	return nil
}

// save writes the collections to a temporary file and renames it over the
// data file, so readers never see a partial write.
func (b *FileBackend) save(collections map[string][]models.Record) error {
	doc := make(bson.M, len(collections))
	for name, docs := range collections {
		doc[name] = docs
	}
	data, err := bson.MarshalExtJSONIndent(doc, false, false, "", "  ")
	if err != nil {
		return fmt.Errorf("encode data file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write data file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write data file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}
