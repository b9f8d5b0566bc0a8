package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/teris-io/shortid"
)

// FileBackend keeps every collection as a JSON array in <dir>/<name>.json.
//
// Each write re-reads and rewrites the whole collection file, so every
// read-modify-write runs under the collection's lock. Without it two
// writers that interleave would each rewrite the file from a stale copy
// and one update would be lost.
type FileBackend struct {
	dir string

	mu     sync.Mutex
	locks  map[string]*sync.RWMutex
	unique map[string][]string

	// newID is swapped in tests.
	newID func() (string, error)
}

// NewFileBackend creates dir if needed and an empty file for each of the
// given collections that does not exist yet.
func NewFileBackend(dir string, collections ...string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	b := &FileBackend{
		dir:    dir,
		locks:  make(map[string]*sync.RWMutex),
		unique: make(map[string][]string),
		newID:  shortid.Generate,
	}

	for _, name := range collections {
		path := b.path(name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
				return nil, fmt.Errorf("init collection %q: %w", name, err)
			}
		}
	}

	return b, nil
}

func (b *FileBackend) Ping(_ context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", b.dir)
	}
	return nil
}

func (b *FileBackend) Close(_ context.Context) error {
	return nil
}

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

func (b *FileBackend) lockFor(name string) *sync.RWMutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		b.locks[name] = l
	}
	return l
}

func (b *FileBackend) addUnique(name, field string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, f := range b.unique[name] {
		if f == field {
			return
		}
	}
	b.unique[name] = append(b.unique[name], field)
}

func (b *FileBackend) uniqueFields(name string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.unique[name]...)
}

// load must be called with the collection lock held.
func (b *FileBackend) load(name string) ([]map[string]any, error) {
	raw, err := os.ReadFile(b.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %q: %w", name, err)
	}

	var docs []map[string]any
	if len(raw) == 0 {
		return []map[string]any{}, nil
	}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode collection %q: %w", name, err)
	}
	return docs, nil
}

// save must be called with the collection write lock held. The file is
// replaced by rename so readers never observe a partial write.
func (b *FileBackend) save(name string, docs []map[string]any) error {
	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode collection %q: %w", name, err)
	}

	tmp, err := os.CreateTemp(b.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write collection %q: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write collection %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write collection %q: %w", name, err)
	}

	return os.Rename(tmp.Name(), b.path(name))
}

type fileCollection[T any] struct {
	backend *FileBackend
	name    string
}

func (c *fileCollection[T]) Find(ctx context.Context, f Filter) ([]T, error) {
	l := c.backend.lockFor(c.name)
	l.RLock()
	defer l.RUnlock()

	docs, err := c.backend.load(c.name)
	if err != nil {
		return nil, err
	}

	cond, err := normalizeFilter(f)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0)
	for _, d := range docs {
		if !matches(d, cond) {
			continue
		}
		v, err := decodeDoc[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *fileCollection[T]) FindOne(ctx context.Context, f Filter) (T, error) {
	var zero T

	l := c.backend.lockFor(c.name)
	l.RLock()
	defer l.RUnlock()

	docs, err := c.backend.load(c.name)
	if err != nil {
		return zero, err
	}

	cond, err := normalizeFilter(f)
	if err != nil {
		return zero, err
	}

	for _, d := range docs {
		if matches(d, cond) {
			return decodeDoc[T](d)
		}
	}
	return zero, ErrNotFound
}

func (c *fileCollection[T]) FindByID(ctx context.Context, id string) (T, error) {
	return c.FindOne(ctx, Where(Eq(IDField, id)))
}

func (c *fileCollection[T]) Create(ctx context.Context, doc T) (T, error) {
	var zero T

	id, err := c.backend.newID()
	if err != nil {
		return zero, fmt.Errorf("generate id: %w", err)
	}
	prepare(&doc, id)

	encoded, err := encodeDoc(doc)
	if err != nil {
		return zero, err
	}
	if _, ok := encoded[IDField]; !ok {
		encoded[IDField] = id
	}

	l := c.backend.lockFor(c.name)
	l.Lock()
	defer l.Unlock()

	docs, err := c.backend.load(c.name)
	if err != nil {
		return zero, err
	}

	for _, field := range append([]string{IDField}, c.backend.uniqueFields(c.name)...) {
		val, ok := encoded[field]
		if !ok {
			continue
		}
		for _, d := range docs {
			if valuesEqual(d[field], val) {
				return zero, fmt.Errorf("%s %q: %w", c.name, field, ErrDuplicate)
			}
		}
	}

	docs = append(docs, encoded)
	if err := c.backend.save(c.name, docs); err != nil {
		return zero, err
	}

	return decodeDoc[T](encoded)
}

func (c *fileCollection[T]) UpdateByID(ctx context.Context, id string, u Update) (T, error) {
	var zero T

	l := c.backend.lockFor(c.name)
	l.Lock()
	defer l.Unlock()

	docs, err := c.backend.load(c.name)
	if err != nil {
		return zero, err
	}

	idx := -1
	for i, d := range docs {
		if valuesEqual(d[IDField], id) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return zero, ErrNotFound
	}

	if u.empty() {
		return decodeDoc[T](docs[idx])
	}

	if err := applyUpdate(docs[idx], u); err != nil {
		return zero, err
	}

	for _, field := range c.backend.uniqueFields(c.name) {
		if _, set := u.Set[field]; !set {
			continue
		}
		for i, d := range docs {
			if i != idx && valuesEqual(d[field], docs[idx][field]) {
				return zero, fmt.Errorf("%s %q: %w", c.name, field, ErrDuplicate)
			}
		}
	}

	if err := c.backend.save(c.name, docs); err != nil {
		return zero, err
	}

	return decodeDoc[T](docs[idx])
}

func (c *fileCollection[T]) EnsureUnique(_ context.Context, field string) error {
	c.backend.addUnique(c.name, field)
	return nil
}

func encodeDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return m, nil
}

func decodeDoc[T any](m map[string]any) (T, error) {
	var v T
	raw, err := json.Marshal(m)
	if err != nil {
		return v, fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode document: %w", err)
	}
	return v, nil
}
