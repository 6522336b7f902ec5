package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
)

// JSON implements Engine with a single document snapshot, the whole
// collection serialized as one array on every mutating call. There is no
// cheap partial update, insert/update/delete all rewrite the file.
type JSON struct {
	path    string
	lock    sync.Mutex
	entries map[uint64]*Pasta
	loaded  bool
}

// NewJSON creates a flat-file backend at <dataDir>/database.json
func NewJSON(dataDir string) (*JSON, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	res := &JSON{path: filepath.Join(dataDir, "database.json")}
	log.Printf("[INFO] json store %s", res.path)
	return res, nil
}

// ReadAll loads the snapshot, ascending by created. A missing file is
// created empty and loaded again, a single bounded retry.
func (j *JSON) ReadAll(_ context.Context) ([]*Pasta, error) {
	j.lock.Lock()
	defer j.lock.Unlock()

	if err := j.load(); err != nil {
		return nil, err
	}
	return j.sorted(), nil
}

// Insert adds one record and rewrites the snapshot
func (j *JSON) Insert(_ context.Context, p *Pasta) error {
	j.lock.Lock()
	defer j.lock.Unlock()

	if err := j.load(); err != nil {
		return err
	}
	if _, ok := j.entries[p.ID]; ok {
		return fmt.Errorf("%w: duplicate id %d", ErrSaveRejected, p.ID)
	}
	j.entries[p.ID] = clone(p)
	return j.save()
}

// Update overwrites one record by id and rewrites the snapshot
func (j *JSON) Update(_ context.Context, p *Pasta) error {
	j.lock.Lock()
	defer j.lock.Unlock()

	if err := j.load(); err != nil {
		return err
	}
	if _, ok := j.entries[p.ID]; !ok {
		return ErrNotFound
	}
	j.entries[p.ID] = clone(p)
	return j.save()
}

// UpdateAll replaces the whole snapshot
func (j *JSON) UpdateAll(_ context.Context, pastas []*Pasta) error {
	j.lock.Lock()
	defer j.lock.Unlock()

	j.entries = make(map[uint64]*Pasta, len(pastas))
	for _, p := range pastas {
		j.entries[p.ID] = clone(p)
	}
	j.loaded = true
	return j.save()
}

// DeleteByID removes one record and rewrites the snapshot.
// Deleting a missing id is a no-op.
func (j *JSON) DeleteByID(_ context.Context, id uint64) error {
	j.lock.Lock()
	defer j.lock.Unlock()

	if err := j.load(); err != nil {
		return err
	}
	if _, ok := j.entries[id]; !ok {
		return nil
	}
	delete(j.entries, id)
	return j.save()
}

// Close is a no-op for the flat-file backend
func (j *JSON) Close() error { return nil }

// load reads the document into the entries map, once
func (j *JSON) load() error {
	if j.loaded {
		return nil
	}

	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		log.Printf("[INFO] database file %s not found, creating empty", j.path)
		if err = j.writeFile([]*Pasta{}); err != nil {
			return err
		}
		data, err = os.ReadFile(j.path) // single retry after creating the file
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", j.path, err)
	}

	var pastas []*Pasta
	if err := json.Unmarshal(data, &pastas); err != nil {
		return fmt.Errorf("parse %s: %w", j.path, err)
	}

	j.entries = make(map[uint64]*Pasta, len(pastas))
	for _, p := range pastas {
		j.entries[p.ID] = p
	}
	j.loaded = true
	return nil
}

// save serializes everything again, temp file then rename
func (j *JSON) save() error {
	if err := j.writeFile(j.sorted()); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", j.path, err)
		return err
	}
	return nil
}

func (j *JSON) writeFile(pastas []*Pasta) error {
	data, err := json.Marshal(pastas)
	if err != nil {
		return fmt.Errorf("marshal pastas: %w", err)
	}
	tmp := j.path + ".tmp." + uuid.New().String()
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (j *JSON) sorted() []*Pasta {
	res := make([]*Pasta, 0, len(j.entries))
	for _, p := range j.entries {
		res = append(res, clone(p))
	}
	sort.Slice(res, func(a, b int) bool {
		if res[a].Created != res[b].Created {
			return res[a].Created < res[b].Created
		}
		return res[a].ID < res[b].ID
	})
	return res
}

func clone(p *Pasta) *Pasta {
	cp := *p
	if p.File != nil {
		f := *p.File
		cp.File = &f
	}
	return &cp
}
