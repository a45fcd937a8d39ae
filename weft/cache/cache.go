// Content-addressed blob store for dependency caches, shared read-only
// across runs. Keys are exact-match only; entries are immutable once
// written and evicted least-recently-used beyond a byte budget.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// generous entry cap; the byte budget is the real bound
const maxEntries = 1 << 16

type DiskStore struct {
	root   string
	budget int64
	l      *slog.Logger

	mu    sync.Mutex
	index *lru.Cache[string, int64] // entry file name -> size in bytes
	used  int64
}

func NewDiskStore(root string, budget uint64, logger *slog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	s := &DiskStore{
		root:   root,
		budget: int64(budget),
		l:      logger,
	}

	index, err := lru.NewWithEvict(maxEntries, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.index = index

	if err := s.rebuild(); err != nil {
		return nil, err
	}

	return s, nil
}

// Key derives the cache key from its three parts: repository scope, OS
// identifier and the content hash of the declared input files.
func Key(scope, osID, inputHash string) string {
	return scope + ":" + osID + ":" + inputHash
}

// HashFiles hashes the declared input files (lockfiles and the like)
// under root into a stable hex digest. Path order does not matter.
func HashFiles(root string, paths []string) (string, error) {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	h := sha256.New()
	for _, p := range sorted {
		f, err := os.Open(filepath.Join(root, p))
		if err != nil {
			return "", fmt.Errorf("hashing input file %s: %w", p, err)
		}
		io.WriteString(h, p)
		h.Write([]byte{0})
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Lookup is exact-match only: any key without an entry is a miss. A hit
// refreshes the entry's recency.
func (s *DiskStore) Lookup(key string) (io.ReadCloser, bool, error) {
	name := entryName(key)

	s.mu.Lock()
	_, ok := s.index.Get(name) // Get, not Contains: refresh recency
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	f, err := os.Open(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		// lost a race with eviction
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return f, true, nil
}

// Store writes a blob under key. Entries are immutable: a second store
// under an existing key is an idempotent no-op (keys are content-derived,
// matching keys imply matching content). Partial writes go to a temp file
// first and are never visible.
func (s *DiskStore) Store(key string, blob io.Reader) error {
	name := entryName(key)

	s.mu.Lock()
	exists := s.index.Contains(name)
	s.mu.Unlock()
	if exists {
		_, err := io.Copy(io.Discard, blob)
		return err
	}

	tmp, err := os.CreateTemp(s.root, "tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, blob)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// concurrent stores under the same key: last write wins, content
	// assumed identical when keys match
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, name)); err != nil {
		return err
	}

	if !s.index.Contains(name) {
		s.index.Add(name, size)
		s.used += size
	}
	s.evictOverBudget()

	return nil
}

// Used reports the bytes currently held.
func (s *DiskStore) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// evictOverBudget drops least-recently-used entries until the store fits
// its byte budget. Caller holds s.mu.
func (s *DiskStore) evictOverBudget() {
	for s.budget > 0 && s.used > s.budget {
		if _, _, ok := s.index.RemoveOldest(); !ok {
			return
		}
	}
}

// onEvict runs inside index mutations while s.mu is held.
func (s *DiskStore) onEvict(name string, size int64) {
	s.used -= size
	if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
		s.l.Error("failed to remove evicted cache entry", "entry", name, "error", err)
	}
}

// rebuild restores the index from disk after a restart, oldest entries
// first so recency ordering survives approximately. Temp files from
// interrupted stores are treated as absent and cleaned up.
func (s *DiskStore) rebuild() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}

	type fileInfo struct {
		name    string
		size    int64
		modTime int64
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "tmp-") {
			os.Remove(filepath.Join(s.root, e.Name()))
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{e.Name(), info.Size(), info.ModTime().UnixNano()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime < files[j].modTime })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		s.index.Add(f.name, f.size)
		s.used += f.size
	}
	s.evictOverBudget()

	return nil
}

func entryName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
