// Package cache stores completed compiler invocations on disk so that an
// unchanged fragment compiled with an unchanged command line is not
// recompiled.
//
// The cache is non-durable: load and store failures are logged and turn into
// misses. Only invocations that ran to completion are stored; cancelled,
// timed-out and crashed compiles never are.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version; increment when Payload changes shape.
const schemaVersion uint16 = 1

// Digest is a SHA-256 content key.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Dep records a header the compile read, with its content hash at store time.
type Dep struct {
	Path string
	Hash Digest
}

// Payload is the cached outcome of one compiler invocation.
type Payload struct {
	Schema    uint16
	Argv      []string
	ExitCode  int
	Signaled  bool
	Output    string
	ElapsedNS int64
	Deps      []Dep
	StoredAt  int64
}

// Elapsed returns the duration of the original compile.
func (p *Payload) Elapsed() time.Duration {
	return time.Duration(p.ElapsedNS)
}

// Fresh reports whether every recorded header still has its stored content.
func (p *Payload) Fresh() bool {
	for _, dep := range p.Deps {
		sum, err := HashFile(dep.Path)
		if err != nil || sum != dep.Hash {
			return false
		}
	}
	return true
}

// Cache is a directory of msgpack payloads addressed by Digest.
// Safe for concurrent use. A nil *Cache disables caching.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// DefaultDir returns the per-user cache location.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache dir: %w", err)
	}
	return filepath.Join(base, "nctest"), nil
}

// Open prepares a cache rooted at dir, or at DefaultDir when dir is empty.
func Open(dir string) (*Cache, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %q: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *Cache) pathFor(key Digest) string {
	hexKey := key.String()
	return filepath.Join(c.dir, "runs", hexKey[:2], hexKey+".mp")
}

// Put serializes a payload and atomically replaces any previous entry.
func (c *Cache) Put(key Digest, payload *Payload) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer func() {
		if removeErr := os.Remove(tmpName); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			log.Warningf("Failed to remove temporary cache file %q: %v", tmpName, removeErr)
		}
	}()

	payload.Schema = schemaVersion
	if err := msgpack.NewEncoder(f).Encode(payload); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, p)
}

// Get loads a payload. A missing entry or one written by another schema
// version is a miss, not an error.
func (c *Cache) Get(key Digest, out *Payload) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Warningf("Failed to close cache entry %s: %v", key, closeErr)
		}
	}()
	if err := msgpack.NewDecoder(f).Decode(out); err != nil {
		return false, err
	}
	if out.Schema != schemaVersion {
		return false, nil
	}
	return true, nil
}

// Clear removes every cached payload.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}

// Key derives a Digest from length-prefixed parts so that ("ab","c") and
// ("a","bc") differ.
func Key(parts ...[]byte) Digest {
	h := sha256.New()
	var size [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		_, _ = h.Write(size[:])
		_, _ = h.Write(part)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// HashFile returns the SHA-256 of a file's content.
func HashFile(path string) (Digest, error) {
	// #nosec G304 -- path comes from a compiler-written depfile
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, err
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}
