// Package cache implements the filesystem-backed artifact cache: image files
// in one directory plus a JSON index mapping normalized query keys to
// filenames.
//
// Paths returned by the cache are slash-separated and relative to the cache
// directory, so they can be joined onto a static URL prefix.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/shoe-image-service/internal/imaging"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
	"github.com/JakeFAU/shoe-image-service/internal/slug"
)

// Defaults for the on-disk layout.
const (
	DefaultIndexFile = "index.json"
	DebugDir         = "debug"
	hashPrefixLen    = 8
)

// Config captures the cache layout.
type Config struct {
	// Dir is the root directory for published images and the index.
	Dir string `mapstructure:"dir"`
	// IndexFile is the index filename inside Dir.
	IndexFile string `mapstructure:"index_file"`
	// DebugArtifacts enables StoreIntermediate.
	DebugArtifacts bool `mapstructure:"debug_artifacts"`
}

// Mirror receives a copy of every published artifact.
type Mirror interface {
	Mirror(ctx context.Context, name string, data []byte) error
}

// Option customizes a Cache.
type Option func(*Cache)

// WithMirror registers a best-effort remote copy for published artifacts.
func WithMirror(m Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

// Cache implements retrieval.Cache.
type Cache struct {
	dir       string
	indexPath string
	debug     bool
	mirror    Mirror
	logger    *zap.Logger

	mu    sync.RWMutex
	index map[string]string
}

// New opens or creates the cache directory and loads its index.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Cache, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("cache directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureWritableDir(cfg.Dir); err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	indexFile := cfg.IndexFile
	if indexFile == "" {
		indexFile = DefaultIndexFile
	}
	c := &Cache{
		dir:       dir,
		indexPath: filepath.Join(dir, indexFile),
		debug:     cfg.DebugArtifacts,
		logger:    logger.Named("cache"),
		index:     map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func ensureWritableDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("failed to create cache directory: %w", mkErr)
		}
	case err != nil:
		return fmt.Errorf("failed to stat cache directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("cache path %q is not a directory", dir)
	}
	probe := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("cache directory is not writable: %w", err)
	}
	return os.Remove(probe)
}

func (c *Cache) load() error {
	raw, err := os.ReadFile(c.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache index: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &c.index); err != nil {
		return fmt.Errorf("parse cache index %s: %w", c.indexPath, err)
	}
	c.logger.Info("cache index loaded", zap.Int("entries", len(c.index)))
	return nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// Len returns the number of index entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Ready reports whether the cache directory is still usable.
func (c *Cache) Ready() error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("cache directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache path %q is not a directory", c.dir)
	}
	return nil
}

// Lookup returns the artifact path for model. An index entry whose file has
// disappeared is a miss.
func (c *Cache) Lookup(model string) (string, bool) {
	key := retrieval.NormalizeKey(model)
	if key == "" {
		return "", false
	}
	c.mu.RLock()
	name, ok := c.index[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	full, err := c.resolve(name)
	if err != nil {
		c.logger.Warn("ignoring unsafe index entry", zap.String("key", key), zap.String("file", name))
		return "", false
	}
	if info, err := os.Stat(full); err != nil || info.IsDir() {
		c.logger.Info("index entry points at missing file", zap.String("key", key), zap.String("file", name))
		return "", false
	}
	return name, true
}

// Store writes data under a filename derived from the verdict and records it
// under the normalized query key. The index is persisted before returning.
func (c *Cache) Store(ctx context.Context, model string, verdict retrieval.Verdict, data []byte) (string, error) {
	key := retrieval.NormalizeKey(model)
	if key == "" {
		return "", retrieval.ErrInvalidQuery
	}
	if len(data) == 0 {
		return "", errors.New("refusing to cache empty artifact")
	}
	name := FileName(verdict, model, data)
	full, err := c.resolve(name)
	if err != nil {
		return "", err
	}
	// Image first: a crash after this leaves an orphan file, never a dangling entry.
	if err := writeFileAtomic(full, data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	c.mu.Lock()
	next := make(map[string]string, len(c.index)+1)
	for k, v := range c.index {
		next[k] = v
	}
	next[key] = name
	if err := c.persist(next); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.index = next
	c.mu.Unlock()

	c.logger.Info("artifact cached", zap.String("key", key), zap.String("file", name))
	if c.mirror != nil {
		if err := c.mirror.Mirror(ctx, name, data); err != nil {
			c.logger.Warn("artifact mirror failed", zap.String("file", name), zap.Error(err))
		}
	}
	return name, nil
}

// StoreIntermediate writes a debug artifact keyed by query and stage. It never
// touches the index and returns "" when disabled or on failure.
func (c *Cache) StoreIntermediate(model string, stage retrieval.Stage, data []byte) string {
	if !c.debug || len(data) == 0 {
		return ""
	}
	key := retrieval.NormalizeKey(model)
	if key == "" {
		return ""
	}
	name := path.Join(DebugDir, fmt.Sprintf("%s-%s%s", key, stage, extension(data)))
	full, err := c.resolve(name)
	if err == nil {
		err = os.MkdirAll(filepath.Dir(full), 0o750)
	}
	if err == nil {
		err = writeFileAtomic(full, data)
	}
	if err != nil {
		c.logger.Warn("debug artifact not stored",
			zap.String("key", key), zap.String("stage", string(stage)), zap.Error(err))
		return ""
	}
	return name
}

// FileName derives "<slug>-<sha256 prefix>.jpg" from the verdict label,
// falling back to the query when the verdict carries no names.
func FileName(verdict retrieval.Verdict, model string, data []byte) string {
	label := verdict.Label()
	if label == "" {
		label = model
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s-%s.jpg", slug.Make(label), hex.EncodeToString(sum[:])[:hashPrefixLen])
}

// resolve joins a relative name onto the cache directory, refusing traversal.
func (c *Cache) resolve(name string) (string, error) {
	full := filepath.Join(c.dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(c.dir, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q", name)
	}
	return full, nil
}

func (c *Cache) persist(index map[string]string) error {
	raw, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := writeFileAtomic(c.indexPath, raw); err != nil {
		return fmt.Errorf("persist cache index: %w", err)
	}
	return nil
}

func writeFileAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

func extension(data []byte) string {
	switch imaging.MIMEType(data) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
