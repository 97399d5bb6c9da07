package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

var approved = retrieval.Verdict{
	Status:         retrieval.VerdictApproved,
	Brand:          "Vivobarefoot",
	CanonicalModel: "Primus Lite III",
}

func newCache(t *testing.T, debug bool, opts ...Option) *Cache {
	t.Helper()
	c, err := New(Config{Dir: t.TempDir(), DebugArtifacts: debug}, nil, opts...)
	require.NoError(t, err)
	return c
}

func readIndex(t *testing.T, c *Cache) map[string]string {
	t.Helper()
	raw, err := os.ReadFile(c.indexPath)
	require.NoError(t, err)
	var idx map[string]string
	require.NoError(t, json.Unmarshal(raw, &idx))
	return idx
}

func TestStoreThenLookup(t *testing.T) {
	t.Parallel()

	c := newCache(t, false)
	name, err := c.Store(context.Background(), "Vivobarefoot Primus Lite III", approved, []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "vivobarefoot-primus-lite-iii-"))
	assert.True(t, strings.HasSuffix(name, ".jpg"))

	got, ok := c.Lookup("vivobarefoot   primus-lite iii!")
	require.True(t, ok)
	assert.Equal(t, name, got)

	assert.Equal(t, map[string]string{"vivobarefoot-primus-lite-iii": name}, readIndex(t, c))
}

func TestIndexKeyedByQueryNotCanonicalName(t *testing.T) {
	t.Parallel()

	c := newCache(t, false)
	_, err := c.Store(context.Background(), "primus lite 3", approved, []byte("a"))
	require.NoError(t, err)

	_, ok := c.Lookup("primus lite 3")
	assert.True(t, ok)
	_, ok = c.Lookup("Vivobarefoot Primus Lite III")
	assert.False(t, ok)
}

func TestLookupTreatsMissingFileAsMiss(t *testing.T) {
	t.Parallel()

	c := newCache(t, false)
	name, err := c.Store(context.Background(), "model x", approved, []byte("data"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(c.Dir(), name)))

	_, ok := c.Lookup("model x")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "entries are never evicted automatically")
}

func TestIndexSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(Config{Dir: dir}, nil)
	require.NoError(t, err)
	name, err := c.Store(context.Background(), "model y", approved, []byte("data"))
	require.NoError(t, err)

	reopened, err := New(Config{Dir: dir}, nil)
	require.NoError(t, err)
	got, ok := reopened.Lookup("MODEL Y")
	require.True(t, ok)
	assert.Equal(t, name, got)
}

func TestCorruptIndexFailsOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultIndexFile), []byte("{not json"), 0o600))
	_, err := New(Config{Dir: dir}, nil)
	require.Error(t, err)
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	_, err := newCache(t, false).Store(context.Background(), "!!!", approved, []byte("x"))
	require.ErrorIs(t, err, retrieval.ErrInvalidQuery)
}

func TestFileNameDiffersByContent(t *testing.T) {
	t.Parallel()

	a := FileName(approved, "q", []byte("one"))
	b := FileName(approved, "q", []byte("two"))
	assert.NotEqual(t, a, b)

	bypass := FileName(retrieval.BypassVerdict("Über Runner"), "Über Runner", []byte("one"))
	assert.True(t, strings.HasPrefix(bypass, "uber-runner-"), bypass)
}

func TestStoreIntermediate(t *testing.T) {
	t.Parallel()

	disabled := newCache(t, false)
	assert.Empty(t, disabled.StoreIntermediate("m", retrieval.StageRaw, []byte("x")))

	c := newCache(t, true)
	name := c.StoreIntermediate("Model Z", retrieval.StageRejected, []byte("\xff\xd8\xff\xe0 jpeg"))
	require.Equal(t, "debug/model-z-rejected.jpg", name)
	_, err := os.Stat(filepath.Join(c.Dir(), filepath.FromSlash(name)))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len(), "debug artifacts never enter the index")
}

type recordingMirror struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (m *recordingMirror) Mirror(_ context.Context, name string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	return m.err
}

func TestMirrorFailureDoesNotFailStore(t *testing.T) {
	t.Parallel()

	m := &recordingMirror{err: errors.New("bucket down")}
	c := newCache(t, false, WithMirror(m))
	name, err := c.Store(context.Background(), "mirrored", approved, []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, []string{name}, m.names)
}

func TestConcurrentStoresKeepIndexConsistent(t *testing.T) {
	t.Parallel()

	c := newCache(t, false)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Store(context.Background(), "same model", approved, []byte{byte(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	name, ok := c.Lookup("same model")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"same-model": name}, readIndex(t, c))
}

func TestReady(t *testing.T) {
	t.Parallel()

	c := newCache(t, false)
	require.NoError(t, c.Ready())
}

func TestStoreWithRelativeDotDir(t *testing.T) {
	// Chdir rules out t.Parallel.
	root := t.TempDir()
	t.Chdir(root)

	c, err := New(Config{Dir: "."}, nil)
	require.NoError(t, err)

	name, err := c.Store(context.Background(), "nike air", approved, []byte("data"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, name))
	require.NoError(t, err)

	got, ok := c.Lookup("Nike Air")
	require.True(t, ok)
	assert.Equal(t, name, got)
}

func TestResolveRejectsTraversal(t *testing.T) {
	t.Parallel()

	c := newCache(t, false)
	for _, name := range []string{"../escape.jpg", "debug/../../escape.jpg", ".", ""} {
		_, err := c.resolve(name)
		assert.Error(t, err, name)
	}
	_, err := c.resolve("debug/ok.jpg")
	assert.NoError(t, err)
}
