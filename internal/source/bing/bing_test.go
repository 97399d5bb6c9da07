package bing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

const resultsFixture = `<!doctype html><html><body>
<div class="imgpt">
  <a class="iusc" m='{"murl":"https://shop.example/primus.jpg","turl":"https://tse.example/t1"}' href="#"></a>
  <a class="iusc" m='{"murl":"https://shop.example/primus.jpg"}' href="#"></a>
  <a class="iusc" m='not json' href="#"></a>
  <a class="iusc" href="#"></a>
  <a class="iusc" m='{"murl":"https://other.example/side.png"}' href="#"></a>
</div>
</body></html>`

func TestSearch(t *testing.T) {
	t.Parallel()

	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/search", r.URL.Path)
		query = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(resultsFixture))
	}))
	t.Cleanup(srv.Close)

	src := New(Config{BaseURL: srv.URL + "/", QuerySuffix: "shoe"}, nil)
	urls, err := src.Search(context.Background(), "Primus Lite")
	require.NoError(t, err)
	assert.Equal(t, "Primus Lite shoe", query)
	assert.Equal(t, []string{"https://shop.example/primus.jpg", "https://other.example/side.png"}, urls)
	assert.Equal(t, Name, src.Name())
}

func TestSearchNoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>nothing</body></html>"))
	}))
	t.Cleanup(srv.Close)

	urls, err := New(Config{BaseURL: srv.URL}, nil).Search(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestSearchHTTPErrorIsSourceFault(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, nil).Search(context.Background(), "x")
	require.ErrorIs(t, err, retrieval.ErrSourceFault)
}
