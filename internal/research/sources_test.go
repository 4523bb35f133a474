package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const githubFixture = `{
  "total_count": 3,
  "items": [
    {"full_name": "acme/convergence", "html_url": "https://github.com/acme/convergence", "score": 80.0},
    {"full_name": "acme/riskkit", "html_url": "https://github.com/acme/riskkit", "score": 40.0},
    {"full_name": "acme/premortem", "html_url": "https://github.com/acme/premortem", "score": 20.0}
  ]
}`

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2101.00001</id>
    <title>Iterative Risk  Reduction
      in Software Planning</title>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2101.00002</id>
    <title>Pre-mortem Analysis at Scale</title>
  </entry>
</feed>`

func TestGitHubSource_Search(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(githubFixture))
	}))
	defer srv.Close()

	source := NewGitHubSource(GitHubConfig{BaseURL: srv.URL, Token: "tok"})
	artifacts, err := source.Search(context.Background(), "convergence controller", 5)
	require.NoError(t, err)

	assert.Equal(t, "/search/repositories", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, artifacts, 3)

	// Top hit normalizes to 1.0, the rest proportionally, sorted descending.
	assert.Equal(t, "acme/convergence", artifacts[0].ID)
	assert.InDelta(t, 1.0, artifacts[0].RelevanceScore, 1e-9)
	assert.InDelta(t, 0.5, artifacts[1].RelevanceScore, 1e-9)
	for _, a := range artifacts {
		assert.Equal(t, KindCodeRepository, a.Kind)
		assert.GreaterOrEqual(t, a.RelevanceScore, 0.0)
		assert.LessOrEqual(t, a.RelevanceScore, 1.0)
	}
}

func TestGitHubSource_SearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	source := NewGitHubSource(GitHubConfig{BaseURL: srv.URL})
	artifacts, err := source.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Empty(t, artifacts)
}

func TestGitHubSource_ZeroLimit(t *testing.T) {
	source := NewGitHubSource(GitHubConfig{BaseURL: "http://unused.invalid"})

	artifacts, err := source.Search(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	artifacts, err = source.Search(context.Background(), "anything", -3)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestArxivSource_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("search_query"), "all:")
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(arxivFixture))
	}))
	defer srv.Close()

	source := NewArxivSource(ArxivConfig{BaseURL: srv.URL})
	artifacts, err := source.Search(context.Background(), "premortem risk", 5)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	// Titles are whitespace-normalized, scores decay by rank.
	assert.Equal(t, "Iterative Risk Reduction in Software Planning", artifacts[0].Title)
	assert.Equal(t, KindAcademicPaper, artifacts[0].Kind)
	assert.Greater(t, artifacts[0].RelevanceScore, artifacts[1].RelevanceScore)
}

func TestArxivSource_RespectsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(arxivFixture))
	}))
	defer srv.Close()

	source := NewArxivSource(ArxivConfig{BaseURL: srv.URL})
	artifacts, err := source.Search(context.Background(), "risk", 1)
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}
