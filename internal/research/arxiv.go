package research

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ArxivConfig holds configuration for the academic paper source.
type ArxivConfig struct {
	BaseURL   string        // API root, default http://export.arxiv.org/api
	Timeout   time.Duration // Per-request timeout
	UserAgent string
}

// DefaultArxivConfig returns sensible defaults.
func DefaultArxivConfig() ArxivConfig {
	return ArxivConfig{
		BaseURL:   "http://export.arxiv.org/api",
		Timeout:   30 * time.Second,
		UserAgent: "riskloop/1.0 (convergence research)",
	}
}

// ArxivSource searches academic papers via the arXiv Atom API.
type ArxivSource struct {
	config     ArxivConfig
	httpClient *http.Client
}

// NewArxivSource creates a paper search source.
func NewArxivSource(config ArxivConfig) *ArxivSource {
	if config.BaseURL == "" {
		config.BaseURL = DefaultArxivConfig().BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultArxivConfig().Timeout
	}
	return &ArxivSource{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Kind reports academic_paper.
func (s *ArxivSource) Kind() ArtifactKind { return KindAcademicPaper }

// arxivFeed mirrors the Atom fields we read.
type arxivFeed struct {
	XMLName xml.Name `xml:"feed"`
	Entries []struct {
		ID    string `xml:"id"`
		Title string `xml:"title"`
	} `xml:"entry"`
}

// Search queries arXiv. The feed is already relevance-ordered; scores decay
// by rank so downstream merging stays deterministic.
func (s *ArxivSource) Search(ctx context.Context, query string, limit int) ([]Artifact, error) {
	limit = capLimit(limit)
	if limit == 0 || query == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("search_query", "all:"+query)
	q.Set("start", "0")
	q.Set("max_results", fmt.Sprintf("%d", limit))

	endpoint := fmt.Sprintf("%s/query?%s", s.config.BaseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build paper search request: %w", err)
	}
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paper search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("paper search: status %d: %s", resp.StatusCode, string(body))
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode paper search feed: %w", err)
	}

	artifacts := make([]Artifact, 0, len(feed.Entries))
	for i, entry := range feed.Entries {
		if i >= limit {
			break
		}
		artifacts = append(artifacts, Artifact{
			ID:             entry.ID,
			Kind:           KindAcademicPaper,
			Title:          strings.Join(strings.Fields(entry.Title), " "),
			URL:            entry.ID,
			RelevanceScore: 1.0 / (1.0 + 0.25*float64(i)),
		})
	}
	return artifacts, nil
}
