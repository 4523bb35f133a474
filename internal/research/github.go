package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// GitHubConfig holds configuration for the repository search source.
type GitHubConfig struct {
	BaseURL   string        // API root, default https://api.github.com
	Token     string        // Optional bearer token for higher rate limits
	Timeout   time.Duration // Per-request timeout
	UserAgent string
}

// DefaultGitHubConfig returns sensible defaults.
func DefaultGitHubConfig() GitHubConfig {
	return GitHubConfig{
		BaseURL:   "https://api.github.com",
		Timeout:   30 * time.Second,
		UserAgent: "riskloop/1.0 (convergence research)",
	}
}

// GitHubSource searches public code repositories via the GitHub search API.
type GitHubSource struct {
	config     GitHubConfig
	httpClient *http.Client
}

// NewGitHubSource creates a repository search source.
func NewGitHubSource(config GitHubConfig) *GitHubSource {
	if config.BaseURL == "" {
		config.BaseURL = DefaultGitHubConfig().BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultGitHubConfig().Timeout
	}
	return &GitHubSource{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Kind reports code_repository.
func (s *GitHubSource) Kind() ArtifactKind { return KindCodeRepository }

// githubSearchResponse mirrors the fields we read from the search endpoint.
type githubSearchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		FullName string  `json:"full_name"`
		HTMLURL  string  `json:"html_url"`
		Score    float64 `json:"score"`
	} `json:"items"`
}

// Search queries the repository search endpoint, ranked by search score.
func (s *GitHubSource) Search(ctx context.Context, query string, limit int) ([]Artifact, error) {
	limit = capLimit(limit)
	if limit == 0 || query == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("per_page", fmt.Sprintf("%d", limit))

	endpoint := fmt.Sprintf("%s/search/repositories?%s", s.config.BaseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build repository search request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("repository search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("repository search: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed githubSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode repository search response: %w", err)
	}

	// GitHub's score is unbounded; normalize against the best hit so the
	// top result scores 1.0 and the rest scale proportionally.
	maxScore := 0.0
	for _, item := range parsed.Items {
		if item.Score > maxScore {
			maxScore = item.Score
		}
	}

	artifacts := make([]Artifact, 0, len(parsed.Items))
	for i, item := range parsed.Items {
		if i >= limit {
			break
		}
		relevance := 0.0
		if maxScore > 0 {
			relevance = item.Score / maxScore
		}
		artifacts = append(artifacts, Artifact{
			ID:             item.FullName,
			Kind:           KindCodeRepository,
			Title:          item.FullName,
			URL:            item.HTMLURL,
			RelevanceScore: relevance,
		})
	}
	sortByRelevance(artifacts)
	return artifacts, nil
}
