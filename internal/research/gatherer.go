package research

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"riskloop/internal/logging"
)

// Gatherer is a thin ranked-search facade over the code and paper sources.
// It is stateless between calls; a transient source failure comes back as a
// non-nil error next to whatever partial results were obtained, so callers
// can proceed and still tell "no results" apart from "source down".
type Gatherer struct {
	code   Source
	papers Source
}

// NewGatherer builds a facade over the two evidence sources.
func NewGatherer(code, papers Source) *Gatherer {
	return &Gatherer{code: code, papers: papers}
}

// SearchCode returns up to limit code repository artifacts, sorted
// descending by relevance.
func (g *Gatherer) SearchCode(ctx context.Context, query string, limit int) ([]Artifact, error) {
	return g.search(ctx, g.code, query, limit)
}

// SearchPapers returns up to limit academic paper artifacts, sorted
// descending by relevance.
func (g *Gatherer) SearchPapers(ctx context.Context, query string, limit int) ([]Artifact, error) {
	return g.search(ctx, g.papers, query, limit)
}

func (g *Gatherer) search(ctx context.Context, source Source, query string, limit int) ([]Artifact, error) {
	limit = capLimit(limit)
	if limit == 0 || source == nil {
		return []Artifact{}, nil
	}

	artifacts, err := source.Search(ctx, query, limit)
	if err != nil {
		logging.Research().Warn("evidence source degraded",
			zap.String("kind", string(source.Kind())), zap.Error(err))
	}
	if artifacts == nil {
		artifacts = []Artifact{}
	}
	if len(artifacts) > limit {
		artifacts = artifacts[:limit]
	}
	sortByRelevance(artifacts)
	return artifacts, err
}

// BuildQuery derives a search query from the SPEC text: the first
// non-empty line, stripped of markdown heading markers and capped at eight
// terms. The PLAN rarely names the problem domain, so it is only consulted
// when the SPEC is empty.
func BuildQuery(spec, plan string) string {
	text := spec
	if strings.TrimSpace(text) == "" {
		text = plan
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#*- "))
		if line == "" {
			continue
		}
		words := strings.Fields(line)
		if len(words) > 8 {
			words = words[:8]
		}
		return strings.Join(words, " ")
	}
	return ""
}

// Merge combines per-source result sets into one relevance-ordered slice.
func Merge(sets ...[]Artifact) []Artifact {
	total := 0
	for _, set := range sets {
		total += len(set)
	}
	merged := make([]Artifact, 0, total)
	for _, set := range sets {
		merged = append(merged, set...)
	}
	sortByRelevance(merged)
	return merged
}
