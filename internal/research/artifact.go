// Package research implements ranked evidence gathering from external
// sources: code repositories and academic papers. Sources degrade to partial
// or empty results on transient failure instead of aborting the caller.
package research

import (
	"context"
	"sort"
)

// ArtifactKind distinguishes the evidence source families.
type ArtifactKind string

const (
	KindCodeRepository ArtifactKind = "code_repository"
	KindAcademicPaper  ArtifactKind = "academic_paper"
)

// Artifact is a single ranked piece of evidence. Immutable once returned.
type Artifact struct {
	ID             string       `json:"id"`
	Kind           ArtifactKind `json:"kind"`
	Title          string       `json:"title"`
	URL            string       `json:"url"`
	RelevanceScore float64      `json:"relevance_score"` // 0.0-1.0
}

// Source is a single searchable evidence backend.
type Source interface {
	// Search returns up to limit artifacts for the query. A non-nil error
	// marks a transient failure; the returned slice is still usable and may
	// hold partial results. Implementations never panic.
	Search(ctx context.Context, query string, limit int) ([]Artifact, error)

	// Kind reports the artifact kind this source produces.
	Kind() ArtifactKind
}

// sortByRelevance orders artifacts descending by relevance score, with ID as
// a deterministic tiebreak.
func sortByRelevance(artifacts []Artifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		if artifacts[i].RelevanceScore != artifacts[j].RelevanceScore {
			return artifacts[i].RelevanceScore > artifacts[j].RelevanceScore
		}
		return artifacts[i].ID < artifacts[j].ID
	})
}

// capLimit clamps a caller-supplied limit to a usable value.
func capLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	return limit
}
