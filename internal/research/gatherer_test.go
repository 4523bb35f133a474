package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource returns canned artifacts and an optional error.
type stubSource struct {
	kind      ArtifactKind
	artifacts []Artifact
	err       error
}

func (s *stubSource) Search(ctx context.Context, query string, limit int) ([]Artifact, error) {
	out := s.artifacts
	if len(out) > limit {
		out = out[:limit]
	}
	return out, s.err
}

func (s *stubSource) Kind() ArtifactKind { return s.kind }

func codeStub(scores ...float64) *stubSource {
	s := &stubSource{kind: KindCodeRepository}
	for i, sc := range scores {
		s.artifacts = append(s.artifacts, Artifact{
			ID:             string(rune('a' + i)),
			Kind:           KindCodeRepository,
			RelevanceScore: sc,
		})
	}
	return s
}

func TestSearchCode_SortsAndCaps(t *testing.T) {
	g := NewGatherer(codeStub(0.2, 0.9, 0.5), &stubSource{kind: KindAcademicPaper})

	artifacts, err := g.SearchCode(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.GreaterOrEqual(t, artifacts[0].RelevanceScore, artifacts[1].RelevanceScore)
}

func TestSearchCode_TransientFailureKeepsPartial(t *testing.T) {
	src := codeStub(0.8)
	src.err = errors.New("connection reset")
	g := NewGatherer(src, nil)

	artifacts, err := g.SearchCode(context.Background(), "q", 5)
	require.Error(t, err)
	// Partial results survive the error so callers can proceed.
	assert.Len(t, artifacts, 1)
}

func TestSearchPapers_NegativeLimit(t *testing.T) {
	g := NewGatherer(nil, &stubSource{kind: KindAcademicPaper, err: errors.New("boom")})

	artifacts, err := g.SearchPapers(context.Background(), "q", -1)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestMerge_OrdersAcrossSources(t *testing.T) {
	code := []Artifact{
		{ID: "c1", Kind: KindCodeRepository, RelevanceScore: 0.4},
		{ID: "c2", Kind: KindCodeRepository, RelevanceScore: 0.95},
	}
	papers := []Artifact{
		{ID: "p1", Kind: KindAcademicPaper, RelevanceScore: 0.7},
	}

	merged := Merge(code, papers)
	require.Len(t, merged, 3)
	assert.Equal(t, "c2", merged[0].ID)
	assert.Equal(t, "p1", merged[1].ID)
	assert.Equal(t, "c1", merged[2].ID)
}

func TestBuildQuery(t *testing.T) {
	cases := []struct {
		name string
		spec string
		plan string
		want string
	}{
		{"heading stripped", "## Streaming ingest service\nbody", "", "Streaming ingest service"},
		{"caps at eight terms", "one two three four five six seven eight nine ten", "", "one two three four five six seven eight"},
		{"falls back to plan", "", "Ship the ingest pipeline", "Ship the ingest pipeline"},
		{"empty", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BuildQuery(tc.spec, tc.plan))
		})
	}
}
