package measure

import (
	"context"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// DefaultMaxChars caps how much workspace text the text metrics read.
const DefaultMaxChars = 10000

// Embedder produces dense vectors. internal/embeddings providers satisfy it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// SimilarityMetric scores how close the workspace text is to the goal.
//
// With an Embedder the score is (cos+1)/2 of the two embeddings and an
// embedding failure scores 0.5. Without one, a term-frequency cosine over
// identifier tokens is used. An empty workspace scores 0.
type SimilarityMetric struct {
	Embedder Embedder
	MaxChars int
	Logger   *zap.Logger
}

// Name implements Metric.
func (m *SimilarityMetric) Name() string { return MetricSimilarity }

// Measure implements Metric.
func (m *SimilarityMetric) Measure(ctx context.Context, in Input) float64 {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	text := workspaceText(in.Workspace, m.MaxChars)
	if strings.TrimSpace(text) == "" || strings.TrimSpace(in.Goal) == "" {
		return 0
	}

	if m.Embedder == nil {
		return lexicalCosine(in.Goal, text)
	}

	goal, err := m.Embedder.EmbedQuery(ctx, in.Goal)
	if err != nil {
		logger.Warn("similarity: goal embedding failed", zap.Error(err))
		return 0.5
	}
	docs, err := m.Embedder.EmbedDocuments(ctx, []string{text})
	if err != nil || len(docs) == 0 {
		logger.Warn("similarity: workspace embedding failed", zap.Error(err))
		return 0.5
	}

	cos, ok := cosine(goal, docs[0])
	if !ok {
		return 0.5
	}
	return (cos + 1) / 2
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func lexicalCosine(a, b string) float64 {
	ta, tb := termFrequencies(a), termFrequencies(b)
	var dot, na, nb float64
	for term, fa := range ta {
		na += fa * fa
		if fb, ok := tb[term]; ok {
			dot += fa * fb
		}
	}
	for _, fb := range tb {
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// termFrequencies splits on non-alphanumerics and camelCase boundaries.
func termFrequencies(s string) map[string]float64 {
	tf := make(map[string]float64)
	var cur []rune
	flush := func() {
		if len(cur) >= 2 {
			tf[strings.ToLower(string(cur))]++
		}
		cur = cur[:0]
	}
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return tf
}

// TestsMetric is the test pass ratio. A run with no tests scores
// NoTestsScore.
type TestsMetric struct {
	NoTestsScore float64
}

// Name implements Metric.
func (m *TestsMetric) Name() string { return MetricTests }

// Measure implements Metric.
func (m *TestsMetric) Measure(_ context.Context, in Input) float64 {
	if in.Tests.Total <= 0 {
		return m.NoTestsScore
	}
	return float64(in.Tests.Passed) / float64(in.Tests.Total)
}

// CoverageMetric is the share of goal keywords that appear in the workspace
// text. A goal with no keywords scores 0.5; an empty workspace scores 0.
type CoverageMetric struct {
	MaxChars int
}

// Name implements Metric.
func (m *CoverageMetric) Name() string { return MetricCoverage }

// Measure implements Metric.
func (m *CoverageMetric) Measure(_ context.Context, in Input) float64 {
	keywords := ExtractKeywords(in.Goal)
	if len(keywords) == 0 {
		return 0.5
	}
	text := strings.ToLower(workspaceText(in.Workspace, m.MaxChars))
	if text == "" {
		return 0
	}

	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func workspaceText(src Source, maxChars int) string {
	if src == nil {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text, err := src.Text(maxChars)
	if err != nil {
		return ""
	}
	return text
}
