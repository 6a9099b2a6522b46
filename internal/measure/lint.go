package measure

import (
	"context"
	"math"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"go.uber.org/zap"
)

const (
	// defaultIssuesPerFileFloor is the issue density that scores 0.
	defaultIssuesPerFileFloor = 10.0

	// maxIssuesPerFile stops the tree walk on hopeless input.
	maxIssuesPerFile = 50
	maxTreeDepth     = 1000
)

// LintMetric scores syntactic health with tree-sitter. Every ERROR or
// MISSING node is one issue; the score is max(0, 1 - issuesPerFile/Floor).
// A workspace without parseable source files scores 1.
type LintMetric struct {
	// Floor is the issues-per-file density that scores 0. Zero means 10.
	Floor  float64
	Logger *zap.Logger
}

// Name implements Metric.
func (m *LintMetric) Name() string { return MetricLint }

// Measure implements Metric.
func (m *LintMetric) Measure(ctx context.Context, in Input) float64 {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	floor := m.Floor
	if floor <= 0 {
		floor = defaultIssuesPerFileFloor
	}
	if in.Workspace == nil {
		return 1
	}

	files, err := in.Workspace.SourceFiles()
	if err != nil {
		logger.Warn("lint: listing source files failed", zap.Error(err))
		return 1
	}

	parsed, issues := 0, 0
	for _, rel := range files {
		lang := languageFor(rel)
		if lang == nil {
			continue
		}
		content, err := in.Workspace.ReadFile(rel)
		if err != nil {
			continue
		}
		n, err := SyntaxIssues(ctx, lang, content)
		if err != nil {
			logger.Debug("lint: parse failed", zap.String("file", rel), zap.Error(err))
			continue
		}
		parsed++
		issues += n
	}

	if parsed == 0 {
		return 1
	}
	perFile := float64(issues) / float64(parsed)
	score := math.Max(0, 1-perFile/floor)
	logger.Debug("lint score",
		zap.Int("issues", issues),
		zap.Int("files", parsed),
		zap.Float64("score", score))
	return score
}

// SyntaxIssues parses content and counts ERROR and MISSING nodes.
func SyntaxIssues(ctx context.Context, lang *sitter.Language, content []byte) (int, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return 0, err
	}
	defer tree.Close()

	count := 0
	countIssues(tree.RootNode(), &count, 0)
	return count, nil
}

func countIssues(node *sitter.Node, count *int, depth int) {
	if node == nil || depth > maxTreeDepth || *count >= maxIssuesPerFile {
		return
	}
	if node.IsError() || node.IsMissing() {
		*count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		countIssues(node.Child(i), count, depth+1)
	}
}

// languageFor maps a file extension to its grammar, or nil.
func languageFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return golang.GetLanguage()
	case ".py":
		return python.GetLanguage()
	case ".js":
		return javascript.GetLanguage()
	case ".ts":
		return typescript.GetLanguage()
	case ".rs":
		return rust.GetLanguage()
	case ".java":
		return java.GetLanguage()
	case ".c":
		return c.GetLanguage()
	case ".cpp":
		return cpp.GetLanguage()
	default:
		return nil
	}
}
