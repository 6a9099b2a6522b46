package measure

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cogpid/internal/workspace"
)

func newSource(t *testing.T, files map[string]string) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	ws, err := workspace.Open(root)
	require.NoError(t, err)
	return ws
}

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

func (m *mockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	v, _ := args.Get(0).([][]float32)
	return v, args.Error(1)
}

func TestSimilarityMetric_Embedder(t *testing.T) {
	src := newSource(t, map[string]string{"main.go": "package main"})
	emb := new(mockEmbedder)
	emb.On("EmbedQuery", mock.Anything, "todo app").Return([]float32{1, 0}, nil)
	emb.On("EmbedDocuments", mock.Anything, []string{"package main"}).Return([][]float32{{0, 1}}, nil)

	m := &SimilarityMetric{Embedder: emb}
	// Orthogonal vectors: cos 0 maps to 0.5.
	assert.InDelta(t, 0.5, m.Measure(context.Background(), Input{Goal: "todo app", Workspace: src}), 1e-9)
	emb.AssertExpectations(t)
}

func TestSimilarityMetric_IdenticalEmbeddings(t *testing.T) {
	src := newSource(t, map[string]string{"main.go": "package main"})
	emb := new(mockEmbedder)
	emb.On("EmbedQuery", mock.Anything, mock.Anything).Return([]float32{0.3, 0.4}, nil)
	emb.On("EmbedDocuments", mock.Anything, mock.Anything).Return([][]float32{{0.6, 0.8}}, nil)

	m := &SimilarityMetric{Embedder: emb}
	assert.InDelta(t, 1.0, m.Measure(context.Background(), Input{Goal: "x", Workspace: src}), 1e-6)
}

func TestSimilarityMetric_EmbedderFailureIsNeutral(t *testing.T) {
	src := newSource(t, map[string]string{"main.go": "package main"})
	emb := new(mockEmbedder)
	emb.On("EmbedQuery", mock.Anything, mock.Anything).Return(nil, errors.New("model not loaded"))

	m := &SimilarityMetric{Embedder: emb}
	assert.Equal(t, 0.5, m.Measure(context.Background(), Input{Goal: "x", Workspace: src}))
}

func TestSimilarityMetric_EmptyWorkspace(t *testing.T) {
	m := &SimilarityMetric{}
	assert.Equal(t, 0.0, m.Measure(context.Background(), Input{Goal: "todo app", Workspace: newSource(t, nil)}))
	assert.Equal(t, 0.0, m.Measure(context.Background(), Input{Goal: "todo app"}))
}

func TestSimilarityMetric_Lexical(t *testing.T) {
	related := newSource(t, map[string]string{
		"todo.py": "class TodoList:\n    def add_item(self, item):\n        self.items.append(item)\n",
	})
	unrelated := newSource(t, map[string]string{
		"calc.py": "def integrate(f, a, b):\n    return quad(f, a, b)\n",
	})
	m := &SimilarityMetric{}
	in := func(src Source) Input { return Input{Goal: "A todo list where users add items", Workspace: src} }

	hi := m.Measure(context.Background(), in(related))
	lo := m.Measure(context.Background(), in(unrelated))
	assert.Greater(t, hi, lo)
	assert.Equal(t, hi, m.Measure(context.Background(), in(related)), "deterministic")
}

func TestTermFrequencies_SplitsCamelCase(t *testing.T) {
	tf := termFrequencies("TodoList addItem x")
	assert.Equal(t, map[string]float64{"todo": 1, "list": 1, "add": 1, "item": 1}, tf)
}

func TestTestsMetric(t *testing.T) {
	m := &TestsMetric{}
	assert.Equal(t, 0.0, m.Measure(context.Background(), Input{}))
	assert.Equal(t, 0.75, m.Measure(context.Background(), Input{Tests: TestResults{Total: 4, Passed: 3, Failed: 1}}))

	neutral := &TestsMetric{NoTestsScore: 0.5}
	assert.Equal(t, 0.5, neutral.Measure(context.Background(), Input{}))
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("Build a REST server that should store todos, with a REST server cache.")
	assert.Equal(t, []string{"build", "server", "store", "todos", "cache"}, got)

	long := strings.Repeat("alpha bravo charlie delta ", 2) + "eagle foxtrot golfs hotel india juliet kilos lima1 mike1 novem oscar papas quebec romeo sierra tango unifo victor whiskey xrayz"
	assert.Len(t, ExtractKeywords(long), 20)
}

func TestCoverageMetric(t *testing.T) {
	src := newSource(t, map[string]string{"server.go": "package server // store todos"})
	m := &CoverageMetric{}

	got := m.Measure(context.Background(), Input{Goal: "server store cache", Workspace: src})
	assert.InDelta(t, 2.0/3.0, got, 1e-9)

	assert.Equal(t, 0.5, m.Measure(context.Background(), Input{Goal: "a b c", Workspace: src}))
	assert.Equal(t, 0.0, m.Measure(context.Background(), Input{Goal: "server", Workspace: newSource(t, nil)}))
}

func TestLintMetric(t *testing.T) {
	clean := newSource(t, map[string]string{
		"main.go": "package main\n\nfunc main() {}\n",
		"app.py":  "def f():\n    return 1\n",
	})
	broken := newSource(t, map[string]string{
		"main.go": "package main\n\nfunc main( {\n\tx := \n}\n",
	})
	m := &LintMetric{}

	assert.Equal(t, 1.0, m.Measure(context.Background(), Input{Workspace: clean}))

	score := m.Measure(context.Background(), Input{Workspace: broken})
	assert.Less(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestLintMetric_NoSources(t *testing.T) {
	src := newSource(t, map[string]string{"README.md": "# hi"})
	assert.Equal(t, 1.0, (&LintMetric{}).Measure(context.Background(), Input{Workspace: src}))
}

func TestParseTestEvents(t *testing.T) {
	stream := `{"Action":"start","Package":"x"}
{"Action":"run","Package":"x","Test":"TestA"}
{"Action":"pass","Package":"x","Test":"TestA"}
{"Action":"run","Package":"x","Test":"TestB"}
{"Action":"fail","Package":"x","Test":"TestB"}
{"Action":"skip","Package":"x","Test":"TestC"}
not json
{"Action":"fail","Package":"x"}
`
	res, events := ParseTestEvents(strings.NewReader(stream))
	assert.Equal(t, TestResults{Total: 3, Passed: 1, Failed: 1, Skipped: 1}, res)
	assert.Equal(t, 7, events)
}
