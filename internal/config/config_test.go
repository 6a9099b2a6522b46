package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cogpid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault_Valid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
target_pv: 0.9
workspace: ./proj
ignore_files: [.dockerignore]
controller:
  kp: 2.0
guards:
  max_budget_usd: 3
  max_iterations: 7
measure:
  weights:
    similarity: 0.5
    tests: 0.5
  test_timeout: 90s
  test_command: [make, test-json]
policy:
  schedule:
    steps:
      - through: 3
        threshold: 0.2
    final: 0.5
llm:
  provider: anthropic
  model: claude-test
  retry:
    max_attempts: 5
    timeout: 30s
secrets:
  allow_list: ["EXAMPLE$"]
`, 0o600)

	t.Setenv("COGPID_GUARDS__MAX_ITERATIONS", "12")
	t.Setenv("COGPID_LLM__API_KEY", "sk-from-env")
	t.Setenv("COGPID_TARGET_PV", "0.85")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.85, cfg.TargetPV)
	assert.Equal(t, "./proj", cfg.Workspace)
	assert.Equal(t, []string{".dockerignore"}, cfg.IgnoreFiles)
	assert.Equal(t, 2.0, cfg.Controller.Kp)
	assert.Equal(t, 0.1, cfg.Controller.Ki, "unset fields keep defaults")
	assert.Equal(t, 3.0, cfg.Guards.MaxBudgetUSD)
	assert.Equal(t, 12, cfg.Guards.MaxIterations)
	assert.Equal(t, map[string]float64{"similarity": 0.5, "tests": 0.5}, cfg.Measure.Weights)
	assert.Equal(t, 90*time.Second, cfg.Measure.TestTimeout.Duration())
	assert.Equal(t, []string{"make", "test-json"}, cfg.Measure.TestCommand)
	require.Len(t, cfg.Policy.Schedule.Steps, 1)
	assert.Equal(t, 0.5, cfg.Policy.Schedule.Final)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey.Value())
	assert.Equal(t, 5, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.LLM.Retry.Timeout)
	assert.True(t, cfg.Secrets.Enabled)
	assert.Equal(t, []string{"EXAMPLE$"}, cfg.Secrets.AllowList)
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().TargetPV, cfg.TargetPV)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_RejectsWorldWritable(t *testing.T) {
	path := writeConfig(t, "target_pv: 0.9\n", 0o666)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world-writable")
}

func TestLoad_RejectsOversized(t *testing.T) {
	big := make([]byte, maxConfigFileSize+10)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfig(t, string(big), 0o600)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidate_ReportsEveryError(t *testing.T) {
	cfg := Default()
	cfg.TargetPV = 1.5
	cfg.Controller.Dt = 0
	cfg.Measure.Weights = map[string]float64{"similarity": 0.3}
	cfg.Policy.Schedule.Steps = append(cfg.Policy.Schedule.Steps, cfg.Policy.Schedule.Steps[0])
	cfg.Guards.MaxIterations = 0
	cfg.Embeddings.Provider = "word2vec"
	cfg.Secrets.AllowList = []string{"("}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"target_pv", "controller", "measure.weights", "policy.schedule", "guards", "embeddings", "secrets"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestResolvePaths(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Workspace = dir
	require.NoError(t, cfg.ResolvePaths())

	assert.Equal(t, filepath.Join(dir, ".cogpid"), cfg.StateDir)
	assert.Equal(t, filepath.Join(dir, ".cogpid", "checkpoints"), cfg.Checkpoint.Dir)
	assert.Equal(t, filepath.Join(dir, ".cogpid", "history.jsonl"), cfg.HistoryPath())
	assert.Equal(t, filepath.Join(dir, ".gitleaks.toml"), cfg.Secrets.AllowListFile)
}

func TestAgentConfig_RoleOverrides(t *testing.T) {
	llm := Default().LLM
	llm.APIKey = "sk-secret"
	llm.Reviewer = "reviewer-model"

	assert.Equal(t, llm.Model, llm.AgentConfig("planner").Model)
	assert.Equal(t, "reviewer-model", llm.AgentConfig("reviewer").Model)
	assert.Equal(t, "sk-secret", llm.AgentConfig("generator").APIKey)
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("sk-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-secret")

	b, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "sk-secret")
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	require.NoError(t, d.UnmarshalText([]byte("2.5")))
	assert.Equal(t, 2500*time.Millisecond, d.Duration())
}

func TestDurationHook_NumericSeconds(t *testing.T) {
	hook := durationHook()
	out, err := hook(reflect.TypeOf(0), reflect.TypeOf(Duration(0)), 45)
	require.NoError(t, err)
	assert.Equal(t, Duration(45*time.Second), out)

	_, err = hook(reflect.TypeOf(0), reflect.TypeOf(Duration(0)), -3)
	assert.Error(t, err)

	out, err = hook(reflect.TypeOf(0), reflect.TypeOf(0), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}
