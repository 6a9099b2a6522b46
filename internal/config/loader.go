package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment overrides. "__" separates sections:
	// COGPID_LLM__API_KEY sets llm.api_key.
	EnvPrefix = "COGPID_"

	// DefaultFile is read from the working directory when no path is given.
	DefaultFile = "cogpid.yaml"

	maxConfigFileSize = 1 << 20
)

// Load builds the configuration with precedence defaults < file < env and
// validates it. An empty path reads DefaultFile if it exists.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	content, err := readConfigFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := unmarshal(k, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps COGPID_LLM__API_KEY to llm.api_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// unmarshal overlays k onto the defaults in cfg. Maps and slices that are
// set replace the defaults instead of merging into them.
func unmarshal(k *koanf.Koanf, cfg *Config) error {
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				durationHook(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			ZeroFields:       true,
			TagName:          "koanf",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// readConfigFile opens path once and checks the open file, so the checks
// and the read see the same inode.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("config file %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o002 != 0 {
		return nil, fmt.Errorf("insecure config file permissions %v: file is world-writable", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
}

// ResolvePaths makes Workspace absolute and fills StateDir and
// Checkpoint.Dir from it when they are empty. A relative secrets allow list
// file is taken relative to the workspace.
func (c *Config) ResolvePaths() error {
	ws, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}
	c.Workspace = ws
	if c.StateDir == "" {
		c.StateDir = filepath.Join(ws, ".cogpid")
	}
	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = filepath.Join(c.StateDir, "checkpoints")
	}
	if f := c.Secrets.AllowListFile; f != "" && !filepath.IsAbs(f) {
		c.Secrets.AllowListFile = filepath.Join(ws, f)
	}
	return nil
}

// HistoryPath is the iteration log inside StateDir.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir, "history.jsonl")
}
