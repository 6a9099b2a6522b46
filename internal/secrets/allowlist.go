package secrets

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
)

// LoadAllowList reads the [allowlist] regexes of a gitleaks-style TOML file.
// A missing file yields no patterns.
func LoadAllowList(path string) ([]string, error) {
	var file struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("allow_list_file %s: %w", path, err)
	}
	return file.Allowlist.Regexes, nil
}
