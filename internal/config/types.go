package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Duration is a non-negative timeout. In files it is written as a Go
// duration ("90s", "5m") or as a bare number of seconds.
type Duration time.Duration

// Duration converts d for use with the time package.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func parseDuration(s string) (Duration, error) {
	var (
		v   time.Duration
		err error
	)
	if secs, nerr := strconv.ParseFloat(s, 64); nerr == nil {
		v = time.Duration(secs * float64(time.Second))
	} else if v, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return Duration(v), nil
}

// durationHook lets numeric YAML values decode into Duration fields. String
// values go through UnmarshalText.
func durationHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(Duration(0))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int64, reflect.Uint64, reflect.Float64:
			return parseDuration(fmt.Sprint(data))
		}
		return data, nil
	}
}

// Secret holds a credential. Every printing or encoding path shows a
// placeholder; only Value returns the real string.
type Secret string

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func (s Secret) String() string   { return s.mask() }
func (s Secret) GoString() string { return strconv.Quote(s.mask()) }
func (s Secret) Value() string    { return string(s) }
func (s Secret) IsSet() bool      { return s != "" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
