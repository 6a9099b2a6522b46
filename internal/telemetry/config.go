// Package telemetry sets up OpenTelemetry tracing and metrics for cogpid.
package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool   `koanf:"enabled" json:"enabled"`
	Endpoint       string `koanf:"endpoint" json:"endpoint"`
	Protocol       string `koanf:"protocol" json:"protocol"` // "grpc" or "http/protobuf"
	ServiceName    string `koanf:"service_name" json:"service_name"`
	ServiceVersion string `koanf:"service_version" json:"service_version"`
	Insecure       bool   `koanf:"insecure" json:"insecure"`

	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `koanf:"sample_rate" json:"sample_rate"`

	MetricsEnabled bool          `koanf:"metrics_enabled" json:"metrics_enabled"`
	ExportInterval time.Duration `koanf:"export_interval" json:"export_interval"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
}

// NewDefaultConfig returns defaults with telemetry disabled, since most
// local runs have no collector.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		ServiceName:     "cogpid",
		ServiceVersion:  "0.1.0",
		Insecure:        true,
		SampleRate:      1.0,
		MetricsEnabled:  true,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks configuration for errors. A disabled config is always
// valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required when telemetry is enabled"))
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		errs = append(errs, fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required when telemetry is enabled"))
	}
	if c.Insecure && c.Endpoint != "" && !isLocalEndpoint(c.Endpoint) {
		errs = append(errs, errors.New("insecure connections are only allowed to local endpoints"))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 0 and 1, got %g", c.SampleRate))
	}
	if c.MetricsEnabled && c.ExportInterval <= 0 {
		errs = append(errs, errors.New("export_interval must be positive when metrics are enabled"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
