package http

import "github.com/fyrsmithlabs/cogpid/internal/loop"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string      `json:"status"` // "running" or "finished"
	Version string      `json:"version,omitempty"`
	Run     loop.Report `json:"run"`
}

// ErrorResponse is returned for unknown or failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
