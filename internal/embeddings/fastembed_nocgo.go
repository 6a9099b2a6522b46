//go:build !cgo

package embeddings

import (
	"errors"

	"go.uber.org/zap"
)

// ErrFastEmbedNotAvailable is returned by NewFastEmbedProvider in builds
// without cgo. Use the tei provider there.
var ErrFastEmbedNotAvailable = errors.New("fastembed requires a cgo build; use the tei provider")

// FastEmbedProvider is unavailable without cgo. NewFastEmbedProvider never
// returns one.
type FastEmbedProvider struct{ Provider }

// NewFastEmbedProvider always fails in non-cgo builds.
func NewFastEmbedProvider(model, _ string, _ int, _ *zap.Logger) (*FastEmbedProvider, error) {
	if _, ok := lookupModel(model); !ok {
		return nil, ErrInvalidConfig
	}
	return nil, ErrFastEmbedNotAvailable
}
