package matcher

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
)

// NewMatcherProvider builds the Matcher from the configured key column candidates.
func NewMatcherProvider(cfg *config.Config) *Matcher {
	return NewMatcher(cfg.Ingot.Batch.KeyColumnCandidates)
}

// Module provides the Matcher to Fx.
var Module = fx.Options(
	fx.Provide(NewMatcherProvider),
)
