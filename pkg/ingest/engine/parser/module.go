package parser

import "go.uber.org/fx"

// Module provides the Parser to Fx.
var Module = fx.Options(
	fx.Provide(NewParser),
)
