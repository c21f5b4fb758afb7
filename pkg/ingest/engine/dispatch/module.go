package dispatch

import "go.uber.org/fx"

// Module provides the Dispatcher to Fx.
var Module = fx.Options(
	fx.Provide(NewDispatcher),
)
