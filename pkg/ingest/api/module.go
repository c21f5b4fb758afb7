package api

import (
	"go.uber.org/fx"
)

// Module provides the HTTP handler and server, and ties the server to the
// application lifecycle.
var Module = fx.Options(
	fx.Provide(
		Handler,
		NewHTTPServer,
	),
	fx.Invoke(registerServerLifecycle),
)
