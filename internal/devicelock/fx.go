package devicelock

import "go.uber.org/fx"

var Module = fx.Module("device.lock",
	fx.Provide(New),
)
