package denomination

import (
	"github.com/smallbiznis/cashstation/internal/denomination/service"
	"go.uber.org/fx"
)

var Module = fx.Module("denomination.service",
	fx.Provide(service.New),
)
