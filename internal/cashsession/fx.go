package cashsession

import (
	"github.com/smallbiznis/cashstation/internal/cashsession/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cashsession.controller",
	fx.Provide(service.New),
)
