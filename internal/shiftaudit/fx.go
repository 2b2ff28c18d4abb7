package shiftaudit

import (
	"github.com/smallbiznis/cashstation/internal/shiftaudit/repository"
	"github.com/smallbiznis/cashstation/internal/shiftaudit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("shiftaudit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
