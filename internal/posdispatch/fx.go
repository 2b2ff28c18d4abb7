package posdispatch

import (
	"github.com/smallbiznis/cashstation/internal/posdispatch/adapters"
	"github.com/smallbiznis/cashstation/internal/posdispatch/adapters/flowco"
	"github.com/smallbiznis/cashstation/internal/posdispatch/repository"
	"github.com/smallbiznis/cashstation/internal/posdispatch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("posdispatch.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			flowco.NewHTTPFactory(),
			flowco.NewTCPFactory(),
		)
	}),
	fx.Provide(service.New),
)
