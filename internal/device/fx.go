package device

import (
	"github.com/smallbiznis/cashstation/internal/config"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	"github.com/smallbiznis/cashstation/internal/device/bridge"
	"github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/smallbiznis/cashstation/internal/device/simulator"
	"github.com/smallbiznis/cashstation/internal/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("device",
	fx.Provide(NewAdapter),
)

type Params struct {
	fx.In

	Cfg          config.Config
	Denomination *config.DenominationConfigHolder
	Log          *zap.Logger
}

// NewAdapter selects the recycler driver from DEVICE_DRIVER.
func NewAdapter(p Params) domain.Adapter {
	denom := p.Denomination.Get()
	if p.Cfg.Device.Driver == "simulator" {
		p.Log.Warn("using simulated cash recycler", zap.String("terminal_id", p.Cfg.TerminalID))
		ladder := denomdomain.NewLadder(denom.Notes, denom.Coins, money.MinorPerMajor)
		return simulator.New(simulator.Filled(ladder, 20, 100))
	}
	return bridge.New(bridge.Params{
		Config:   p.Cfg.Device,
		Currency: denom.Currency,
		Log:      p.Log,
	})
}
