package migration

import (
	"github.com/smallbiznis/cashstation/internal/config"
	"github.com/smallbiznis/cashstation/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if err := Run(conn, cfg.DBType); err != nil {
			return err
		}
		return seed.EnsureDefaultProducts(conn)
	}),
)
