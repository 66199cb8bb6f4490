package migration

import (
	"github.com/smallbiznis/quotameter/internal/config"
	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	sessiondomain "github.com/smallbiznis/quotameter/internal/session/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// mysql/sqlite deployments lean on gorm's schema sync
			return conn.AutoMigrate(
				&ledgerdomain.Account{},
				&ledgerdomain.Transaction{},
				&sessiondomain.UsageSession{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
