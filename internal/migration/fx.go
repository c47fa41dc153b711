package migration

import (
	"github.com/versiful/versiful/internal/config"
	ledgerdomain "github.com/versiful/versiful/internal/ledger/domain"
	usagedomain "github.com/versiful/versiful/internal/usage/domain"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg *config.Config) error {
		if cfg.DBType != "postgres" {
			// SQLite is only used for local development; gorm's schema
			// sync is sufficient there.
			return conn.AutoMigrate(
				&userdomain.User{},
				&usagedomain.UsageRecord{},
				&ledgerdomain.Message{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
