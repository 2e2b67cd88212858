package migration

import (
	"strings"

	"github.com/smallbiznis/boxoffice/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the schema up to date on startup. Postgres runs the versioned
// SQL files; other dialects fall back to AutoMigrate when it is enabled.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		version, err := RunMigrations(sqlDB, log)
		if err != nil {
			return err
		}
		log.Info("database migrations applied", zap.Uint("version", version))
		return nil
	}

	if !cfg.AutoMigrate {
		log.Warn("schema management disabled", zap.String("db_type", cfg.DBType))
		return nil
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return err
	}
	log.Info("database schema auto-migrated", zap.String("db_type", cfg.DBType))
	return nil
}
