package postgres

import (
	"fmt"
	"time"

	"github.com/sifan077/linkpay/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// NewGorm returns a gorm.DB configured for the application's Postgres instance.
// Unique violations surface as gorm.ErrDuplicatedKey.
func NewGorm(cfg config.PostgresConfig, logger *zap.Logger) (*gorm.DB, error) {
	return OpenGorm(ConnString(cfg), cfg, logger)
}

// OpenGorm opens gorm against an explicit DSN, applying pool sizing from cfg.
// Slow queries and errors go to logger.
func OpenGorm(dsn string, cfg config.PostgresConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve sql db: %w", err)
	}

	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		sqlDB.SetMaxIdleConns(int(cfg.MinConns))
	}
	if d, err := time.ParseDuration(cfg.MaxConnIdleTime); err == nil {
		sqlDB.SetConnMaxIdleTime(d)
	}

	return db, nil
}
