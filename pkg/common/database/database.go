package database

import (
	"fmt"
	"strings"
	"sync"

	"github.com/featurehub-ai/platform/pkg/common/config"
	"github.com/featurehub-ai/platform/pkg/common/logger"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
)

// GetDB returns the process-wide registration database, connecting on first use.
func GetDB() (*gorm.DB, error) {
	var err error
	dbOnce.Do(func() {
		db, err = Open(config.Load())
	})
	if err == nil && db == nil {
		err = fmt.Errorf("database connection unavailable")
	}
	return db, err
}

// Open connects using DATABASE_URL when set, falling back to the POSTGRES_*
// settings. "sqlite:" URLs select the embedded driver used for local runs.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dialector, name := Dialector(cfg)
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("driver", name).Error("Failed to connect to database")
		return nil, err
	}
	logger.Log.WithField("driver", name).Info("Connected to database")
	return conn, nil
}

func Dialector(cfg *config.Config) (gorm.Dialector, string) {
	url := cfg.DatabaseURL
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(url, "sqlite://")), "sqlite"
	case strings.HasPrefix(url, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(url, "sqlite:")), "sqlite"
	case url != "":
		return postgres.Open(url), "postgres"
	}
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.PostgresHost,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresPort,
		cfg.PostgresSSLMode,
	)
	return postgres.Open(dsn), "postgres"
}

func Close() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
