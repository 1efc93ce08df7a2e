package persistence

import (
	"fmt"
	"time"

	"intelliconn/infrastructure/configuration"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewRepositories opens the analytics ledger database selected by
// Database.Analytics (mysql or sqlite) and migrates its tables.
func NewRepositories() (*gorm.DB, error) {
	cfg := configuration.C.Database

	var dialector gorm.Dialector
	switch cfg.Analytics {
	case "mysql":
		m := cfg.MySql
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC", m.User, m.Password, m.Host, m.Port, m.Name)
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.SqlitePath)
	default:
		return nil, fmt.Errorf("unsupported analytics database: %s", cfg.Analytics)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if cfg.Analytics == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := MigrateAnalytics(db); err != nil {
		return nil, err
	}
	return db, nil
}

// MigrateAnalytics creates or updates the ledger and rollup tables.
func MigrateAnalytics(db *gorm.DB) error {
	return db.AutoMigrate(&analyticsSnapshotRecord{}, &postRollupRecord{}, &ownerDailyRecord{})
}
