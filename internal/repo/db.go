package repo

import (
	"fmt"

	"gameroom-service/internal/config"
	"gameroom-service/internal/model"
	"gameroom-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Models lists every table the service migrates.
var Models = []interface{}{
	&model.Wallet{},
	&model.LedgerEntry{},
	&model.SupplyState{},
	&model.EscrowContribution{},
	&model.Settlement{},
	&model.RoomRecord{},
	&model.Operator{},
}

func InitDB() {
	conf := config.GlobalConfig.Database
	var err error
	DB, err = Open(conf.Driver, conf.DSN)
	if err != nil {
		logger.Log.Fatal("Failed to connect to database",
			zap.String("driver", conf.Driver),
			zap.Error(err),
		)
	}
}

// Open connects and migrates. SQLite is limited to one connection so that
// in-memory databases are shared and writes are serialized.
func Open(driver, dsn string) (*gorm.DB, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}
