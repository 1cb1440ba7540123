package db

import (
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens the configured database. The process cannot do anything
// useful without one, so failures are fatal.
func Connect(driver, dsn string) *gorm.DB {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		log.Fatalf("[db] unsupported DB_DRIVER=%q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("[db] connect failed driver=%s err=%v", driver, err)
	}
	return gdb
}

func AutoMigrate(gdb *gorm.DB, models ...any) {
	if err := gdb.AutoMigrate(models...); err != nil {
		log.Fatalf("[db] automigrate failed err=%v", err)
	}
}
