package drivedb

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func MakeMysqlDSNFromEnv() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		os.Getenv("DB_USERNAME"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_DATABASE"))
}

func SqlitePathFromEnv() string {
	if path := os.Getenv("DB_PATH"); path != "" {
		return path
	}

	return "drived.db"
}

const maxDBRetries = 5

// MustConnectToDB will attempt to connect to the database maxDBRetries times. If it
// isn't successful after that number of retries then it will call log.Fatalf(), which
// will cause the daemon to exit. Between retry attempts it sleeps for 3 seconds.
// The driver is selected with DB_DRIVER (sqlite is the default, mysql for a shared
// server database).
func MustConnectToDB() *gorm.DB {
	var (
		err error
		db  *gorm.DB
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	retryCount := 1
	for {
		db, err = gorm.Open(dialectorFromEnv(), gormConfig)
		switch {
		case err == nil:
			return db
		case retryCount >= maxDBRetries:
			log.Fatalf("Failed to open db: %s", err)
		default:
			retryCount++
			time.Sleep(3 * time.Second)
		}
	}
}

func dialectorFromEnv() gorm.Dialector {
	if os.Getenv("DB_DRIVER") == "mysql" {
		return mysql.Open(MakeMysqlDSNFromEnv())
	}

	return sqlite.Open(SqlitePathFromEnv())
}
