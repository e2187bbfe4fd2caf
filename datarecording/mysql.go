package datarecording

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/tebeka/atexit"
)

func mysqlDSN(cfg RemoteConfig, withDB bool) string {
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = cfg.Addr

	if withDB {
		c.DBName = cfg.Database
	}

	return c.FormatDSN()
}

// NewMySQLRecorder creates a DataRecorder writing into a MySQL database. The
// database is created if it does not exist.
func NewMySQLRecorder(cfg RemoteConfig) (DataRecorder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := createMySQLDatabase(cfg); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", mysqlDSN(cfg, true))
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("datarecording: connecting to mysql %s: %w",
			cfg.Addr, err)
	}

	w := newSQLWriter(db, mysqlDialect{}, cfg.BatchSize)

	atexit.Register(func() { w.Flush() })

	return w, nil
}

func createMySQLDatabase(cfg RemoteConfig) error {
	db, err := sql.Open("mysql", mysqlDSN(cfg, false))
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec("CREATE DATABASE IF NOT EXISTS `" + cfg.Database + "`")
	if err != nil {
		return fmt.Errorf("datarecording: creating database %s: %w",
			cfg.Database, err)
	}

	return nil
}
