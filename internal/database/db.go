// Package database owns the MySQL connection pool and the schema the
// service expects at startup.
package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Open builds the connection pool and verifies it with a short ping.
// All timestamps live in the store as UTC; parseTime maps DATETIME
// columns straight to time.Time.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	dsn := mysql.Config{
		User:                 user,
		Passwd:               pass,
		Net:                  "tcp",
		Addr:                 net.JoinHostPort(host, port),
		DBName:               name,
		ParseTime:            true,
		Loc:                  time.UTC,
		Params:               map[string]string{"charset": "utf8mb4"},
		AllowNativePasswords: true,
	}

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
