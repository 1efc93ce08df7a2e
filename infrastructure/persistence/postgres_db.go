package persistence

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"intelliconn/infrastructure/configuration"

	_ "github.com/lib/pq"
)

// NewPostgreSQLDB opens the primary store from configuration.Database.Psql.
func NewPostgreSQLDB() (*sql.DB, error) {
	return open("postgres", postgresDSN(configuration.C.Database.Psql), 25)
}

func postgresDSN(cfg configuration.Db) string {
	q := url.Values{}
	q.Set("sslmode", "require")
	if isLocal(cfg.Host) {
		q.Set("sslmode", "disable")
	}
	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%s", cfg.Host, cfg.Port), Path: "/" + cfg.Name}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isLocal(host string) bool {
	return host == "" || host == "localhost" || host == "127.0.0.1"
}

// open applies the shared pool limits and fails fast when the server is
// unreachable.
func open(driver, dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
