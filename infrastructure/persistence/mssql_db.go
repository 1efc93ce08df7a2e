package persistence

import (
	"database/sql"
	"fmt"
	"net/url"

	"intelliconn/infrastructure/configuration"

	_ "github.com/microsoft/go-mssqldb"
)

// NewMSSQLDB opens the credential store on SQL Server when Database.Driver
// is mssql.
func NewMSSQLDB() (*sql.DB, error) {
	return open("sqlserver", mssqlDSN(configuration.C.Database.Mssql), 10)
}

func mssqlDSN(cfg configuration.Db) string {
	q := url.Values{}
	if cfg.Name != "" {
		q.Set("database", cfg.Name)
	}
	q.Set("encrypt", "true")
	// self-signed certs on local containers
	if isLocal(cfg.Host) {
		q.Set("TrustServerCertificate", "true")
	}
	u := &url.URL{Scheme: "sqlserver", Host: fmt.Sprintf("%s:%s", cfg.Host, cfg.Port), RawQuery: q.Encode()}
	switch {
	case cfg.User != "" && cfg.Password != "":
		u.User = url.UserPassword(cfg.User, cfg.Password)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	return u.String()
}
