// Package database opens the GORM connection pool that both cursor
// implementations read from: the raw database/sql cursor through DB.SQL and
// the GORM cursor through DB.Gorm. It retries the initial connection,
// configures the pool, logs queries through zerolog, and maps database and
// stream failures to AppErrors.
//
// The dialector is chosen by Config.Driver ("sqlite" or "postgres") unless
// Component.WithDriver supplies one.
package database
