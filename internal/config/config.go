// Package config loads the coordinator daemon's configuration from
// flags, environment variables, and an optional config file layered
// through spf13/viper, the same stack sa6mwa-lockd's cmd/lockd/app.go
// uses for its own daemon flags. Recognized options match spec.md §6
// "Recognized configuration options" exactly.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every coordinator-daemon setting spec.md §6 names.
type Config struct {
	// CoordinatorBase is the externally visible URL prefix minted into
	// every LRA id this coordinator creates (spec.md §3, §6).
	CoordinatorBase string
	// Listen is the address the HTTP surface binds to.
	Listen string
	// Prefix is the HTTP path prefix LRA endpoints are served under
	// (spec.md §6, default "/lra-coordinator").
	Prefix string
	// StoreType selects the object store backend: "memory", "file", or
	// "sql" (spec.md §4.3).
	StoreType string
	// StoreDir is the base directory for the file backend.
	StoreDir string
	// SQLDSN is the data-source name for the sql backend (spec.md §6
	// "connection URL/user/pass/prefix for SQL").
	SQLDSN string
	// SQLTablePrefix is read from flags/env/config file but is not passed
	// to the sql backend, whose table is always named lra_records.
	SQLTablePrefix string
	// RecoveryInterval is the recovery scanner's fixed tick period
	// (spec.md §4.2, default on the order of seconds).
	RecoveryInterval time.Duration
	// APIVersion is read from flags/env/config file but is not passed to
	// the HTTP surface, which echoes httpapi.APIVersion when a request
	// carries no Narayana-LRA-API-version header.
	APIVersion string
	// LogLevel and LogFile configure internal/logging.
	LogLevel string
	LogFile  string
}

// Defaults returns the coordinator's out-of-the-box configuration.
func Defaults() Config {
	return Config{
		CoordinatorBase:  "http://localhost:8080/lra-coordinator",
		Listen:           ":8080",
		Prefix:           "/lra-coordinator",
		StoreType:        "memory",
		RecoveryInterval: 10 * time.Second,
		APIVersion:       "1.0",
		LogLevel:         "info",
	}
}

// BindFlags registers every recognized option as a pflag on flags, with
// the values from Defaults() as their defaults. Call this once per
// cobra.Command before FromViper reads the layered result back.
func BindFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.String("coordinator-base", d.CoordinatorBase, "externally visible base URL minted into LRA ids")
	flags.String("listen", d.Listen, "HTTP listen address")
	flags.String("prefix", d.Prefix, "HTTP path prefix for the LRA coordinator API")
	flags.String("store", d.StoreType, "object store backend: memory, file, or sql")
	flags.String("store-dir", "", "base directory for the file store backend")
	flags.String("sql-dsn", "", "data source name for the sql store backend")
	flags.String("sql-table-prefix", "", "table name prefix (accepted, not applied: the sql store table is lra_records)")
	flags.Duration("recovery-interval", d.RecoveryInterval, "recovery scanner tick interval")
	flags.String("api-version", d.APIVersion, "LRA API version (accepted, not applied: responses echo the built-in version)")
	flags.String("log-level", d.LogLevel, "debug, info, warn, or error")
	flags.String("log-file", "", "rotating log file path; empty logs to stderr")
}

// BindEnv wires LRACOORD_-prefixed environment variables over the same
// names BindFlags registers, matching sa6mwa-lockd's
// viper.SetEnvPrefix/SetEnvKeyReplacer/AutomaticEnv pattern.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("LRACOORD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// FromViper reads every bound key back out of v into a Config.
func FromViper(v *viper.Viper) Config {
	return Config{
		CoordinatorBase:  v.GetString("coordinator-base"),
		Listen:           v.GetString("listen"),
		Prefix:           v.GetString("prefix"),
		StoreType:        v.GetString("store"),
		StoreDir:         v.GetString("store-dir"),
		SQLDSN:           v.GetString("sql-dsn"),
		SQLTablePrefix:   v.GetString("sql-table-prefix"),
		RecoveryInterval: v.GetDuration("recovery-interval"),
		APIVersion:       v.GetString("api-version"),
		LogLevel:         v.GetString("log-level"),
		LogFile:          v.GetString("log-file"),
	}
}
