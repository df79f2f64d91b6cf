// Package postgres holds the connection pool and identifier helpers shared by
// the bronze, silver, gold and model components.
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig controls the Postgres connection pool shared by the layers.
type PoolConfig struct {
	Name            string
	User            string
	Password        string
	Host            string
	Port            int
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DSN renders the connection string for cfg.
func (cfg PoolConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

// NewPool opens a pgx pool using cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.Name == "" || cfg.Host == "" {
		return nil, fmt.Errorf("database name and host are required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// ValidIdentifier reports whether name can be interpolated into SQL as a bare
// schema, table or view name.
func ValidIdentifier(name string) bool {
	return validIdentifier.MatchString(name)
}

// Qualified returns schema.name after validating both parts.
func Qualified(schema, name string) (string, error) {
	if !ValidIdentifier(schema) {
		return "", fmt.Errorf("invalid schema name %q", schema)
	}
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return schema + "." + name, nil
}
