package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

const postgresConnectTimeout = 10 * time.Second

// openPostgres opens the calculation store on PostgreSQL and checks that the
// server answers within postgresConnectTimeout.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres at %s:%d: %w",
			orDefault(cfg.PostgresHost, "localhost"), postgresPort(cfg), err)
	}

	return db, nil
}

// postgresDSN builds a libpq keyword/value connection string. Values that
// contain spaces, quotes or backslashes are single-quoted and escaped so a
// password like "a b'c" survives intact. Empty user and password are left
// out so libpq falls back to its environment defaults.
func postgresDSN(cfg domain.RepositoryConfig) string {
	params := []struct{ key, value string }{
		{"host", orDefault(cfg.PostgresHost, "localhost")},
		{"port", strconv.Itoa(postgresPort(cfg))},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", orDefault(cfg.PostgresDB, "riskcalc")},
		{"sslmode", orDefault(cfg.PostgresSSLMode, "disable")},
		{"connect_timeout", strconv.Itoa(int(postgresConnectTimeout.Seconds()))},
		{"application_name", "riskcalc"},
	}

	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.value == "" {
			continue
		}
		parts = append(parts, p.key+"="+quoteDSNValue(p.value))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 4)
	b.WriteByte('\'')
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' || v[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
	b.WriteByte('\'')
	return b.String()
}

func postgresPort(cfg domain.RepositoryConfig) int {
	if cfg.PostgresPort == 0 {
		return 5432
	}
	return cfg.PostgresPort
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
