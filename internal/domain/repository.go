// Package domain defines the interfaces and data types shared by the riskcalc
// services.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown records.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record that may be written only once
	// already exists.
	ErrConflict = errors.New("record already exists")
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Catalog bundles are versioned; saving assigns the next version.
	SaveCatalog(ctx context.Context, bundle *CatalogBundle) (int, error)
	LatestCatalog(ctx context.Context) (*CatalogBundle, error)

	// Calculation results
	SaveCalculation(ctx context.Context, result *CalculationResult) error
	GetCalculation(ctx context.Context, id string) (*CalculationResult, error)

	// Signed results
	SaveSignedResult(ctx context.Context, result *SignedResult) error
	ListSignedResults(ctx context.Context, patientDFN string) ([]*SignedResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user"`
	PostgresPassword string `json:"-" mapstructure:"postgres_password"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
}
