// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrConflict     = domain.ErrConflict
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewWithDB wraps an open database. The schema is not migrated.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{
		db:     db,
		driver: driver,
	}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCatalog stores bundle as the next catalog version and returns it.
func (r *SQLRepository) SaveCatalog(ctx context.Context, bundle *domain.CatalogBundle) (int, error) {
	if bundle == nil {
		return 0, fmt.Errorf("%w: bundle is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM catalog_bundles`).Scan(&current); err != nil {
		return 0, err
	}
	version := int(current.Int64) + 1

	stored := *bundle
	stored.Version = version
	data, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to encode catalog: %w", err)
	}

	query := `INSERT INTO catalog_bundles (version, bundle, created_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, r.rebind(query), version, string(data), time.Now().UTC()); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// LatestCatalog returns the newest catalog version.
func (r *SQLRepository) LatestCatalog(ctx context.Context) (*domain.CatalogBundle, error) {
	query := `SELECT bundle FROM catalog_bundles ORDER BY version DESC LIMIT 1`

	var data string
	err := r.db.QueryRowContext(ctx, query).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var bundle domain.CatalogBundle
	if err := json.Unmarshal([]byte(data), &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &bundle, nil
}

// SaveCalculation inserts or replaces a calculation result.
func (r *SQLRepository) SaveCalculation(ctx context.Context, result *domain.CalculationResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: calculation id is required", ErrInvalidInput)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode calculation: %w", err)
	}

	query := `
		INSERT INTO calculations (
			id, specialty, patient_dfn, signed, calculated_at, duration_ms, result
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			patient_dfn = excluded.patient_dfn,
			signed = excluded.signed,
			result = excluded.result
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.Specialty, result.PatientDFN,
		boolToInt(result.Signed), result.CalculatedAt.UTC(), result.DurationMs,
		string(data),
	)
	return err
}

// GetCalculation retrieves a calculation result by ID.
func (r *SQLRepository) GetCalculation(ctx context.Context, id string) (*domain.CalculationResult, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: calculation id is required", ErrInvalidInput)
	}

	query := `SELECT result FROM calculations WHERE id = ?`

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.CalculationResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to decode calculation: %w", err)
	}
	return &result, nil
}

// SaveSignedResult stores a signed result. A calculation that has already
// been signed yields ErrConflict.
func (r *SQLRepository) SaveSignedResult(ctx context.Context, result *domain.SignedResult) error {
	if result == nil || result.CalculationID == "" {
		return fmt.Errorf("%w: calculation id is required", ErrInvalidInput)
	}
	if result.PatientDFN == "" {
		return fmt.Errorf("%w: patient DFN is required", ErrInvalidInput)
	}

	inputs, err := json.Marshal(result.Inputs)
	if err != nil {
		return err
	}
	outcomes, err := json.Marshal(result.Outcomes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO signed_results (
			calculation_id, patient_dfn, specialty, cpt_code,
			signature_time, seconds_to_sign, inputs, outcomes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(calculation_id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		result.CalculationID, result.PatientDFN, result.Specialty, result.CPTCode,
		result.SignatureTime.UTC(), result.SecondsToSign,
		string(inputs), string(outcomes),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ListSignedResults returns a patient's signed results, newest first.
func (r *SQLRepository) ListSignedResults(ctx context.Context, patientDFN string) ([]*domain.SignedResult, error) {
	if patientDFN == "" {
		return nil, fmt.Errorf("%w: patient DFN is required", ErrInvalidInput)
	}

	query := `
		SELECT calculation_id, patient_dfn, specialty, cpt_code,
			   signature_time, seconds_to_sign, inputs, outcomes
		FROM signed_results
		WHERE patient_dfn = ?
		ORDER BY signature_time DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), patientDFN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.SignedResult
	for rows.Next() {
		var s domain.SignedResult
		var cptCode sql.NullString
		var inputs, outcomes string

		if err := rows.Scan(
			&s.CalculationID, &s.PatientDFN, &s.Specialty, &cptCode,
			&s.SignatureTime, &s.SecondsToSign, &inputs, &outcomes,
		); err != nil {
			return nil, err
		}
		s.CPTCode = cptCode.String

		if err := json.Unmarshal([]byte(inputs), &s.Inputs); err != nil {
			return nil, fmt.Errorf("failed to decode signed inputs: %w", err)
		}
		if err := json.Unmarshal([]byte(outcomes), &s.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to decode signed outcomes: %w", err)
		}

		results = append(results, &s)
	}

	return results, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
