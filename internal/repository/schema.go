package repository

// Schema definitions for the riskcalc database.
// Compatible with both SQLite and PostgreSQL.

// schemaCatalogBundles stores every version of the calculator configuration.
const schemaCatalogBundles = `
CREATE TABLE IF NOT EXISTS catalog_bundles (
    version INTEGER PRIMARY KEY,
    bundle TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaCalculations = `
CREATE TABLE IF NOT EXISTS calculations (
    id TEXT PRIMARY KEY,
    specialty TEXT NOT NULL,
    patient_dfn TEXT,
    signed INTEGER NOT NULL DEFAULT 0,
    calculated_at TIMESTAMP NOT NULL,
    duration_ms REAL NOT NULL,
    result TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calculations_specialty ON calculations(specialty);
CREATE INDEX IF NOT EXISTS idx_calculations_patient ON calculations(patient_dfn);
CREATE INDEX IF NOT EXISTS idx_calculations_calculated_at ON calculations(calculated_at);
`

// schemaSignedResults holds results signed into a patient record. A
// calculation is signed at most once.
const schemaSignedResults = `
CREATE TABLE IF NOT EXISTS signed_results (
    calculation_id TEXT PRIMARY KEY,
    patient_dfn TEXT NOT NULL,
    specialty TEXT NOT NULL,
    cpt_code TEXT,
    signature_time TIMESTAMP NOT NULL,
    seconds_to_sign INTEGER NOT NULL,
    inputs TEXT NOT NULL,
    outcomes TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signed_results_patient ON signed_results(patient_dfn, signature_time);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCatalogBundles,
		schemaCalculations,
		schemaSignedResults,
	}
}
