// Package catalog builds risk models from a catalog bundle and serves them to
// the calculation service. A bundle is read from YAML (or JSON) files or from
// the repository; the catalog swaps whole snapshots on reload.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opensource-clinical/riskcalc/internal/domain"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a catalog bundle from a YAML or JSON file.
func LoadFile(path string) (*domain.CatalogBundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	bundle, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bundle, nil
}

// Decode reads a catalog bundle. Unknown fields are rejected.
func Decode(r io.Reader) (*domain.CatalogBundle, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var bundle domain.CatalogBundle
	if err := dec.Decode(&bundle); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("catalog is empty")
		}
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &bundle, nil
}

// Encode writes bundle as YAML.
func Encode(w io.Writer, bundle *domain.CatalogBundle) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(bundle); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return enc.Close()
}
