// Package identify implements a catalog-backed identifier for captured photos.
package identify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"pkt.systems/carspot/schema"
)

// CatalogVersion is the catalog file format understood by this package.
const CatalogVersion = 1

// Catalog is the set of subjects the identifier can answer with.
type Catalog struct {
	Version  int              `yaml:"version"`
	Subjects []schema.Subject `yaml:"subjects"`
}

const defaultCatalogYAML = `version: 1
subjects:
  - {kind: vehicle, make: Honda, model: Civic, generation: "15-18", confidence: 0.82}
  - {kind: vehicle, make: Honda, model: Accord, generation: "18-22", confidence: 0.71}
  - {kind: vehicle, make: Mazda, model: MX-5, generation: ND, confidence: 0.88}
  - {kind: vehicle, make: Porsche, model: "911", generation: "992", confidence: 0.9}
  - {kind: vehicle, make: Toyota, model: GR86, generation: "22-", confidence: 0.77}
  - {kind: vehicle, make: Volkswagen, model: Golf GTI, generation: Mk8, confidence: 0.74}
  - {kind: driver, first_name: Ayrton, last_name: Senna, confidence: 0.66}
  - {kind: driver, first_name: Michele, last_name: Mouton, confidence: 0.63}
`

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	catalog, err := ParseCatalog([]byte(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("identify: built-in catalog: %v", err))
	}
	return catalog
}

// DefaultCatalogYAML returns the built-in catalog in its file form.
func DefaultCatalogYAML() []byte {
	return []byte(defaultCatalogYAML)
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	catalog, err := ParseCatalog(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return catalog, nil
}

// ParseCatalog decodes catalog YAML. Subjects are normalized and duplicates dropped.
func ParseCatalog(data []byte) (Catalog, error) {
	var raw Catalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if raw.Version == 0 {
		raw.Version = CatalogVersion
	}
	if raw.Version != CatalogVersion {
		return Catalog{}, fmt.Errorf("unsupported catalog version %d (expected %d)", raw.Version, CatalogVersion)
	}
	out := Catalog{Version: raw.Version, Subjects: make([]schema.Subject, 0, len(raw.Subjects))}
	seen := make(map[string]struct{}, len(raw.Subjects))
	for i, subject := range raw.Subjects {
		normalized, err := schema.NormalizeSubject(subject)
		if err != nil {
			return Catalog{}, fmt.Errorf("subject %d: %w", i, err)
		}
		key := subjectKey(normalized)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Subjects = append(out.Subjects, normalized)
	}
	if len(out.Subjects) == 0 {
		return Catalog{}, errors.New("catalog has no subjects")
	}
	return out, nil
}

// subjectKey identifies a subject regardless of confidence and letter case.
func subjectKey(s schema.Subject) string {
	return strings.ToLower(strings.Join([]string{
		string(s.Kind), s.Make, s.Model, s.Generation, s.FirstName, s.LastName,
	}, "\x00"))
}
