package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/equipment-availability/internal/availability"
)

// Document is the YAML layout of a catalog file.
//
//	units:
//	  - id: cam-001
//	    category: cinema-camera
//	    bookable: true
//	    created_at: 2023-01-10T00:00:00Z
//	    attributes:
//	      sensor_mm: 35
type Document struct {
	Units []UnitEntry `yaml:"units"`
}

// UnitEntry is one unit in a catalog file. Bookable defaults to true.
type UnitEntry struct {
	ID         string             `yaml:"id"`
	Category   string             `yaml:"category"`
	Bookable   *bool              `yaml:"bookable"`
	CreatedAt  time.Time          `yaml:"created_at"`
	Attributes map[string]float64 `yaml:"attributes"`
}

// Decode parses a catalog document into a snapshot.
func Decode(r io.Reader) (*Static, error) {
	var doc Document
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	units := make([]availability.EquipmentUnit, 0, len(doc.Units))
	for _, entry := range doc.Units {
		bookable := true
		if entry.Bookable != nil {
			bookable = *entry.Bookable
		}
		units = append(units, availability.EquipmentUnit{
			ID:         entry.ID,
			CategoryID: entry.Category,
			Bookable:   bookable,
			CreatedAt:  entry.CreatedAt.UTC(),
			Attributes: entry.Attributes,
		})
	}
	return NewStatic(units...)
}

// LoadFile reads the catalog file at path.
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// FileLoader returns a Loader that re-reads path on every call.
func FileLoader(path string) Loader {
	return func(ctx context.Context) (*Static, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return LoadFile(path)
	}
}
