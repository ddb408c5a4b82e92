// Package catalog maps model names to their on-disk locations. The catalog
// is built once at server start by scanning the models directory and is
// immutable afterwards; there is no dynamic model registration.
package catalog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// ModelExtension is the file extension that marks a loadable model.
const ModelExtension = ".onnx"

// Catalog holds the known model names and their storage locations.
type Catalog struct {
	names     []string
	locations map[string]string
}

// Scan builds a catalog from the files in dir that carry ModelExtension.
// The model name is the file name without the extension. Entries are kept
// in directory order (sorted by file name), which fixes the enumeration
// order used in error messages. A missing directory yields an empty
// catalog, matching a deployment where no models have shipped yet.
func Scan(dir string) (*Catalog, error) {
	c := &Catalog{locations: make(map[string]string)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Models directory not found: %s", dir)
			return c, nil
		}
		return nil, fmt.Errorf("failed to scan models directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ModelExtension) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ModelExtension)
		c.names = append(c.names, name)
		c.locations[name] = filepath.Join(dir, entry.Name())
	}

	return c, nil
}

// Lookup resolves a model name to its storage location. An unknown name
// fails with an UnknownModelError listing the known names.
func (c *Catalog) Lookup(name string) (string, error) {
	location, ok := c.locations[name]
	if !ok {
		return "", &UnknownModelError{Name: name, Available: c.Names()}
	}
	return location, nil
}

// Names returns the catalog's model names in scan order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Locations returns the storage locations in scan order.
func (c *Catalog) Locations() []string {
	out := make([]string, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.locations[name])
	}
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.names)
}

// UnknownModelError marks a request naming a model absent from the catalog.
// Recovered per-request; the connection stays open.
type UnknownModelError struct {
	Name      string
	Available []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("Unknown model: %s. Available: %v", e.Name, e.Available)
}
