// Package apicatalog models and loads the API catalog JSON document: an
// ordered list of versions, each naming the base URLs and API definitions
// available in that version.
package apicatalog

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/flowsmith/flowctl/internal/flowerrors"
)

// APIDefinition describes one named upstream API within a catalog version.
type APIDefinition struct {
	Name      string            `json:"name"`
	SwaggerURL string           `json:"swaggerUrl"`
	BaseURL   map[string]string `json:"baseUrl,omitempty"`
	BasePath  string            `json:"basePath,omitempty"`
}

// Version is one entry of the catalog's ordered version list.
type Version struct {
	Version     string            `json:"version"`
	BaseURL     map[string]string `json:"baseUrl"`
	Definitions []APIDefinition   `json:"definitions"`
}

// Catalog is the full, ordered API catalog.
type Catalog struct {
	Versions []Version
}

// Load reads and parses an API catalog JSON file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, flowerrors.Wrap(err, "failed to read API catalog "+path)
	}
	var versions []Version
	if err := json.Unmarshal(raw, &versions); err != nil {
		return nil, flowerrors.Wrap(err, "failed to parse API catalog "+path)
	}
	return &Catalog{Versions: versions}, nil
}

// FindVersion returns the catalog version with the given version string,
// case-insensitively.
func (c *Catalog) FindVersion(version string) (*Version, bool) {
	for i := range c.Versions {
		if strings.EqualFold(c.Versions[i].Version, version) {
			return &c.Versions[i], true
		}
	}
	return nil, false
}

// FindDefinition returns the API definition named ref within this version,
// case-insensitively.
func (v *Version) FindDefinition(ref string) (*APIDefinition, bool) {
	for i := range v.Definitions {
		if strings.EqualFold(v.Definitions[i].Name, ref) {
			return &v.Definitions[i], true
		}
	}
	return nil, false
}

// BaseURLFor resolves the base URL for environment env, preferring the
// definition's own per-environment override and falling back to the
// version-level map.
func (v *Version) BaseURLFor(def *APIDefinition, env string) (string, bool) {
	if def.BaseURL != nil {
		if u, ok := lookupEnv(def.BaseURL, env); ok {
			return u, true
		}
	}
	return lookupEnv(v.BaseURL, env)
}

func lookupEnv(m map[string]string, env string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, env) {
			return v, true
		}
	}
	return "", false
}

// CombineURL joins a base URL and an optional base path, normalizing the
// single slash between them.
func CombineURL(baseURL, basePath string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	if basePath == "" {
		return baseURL
	}
	return baseURL + "/" + strings.Trim(basePath, "/")
}
