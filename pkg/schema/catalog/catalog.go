// Package catalog provides the validated catalog model: products, their
// dependencies and parameter mappings, and the environments they deploy to.
package catalog

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/davidthor/catalogctl/pkg/errors"
)

// Fingerprint strategies.
const (
	FingerprintAuto = "auto"
	FingerprintHash = "hash"
	FingerprintGit  = "git"
)

// Defaults applied when the definition omits a setting.
const (
	DefaultVersionFormat        = "%Y.%m.%d.%H%M%S"
	DefaultProductsDir          = "products"
	DefaultTemplateFile         = "template.yaml"
	DefaultEnvironmentParameter = "Environment"
	DefaultProvisioner          = "servicecatalog"
	DefaultRetries              = 3
	DefaultCallTimeout          = 20 * time.Minute
	DefaultPollInterval         = 10 * time.Second
)

// Catalog is the validated set of products and environments.
type Catalog struct {
	// Root is the project directory that product paths are relative to.
	Root string

	Settings     Settings
	Environments []*Environment
	Products     []*Product

	index    map[string]int
	envIndex map[string]int
}

// Settings holds catalog-wide options.
type Settings struct {
	VersionFormat        string
	Fingerprint          string
	ProductsDir          string
	TemplateFile         string
	ArtifactRegistry     string
	EnvironmentParameter string
	Retries              int
	CallTimeout          time.Duration
	PollInterval         time.Duration
	Parallelism          int
	State                StateSettings
}

// StateSettings selects the state backend from the definition file.
type StateSettings struct {
	Backend string
	Config  map[string]string
}

// Environment is a named deployment target.
type Environment struct {
	Name        string
	Provisioner string
	Region      string
	Profile     string
	AccountID   string
	Config      map[string]string
	// ProductIDs maps product names to backend product identifiers.
	ProductIDs map[string]string
}

// Product is a deployable unit.
type Product struct {
	Name          string
	Path          string
	Portfolio     string
	ECRRepository string
	Dependencies  []string
	// Parameters maps a local parameter name to the dependency output that
	// feeds it.
	Parameters map[string]Mapping
	Outputs    []string
	// Order is the declaration index of the product in the definition.
	Order int
}

// Mapping references an output of a dependency.
type Mapping struct {
	Dependency string
	Output     string
}

func (m Mapping) String() string {
	return m.Dependency + "." + m.Output
}

// DeclaresOutput reports whether the product lists name among its outputs.
func (p *Product) DeclaresOutput(name string) bool {
	for _, o := range p.Outputs {
		if o == name {
			return true
		}
	}
	return false
}

// DependsOn reports whether name is a direct dependency of the product.
func (p *Product) DependsOn(name string) bool {
	for _, d := range p.Dependencies {
		if d == name {
			return true
		}
	}
	return false
}

// Product looks up a product by name.
func (c *Catalog) Product(name string) (*Product, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.Products[i], true
}

// Names returns product names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Products))
	for i, p := range c.Products {
		names[i] = p.Name
	}
	return names
}

// Environment looks up an environment by name.
func (c *Catalog) Environment(name string) (*Environment, error) {
	i, ok := c.envIndex[name]
	if !ok {
		return nil, errors.NotFoundError("environment", name)
	}
	return c.Environments[i], nil
}

// ProductDir returns the absolute source directory of a product.
func (c *Catalog) ProductDir(p *Product) string {
	dir := filepath.Join(c.Settings.ProductsDir, p.Path)
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Root, dir)
}

// CheckSelection verifies that every name refers to a declared product.
func (c *Catalog) CheckSelection(names []string) error {
	var unknown []string
	for _, n := range names {
		if _, ok := c.index[n]; !ok {
			unknown = append(unknown, fmt.Sprintf("unknown product %q", n))
		}
	}
	if len(unknown) > 0 {
		return errors.ValidationError("invalid product selection", unknown)
	}
	return nil
}
