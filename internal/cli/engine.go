package cli

import (
	"os"

	"github.com/spf13/viper"

	"github.com/davidthor/catalogctl/pkg/engine"
	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/metrics"
	"github.com/davidthor/catalogctl/pkg/oci"
	"github.com/davidthor/catalogctl/pkg/provisioner"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

// loadCatalog finds and loads the project definition. --project (or the
// project config key) wins over searching upwards from the working
// directory.
func loadCatalog() (*catalog.Catalog, error) {
	root := projectDir
	if root == "" {
		root = viper.GetString("project")
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if root, err = catalog.Discover(cwd); err != nil {
			return nil, err
		}
	}
	return catalog.LoadFile(catalog.DefinitionPath(root))
}

// project is a loaded catalog wired to its state store.
type project struct {
	catalog *catalog.Catalog
	engine  *engine.Engine
	metrics *metrics.Metrics
}

// openProject loads the catalog and builds an engine. The provisioner for
// envName is created only when withProvisioner is set, so plan, status and
// dry runs never need backend credentials.
func openProject(envName string, withProvisioner bool) (*project, error) {
	c, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	env, err := c.Environment(envName)
	if err != nil {
		return nil, usageError(err)
	}

	m := metrics.New()
	store, err := createStore(c, m)
	if err != nil {
		return nil, err
	}

	cfg := engine.Config{
		Catalog: c,
		Store:   store,
		Metrics: m,
	}
	if withProvisioner {
		p, err := provisioner.New(env, provisioner.Options{
			CallTimeout:  c.Settings.CallTimeout,
			PollInterval: c.Settings.PollInterval,
		})
		if err != nil {
			return nil, errors.BackendError(env.Provisioner, "configure", err)
		}
		cfg.Provisioner = p
	}
	if c.Settings.ArtifactRegistry != "" {
		var opts []oci.Option
		if os.Getenv("CATALOGCTL_REGISTRY_INSECURE") == "true" {
			opts = append(opts, oci.WithInsecure())
		}
		cfg.Mirror = oci.NewClient(opts...)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	return &project{catalog: c, engine: eng, metrics: m}, nil
}

// writeMetrics writes the run's metrics when --metrics-file is set.
func (p *project) writeMetrics() error {
	if metricsFile == "" {
		return nil
	}
	return p.metrics.WriteFile(metricsFile)
}
