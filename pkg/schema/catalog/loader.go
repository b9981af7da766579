package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidthor/catalogctl/pkg/errors"
)

const (
	// DefinitionDir holds the catalog definition and local state.
	DefinitionDir = ".deployer"
	// DefinitionFile is the catalog definition inside DefinitionDir.
	DefinitionFile = "catalog.yaml"
)

type catalogV1 struct {
	Settings     settingsV1                `yaml:"settings"`
	Environments orderedMap[environmentV1] `yaml:"environments"`
	Products     orderedMap[productV1]     `yaml:"products"`
}

type settingsV1 struct {
	VersionFormat        string  `yaml:"version_format"`
	Fingerprint          string  `yaml:"fingerprint" validate:"omitempty,oneof=auto hash git"`
	ProductsDir          *string `yaml:"products_dir"`
	TemplateFile         string  `yaml:"template_file"`
	ArtifactRegistry     string  `yaml:"artifact_registry"`
	EnvironmentParameter *string `yaml:"environment_parameter"`
	Retries              *int    `yaml:"retries" validate:"omitempty,min=0,max=10"`
	CallTimeout          string  `yaml:"call_timeout"`
	PollInterval         string  `yaml:"poll_interval"`
	Parallelism          int     `yaml:"parallelism" validate:"min=0"`
	State                struct {
		Backend string            `yaml:"backend"`
		Config  map[string]string `yaml:"config"`
	} `yaml:"state"`
}

type environmentV1 struct {
	Provisioner string            `yaml:"provisioner"`
	Region      string            `yaml:"region"`
	Profile     string            `yaml:"profile"`
	AccountID   string            `yaml:"account_id" validate:"omitempty,numeric,len=12"`
	Config      map[string]string `yaml:"config"`
	Products    map[string]string `yaml:"products"`
}

type productV1 struct {
	Path             string            `yaml:"path"`
	Portfolio        string            `yaml:"portfolio"`
	ECRRepository    string            `yaml:"ecr_repository"`
	Dependencies     []string          `yaml:"dependencies" validate:"dive,required"`
	ParameterMapping map[string]string `yaml:"parameter_mapping"`
	Outputs          []string          `yaml:"outputs" validate:"dive,required"`
}

type entry[T any] struct {
	Name  string
	Line  int
	Value T
}

// orderedMap decodes a YAML mapping while keeping key order and duplicate
// keys, so declaration order and duplicate names survive parsing.
type orderedMap[T any] []entry[T]

func (m *orderedMap[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var v T
		if value.Kind != 0 && value.Tag != "!!null" {
			if err := value.Decode(&v); err != nil {
				return err
			}
		}
		*m = append(*m, entry[T]{Name: key.Value, Line: key.Line, Value: v})
	}
	return nil
}

// Load parses and validates a catalog definition. root is the project
// directory product paths are relative to.
func Load(data []byte, root string) (*Catalog, error) {
	return load(data, DefinitionFile, root)
}

func load(data []byte, source, root string) (*Catalog, error) {
	var raw catalogV1
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.ParseError(source, err)
	}

	c, problems := build(&raw)
	problems = append(problems, validate(&raw, c)...)
	if len(problems) > 0 {
		return nil, errors.ValidationError(
			fmt.Sprintf("catalog has %d problem(s)", len(problems)), problems)
	}
	c.Root = root
	return c, nil
}

// LoadFile reads a catalog definition from path. When the file lives in a
// DefinitionDir, the project root is that directory's parent.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, fmt.Sprintf("failed to read %s", path), err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(abs)
	if filepath.Base(root) == DefinitionDir {
		root = filepath.Dir(root)
	}

	return load(data, path, root)
}

// Discover walks up from start looking for DefinitionDir/DefinitionFile and
// returns the project root.
func Discover(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, DefinitionDir, DefinitionFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NotFoundError("catalog definition",
				filepath.Join(DefinitionDir, DefinitionFile))
		}
		dir = parent
	}
}

// DefinitionPath returns the catalog definition path for a project root.
func DefinitionPath(root string) string {
	return filepath.Join(root, DefinitionDir, DefinitionFile)
}

// build converts the raw definition into the catalog model, applying
// defaults. Problems found while converting are returned, not fatal.
func build(raw *catalogV1) (*Catalog, []string) {
	var problems []string
	c := &Catalog{
		index:    make(map[string]int),
		envIndex: make(map[string]int),
	}

	s := raw.Settings
	c.Settings = Settings{
		VersionFormat:        s.VersionFormat,
		Fingerprint:          s.Fingerprint,
		ProductsDir:          DefaultProductsDir,
		TemplateFile:         s.TemplateFile,
		ArtifactRegistry:     s.ArtifactRegistry,
		EnvironmentParameter: DefaultEnvironmentParameter,
		Retries:              DefaultRetries,
		CallTimeout:          DefaultCallTimeout,
		PollInterval:         DefaultPollInterval,
		Parallelism:          s.Parallelism,
		State: StateSettings{
			Backend: s.State.Backend,
			Config:  s.State.Config,
		},
	}
	if c.Settings.VersionFormat == "" {
		c.Settings.VersionFormat = DefaultVersionFormat
	}
	if c.Settings.Fingerprint == "" {
		c.Settings.Fingerprint = FingerprintAuto
	}
	if s.ProductsDir != nil {
		c.Settings.ProductsDir = *s.ProductsDir
	}
	if c.Settings.TemplateFile == "" {
		c.Settings.TemplateFile = DefaultTemplateFile
	}
	if s.EnvironmentParameter != nil {
		c.Settings.EnvironmentParameter = *s.EnvironmentParameter
	}
	if s.Retries != nil {
		c.Settings.Retries = *s.Retries
	}
	if c.Settings.Parallelism == 0 {
		c.Settings.Parallelism = 1
	}
	problems = append(problems, parseDuration("settings.call_timeout", s.CallTimeout, &c.Settings.CallTimeout)...)
	problems = append(problems, parseDuration("settings.poll_interval", s.PollInterval, &c.Settings.PollInterval)...)

	for _, e := range raw.Environments {
		if _, dup := c.envIndex[e.Name]; dup {
			problems = append(problems, fmt.Sprintf("line %d: duplicate environment name %q", e.Line, e.Name))
			continue
		}
		env := &Environment{
			Name:        e.Name,
			Provisioner: e.Value.Provisioner,
			Region:      e.Value.Region,
			Profile:     e.Value.Profile,
			AccountID:   e.Value.AccountID,
			Config:      e.Value.Config,
			ProductIDs:  e.Value.Products,
		}
		if env.Provisioner == "" {
			env.Provisioner = DefaultProvisioner
		}
		c.envIndex[env.Name] = len(c.Environments)
		c.Environments = append(c.Environments, env)
	}

	for _, e := range raw.Products {
		if _, dup := c.index[e.Name]; dup {
			problems = append(problems, fmt.Sprintf("line %d: duplicate product name %q", e.Line, e.Name))
			continue
		}
		p := &Product{
			Name:          e.Name,
			Path:          e.Value.Path,
			Portfolio:     e.Value.Portfolio,
			ECRRepository: e.Value.ECRRepository,
			Dependencies:  e.Value.Dependencies,
			Parameters:    make(map[string]Mapping, len(e.Value.ParameterMapping)),
			Outputs:       e.Value.Outputs,
			Order:         len(c.Products),
		}
		if p.Path == "" {
			p.Path = p.Name
		}
		for _, param := range sortedKeys(e.Value.ParameterMapping) {
			m, err := ParseMapping(e.Value.ParameterMapping[param])
			if err != nil {
				problems = append(problems, fmt.Sprintf("product %q: parameter %q: %v", p.Name, param, err))
				continue
			}
			p.Parameters[param] = m
		}
		c.index[p.Name] = p.Order
		c.Products = append(c.Products, p)
	}

	return c, problems
}

func parseDuration(field, value string, out *time.Duration) []string {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", field, err)}
	}
	if d <= 0 {
		return []string{fmt.Sprintf("%s: must be positive", field)}
	}
	*out = d
	return nil
}
