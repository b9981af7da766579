package catalog

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// newValidator returns a validator that reports yaml field names and knows
// the "catalogname" tag.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("catalogname", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	return v
}

// ParseMapping parses a "dependency.output" parameter source.
func ParseMapping(source string) (Mapping, error) {
	dep, out, ok := strings.Cut(source, ".")
	if !ok || dep == "" || out == "" || strings.Contains(out, ".") ||
		strings.ContainsAny(source, " \t\n") {
		return Mapping{}, fmt.Errorf("malformed mapping %q: expected <dependency>.<output>", source)
	}
	return Mapping{Dependency: dep, Output: out}, nil
}

// validate runs struct-level checks on the raw definition and semantic
// checks on the built catalog.
func validate(raw *catalogV1, c *Catalog) []string {
	v := newValidator()
	var problems []string

	problems = append(problems, structProblems(v, "settings", raw.Settings)...)
	for _, e := range raw.Environments {
		prefix := "environments." + e.Name
		problems = append(problems, nameProblems(v, "environment", e.Name)...)
		problems = append(problems, structProblems(v, prefix, e.Value)...)
	}
	for _, e := range raw.Products {
		problems = append(problems, nameProblems(v, "product", e.Name)...)
		problems = append(problems, structProblems(v, "products."+e.Name, e.Value)...)
	}

	for _, p := range c.Products {
		problems = append(problems, productProblems(c, p)...)
	}

	for _, env := range c.Environments {
		for _, name := range sortedKeys(env.ProductIDs) {
			if _, ok := c.Product(name); !ok {
				problems = append(problems, fmt.Sprintf(
					"environment %q: product id given for unknown product %q", env.Name, name))
			}
		}
	}

	return problems
}

func productProblems(c *Catalog, p *Product) []string {
	var problems []string

	seen := make(map[string]bool, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		if seen[dep] {
			problems = append(problems, fmt.Sprintf("product %q: dependency %q listed more than once", p.Name, dep))
			continue
		}
		seen[dep] = true
		if _, ok := c.Product(dep); !ok {
			problems = append(problems, fmt.Sprintf("product %q: unknown dependency %q", p.Name, dep))
		}
	}

	outputs := make(map[string]bool, len(p.Outputs))
	for _, o := range p.Outputs {
		if outputs[o] {
			problems = append(problems, fmt.Sprintf("product %q: output %q declared more than once", p.Name, o))
		}
		outputs[o] = true
	}

	envParam := c.Settings.EnvironmentParameter
	for _, param := range sortedKeys(p.Parameters) {
		m := p.Parameters[param]
		if envParam != "" && param == envParam {
			problems = append(problems, fmt.Sprintf(
				"product %q: parameter %q is reserved for the environment name", p.Name, param))
		}
		dep, ok := c.Product(m.Dependency)
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf(
				"product %q: parameter %q maps from unknown product %q", p.Name, param, m.Dependency))
		case !p.DependsOn(m.Dependency):
			problems = append(problems, fmt.Sprintf(
				"product %q: parameter %q maps from %q, which is not listed in dependencies", p.Name, param, m.Dependency))
		case !dep.DeclaresOutput(m.Output):
			problems = append(problems, fmt.Sprintf(
				"product %q: parameter %q maps from unknown output %q of %q", p.Name, param, m.Output, m.Dependency))
		}
	}

	return problems
}

func nameProblems(v *validator.Validate, kind, name string) []string {
	if err := v.Var(name, "required,max=64,catalogname"); err != nil {
		return []string{fmt.Sprintf("%s name %q must be 1-64 letters, digits, '-' or '_' and start with a letter or digit", kind, name)}
	}
	return nil
}

func structProblems(v *validator.Validate, prefix string, s interface{}) []string {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, found := strings.Cut(field, "."); found {
			field = rest
		}
		msg := fmt.Sprintf("%s.%s: failed %q", prefix, field, fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s.%s: failed %q (%s)", prefix, field, fe.Tag(), fe.Param())
		}
		problems = append(problems, msg)
	}
	return problems
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
