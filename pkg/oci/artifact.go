// Package oci mirrors packaged product versions to an OCI registry.
package oci

import (
	"fmt"
	"strings"
)

// MediaTypeProductLayer is the layer media type of mirrored products.
const MediaTypeProductLayer = "application/vnd.catalogctl.product.layer.v1.tar"

// Label and annotation keys set on mirrored artifacts.
const (
	LabelDependencies     = "io.catalogctl.dependencies"
	LabelPublishedAt      = "io.catalogctl.published-at"
	LabelSchemaVersion    = "io.catalogctl.schema-version"

	AnnotationProduct     = "io.catalogctl.product"
	AnnotationVersion     = "io.catalogctl.version"
	AnnotationFingerprint = "io.catalogctl.fingerprint"
	AnnotationCommit      = "io.catalogctl.commit"
)

// Artifact is a packaged product version.
type Artifact struct {
	Reference   string // OCI reference (repo:tag)
	Config      ProductConfig
	Layer       []byte // tar of the product directory
	Annotations map[string]string
}

// ProductConfig is stored as labels on the artifact config.
type ProductConfig struct {
	SchemaVersion string
	Product       string
	Version       string
	Fingerprint   string
	Commit        string
	Dependencies  []string
	PublishedAt   string
}

func (c ProductConfig) labels() map[string]string {
	labels := map[string]string{
		LabelSchemaVersion: c.SchemaVersion,
		AnnotationProduct:  c.Product,
		AnnotationVersion:  c.Version,
	}
	if c.Fingerprint != "" {
		labels[AnnotationFingerprint] = c.Fingerprint
	}
	if c.Commit != "" {
		labels[AnnotationCommit] = c.Commit
	}
	if len(c.Dependencies) > 0 {
		labels[LabelDependencies] = strings.Join(c.Dependencies, ",")
	}
	if c.PublishedAt != "" {
		labels[LabelPublishedAt] = c.PublishedAt
	}
	return labels
}

func configFromLabels(labels map[string]string) ProductConfig {
	c := ProductConfig{
		SchemaVersion: labels[LabelSchemaVersion],
		Product:       labels[AnnotationProduct],
		Version:       labels[AnnotationVersion],
		Fingerprint:   labels[AnnotationFingerprint],
		Commit:        labels[AnnotationCommit],
		PublishedAt:   labels[LabelPublishedAt],
	}
	if deps := labels[LabelDependencies]; deps != "" {
		c.Dependencies = strings.Split(deps, ",")
	}
	return c
}

// ProductReference is the mirror reference for a product version. OCI tags
// cannot contain '+' so it is replaced.
func ProductReference(registry, product, version string) (string, error) {
	registry = strings.TrimSuffix(registry, "/")
	if registry == "" {
		return "", fmt.Errorf("artifact registry is not configured")
	}
	tag := strings.ReplaceAll(version, "+", "_")
	return fmt.Sprintf("%s/%s:%s", registry, strings.ToLower(product), tag), nil
}
