package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/davidthor/catalogctl/pkg/artifact"
	"github.com/davidthor/catalogctl/pkg/detector"
	"github.com/davidthor/catalogctl/pkg/engine/executor"
	"github.com/davidthor/catalogctl/pkg/engine/planner"
	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/fingerprint"
	"github.com/davidthor/catalogctl/pkg/oci"
	"github.com/davidthor/catalogctl/pkg/provisioner"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// Publish registers a new version of every changed product, in dependency
// order.
func (e *Engine) Publish(ctx context.Context, opts Options) (*Report, error) {
	env, err := e.catalog.Environment(opts.Environment)
	if err != nil {
		return nil, err
	}
	if err := e.commitChanges(ctx, opts); err != nil {
		return nil, err
	}
	cs, err := e.detector().Classify(ctx, env.Name, detector.Options{Subset: opts.Products, Force: opts.Force})
	if err != nil {
		return nil, err
	}

	stage := func(ctx context.Context, name string) (*executor.Result, error) {
		if !cs.Class(name).Changed() {
			return &executor.Result{Status: StatusSkippedUnchanged, Reason: "content unchanged since last publish"}, nil
		}
		if opts.DryRun {
			return &executor.Result{Status: StatusPlanned, Reason: "would publish (" + string(cs.Class(name)) + ")"}, nil
		}
		return e.publishProduct(ctx, env, cs, name)
	}
	return e.execute(ctx, planner.OperationPublish, env.Name, cs.Selected, opts, stage)
}

// publishProduct runs the publish pipeline for one product. State changes
// only after the backend registered the version.
func (e *Engine) publishProduct(ctx context.Context, env *catalog.Environment, cs *detector.ChangeSet, name string) (*executor.Result, error) {
	product, _ := e.catalog.Product(name)
	logger := zerolog.Ctx(ctx).With().Str("product", name).Logger()

	current, err := e.record(ctx, env.Name, name)
	if err != nil {
		return nil, err
	}
	previous := ""
	if current != nil {
		previous = current.Version
	}
	ver := e.versions.Next(previous)
	fp := cs.Fingerprints[name]
	commit := fingerprint.Commit(e.catalog.Root)

	dir := e.catalog.ProductDir(product)
	template := filepath.Join(dir, e.catalog.Settings.TemplateFile)
	if _, err := os.Stat(template); err != nil {
		return nil, errors.PublishError(name, fmt.Errorf("template not found: %w", err))
	}

	req := provisioner.PublishRequest{
		Environment:  env.Name,
		Product:      product,
		ProductID:    env.ProductIDs[name],
		Version:      ver,
		TemplatePath: template,
		Description:  describe(ver, commit, fp),
	}

	if registry := e.catalog.Settings.ArtifactRegistry; registry != "" {
		archive, cleanup, err := e.mirrorVersion(ctx, product, registry, ver, fp, commit)
		if err != nil {
			return nil, errors.PublishError(name, err)
		}
		defer cleanup()
		req.ArchivePath = archive
	}

	logger.Debug().Str("version", ver).Msg("publishing")
	var result *provisioner.PublishResult
	err = e.call(ctx, "publish", func(ctx context.Context) error {
		var err error
		result, err = e.provisioner.PublishVersion(ctx, req)
		return err
	})
	if err != nil {
		return nil, errors.PublishError(name, err)
	}

	depVersions, err := e.dependencyVersions(ctx, env.Name, product)
	if err != nil {
		return nil, err
	}
	publishedAt := e.now().UTC()
	_, err = e.commit(ctx, env.Name, name, func(rec *types.ProductRecord) error {
		rec.DependencyVersions = depVersions
		rec.Fingerprint = fp
		rec.Version = ver
		rec.VersionID = result.VersionID
		rec.PublishedAt = publishedAt
		rec.PublishedCommit = commit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &executor.Result{Status: StatusSucceeded, Version: ver, Reason: "published " + ver}, nil
}

// commitChanges makes sure the recorded commit contains the published
// content. Uncommitted changes to the definition file or any product
// directory are committed before the run, or fail it when opts.NoCommit is
// set. Outside a git repository it does nothing.
func (e *Engine) commitChanges(ctx context.Context, opts Options) error {
	logger := zerolog.Ctx(ctx)
	paths := []string{catalog.DefinitionPath(e.catalog.Root)}
	for _, p := range e.catalog.Products {
		paths = append(paths, e.catalog.ProductDir(p))
	}

	files, err := fingerprint.Uncommitted(e.catalog.Root, paths...)
	if err != nil {
		return fmt.Errorf("failed to check for uncommitted changes: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	switch {
	case opts.DryRun:
		logger.Info().Strs("files", files).Msg("would commit uncommitted changes before publishing")
		return nil
	case opts.NoCommit:
		return errors.New(errors.ErrCodeValidation, fmt.Sprintf(
			"%d uncommitted files under the catalog (first: %s); commit them or publish without --no-commit",
			len(files), files[0])).WithDetail("files", files)
	}

	message := "Publish: auto-commit before publish"
	if len(opts.Products) > 0 {
		message = "Publish: " + strings.Join(opts.Products, ", ")
	}
	hash, err := fingerprint.CommitPaths(e.catalog.Root, message, paths...)
	if err != nil {
		return err
	}
	logger.Info().Str("commit", short(hash)).Int("files", len(files)).Msg(message)
	return nil
}

// dependencyVersions returns the published version of each of product's
// dependencies. The map is never nil so the record marks that versions were
// tracked.
func (e *Engine) dependencyVersions(ctx context.Context, env string, product *catalog.Product) (map[string]string, error) {
	doc, err := e.store.Load(ctx, env)
	if err != nil {
		return nil, err
	}
	versions := make(map[string]string, len(product.Dependencies))
	for _, dep := range product.Dependencies {
		versions[dep] = ""
		if rec := doc.Product(dep); rec != nil {
			versions[dep] = rec.Version
		}
	}
	return versions, nil
}

// mirrorVersion packages the product and pushes it to the artifact
// registry. The returned archive is removed by cleanup.
func (e *Engine) mirrorVersion(ctx context.Context, product *catalog.Product, registry, ver, fp, commit string) (string, func(), error) {
	tmp, err := os.MkdirTemp("", "catalogctl-publish-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmp) }

	archivePath := filepath.Join(tmp, product.Name+".tar")
	if _, err := artifact.Package(e.catalog.ProductDir(product), archivePath, artifact.Options{}); err != nil {
		cleanup()
		return "", nil, err
	}

	if e.mirror == nil {
		return archivePath, cleanup, nil
	}

	ref, err := oci.ProductReference(registry, product.Name, ver)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	layer, err := os.ReadFile(archivePath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to read archive: %w", err)
	}
	digest, err := e.mirror.Push(ctx, &oci.Artifact{
		Reference: ref,
		Config: oci.ProductConfig{
			SchemaVersion: types.SchemaVersion,
			Product:       product.Name,
			Version:       ver,
			Fingerprint:   fp,
			Commit:        commit,
			Dependencies:  product.Dependencies,
			PublishedAt:   e.now().UTC().Format("2006-01-02T15:04:05Z"),
		},
		Layer: layer,
		Annotations: map[string]string{
			oci.AnnotationProduct: product.Name,
			oci.AnnotationVersion: ver,
		},
	})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	zerolog.Ctx(ctx).Debug().Str("reference", ref).Str("digest", digest).Msg("mirrored product")
	return archivePath, cleanup, nil
}

// describe is the version description shown in the backend.
func describe(ver, commit, fp string) string {
	if commit != "" {
		return fmt.Sprintf("Version %s (commit: %s)", ver, short(commit))
	}
	return fmt.Sprintf("Version %s (hash: %s)", ver, short(fp))
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
