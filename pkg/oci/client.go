package oci

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/davidthor/catalogctl/pkg/artifact"
)

// Client provides OCI registry operations.
type Client struct {
	auth     authn.Keychain
	insecure bool
}

// Option configures a Client.
type Option func(*Client)

// WithInsecure allows plain HTTP registries.
func WithInsecure() Option {
	return func(c *Client) { c.insecure = true }
}

// WithKeychain overrides the default credential keychain.
func WithKeychain(k authn.Keychain) Option {
	return func(c *Client) { c.auth = k }
}

// NewClient creates a new OCI client.
func NewClient(opts ...Option) *Client {
	c := &Client{auth: authn.DefaultKeychain}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) parse(reference string) (name.Reference, error) {
	var opts []name.Option
	if c.insecure {
		opts = append(opts, name.Insecure)
	}
	ref, err := name.ParseReference(reference, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid reference: %w", err)
	}
	return ref, nil
}

func (c *Client) remoteOptions(ctx context.Context) []remote.Option {
	return []remote.Option{remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx)}
}

// Push pushes an artifact and returns its manifest digest.
func (c *Client) Push(ctx context.Context, a *Artifact) (string, error) {
	ref, err := c.parse(a.Reference)
	if err != nil {
		return "", err
	}

	img := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	img, err = mutate.ConfigFile(img, &v1.ConfigFile{
		Config: v1.Config{Labels: a.Config.labels()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to set config: %w", err)
	}
	img, err = mutate.AppendLayers(img, static.NewLayer(a.Layer, types.MediaType(MediaTypeProductLayer)))
	if err != nil {
		return "", fmt.Errorf("failed to append layer: %w", err)
	}
	if len(a.Annotations) > 0 {
		img = mutate.Annotations(img, a.Annotations).(v1.Image)
	}

	if err := remote.Write(ref, img, c.remoteOptions(ctx)...); err != nil {
		return "", registryError(a.Reference, "push", err)
	}

	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("failed to compute digest: %w", err)
	}
	return digest.String(), nil
}

// Pull extracts the product layer of reference into destDir and returns
// its config.
func (c *Client) Pull(ctx context.Context, reference, destDir string) (*ProductConfig, error) {
	ref, err := c.parse(reference)
	if err != nil {
		return nil, err
	}

	img, err := remote.Image(ref, c.remoteOptions(ctx)...)
	if err != nil {
		return nil, registryError(reference, "pull", err)
	}

	configFile, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	config := configFromLabels(configFile.Config.Labels)

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("failed to get layers: %w", err)
	}
	for _, layer := range layers {
		rc, err := layer.Uncompressed()
		if err != nil {
			return nil, fmt.Errorf("failed to read layer: %w", err)
		}
		err = artifact.Extract(rc, destDir)
		rc.Close()
		if err != nil {
			return nil, err
		}
	}

	return &config, nil
}

// Exists checks if an artifact exists in the registry.
func (c *Client) Exists(ctx context.Context, reference string) (bool, error) {
	ref, err := c.parse(reference)
	if err != nil {
		return false, err
	}

	_, err = remote.Head(ref, c.remoteOptions(ctx)...)
	if err != nil {
		var transportErr *transport.Error
		if errors.As(err, &transportErr) && transportErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, registryError(reference, "check", err)
	}
	return true, nil
}

// registryError translates OCI registry errors into user-friendly messages.
func registryError(reference, op string, err error) error {
	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		for _, diagnostic := range transportErr.Errors {
			switch diagnostic.Code {
			case transport.ManifestUnknownErrorCode:
				return fmt.Errorf("artifact not found: %s does not exist or the tag is invalid", reference)
			case transport.NameUnknownErrorCode:
				return fmt.Errorf("repository not found: %s does not exist in the registry", reference)
			case transport.UnauthorizedErrorCode:
				return fmt.Errorf("authentication required: you may need to log in to access %s", reference)
			case transport.DeniedErrorCode:
				return fmt.Errorf("access denied: you don't have permission to %s %s", op, reference)
			}
		}

		if transportErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("artifact not found: %s does not exist in the registry", reference)
		}
	}

	return fmt.Errorf("failed to %s %s: %w", op, reference, err)
}
