// Package artifact packages a product directory into a tar archive for
// upload alongside its template and for registry mirroring.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/moby/go-archive"
)

// DefaultExcludes are never packaged.
var DefaultExcludes = []string{
	".git",
	".terraform",
	".aws-sam",
	"node_modules",
	"__pycache__",
	".venv",
	"**/.DS_Store",
	"*.tar",
}

// Options control packaging.
type Options struct {
	// Excludes are added to DefaultExcludes. Patterns use .dockerignore syntax.
	Excludes []string
}

// Package writes a tar of dir to dest and returns the archive size.
func Package(dir, dest string, opts Options) (int64, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("product directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("product path %s is not a directory", dir)
	}

	rc, err := Stream(dir, opts)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}
	return n, nil
}

// Stream returns the tar of dir as a stream.
func Stream(dir string, opts Options) (io.ReadCloser, error) {
	excludes := append(append([]string{}, DefaultExcludes...), opts.Excludes...)
	rc, err := archive.TarWithOptions(dir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", dir, err)
	}
	return rc, nil
}

// Extract unpacks a tar produced by Package into dest.
func Extract(r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if err := archive.Untar(r, dest, &archive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}
	return nil
}
