// Package fingerprint computes content fingerprints of product directories.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

// Length is the number of hex characters kept from a digest.
const Length = 16

// Fingerprinter summarizes a directory's content. Equal content yields equal
// fingerprints; any byte change yields a different one.
type Fingerprinter interface {
	Strategy() string
	Fingerprint(ctx context.Context, dir string) (string, error)
}

// New returns the fingerprinter for a strategy name. The auto strategy
// chooses git when root is inside a repository.
func New(strategy, root string) (Fingerprinter, error) {
	switch strategy {
	case catalog.FingerprintHash:
		return Hash{}, nil
	case catalog.FingerprintGit:
		repo, err := openRepo(root)
		if err != nil {
			return nil, fmt.Errorf("git fingerprints need a repository at %s: %w", root, err)
		}
		return &Git{repo: repo}, nil
	case catalog.FingerprintAuto, "":
		if repo, err := openRepo(root); err == nil {
			return &Git{repo: repo}, nil
		}
		return Hash{}, nil
	}
	return nil, fmt.Errorf("unknown fingerprint strategy %q", strategy)
}

// Hash fingerprints the sorted relative paths and contents of every file
// under a directory.
type Hash struct{}

func (Hash) Strategy() string { return catalog.FingerprintHash }

func (Hash) Fingerprint(ctx context.Context, dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NotFoundError("product directory", dir)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		h.Write([]byte(rel))
		h.Write([]byte{0})
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", rel, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:Length], nil
}

// Git fingerprints a directory by the git tree hash of its worktree
// content. Files matched by .gitignore are left out. The result depends
// only on the bytes on disk, so committing unchanged content keeps the
// fingerprint, and a clean directory matches its tree hash at HEAD.
type Git struct {
	repo *git.Repository
}

func (g *Git) Strategy() string { return catalog.FingerprintGit }

func (g *Git) Fingerprint(ctx context.Context, dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NotFoundError("product directory", dir)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}

	rel, err := g.relPath(dir)
	if err != nil {
		return "", err
	}
	wt, err := g.repo.Worktree()
	if err != nil {
		return "", err
	}
	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read ignore patterns: %w", err)
	}
	patterns = append(patterns, wt.Excludes...)

	var base []string
	if rel != "." {
		base = strings.Split(rel, "/")
	}
	h, _, err := treeHash(ctx, dir, base, gitignore.NewMatcher(patterns))
	if err != nil {
		return "", err
	}
	return h.String()[:Length], nil
}

// treeHash encodes dir as a git tree object and returns its hash and the
// number of entries. parts is dir's path from the repository root.
func treeHash(ctx context.Context, dir string, parts []string, m gitignore.Matcher) (plumbing.Hash, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return plumbing.ZeroHash, 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var tree object.Tree
	for _, d := range entries {
		if err := ctx.Err(); err != nil {
			return plumbing.ZeroHash, 0, err
		}
		name := d.Name()
		if name == ".git" {
			continue
		}
		path := append(append([]string{}, parts...), name)
		full := filepath.Join(dir, name)

		if d.IsDir() {
			if m.Match(path, true) {
				continue
			}
			h, n, err := treeHash(ctx, full, path, m)
			if err != nil {
				return plumbing.ZeroHash, 0, err
			}
			// git does not track empty directories
			if n == 0 {
				continue
			}
			tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
			continue
		}
		if m.Match(path, false) {
			continue
		}

		info, err := d.Info()
		if err != nil {
			return plumbing.ZeroHash, 0, err
		}
		mode, err := filemode.NewFromOSFileMode(info.Mode())
		if err != nil {
			continue
		}
		var content []byte
		switch mode {
		case filemode.Symlink:
			target, err := os.Readlink(full)
			if err != nil {
				return plumbing.ZeroHash, 0, err
			}
			content = []byte(filepath.ToSlash(target))
		case filemode.Regular, filemode.Executable, filemode.Deprecated:
			if content, err = os.ReadFile(full); err != nil {
				return plumbing.ZeroHash, 0, fmt.Errorf("failed to read %s: %w", full, err)
			}
		default:
			continue
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: name,
			Mode: mode,
			Hash: plumbing.ComputeHash(plumbing.BlobObject, content),
		})
	}

	sort.Sort(object.TreeEntrySorter(tree.Entries))
	obj := &plumbing.MemoryObject{}
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, 0, fmt.Errorf("failed to encode tree for %s: %w", dir, err)
	}
	return obj.Hash(), len(tree.Entries), nil
}

func (g *Git) relPath(dir string) (string, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return "", err
	}
	root, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the repository", dir)
	}
	return filepath.ToSlash(rel), nil
}

// Uncommitted lists the files under paths with staged, unstaged or
// untracked changes in the repository containing root. Paths are relative
// to the repository root. It returns nil outside a repository.
func Uncommitted(root string, paths ...string) ([]string, error) {
	repo, err := openRepo(root)
	if err != nil {
		if stderrors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, err
	}
	return uncommitted(repo, paths)
}

func uncommitted(repo *git.Repository, paths []string) ([]string, error) {
	g := &Git{repo: repo}
	var prefixes []string
	for _, p := range paths {
		rel, err := g.relPath(p)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, rel)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read git status: %w", err)
	}

	var files []string
	for file, s := range status {
		if s.Worktree == git.Unmodified && s.Staging == git.Unmodified {
			continue
		}
		for _, prefix := range prefixes {
			if prefix == "." || file == prefix || strings.HasPrefix(file, prefix+"/") {
				files = append(files, file)
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// CommitPaths stages every change under paths and commits it with message.
// The author comes from git config, falling back to catalogctl. It returns
// the new commit, or "" when there was nothing to commit.
func CommitPaths(root, message string, paths ...string) (string, error) {
	repo, err := openRepo(root)
	if err != nil {
		return "", err
	}
	files, err := uncommitted(repo, paths)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	for _, file := range files {
		if _, err := wt.Add(file); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", file, err)
		}
	}

	author := &object.Signature{Name: "catalogctl", Email: "catalogctl@localhost", When: time.Now()}
	if cfg, err := repo.ConfigScoped(config.SystemScope); err == nil && cfg.User.Name != "" && cfg.User.Email != "" {
		author.Name = cfg.User.Name
		author.Email = cfg.User.Email
	}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: author})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Commit returns the HEAD commit of the repository containing root, or ""
// when root is not in a repository.
func Commit(root string) string {
	repo, err := openRepo(root)
	if err != nil {
		return ""
	}
	ref, err := repo.Head()
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

func openRepo(root string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if stderrors.Is(err, git.ErrRepositoryNotExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}
