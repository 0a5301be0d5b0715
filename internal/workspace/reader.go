// Package workspace provides read-only access to the target repository for
// prompt context, and change tracking while a command runs.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/coderelay/coderelay/pkg/types"
)

const (
	// DefaultMaxListing caps the number of paths in a workspace listing.
	DefaultMaxListing = 500
	// DefaultMaxFileBytes caps the bytes read from a single context file.
	DefaultMaxFileBytes = 64 * 1024
)

// DefaultIgnore is the baseline set of patterns excluded from listings.
var DefaultIgnore = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	"**/*.lock",
	"dist/**",
	"build/**",
}

// Reader retrieves text from one repository root. It never writes.
type Reader struct {
	root         string
	ignore       []string
	maxListing   int
	maxFileBytes int
}

// NewReader creates a reader rooted at the given repository reference.
func NewReader(root string, cfg types.WorkspaceConfig) *Reader {
	r := &Reader{
		root:         root,
		ignore:       append(append([]string(nil), DefaultIgnore...), cfg.Ignore...),
		maxListing:   cfg.MaxListing,
		maxFileBytes: cfg.MaxFileBytes,
	}
	if r.maxListing <= 0 {
		r.maxListing = DefaultMaxListing
	}
	if r.maxFileBytes <= 0 {
		r.maxFileBytes = DefaultMaxFileBytes
	}
	return r
}

// Root returns the repository root the reader is bound to.
func (r *Reader) Root() string {
	return r.root
}

// Listing walks the repository and returns relative paths, sorted, bounded
// by the configured listing cap.
func (r *Reader) Listing(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(r.root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if r.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		paths = append(paths, rel)
		if len(paths) >= r.maxListing {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace listing: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// ReadFile returns the contents of a repository-relative file, truncated to
// the configured byte cap. Paths escaping the root are rejected.
func (r *Reader) ReadFile(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full := filepath.Join(r.root, filepath.FromSlash(rel))
	resolved, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(r.root)
	if err != nil {
		return "", err
	}
	if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	if len(data) > r.maxFileBytes {
		data = data[:r.maxFileBytes]
	}
	return string(data), nil
}

// BuildContext assembles the prompt context block selected by opts. An
// empty block (no directives) yields "".
func (r *Reader) BuildContext(ctx context.Context, opts types.ContextOptions) (string, error) {
	var b strings.Builder

	if opts.IncludeWorkspace {
		paths, err := r.Listing(ctx)
		if err != nil {
			return "", err
		}
		b.WriteString("Workspace files:\n")
		for _, p := range paths {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}

	for _, name := range opts.Files {
		content, err := r.ReadFile(ctx, name)
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "File %s:\n```\n%s\n```\n", name, content)
	}

	return b.String(), nil
}

// Ignored reports whether a relative path matches any ignore pattern. The
// change tracker uses it as its filter so filesChanged honors the same
// exclusions as listings.
func (r *Reader) Ignored(rel string) bool {
	for _, pattern := range r.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// Directory patterns like ".git/**" also exclude the directory itself.
		if prefix, found := strings.CutSuffix(pattern, "/**"); found && rel == prefix {
			return true
		}
	}
	return false
}
