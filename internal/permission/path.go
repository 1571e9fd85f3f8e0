package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// contextRoot resolves the approved directory for a context key. Relative
// keys resolve under the deployment's approved root; absolute keys must
// already live inside it.
func contextRoot(approvedRoot, contextKey string) (string, error) {
	if approvedRoot == "" {
		return "", fmt.Errorf("no approved root configured")
	}
	root := contextKey
	if !filepath.IsAbs(root) {
		root = filepath.Join(approvedRoot, root)
	}
	root = filepath.Clean(root)

	resolvedApproved, err := resolveExisting(filepath.Clean(approvedRoot))
	if err != nil {
		return "", fmt.Errorf("resolve approved root: %w", err)
	}
	resolvedRoot, err := resolveExisting(root)
	if err != nil {
		return "", fmt.Errorf("resolve context root: %w", err)
	}
	if !isDescendant(resolvedApproved, resolvedRoot) {
		return "", fmt.Errorf("context %q escapes approved root", contextKey)
	}
	return resolvedRoot, nil
}

// withinRoot checks that path, after symlink and ".." resolution, is a
// descendant of root. Relative paths are taken relative to root.
func withinRoot(root, path string) error {
	abs := path
	if strings.HasPrefix(abs, "~") {
		return fmt.Errorf("%q resolves outside %q", path, root)
	}
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveExisting(abs)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}
	if !isDescendant(root, resolved) {
		return fmt.Errorf("%q resolves outside %q", path, root)
	}
	return nil
}

// resolveExisting resolves symlinks over the longest existing prefix of
// path, then reattaches the not-yet-existing remainder. Write targets often
// name files that do not exist yet.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Join(current, remainder), nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
