package coord

import (
	"fmt"
	"strings"
)

// ValidatePath checks that path is absolute, has no empty segments and no trailing slash.
func ValidatePath(path string) error {
	if path == "" || path[0] != '/' {
		return fmt.Errorf("invalid path %q: must start with /", path)
	}
	if path == "/" {
		return nil
	}
	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("invalid path %q: trailing slash", path)
	}
	for _, segment := range strings.Split(path[1:], "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("invalid path %q: bad segment %q", path, segment)
		}
	}
	return nil
}

// Join builds a path under root, tolerating a trailing slash on root.
func Join(root string, elems ...string) string {
	parts := make([]string, 0, len(elems)+1)
	trimmed := strings.TrimRight(root, "/")
	parts = append(parts, trimmed)
	for _, elem := range elems {
		parts = append(parts, strings.Trim(elem, "/"))
	}
	joined := strings.Join(parts, "/")
	if !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return joined
}

// Parents lists every ancestor of path from the top, excluding "/" and path itself.
func Parents(path string) []string {
	if path == "/" || path == "" {
		return nil
	}
	var parents []string
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			parents = append(parents, path[:i])
		}
	}
	return parents
}

// Parent returns the direct parent of path.
func Parent(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
