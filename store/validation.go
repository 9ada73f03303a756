package store

import (
	"fmt"
	"path"
	"strings"
)

// CheckFilename verifies that name is a bare file name: not empty, not an
// absolute path, no backslashes, and no embedded path separators.
func CheckFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename is empty")
	}
	if strings.Contains(name, `\`) {
		return fmt.Errorf("filename %q contains a backslash", name)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("filename %q must not contain a path", name)
	}
	if isAbsolute(name) {
		return fmt.Errorf("filename %q is an absolute path", name)
	}
	return nil
}

// CheckPath verifies that p is a relative, normalized path that stays inside
// the storage root. The empty path is allowed and means the root itself.
func CheckPath(p string) error {
	if p == "" {
		return nil
	}
	if strings.Contains(p, `\`) {
		return fmt.Errorf("path %q contains a backslash", p)
	}
	if isAbsolute(p) {
		return fmt.Errorf("path %q is absolute", p)
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("path %q traverses outside the storage root", p)
	}
	if cleaned != p {
		return fmt.Errorf("path %q is not normalized", p)
	}
	return nil
}

// SplitPath breaks a client supplied file path into its directory part and
// bare filename, stripping any traversal attempt. It mirrors what a
// "save as" dialog would keep from a dragged-in path.
func SplitPath(filepath string) (dir, filename string) {
	filepath = strings.ReplaceAll(filepath, `\`, "/")
	cleaned := strings.TrimPrefix(path.Clean("/"+filepath), "/")
	dir, filename = path.Split(cleaned)
	return strings.TrimSuffix(dir, "/"), filename
}

// isAbsolute reports whether p is an absolute path on either unix or
// windows (drive letter or UNC).
func isAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return true
	}
	if len(p) >= 2 && p[1] == ':' {
		c := p[0]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			return true
		}
	}
	return false
}
