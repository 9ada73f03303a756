// Package store abstracts the durable byte storage used for file content.
// Content is addressed by opaque location URLs, so the rest of the system
// does not care whether bytes live on S3, on a local filesystem, or in
// memory. Objects are immutable once uploaded; moves and renames only
// change the location, never the content.
//
// The package also provides a tiny key-value store used to persist
// server state as JSON records.
package store

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
)

// ErrNotFound is returned when an object does not exist at the given URL
// or key.
var ErrNotFound = errors.New("object not found")

// A Handle refers to an object just created by Upload, so that follow-up
// calls (such as permission changes) can address it without another lookup.
type Handle struct {
	URL string
}

// A Backend stores file content under opaque URLs. The variant in use is
// fixed at process startup and injected into whoever needs it.
//
// Location arguments name a storage area (a bucket prefix or a directory),
// and logical paths are always relative to a location. Every call takes a
// context since backends may be remote and slow.
type Backend interface {
	// Upload saves the content of r under logicalPath inside location.
	// It returns the URL of the new object.
	Upload(ctx context.Context, logicalPath string, r io.Reader, location string) (string, Handle, error)

	// SetPermissions marks owner as the owner of the object h.
	SetPermissions(ctx context.Context, h Handle, owner string) error

	// Move relocates the object at url to the place named by newLocation,
	// newPath and newFilename, and returns the new URL. Moving an object
	// onto itself is a successful no-op. After Move returns, reading the
	// new URL yields the moved content and the old URL is gone.
	Move(ctx context.Context, url, newLocation, newPath, newFilename string) (string, error)

	// Delete removes the object at url. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, url string) error

	// Download returns the content and size of the object at url.
	// The caller must close the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// splitURL breaks an object URL into its scheme, host (bucket) and key.
// The key has no leading slash.
func splitURL(rawurl string) (scheme, host, key string, err error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", "", "", err
	}
	return u.Scheme, u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// joinURL builds the object URL for the given location and relative path
// pieces. Empty pieces are skipped.
func joinURL(location string, pieces ...string) string {
	result := strings.TrimSuffix(location, "/")
	for _, p := range pieces {
		p = strings.Trim(p, "/")
		if p != "" {
			result = result + "/" + p
		}
	}
	return result
}

// keyFor returns the object key relative to location for the given path
// pieces, cleaned of any dot segments.
func keyFor(pieces ...string) string {
	return strings.TrimPrefix(path.Clean("/"+path.Join(pieces...)), "/")
}
