package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// FileSystem implements Backend on a local filesystem. Object URLs have the
// form file:///absolute/path. Every URL must resolve to a path inside the
// root directory given at creation; anything outside is treated as missing.
type FileSystem struct {
	root string
}

var _ Backend = &FileSystem{}

// NewFileSystem returns a Backend storing objects below the given root
// directory.
func NewFileSystem(root string) (*FileSystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &FileSystem{root: abs}, nil
}

// Upload saves r as logicalPath inside the directory named by location.
func (fs *FileSystem) Upload(ctx context.Context, logicalPath string, r io.Reader, location string) (string, Handle, error) {
	target, err := fs.resolve(location, logicalPath)
	if err != nil {
		return "", Handle{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", Handle{}, errors.Wrap(err, "fs upload")
	}
	f, err := os.Create(target)
	if err != nil {
		return "", Handle{}, errors.Wrap(err, "fs upload")
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		raven.CaptureError(err, map[string]string{"Path": target})
		return "", Handle{}, errors.Wrap(err, "fs upload")
	}
	u := "file://" + target
	return u, Handle{URL: u}, nil
}

// SetPermissions makes the object world readable. Local filesystems have no
// notion of our user accounts, so owner is not recorded.
func (fs *FileSystem) SetPermissions(ctx context.Context, h Handle, owner string) error {
	target, err := fs.path(h.URL)
	if err != nil {
		return err
	}
	return os.Chmod(target, 0644)
}

// Move relocates an object. Moving an object onto itself succeeds without
// touching the filesystem.
func (fs *FileSystem) Move(ctx context.Context, srcurl, newLocation, newPath, newFilename string) (string, error) {
	src, err := fs.path(srcurl)
	if err != nil {
		return "", err
	}
	dest, err := fs.resolve(newLocation, keyFor(newPath, newFilename))
	if err != nil {
		return "", err
	}
	if src == dest {
		return srcurl, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", errors.Wrap(err, "fs move")
	}
	if err := os.Rename(src, dest); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		raven.CaptureError(err, map[string]string{"Source": src, "Dest": dest})
		return "", errors.Wrap(err, "fs move")
	}
	return "file://" + dest, nil
}

// Delete removes an object. A missing object is not an error.
func (fs *FileSystem) Delete(ctx context.Context, srcurl string) error {
	target, err := fs.path(srcurl)
	if err != nil {
		return err
	}
	err = os.Remove(target)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "fs delete")
	}
	return nil
}

// Download opens an object for reading and returns its size.
func (fs *FileSystem) Download(ctx context.Context, srcurl string) (io.ReadCloser, int64, error) {
	target, err := fs.path(srcurl)
	if err != nil {
		return nil, 0, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, errors.Wrap(err, "fs download")
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, 0, errors.Wrap(err, "fs download")
	}
	return f, info.Size(), nil
}

// path converts a file:// URL into an absolute path inside our root.
func (fs *FileSystem) path(rawurl string) (string, error) {
	scheme, host, key, err := splitURL(rawurl)
	if err != nil || scheme != "file" || host != "" {
		return "", errors.Errorf("not a file url: %s", rawurl)
	}
	target := filepath.Clean("/" + key)
	if target != fs.root && !strings.HasPrefix(target, fs.root+string(filepath.Separator)) {
		return "", ErrNotFound
	}
	return target, nil
}

// resolve joins a file:// location with a relative path, verifying the
// result stays inside our root.
func (fs *FileSystem) resolve(location, rel string) (string, error) {
	dir, err := fs.path(location)
	if err != nil {
		return "", errors.Errorf("bad location %s", location)
	}
	target := filepath.Join(dir, filepath.FromSlash(keyFor(rel)))
	if !strings.HasPrefix(target, fs.root+string(filepath.Separator)) {
		return "", errors.Errorf("path escapes storage root: %s", rel)
	}
	return target, nil
}
