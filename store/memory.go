package store

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"sync"
)

// Memory implements Backend entirely in memory. It is intended for testing.
// Object URLs have the form mem://area/key.
type Memory struct {
	m       sync.RWMutex
	objects map[string][]byte
	owners  map[string]string
	deletes map[string]int
}

var _ Backend = &Memory{}

// NewMemory returns a new, empty memory backend.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		owners:  make(map[string]string),
		deletes: make(map[string]int),
	}
}

func (ms *Memory) Upload(ctx context.Context, logicalPath string, r io.Reader, location string) (string, Handle, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return "", Handle{}, err
	}
	u := joinURL(location, keyFor(logicalPath))
	ms.m.Lock()
	ms.objects[u] = data
	ms.m.Unlock()
	return u, Handle{URL: u}, nil
}

func (ms *Memory) SetPermissions(ctx context.Context, h Handle, owner string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, ok := ms.objects[h.URL]; !ok {
		return ErrNotFound
	}
	ms.owners[h.URL] = owner
	return nil
}

func (ms *Memory) Move(ctx context.Context, srcurl, newLocation, newPath, newFilename string) (string, error) {
	dest := joinURL(newLocation, keyFor(newPath, newFilename))
	if dest == srcurl {
		return srcurl, nil
	}
	ms.m.Lock()
	defer ms.m.Unlock()
	data, ok := ms.objects[srcurl]
	if !ok {
		return "", ErrNotFound
	}
	ms.objects[dest] = data
	ms.owners[dest] = ms.owners[srcurl]
	delete(ms.objects, srcurl)
	delete(ms.owners, srcurl)
	return dest, nil
}

func (ms *Memory) Delete(ctx context.Context, srcurl string) error {
	ms.m.Lock()
	delete(ms.objects, srcurl)
	delete(ms.owners, srcurl)
	ms.deletes[srcurl]++
	ms.m.Unlock()
	return nil
}

func (ms *Memory) Download(ctx context.Context, srcurl string) (io.ReadCloser, int64, error) {
	ms.m.RLock()
	data, ok := ms.objects[srcurl]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	return ioutil.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// Owner returns the recorded owner of an object. Intended for testing.
func (ms *Memory) Owner(url string) string {
	ms.m.RLock()
	defer ms.m.RUnlock()
	return ms.owners[url]
}

// DeleteCount returns how many times Delete was called for url. Intended
// for testing.
func (ms *Memory) DeleteCount(url string) int {
	ms.m.RLock()
	defer ms.m.RUnlock()
	return ms.deletes[url]
}
