package store

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

// A KV is a minimal key-value store holding small JSON records. It is used
// to persist registry state across restarts. Keys must not contain path
// separators. Create replaces any existing value for the key.
type KV interface {
	List() ([]string, error)
	Open(key string) (io.ReadCloser, error)
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// FileKV keeps each record as a file inside a single directory.
type FileKV struct {
	root string
}

var _ KV = &FileKV{}

// NewFileKV creates the directory root if needed and returns a KV backed
// by it.
func NewFileKV(root string) (*FileKV, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &FileKV{root: root}, nil
}

func (kv *FileKV) List() ([]string, error) {
	f, err := os.Open(kv.root)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, name := range names {
		if filepath.Ext(name) == ".json" {
			result = append(result, name[:len(name)-len(".json")])
		}
	}
	return result, nil
}

func (kv *FileKV) Open(key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(kv.root, key+".json"))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

// Create writes into a scratch file first and renames it into place on
// Close, so a crash mid-write never leaves a truncated record.
func (kv *FileKV) Create(key string) (io.WriteCloser, error) {
	final := filepath.Join(kv.root, key+".json")
	f, err := ioutil.TempFile(kv.root, "scratch-")
	if err != nil {
		return nil, err
	}
	return &renameOnClose{File: f, final: final}, nil
}

func (kv *FileKV) Delete(key string) error {
	err := os.Remove(filepath.Join(kv.root, key+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type renameOnClose struct {
	*os.File
	final string
}

func (f *renameOnClose) Close() error {
	if err := f.File.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), f.final)
}

// MemoryKV is an in-memory KV for testing and for servers that do not need
// durable state.
type MemoryKV struct {
	m       sync.RWMutex
	records map[string][]byte
}

var _ KV = &MemoryKV{}

// NewMemoryKV returns a new, empty memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{records: make(map[string][]byte)}
}

func (kv *MemoryKV) List() ([]string, error) {
	kv.m.RLock()
	defer kv.m.RUnlock()
	result := make([]string, 0, len(kv.records))
	for k := range kv.records {
		result = append(result, k)
	}
	return result, nil
}

func (kv *MemoryKV) Open(key string) (io.ReadCloser, error) {
	kv.m.RLock()
	data, ok := kv.records[key]
	kv.m.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func (kv *MemoryKV) Create(key string) (io.WriteCloser, error) {
	return &memWriter{kv: kv, key: key}, nil
}

func (kv *MemoryKV) Delete(key string) error {
	kv.m.Lock()
	delete(kv.records, key)
	kv.m.Unlock()
	return nil
}

type memWriter struct {
	bytes.Buffer
	kv  *MemoryKV
	key string
}

func (w *memWriter) Close() error {
	w.kv.m.Lock()
	w.kv.records[w.key] = w.Bytes()
	w.kv.m.Unlock()
	return nil
}
