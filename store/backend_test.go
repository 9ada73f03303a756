package store

import (
	"context"
	"io/ioutil"
	"os"
	"strings"
	"testing"
)

// runBackendTest exercises the common Backend behaviors against the given
// backend and two distinct locations.
func runBackendTest(t *testing.T, b Backend, loc1, loc2 string) {
	ctx := context.Background()
	const content = "hello world"

	url, h, err := b.Upload(ctx, "a/b/data.txt", strings.NewReader(content), loc1)
	if err != nil {
		t.Fatalf("Upload: %s", err)
	}
	if h.URL != url {
		t.Errorf("Handle url %s, expected %s", h.URL, url)
	}
	if err = b.SetPermissions(ctx, h, "alice"); err != nil {
		t.Errorf("SetPermissions: %s", err)
	}

	rc, size, err := b.Download(ctx, url)
	if err != nil {
		t.Fatalf("Download: %s", err)
	}
	data, _ := ioutil.ReadAll(rc)
	rc.Close()
	if string(data) != content || size != int64(len(content)) {
		t.Errorf("Download = %q (%d bytes), expected %q", data, size, content)
	}

	// moving onto itself is a no-op
	same, err := b.Move(ctx, url, loc1, "a/b", "data.txt")
	if err != nil || same != url {
		t.Errorf("Move onto self = %q, %v", same, err)
	}

	// a real move makes the new url live and the old one gone
	newurl, err := b.Move(ctx, url, loc2, "", "moved.txt")
	if err != nil {
		t.Fatalf("Move: %s", err)
	}
	if newurl == url {
		t.Fatalf("Move returned the old url")
	}
	rc, _, err = b.Download(ctx, newurl)
	if err != nil {
		t.Fatalf("Download after move: %s", err)
	}
	data, _ = ioutil.ReadAll(rc)
	rc.Close()
	if string(data) != content {
		t.Errorf("Download after move = %q", data)
	}
	if _, _, err = b.Download(ctx, url); err != ErrNotFound {
		t.Errorf("Download of old url = %v, expected ErrNotFound", err)
	}

	if err = b.Delete(ctx, newurl); err != nil {
		t.Errorf("Delete: %s", err)
	}
	if _, _, err = b.Download(ctx, newurl); err != ErrNotFound {
		t.Errorf("Download after delete = %v, expected ErrNotFound", err)
	}
	// deleting again is fine
	if err = b.Delete(ctx, newurl); err != nil {
		t.Errorf("second Delete: %s", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	ms := NewMemory()
	runBackendTest(t, ms, "mem://ws/1", "mem://global")

	url, _, _ := ms.Upload(context.Background(), "x", strings.NewReader("z"), "mem://ws/2")
	ms.Delete(context.Background(), url)
	if n := ms.DeleteCount(url); n != 1 {
		t.Errorf("DeleteCount = %d, expected 1", n)
	}
}

func TestFileSystemBackend(t *testing.T) {
	root, err := ioutil.TempDir("", "motmot-store-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)
	fs, err := NewFileSystem(root)
	if err != nil {
		t.Fatal(err)
	}
	os.MkdirAll(root+"/ws", 0755)
	os.MkdirAll(root+"/global", 0755)
	runBackendTest(t, fs, "file://"+root+"/ws", "file://"+root+"/global")
}

func TestFileSystemEscape(t *testing.T) {
	root, err := ioutil.TempDir("", "motmot-store-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)
	fs, err := NewFileSystem(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, _, err = fs.Download(ctx, "file:///etc/passwd"); err != ErrNotFound {
		t.Errorf("Download outside root = %v, expected ErrNotFound", err)
	}
	if _, _, err = fs.Upload(ctx, "x", strings.NewReader("y"), "file:///tmp"); err == nil {
		t.Errorf("Upload to location outside root succeeded")
	}
	// dot segments in the logical path cannot climb out of the location
	url, _, err := fs.Upload(ctx, "../../../../x", strings.NewReader("y"), "file://"+root+"/ws")
	if err != nil {
		t.Fatalf("Upload: %s", err)
	}
	if !strings.HasPrefix(url, "file://"+root) {
		t.Errorf("Upload escaped root: %s", url)
	}
}

func TestKV(t *testing.T) {
	root, err := ioutil.TempDir("", "motmot-kv-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)
	fkv, err := NewFileKV(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, kv := range []KV{NewMemoryKV(), KV(fkv)} {
		w, err := kv.Create("ws:1")
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(`{"a":1}`))
		w.Close()

		keys, err := kv.List()
		if err != nil || len(keys) != 1 || keys[0] != "ws:1" {
			t.Errorf("List = %v, %v", keys, err)
		}

		rc, err := kv.Open("ws:1")
		if err != nil {
			t.Fatal(err)
		}
		data, _ := ioutil.ReadAll(rc)
		rc.Close()
		if string(data) != `{"a":1}` {
			t.Errorf("Open = %q", data)
		}

		if err = kv.Delete("ws:1"); err != nil {
			t.Errorf("Delete: %s", err)
		}
		if _, err = kv.Open("ws:1"); err != ErrNotFound {
			t.Errorf("Open after delete = %v, expected ErrNotFound", err)
		}
	}
}
