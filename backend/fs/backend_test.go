package fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/unidal/dal"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New("test", t.TempDir())
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	return b
}

func TestWriteReadRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	w, err := b.Write(ctx, "/a/b.txt", dal.WriteArgs{})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("hello "))); err != nil {
		t.Fatalf("w.Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("world"))); err != nil {
		t.Fatalf("w.Write error = %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	r, err := b.Read(ctx, "/a/b.txt", dal.ReadArgs{})
	if err != nil {
		t.Fatalf("Read error = %v", err)
	}
	var got []byte
	for {
		chunk, err := r.Read(ctx)
		if err != nil {
			t.Fatalf("stream Read error = %v", err)
		}
		if chunk.Empty() {
			break
		}
		got = append(got, chunk.Bytes()...)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestWriteAbortLeavesNoFile(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	w, err := b.Write(ctx, "/f", dal.WriteArgs{})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("x"))); err != nil {
		t.Fatalf("w.Write error = %v", err)
	}
	if err := w.Abort(ctx); err != nil {
		t.Fatalf("Abort error = %v", err)
	}
	if _, err := b.Stat(ctx, "/f", dal.StatArgs{}); !dal.IsNotFound(err) {
		t.Fatalf("Stat after abort error = %v, want NotFound", err)
	}
	if _, err := os.Stat(filepath.Join(b.root, "f.dal-tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file should have been removed on Abort")
	}
}

func TestStatNotFound(t *testing.T) {
	b := newTestBackend(t)
	if _, err := b.Stat(context.Background(), "/missing", dal.StatArgs{}); !dal.IsNotFound(err) {
		t.Fatalf("Stat error = %v, want NotFound", err)
	}
}

func TestRangeRead(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	w, err := b.Write(ctx, "/r", dal.WriteArgs{})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("0123456789"))); err != nil {
		t.Fatalf("w.Write error = %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	r, err := b.Read(ctx, "/r", dal.ReadArgs{RangeOffset: 3, RangeLength: 4})
	if err != nil {
		t.Fatalf("Read error = %v", err)
	}
	var got []byte
	for {
		chunk, err := r.Read(ctx)
		if err != nil {
			t.Fatalf("stream Read error = %v", err)
		}
		if chunk.Empty() {
			break
		}
		got = append(got, chunk.Bytes()...)
	}
	if string(got) != "3456" {
		t.Fatalf("got %q, want %q", got, "3456")
	}
}

func TestRenameAndCopy(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	w, err := b.Write(ctx, "/src", dal.WriteArgs{})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("data"))); err != nil {
		t.Fatalf("w.Write error = %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	if err := b.Copy(ctx, "/src", "/dst/copy"); err != nil {
		t.Fatalf("Copy error = %v", err)
	}
	if _, err := b.Stat(ctx, "/dst/copy", dal.StatArgs{}); err != nil {
		t.Fatalf("Stat(copy) error = %v", err)
	}

	if err := b.Rename(ctx, "/src", "/renamed"); err != nil {
		t.Fatalf("Rename error = %v", err)
	}
	if _, err := b.Stat(ctx, "/src", dal.StatArgs{}); !dal.IsNotFound(err) {
		t.Fatalf("Stat(/src) after rename error = %v, want NotFound", err)
	}
}

func TestListRecursive(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	for _, p := range []string{"/a/1.txt", "/a/sub/2.txt", "/top.txt"} {
		w, err := b.Write(ctx, p, dal.WriteArgs{})
		if err != nil {
			t.Fatalf("Write(%s) error = %v", p, err)
		}
		if err := w.Write(ctx, dal.NewBuffer([]byte("x"))); err != nil {
			t.Fatalf("w.Write error = %v", err)
		}
		if _, err := w.Close(ctx); err != nil {
			t.Fatalf("Close error = %v", err)
		}
	}

	lst, err := b.List(ctx, "/a", dal.ListArgs{Recursive: true})
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	var paths []string
	for {
		e, ok, err := lst.Next(ctx)
		if err != nil {
			t.Fatalf("Next error = %v", err)
		}
		if !ok {
			break
		}
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	want := []string{"a/1.txt", "a/sub/2.txt"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestDeleteFlush(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	w, err := b.Write(ctx, "/d", dal.WriteArgs{})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("x"))); err != nil {
		t.Fatalf("w.Write error = %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	d, err := b.Delete(ctx)
	if err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if err := d.Delete("/d", dal.DeleteArgs{}); err != nil {
		t.Fatalf("d.Delete error = %v", err)
	}
	n, err := d.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Flush deleted = %d, want 1", n)
	}
	if _, err := b.Stat(ctx, "/d", dal.StatArgs{}); !dal.IsNotFound(err) {
		t.Fatalf("Stat after delete error = %v, want NotFound", err)
	}
}
