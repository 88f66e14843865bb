package memory

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/unidal/dal"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New("test")
	ctx := context.Background()

	w, err := b.Write(ctx, "/a/b.txt", dal.WriteArgs{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("hello"))); err != nil {
		t.Fatalf("w.Write error = %v", err)
	}
	md, err := w.Close(ctx)
	if err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if md.ContentLength != 5 {
		t.Fatalf("ContentLength = %d, want 5", md.ContentLength)
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
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

// TestSingleShotWriteGoesThroughWriteOnce verifies that a single small
// Write then Close produces the expected object without ever starting
// a multipart session (no upload left dangling).
func TestSingleShotWriteGoesThroughWriteOnce(t *testing.T) {
	b := New("test")
	ctx := context.Background()

	w, err := b.Write(ctx, "/obj", dal.WriteArgs{})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("abc"))); err != nil {
		t.Fatalf("w.Write error = %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	if len(b.uploads) != 0 {
		t.Fatalf("uploads = %d, want 0 for a one-shot write", len(b.uploads))
	}
	md, err := b.Stat(ctx, "/obj", dal.StatArgs{})
	if err != nil {
		t.Fatalf("Stat error = %v", err)
	}
	if md.ContentLength != 3 {
		t.Fatalf("ContentLength = %d, want 3", md.ContentLength)
	}
}

// TestTwoPartWriteProducesOrderedParts checks that writing two buffers
// through the multipart path reassembles them in write order.
func TestTwoPartWriteProducesOrderedParts(t *testing.T) {
	b := New("test")
	ctx := context.Background()

	w, err := b.Write(ctx, "/obj", dal.WriteArgs{Concurrent: 2})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("aa"))); err != nil {
		t.Fatalf("Write(1) error = %v", err)
	}
	if err := w.Write(ctx, dal.NewBuffer([]byte("bb"))); err != nil {
		t.Fatalf("Write(2) error = %v", err)
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	r, err := b.Read(ctx, "/obj", dal.ReadArgs{})
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
	if string(got) != "aabb" {
		t.Fatalf("got %q, want %q", got, "aabb")
	}
}

// TestManyWritesProduceFullSizeObject is a larger-scale form of S3
// (without injected flakiness, since the backend itself never fails):
// many small writes followed by Close must produce an object whose
// size is the sum of the written sizes.
func TestManyWritesProduceFullSizeObject(t *testing.T) {
	b := New("test")
	ctx := context.Background()

	w, err := b.Write(ctx, "/big", dal.WriteArgs{Concurrent: 8})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	var total int
	const n = 200
	for i := 0; i < n; i++ {
		size := 1 + rng.Intn(64)
		buf := make([]byte, size)
		total += size
		if err := w.Write(ctx, dal.NewBuffer(buf)); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	md, err := b.Stat(ctx, "/big", dal.StatArgs{})
	if err != nil {
		t.Fatalf("Stat error = %v", err)
	}
	if md.ContentLength != int64(total) {
		t.Fatalf("ContentLength = %d, want %d", md.ContentLength, total)
	}
}

// TestAbortDuringMultipartLeavesNoObject checks that aborting a
// multipart write leaves no partial object and no dangling upload.
func TestAbortDuringMultipartLeavesNoObject(t *testing.T) {
	b := New("test")
	ctx := context.Background()

	w, err := b.Write(ctx, "/obj", dal.WriteArgs{})
	if err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := w.Write(ctx, make64KBuffer()); err != nil {
		t.Fatalf("Write(1) error = %v", err)
	}
	if err := w.Write(ctx, make64KBuffer()); err != nil {
		t.Fatalf("Write(2) error = %v", err)
	}
	if err := w.Abort(ctx); err != nil {
		t.Fatalf("Abort error = %v", err)
	}

	if len(b.uploads) != 0 {
		t.Fatalf("uploads = %d, want 0 after abort", len(b.uploads))
	}
	if _, err := b.Stat(ctx, "/obj", dal.StatArgs{}); !dal.IsNotFound(err) {
		t.Fatalf("Stat after abort error = %v, want NotFound", err)
	}
}

func make64KBuffer() dal.Buffer {
	return dal.NewBuffer(make([]byte, 64*1024))
}

func TestListNonRecursiveCollapsesDirectories(t *testing.T) {
	b := New("test")
	ctx := context.Background()
	for _, p := range []string{"/a/1.txt", "/a/2.txt", "/a/sub/3.txt", "/b.txt"} {
		w, err := b.Write(ctx, p, dal.WriteArgs{})
		if err != nil {
			t.Fatalf("Write(%s) error = %v", p, err)
		}
		if err := w.Write(ctx, dal.NewBuffer([]byte("x"))); err != nil {
			t.Fatalf("w.Write(%s) error = %v", p, err)
		}
		if _, err := w.Close(ctx); err != nil {
			t.Fatalf("Close(%s) error = %v", p, err)
		}
	}

	lst, err := b.List(ctx, "/a", dal.ListArgs{Recursive: false})
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
	want := []string{"a/1.txt", "a/2.txt", "a/sub/"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("paths = %v, want %v", paths, want)
		}
	}
}

func TestCopyAndRename(t *testing.T) {
	b := New("test")
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

	if err := b.Copy(ctx, "/src", "/copy"); err != nil {
		t.Fatalf("Copy error = %v", err)
	}
	if _, err := b.Stat(ctx, "/src", dal.StatArgs{}); err != nil {
		t.Fatalf("Stat(/src) after Copy error = %v", err)
	}
	if _, err := b.Stat(ctx, "/copy", dal.StatArgs{}); err != nil {
		t.Fatalf("Stat(/copy) after Copy error = %v", err)
	}

	if err := b.Rename(ctx, "/src", "/renamed"); err != nil {
		t.Fatalf("Rename error = %v", err)
	}
	if _, err := b.Stat(ctx, "/src", dal.StatArgs{}); !dal.IsNotFound(err) {
		t.Fatalf("Stat(/src) after Rename error = %v, want NotFound", err)
	}
	if _, err := b.Stat(ctx, "/renamed", dal.StatArgs{}); err != nil {
		t.Fatalf("Stat(/renamed) after Rename error = %v", err)
	}
}

func TestDeleteFlush(t *testing.T) {
	b := New("test")
	ctx := context.Background()

	for _, p := range []string{"/x", "/y"} {
		w, err := b.Write(ctx, p, dal.WriteArgs{})
		if err != nil {
			t.Fatalf("Write(%s) error = %v", p, err)
		}
		if err := w.Write(ctx, dal.NewBuffer([]byte("v"))); err != nil {
			t.Fatalf("w.Write error = %v", err)
		}
		if _, err := w.Close(ctx); err != nil {
			t.Fatalf("Close error = %v", err)
		}
	}

	d, err := b.Delete(ctx)
	if err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if err := d.Delete("/x", dal.DeleteArgs{}); err != nil {
		t.Fatalf("d.Delete error = %v", err)
	}
	if err := d.Delete("/missing", dal.DeleteArgs{}); err != nil {
		t.Fatalf("d.Delete error = %v", err)
	}
	n, err := d.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Flush deleted = %d, want 1", n)
	}
	if _, err := b.Stat(ctx, "/x", dal.StatArgs{}); !dal.IsNotFound(err) {
		t.Fatalf("Stat(/x) after Flush error = %v, want NotFound", err)
	}
	if _, err := b.Stat(ctx, "/y", dal.StatArgs{}); err != nil {
		t.Fatalf("Stat(/y) error = %v", err)
	}
}
