package streamwrap

import (
	"context"
	"testing"

	"github.com/unidal/dal"
)

type fakeReader struct {
	chunks [][]byte
	i      int
}

func (f *fakeReader) Read(ctx context.Context) (dal.Buffer, error) {
	if f.i >= len(f.chunks) {
		return dal.Buffer{}, nil
	}
	c := f.chunks[f.i]
	f.i++
	return dal.NewBuffer(c), nil
}
func (f *fakeReader) Close(ctx context.Context) error { return nil }

func TestReaderCountsBytes(t *testing.T) {
	r := NewReader(&fakeReader{chunks: [][]byte{[]byte("abc"), []byte("de")}})
	ctx := context.Background()

	for {
		b, err := r.Read(ctx)
		if err != nil {
			t.Fatalf("Read error = %v", err)
		}
		if b.Empty() {
			break
		}
	}

	if r.BytesRead != 5 {
		t.Fatalf("BytesRead = %d, want 5", r.BytesRead)
	}
}

var (
	_ dal.Reader = (*Reader)(nil)
	_ dal.Writer = (*Writer)(nil)
	_ dal.Lister = (*Lister)(nil)
	_ dal.Deleter = (*Deleter)(nil)
)
