// Package streamwrap provides progress-counting wrappers around
// dal.Reader, dal.Writer, dal.Lister, and dal.Deleter. They are shared
// infrastructure: dal/logging and dal/metrics both report the same
// running totals this package computes, rather than each re-deriving
// them.
package streamwrap

import (
	"context"

	"github.com/unidal/dal"
)

// Reader wraps a dal.Reader, counting bytes read.
type Reader struct {
	Inner     dal.Reader
	BytesRead int64
}

// NewReader wraps inner in a counting Reader.
func NewReader(inner dal.Reader) *Reader {
	return &Reader{Inner: inner}
}

// Read reads the next chunk, adding its length to the running total.
func (r *Reader) Read(ctx context.Context) (dal.Buffer, error) {
	b, err := r.Inner.Read(ctx)
	r.BytesRead += int64(b.Len())
	return b, err
}

// Close closes the inner reader.
func (r *Reader) Close(ctx context.Context) error {
	return r.Inner.Close(ctx)
}

// Writer wraps a dal.Writer, counting bytes written.
type Writer struct {
	Inner        dal.Writer
	BytesWritten int64
}

// NewWriter wraps inner in a counting Writer.
func NewWriter(inner dal.Writer) *Writer {
	return &Writer{Inner: inner}
}

// Write writes b, adding its length to the running total.
func (w *Writer) Write(ctx context.Context, b dal.Buffer) error {
	if err := w.Inner.Write(ctx, b); err != nil {
		return err
	}
	w.BytesWritten += int64(b.Len())
	return nil
}

// Close closes the inner writer.
func (w *Writer) Close(ctx context.Context) (dal.Metadata, error) {
	return w.Inner.Close(ctx)
}

// Abort aborts the inner writer.
func (w *Writer) Abort(ctx context.Context) error {
	return w.Inner.Abort(ctx)
}

// Lister wraps a dal.Lister, counting entries returned.
type Lister struct {
	Inner         dal.Lister
	EntriesListed int64
}

// NewLister wraps inner in a counting Lister.
func NewLister(inner dal.Lister) *Lister {
	return &Lister{Inner: inner}
}

// Next returns the next entry, incrementing the running total when one
// is produced.
func (l *Lister) Next(ctx context.Context) (dal.Entry, bool, error) {
	e, ok, err := l.Inner.Next(ctx)
	if ok {
		l.EntriesListed++
	}
	return e, ok, err
}

// Close closes the inner lister.
func (l *Lister) Close(ctx context.Context) error {
	return l.Inner.Close(ctx)
}

// Deleter wraps a dal.Deleter, tracking queued (submitted, not yet
// flushed) and deleted counts.
type Deleter struct {
	Inner   dal.Deleter
	Queued  int64
	Deleted int64
}

// NewDeleter wraps inner in a counting Deleter.
func NewDeleter(inner dal.Deleter) *Deleter {
	return &Deleter{Inner: inner}
}

// Delete submits path for deletion, incrementing Queued.
func (d *Deleter) Delete(path string, args dal.DeleteArgs) error {
	if err := d.Inner.Delete(path, args); err != nil {
		return err
	}
	d.Queued++
	return nil
}

// Flush flushes the inner deleter. On success, Queued is decremented
// and Deleted incremented by the number of objects actually deleted.
func (d *Deleter) Flush(ctx context.Context) (int, error) {
	n, err := d.Inner.Flush(ctx)
	if err != nil {
		return n, err
	}
	d.Queued -= int64(n)
	d.Deleted += int64(n)
	return n, nil
}

// Close closes the inner deleter.
func (d *Deleter) Close(ctx context.Context) error {
	return d.Inner.Close(ctx)
}
