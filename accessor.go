package dal

import (
	"context"
	"time"
)

// StatArgs configures a Stat call.
type StatArgs struct {
	IfMatch     string
	IfNoneMatch string
	Version     string
}

// ReadArgs configures a Read call.
type ReadArgs struct {
	// RangeOffset/RangeLength select a byte range; RangeLength == 0
	// means "to the end of the object".
	RangeOffset int64
	RangeLength int64
	IfMatch     string
	IfNoneMatch string
}

// WriteArgs configures a Write call.
type WriteArgs struct {
	ContentType     string
	UserMetadata    map[string]string
	IfNotExists     bool
	Concurrent      int
	CacheControl    string
	ContentEncoding string
}

// ListArgs configures a List call.
type ListArgs struct {
	Recursive  bool
	Limit      int
	StartAfter string
}

// PresignArgs configures a Presign call.
type PresignArgs struct {
	Operation Operation
	Expire    time.Duration
}

// PresignedRequest is the result of a Presign call: a signed,
// stand-alone request the caller can execute directly against the
// backend, produced without network I/O.
type PresignedRequest struct {
	Method  string
	URL     string
	Headers map[string]string
}

// Entry is one record yielded by a Lister.
type Entry struct {
	Path     string
	Metadata Metadata
}

// Reader produces a finite lazy sequence of Buffer chunks. An empty
// Buffer signals end-of-stream; calls after end-of-stream continue to
// return an empty Buffer and a nil error. Reader is exclusively owned
// by its caller; it is not safe for concurrent calls on the same
// instance.
type Reader interface {
	Read(ctx context.Context) (Buffer, error)
	Close(ctx context.Context) error
}

// Writer accepts a finite sequence of Buffer chunks, terminated by
// exactly one of Close (commits) or Abort (discards). Writer is
// exclusively owned by its caller; it is not safe for concurrent calls
// on the same instance.
type Writer interface {
	Write(ctx context.Context, b Buffer) error
	Close(ctx context.Context) (Metadata, error)
	Abort(ctx context.Context) error
}

// Lister produces a finite lazy sequence of Entry records. Next
// returns (entry, true, nil) for each entry, (Entry{}, false, nil) at
// end-of-stream, or a non-nil error which is terminal for the
// sequence.
type Lister interface {
	Next(ctx context.Context) (Entry, bool, error)
	Close(ctx context.Context) error
}

// Deleter accepts path submissions synchronously and commits them in
// batches via Flush, which returns the number of objects deleted since
// the previous Flush.
type Deleter interface {
	Delete(path string, args DeleteArgs) error
	Flush(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// DeleteArgs configures one Delete submission on a Deleter.
type DeleteArgs struct {
	Version string
}

// Accessor is the polymorphic contract every storage backend and every
// Layer satisfies. Implementations must respect the Capability
// advertised by Info: an operation flagged unsupported must fail with
// a KindUnsupported *Error before any network contact.
type Accessor interface {
	// Info returns the shared, read-mostly descriptor for this
	// accessor. It never blocks.
	Info() *AccessorInfo

	CreateDir(ctx context.Context, path string) error
	Stat(ctx context.Context, path string, args StatArgs) (Metadata, error)
	Read(ctx context.Context, path string, args ReadArgs) (Reader, error)
	Write(ctx context.Context, path string, args WriteArgs) (Writer, error)
	Copy(ctx context.Context, from, to string) error
	Rename(ctx context.Context, from, to string) error
	Delete(ctx context.Context) (Deleter, error)
	List(ctx context.Context, path string, args ListArgs) (Lister, error)
	Presign(ctx context.Context, path string, args PresignArgs) (PresignedRequest, error)
}
