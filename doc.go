// Package dal is a unified object-storage access layer.
//
// It exposes a single Accessor contract (read, write, list, delete,
// copy, rename, stat, presign, create-dir) satisfied by every backend
// in dal/backend — in-memory, local filesystem, S3-compatible object
// stores, and SFTP servers — and composes
// cross-cutting behavior (logging, retry, metrics) as layers that wrap
// an Accessor to produce another Accessor.
//
// The hard engineering lives in two places: the layered accessor
// architecture in this package (Accessor, Layer) and the bounded-
// concurrency multipart upload engine in dal/multipart, which backends
// with a chunked-upload protocol use to implement Accessor.Write.
//
// Basic usage:
//
//	backend := memory.New("mem")
//	acc := logging.NewLayer(interceptor).Layer(backend)
//	w, err := acc.Write(ctx, "a/b.txt", dal.WriteArgs{})
//	w.Write(ctx, dal.NewBuffer([]byte("hello")))
//	w.Close(ctx)
package dal
