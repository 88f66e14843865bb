// Package multipart implements the generic multipart/chunked upload
// engine: the one-shot-vs-multipart decision, part ordering, the cache
// buffer, and abort/complete finalization described by dal's write
// pipeline. It drives any backend that implements the five-primitive
// Backend protocol through a bounded dal/pool.ConcurrentTasks, so a
// backend only has to supply WriteOnce/InitiatePart/WritePart/
// CompletePart/AbortPart — the engine handles concurrency, ordering,
// and retry-safe state.
package multipart

import (
	"context"
	"strconv"

	"github.com/unidal/dal"
	"github.com/unidal/dal/pool"
)

// Backend is the service-specific protocol a chunked-upload backend
// implements. The engine depends only on: part numbers being honored,
// the parts list passed to CompletePart being the sole source of
// truth for completion, and WriteOnce producing an object equivalent
// to what a single-part multipart session would produce.
type Backend interface {
	WriteOnce(ctx context.Context, size int64, body dal.Buffer) (dal.Metadata, error)
	InitiatePart(ctx context.Context) (uploadID string, err error)
	WritePart(ctx context.Context, uploadID string, partNumber int, size int64, body dal.Buffer) (dal.MultipartPart, error)
	CompletePart(ctx context.Context, uploadID string, parts []dal.MultipartPart) (dal.Metadata, error)
	AbortPart(ctx context.Context, uploadID string) error
}

// partJob is one unit of work submitted to the task pool: upload the
// given body as partNumber of uploadID.
type partJob struct {
	uploadID   string
	partNumber int
	body       dal.Buffer
}

// Writer implements dal.Writer on top of a Backend. It is not safe for
// concurrent use: like the rest of dal, a Writer is single-threaded
// from the caller's point of view — all method calls are sequential
// and mutually exclusive.
type Writer struct {
	backend    Backend
	executor   dal.Executor
	concurrent int

	hasUploadID bool
	uploadID    string

	hasCache bool
	cache    dal.Buffer

	nextPartNumber int
	parts          []dal.MultipartPart

	tasks       *pool.ConcurrentTasks[partJob, dal.MultipartPart]
	pendingJobs []partJob // FIFO, parallel to tasks' submission order

	aborted bool
	closed  bool
}

// NewWriter constructs a multipart Writer over backend. concurrent
// bounds the number of part uploads in flight at once; it is carried
// through from the Accessor.Write caller's WriteArgs.Concurrent.
func NewWriter(backend Backend, executor dal.Executor, concurrent int) *Writer {
	if concurrent < 1 {
		concurrent = 1
	}
	if executor == nil {
		executor = dal.GoExecutor{}
	}
	return &Writer{backend: backend, executor: executor, concurrent: concurrent}
}

func (w *Writer) ensurePool() {
	if w.tasks != nil {
		return
	}
	w.tasks = pool.New[partJob, dal.MultipartPart](w.executor, w.concurrent, w.concurrent,
		func(ctx context.Context, job partJob) (dal.MultipartPart, error) {
			return w.backend.WritePart(ctx, job.uploadID, job.partNumber, int64(job.body.Len()), job.body)
		})
}

// submit enqueues job to the pool and records it in pendingJobs so a
// later drain can correlate a failed result back to the original
// bytes and part number for retry.
func (w *Writer) submit(ctx context.Context, job partJob) error {
	if err := w.tasks.Execute(ctx, job); err != nil {
		return err
	}
	w.pendingJobs = append(w.pendingJobs, job)
	return nil
}

// Write accepts the next chunk of the object. The first chunk is held
// in an internal cache in case the whole object fits in one buffer
// (the one-shot path); once a second chunk arrives, the engine commits
// to the multipart path and the cached chunk becomes part 0.
func (w *Writer) Write(ctx context.Context, b dal.Buffer) error {
	if !w.hasUploadID && !w.hasCache {
		w.cache = b
		w.hasCache = true
		return nil
	}

	if !w.hasUploadID {
		id, err := w.backend.InitiatePart(ctx)
		if err != nil {
			return dal.Wrap(err)
		}
		w.uploadID = id
		w.hasUploadID = true
		w.ensurePool()
	}

	job := partJob{uploadID: w.uploadID, partNumber: w.nextPartNumber, body: w.cache}
	w.nextPartNumber++
	if err := w.submit(ctx, job); err != nil {
		// Roll back the part number: nothing was charged against the
		// pool, so the same number must be reused on retry.
		w.nextPartNumber--
		return dal.Wrap(err)
	}

	w.cache = b
	w.hasCache = true
	return nil
}

// drain pulls every outstanding result from the pool. Results that
// succeed are appended to parts; results that fail are resubmitted
// (reusing the original part number and bytes, per the part-number
// invariant) and reported back as a single temporary error so the
// caller can retry Close.
func (w *Writer) drain(ctx context.Context) error {
	var firstErr error
	var firstErrPartNumber int
	var retry []partJob

	for {
		part, ok, err := w.tasks.Next(ctx)
		if !ok {
			break
		}
		job := w.pendingJobs[0]
		w.pendingJobs = w.pendingJobs[1:]

		if err != nil {
			if firstErr == nil {
				firstErr = err
				firstErrPartNumber = job.partNumber
			}
			retry = append(retry, job)
			continue
		}
		w.parts = append(w.parts, part)
	}

	for _, job := range retry {
		if err := w.submit(ctx, job); err != nil && firstErr == nil {
			firstErr = err
			firstErrPartNumber = job.partNumber
		}
	}

	if firstErr != nil {
		return dal.Wrap(firstErr).WithTemporary(true).WithContext(
			dal.KV{Key: "upload_id", Value: w.uploadID},
			dal.KV{Key: "part_number", Value: strconv.Itoa(firstErrPartNumber)},
		)
	}
	return nil
}

// Close finalizes the write. On the one-shot path it calls WriteOnce;
// on failure the cached buffer is left intact so the caller may retry
// Close without re-invoking Write. On the multipart path it flushes
// any cached final chunk as the last part, drains the pool, and
// calls CompletePart once the number of completed parts matches the
// number of parts submitted.
func (w *Writer) Close(ctx context.Context) (dal.Metadata, error) {
	if !w.hasUploadID {
		md, err := w.backend.WriteOnce(ctx, int64(w.cache.Len()), w.cache)
		if err != nil {
			return dal.Metadata{}, dal.Wrap(err)
		}
		w.hasCache = false
		w.cache = dal.Buffer{}
		w.closed = true
		return md, nil
	}

	if w.hasCache {
		job := partJob{uploadID: w.uploadID, partNumber: w.nextPartNumber, body: w.cache}
		w.nextPartNumber++
		if err := w.submit(ctx, job); err != nil {
			w.nextPartNumber--
			return dal.Metadata{}, dal.Wrap(err)
		}
		w.hasCache = false
		w.cache = dal.Buffer{}
	}

	if err := w.drain(ctx); err != nil {
		return dal.Metadata{}, err
	}

	if len(w.parts) != w.nextPartNumber {
		return dal.Metadata{}, dal.Errorf(dal.KindUnexpected, "part number mismatch: have %d parts, expected %d",
			len(w.parts), w.nextPartNumber).WithContext(dal.KV{Key: "upload_id", Value: w.uploadID})
	}

	sortParts(w.parts)

	md, err := w.backend.CompletePart(ctx, w.uploadID, w.parts)
	if err != nil {
		return dal.Metadata{}, dal.Wrap(err).WithContext(dal.KV{Key: "upload_id", Value: w.uploadID})
	}
	w.closed = true
	return md, nil
}

// Abort discards the write. If no multipart session was ever started
// it is a no-op.
func (w *Writer) Abort(ctx context.Context) error {
	if !w.hasUploadID {
		w.aborted = true
		return nil
	}
	if w.tasks != nil {
		w.tasks.Clear()
	}
	w.pendingJobs = nil
	w.hasCache = false
	w.cache = dal.Buffer{}
	w.aborted = true
	if err := w.backend.AbortPart(ctx, w.uploadID); err != nil {
		return dal.Wrap(err)
	}
	return nil
}

// sortParts sorts parts ascending by PartNumber. It's a small
// insertion sort: multipart sessions in practice run to a few thousand
// parts, and Close already holds them in mostly-submission order
// (retries are the only source of disorder), so insertion sort's
// near-linear behavior on nearly-sorted input beats pulling in a
// generic sort for a handful of out-of-place elements.
func sortParts(parts []dal.MultipartPart) {
	for i := 1; i < len(parts); i++ {
		for j := i; j > 0 && parts[j-1].PartNumber > parts[j].PartNumber; j-- {
			parts[j-1], parts[j] = parts[j], parts[j-1]
		}
	}
}
