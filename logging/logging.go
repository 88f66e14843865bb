// Package logging implements the logging layer (C3 composition): a
// dal.Layer that emits a fixed vocabulary of message tokens and
// context keys around every Accessor operation and stream wrapper,
// through a pluggable Interceptor so the layer itself never touches
// I/O.
package logging

import (
	"context"
	"strconv"

	"github.com/unidal/dal"
	"github.com/unidal/dal/streamwrap"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// Message tokens. Stable across backends and layers: a caller written
// against these strings keeps working regardless of which backend or
// interceptor is plugged in.
const (
	MsgStarted        = "started"
	MsgFinished       = "finished"
	MsgCreatedReader  = "created reader"
	MsgCreatedWriter  = "created writer"
	MsgCreatedLister  = "created lister"
	MsgSucceeded      = "succeeded"
	MsgFailed         = "failed"
	MsgCloseSucceeded = "close succeeded"
	MsgCloseFailed    = "close failed"
	MsgAbortSucceeded = "abort succeeded"
	MsgAbortFailed    = "abort failed"
)

// Context keys. Stable across backends and layers.
const (
	KeyPath       = "path"
	KeyFrom       = "from"
	KeyTo         = "to"
	KeyRead       = "read"
	KeyWritten    = "written"
	KeyListed     = "listed"
	KeyQueued     = "queued"
	KeyDeleted    = "deleted"
	KeySize       = "size"
	KeyVersion    = "version"
	KeyUploadID   = "upload_id"
	KeyPartNumber = "part_number"
)

// Interceptor is the logging contract: a single method, called
// synchronously and expected not to perform I/O. err is nil on
// success.
type Interceptor interface {
	Log(info *dal.AccessorInfo, op dal.Operation, context []dal.KV, message string, err error)
}

func kv(k, v string) dal.KV { return dal.KV{Key: k, Value: v} }

// severity maps an error's Kind to a log level: Unexpected is
// error-level, everything else is warn-level, since every other Kind
// describes an outcome the caller can reasonably anticipate and handle.
// Interceptor implementations decide what to do with this; it's
// exposed so a custom Interceptor doesn't have to reimplement the
// mapping.
func severity(err error) string {
	if err == nil {
		return ""
	}
	var kind dal.ErrorKind
	if e, ok := err.(*dal.Error); ok {
		kind = e.Kind
	} else {
		kind = dal.KindUnexpected
	}
	if kind == dal.KindUnexpected {
		return "error"
	}
	return "warn"
}

// Severity is the exported form of severity, for custom Interceptors
// that want the same Unexpected->error, else->warn mapping logging
// itself uses.
func Severity(err error) string { return severity(err) }

// Layer wraps an Accessor with logging.
type Layer struct {
	Interceptor Interceptor
}

// NewLayer constructs a logging Layer over the given Interceptor.
func NewLayer(i Interceptor) Layer { return Layer{Interceptor: i} }

func (l Layer) Layer(inner dal.Accessor) dal.Accessor {
	return &accessor{inner: inner, log: l.Interceptor}
}

type accessor struct {
	inner dal.Accessor
	log   Interceptor
}

func (a *accessor) Info() *dal.AccessorInfo { return a.inner.Info() }

func (a *accessor) CreateDir(ctx context.Context, path string) error {
	a.log.Log(a.Info(), dal.OpCreateDir, []dal.KV{kv(KeyPath, path)}, MsgStarted, nil)
	err := a.inner.CreateDir(ctx, path)
	if err != nil {
		a.log.Log(a.Info(), dal.OpCreateDir, []dal.KV{kv(KeyPath, path)}, MsgFailed, err)
		return err
	}
	a.log.Log(a.Info(), dal.OpCreateDir, []dal.KV{kv(KeyPath, path)}, MsgFinished, nil)
	return nil
}

func (a *accessor) Stat(ctx context.Context, path string, args dal.StatArgs) (dal.Metadata, error) {
	a.log.Log(a.Info(), dal.OpStat, []dal.KV{kv(KeyPath, path)}, MsgStarted, nil)
	md, err := a.inner.Stat(ctx, path, args)
	if err != nil {
		a.log.Log(a.Info(), dal.OpStat, []dal.KV{kv(KeyPath, path)}, MsgFailed, err)
		return md, err
	}
	a.log.Log(a.Info(), dal.OpStat, []dal.KV{kv(KeyPath, path), kv(KeySize, itoa(md.ContentLength))}, MsgFinished, nil)
	return md, nil
}

func (a *accessor) Copy(ctx context.Context, from, to string) error {
	ctxKV := []dal.KV{kv(KeyFrom, from), kv(KeyTo, to)}
	a.log.Log(a.Info(), dal.OpCopy, ctxKV, MsgStarted, nil)
	err := a.inner.Copy(ctx, from, to)
	if err != nil {
		a.log.Log(a.Info(), dal.OpCopy, ctxKV, MsgFailed, err)
		return err
	}
	a.log.Log(a.Info(), dal.OpCopy, ctxKV, MsgFinished, nil)
	return nil
}

func (a *accessor) Rename(ctx context.Context, from, to string) error {
	ctxKV := []dal.KV{kv(KeyFrom, from), kv(KeyTo, to)}
	a.log.Log(a.Info(), dal.OpRename, ctxKV, MsgStarted, nil)
	err := a.inner.Rename(ctx, from, to)
	if err != nil {
		a.log.Log(a.Info(), dal.OpRename, ctxKV, MsgFailed, err)
		return err
	}
	a.log.Log(a.Info(), dal.OpRename, ctxKV, MsgFinished, nil)
	return nil
}

func (a *accessor) Presign(ctx context.Context, path string, args dal.PresignArgs) (dal.PresignedRequest, error) {
	ctxKV := []dal.KV{kv(KeyPath, path)}
	a.log.Log(a.Info(), dal.OpPresign, ctxKV, MsgStarted, nil)
	req, err := a.inner.Presign(ctx, path, args)
	if err != nil {
		a.log.Log(a.Info(), dal.OpPresign, ctxKV, MsgFailed, err)
		return req, err
	}
	a.log.Log(a.Info(), dal.OpPresign, ctxKV, MsgFinished, nil)
	return req, nil
}

func (a *accessor) Read(ctx context.Context, path string, args dal.ReadArgs) (dal.Reader, error) {
	ctxKV := []dal.KV{kv(KeyPath, path)}
	a.log.Log(a.Info(), dal.OpRead, ctxKV, MsgStarted, nil)
	r, err := a.inner.Read(ctx, path, args)
	if err != nil {
		a.log.Log(a.Info(), dal.OpRead, ctxKV, MsgFailed, err)
		return r, err
	}
	a.log.Log(a.Info(), dal.OpRead, ctxKV, MsgCreatedReader, nil)
	return &loggingReader{Reader: streamwrap.NewReader(r), info: a.Info(), log: a.log, path: path}, nil
}

func (a *accessor) Write(ctx context.Context, path string, args dal.WriteArgs) (dal.Writer, error) {
	ctxKV := []dal.KV{kv(KeyPath, path)}
	a.log.Log(a.Info(), dal.OpWrite, ctxKV, MsgStarted, nil)
	w, err := a.inner.Write(ctx, path, args)
	if err != nil {
		a.log.Log(a.Info(), dal.OpWrite, ctxKV, MsgFailed, err)
		return w, err
	}
	a.log.Log(a.Info(), dal.OpWrite, ctxKV, MsgCreatedWriter, nil)
	return &loggingWriter{Writer: streamwrap.NewWriter(w), info: a.Info(), log: a.log, path: path}, nil
}

func (a *accessor) List(ctx context.Context, path string, args dal.ListArgs) (dal.Lister, error) {
	ctxKV := []dal.KV{kv(KeyPath, path)}
	a.log.Log(a.Info(), dal.OpList, ctxKV, MsgStarted, nil)
	lst, err := a.inner.List(ctx, path, args)
	if err != nil {
		a.log.Log(a.Info(), dal.OpList, ctxKV, MsgFailed, err)
		return lst, err
	}
	a.log.Log(a.Info(), dal.OpList, ctxKV, MsgCreatedLister, nil)
	return &loggingLister{Lister: streamwrap.NewLister(lst), info: a.Info(), log: a.log, path: path}, nil
}

func (a *accessor) Delete(ctx context.Context) (dal.Deleter, error) {
	a.log.Log(a.Info(), dal.OpDelete, nil, MsgStarted, nil)
	d, err := a.inner.Delete(ctx)
	if err != nil {
		a.log.Log(a.Info(), dal.OpDelete, nil, MsgFailed, err)
		return d, err
	}
	return &loggingDeleter{Deleter: streamwrap.NewDeleter(d), info: a.Info(), log: a.log}, nil
}

// loggingReader emits "finished" with the running byte total on
// end-of-stream (rule 6) and close succeeded/failed on Close.
type loggingReader struct {
	*streamwrap.Reader
	info *dal.AccessorInfo
	log  Interceptor
	path string
}

func (r *loggingReader) Read(ctx context.Context) (dal.Buffer, error) {
	b, err := r.Reader.Read(ctx)
	ctxKV := []dal.KV{kv(KeyPath, r.path), kv(KeyRead, itoa(r.BytesRead))}
	if err != nil {
		r.log.Log(r.info, dal.OpRead, ctxKV, MsgFailed, err)
		return b, err
	}
	if b.Empty() {
		r.log.Log(r.info, dal.OpRead, ctxKV, MsgFinished, nil)
	}
	return b, nil
}

func (r *loggingReader) Close(ctx context.Context) error {
	ctxKV := []dal.KV{kv(KeyPath, r.path), kv(KeyRead, itoa(r.BytesRead))}
	err := r.Reader.Close(ctx)
	if err != nil {
		r.log.Log(r.info, dal.OpRead, ctxKV, MsgCloseFailed, err)
		return err
	}
	r.log.Log(r.info, dal.OpRead, ctxKV, MsgCloseSucceeded, nil)
	return nil
}

type loggingWriter struct {
	*streamwrap.Writer
	info *dal.AccessorInfo
	log  Interceptor
	path string
}

func (w *loggingWriter) Close(ctx context.Context) (dal.Metadata, error) {
	md, err := w.Writer.Close(ctx)
	ctxKV := []dal.KV{kv(KeyPath, w.path), kv(KeyWritten, itoa(w.BytesWritten))}
	if err != nil {
		w.log.Log(w.info, dal.OpWrite, ctxKV, MsgCloseFailed, err)
		return md, err
	}
	w.log.Log(w.info, dal.OpWrite, ctxKV, MsgCloseSucceeded, nil)
	return md, nil
}

func (w *loggingWriter) Abort(ctx context.Context) error {
	err := w.Writer.Abort(ctx)
	ctxKV := []dal.KV{kv(KeyPath, w.path), kv(KeyWritten, itoa(w.BytesWritten))}
	if err != nil {
		w.log.Log(w.info, dal.OpWrite, ctxKV, MsgAbortFailed, err)
		return err
	}
	w.log.Log(w.info, dal.OpWrite, ctxKV, MsgAbortSucceeded, nil)
	return nil
}

type loggingLister struct {
	*streamwrap.Lister
	info *dal.AccessorInfo
	log  Interceptor
	path string
}

func (l *loggingLister) Next(ctx context.Context) (dal.Entry, bool, error) {
	e, ok, err := l.Lister.Next(ctx)
	ctxKV := []dal.KV{kv(KeyPath, l.path), kv(KeyListed, itoa(l.EntriesListed))}
	if err != nil {
		l.log.Log(l.info, dal.OpList, ctxKV, MsgFailed, err)
		return e, ok, err
	}
	if !ok {
		l.log.Log(l.info, dal.OpList, ctxKV, MsgFinished, nil)
	}
	return e, ok, nil
}

func (l *loggingLister) Close(ctx context.Context) error {
	ctxKV := []dal.KV{kv(KeyPath, l.path), kv(KeyListed, itoa(l.EntriesListed))}
	err := l.Lister.Close(ctx)
	if err != nil {
		l.log.Log(l.info, dal.OpList, ctxKV, MsgCloseFailed, err)
		return err
	}
	l.log.Log(l.info, dal.OpList, ctxKV, MsgCloseSucceeded, nil)
	return nil
}

type loggingDeleter struct {
	*streamwrap.Deleter
	info *dal.AccessorInfo
	log  Interceptor
}

func (d *loggingDeleter) Flush(ctx context.Context) (int, error) {
	n, err := d.Deleter.Flush(ctx)
	ctxKV := []dal.KV{kv(KeyQueued, itoa(d.Queued)), kv(KeyDeleted, itoa(d.Deleted))}
	if err != nil {
		d.log.Log(d.info, dal.OpDelete, ctxKV, MsgFailed, err)
		return n, err
	}
	d.log.Log(d.info, dal.OpDelete, ctxKV, MsgSucceeded, nil)
	return n, nil
}

func (d *loggingDeleter) Close(ctx context.Context) error {
	ctxKV := []dal.KV{kv(KeyQueued, itoa(d.Queued)), kv(KeyDeleted, itoa(d.Deleted))}
	err := d.Deleter.Close(ctx)
	if err != nil {
		d.log.Log(d.info, dal.OpDelete, ctxKV, MsgCloseFailed, err)
		return err
	}
	d.log.Log(d.info, dal.OpDelete, ctxKV, MsgCloseSucceeded, nil)
	return nil
}

var _ dal.Layer = Layer{}
