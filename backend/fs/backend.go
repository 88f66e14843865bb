// Package fs implements dal.Accessor over the local filesystem. Unlike
// the network backends, fs streams directly through *os.File: it has
// no chunked-upload protocol of its own, so Capability.WriteCanMulti
// is false and dal/multipart is never involved here.
package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/unidal/dal"
)

// Backend is a dal.Accessor rooted at a local directory.
type Backend struct {
	info *dal.AccessorInfo
	root string
}

// New constructs a Backend rooted at root, creating the directory if
// it does not already exist.
func New(name, root string) (*Backend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, dal.Wrap(err)
	}
	b := &Backend{root: root}
	b.info = dal.NewAccessorInfo("fs", name, root, dal.Capability{
		CreateDir:     true,
		Read:          true,
		ReadWithRange: true,
		Write:         true,
		WriteCanEmpty: true,
		Copy:          true,
		Rename:        true,
		Stat:          true,
		Delete:        true,
		List:          true,
		ListWithRecursive: true,
		ListWithLimit:     true,
		Shared:            false,
	}, nil)
	return b, nil
}

func (b *Backend) Info() *dal.AccessorInfo { return b.info }

func (b *Backend) fullPath(p string) (string, error) {
	clean := filepath.Clean("/" + p)
	if clean == "/" {
		return "", dal.NewError(dal.KindConfigInvalid, "path must not be empty")
	}
	return filepath.Join(b.root, clean), nil
}

func translateError(err error, p string) error {
	if err == nil {
		return nil
	}
	kind := dal.KindUnexpected
	temp := false
	switch {
	case os.IsNotExist(err):
		kind = dal.KindNotFound
	case os.IsExist(err):
		kind = dal.KindAlreadyExists
	case os.IsPermission(err):
		kind = dal.KindPermissionDenied
	default:
		temp = true
	}
	return &dal.Error{
		Kind:      kind,
		Message:   err.Error(),
		Source:    err,
		Temporary: temp,
		Context:   []dal.KV{{Key: "path", Value: p}},
	}
}

func (b *Backend) CreateDir(ctx context.Context, p string) error {
	full, err := b.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return translateError(err, p)
	}
	return nil
}

func (b *Backend) Stat(ctx context.Context, p string, args dal.StatArgs) (dal.Metadata, error) {
	full, err := b.fullPath(p)
	if err != nil {
		return dal.Metadata{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		return dal.Metadata{}, translateError(err, p)
	}
	if fi.IsDir() {
		return dal.Metadata{}, dal.NewError(dal.KindIsADirectory, "path is a directory").WithContext(dal.KV{Key: "path", Value: p})
	}
	return dal.Metadata{ContentLength: fi.Size(), LastModified: fi.ModTime()}, nil
}

func (b *Backend) Read(ctx context.Context, p string, args dal.ReadArgs) (dal.Reader, error) {
	full, err := b.fullPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, translateError(err, p)
	}
	if args.RangeOffset > 0 {
		if _, err := f.Seek(args.RangeOffset, io.SeekStart); err != nil {
			f.Close()
			return nil, dal.Wrap(err)
		}
	}
	var limit int64 = -1
	if args.RangeLength > 0 {
		limit = args.RangeLength
	}
	return &reader{f: f, remaining: limit}, nil
}

type reader struct {
	f         *os.File
	remaining int64 // -1 means unbounded
}

const readChunkSize = 32 * 1024

func (r *reader) Read(ctx context.Context) (dal.Buffer, error) {
	if r.remaining == 0 {
		return dal.Buffer{}, nil
	}
	want := readChunkSize
	if r.remaining > 0 && int64(want) > r.remaining {
		want = int(r.remaining)
	}
	buf := make([]byte, want)
	n, err := r.f.Read(buf)
	if n > 0 {
		if r.remaining > 0 {
			r.remaining -= int64(n)
		}
		return dal.NewBuffer(buf[:n]), nil
	}
	if err == io.EOF {
		return dal.Buffer{}, nil
	}
	if err != nil {
		return dal.Buffer{}, dal.Wrap(err)
	}
	return dal.Buffer{}, nil
}

func (r *reader) Close(ctx context.Context) error {
	if err := r.f.Close(); err != nil {
		return dal.Wrap(err)
	}
	return nil
}

// Write streams directly to a temp file beside the target and renames
// it into place on Close, so a reader never observes a partial write.
func (b *Backend) Write(ctx context.Context, p string, args dal.WriteArgs) (dal.Writer, error) {
	full, err := b.fullPath(p)
	if err != nil {
		return nil, err
	}
	if args.IfNotExists {
		if _, err := os.Stat(full); err == nil {
			return nil, dal.NewError(dal.KindAlreadyExists, "object already exists").WithContext(dal.KV{Key: "path", Value: p})
		}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, translateError(err, p)
	}
	tmp := full + ".dal-tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, translateError(err, p)
	}
	return &writer{f: f, tmp: tmp, final: full}, nil
}

type writer struct {
	f     *os.File
	tmp   string
	final string
}

func (w *writer) Write(ctx context.Context, b dal.Buffer) error {
	if _, err := w.f.Write(b.Bytes()); err != nil {
		return dal.Wrap(err)
	}
	return nil
}

func (w *writer) Close(ctx context.Context) (dal.Metadata, error) {
	if err := w.f.Close(); err != nil {
		return dal.Metadata{}, dal.Wrap(err)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		return dal.Metadata{}, dal.Wrap(err)
	}
	fi, err := os.Stat(w.final)
	if err != nil {
		return dal.Metadata{}, dal.Wrap(err)
	}
	return dal.Metadata{ContentLength: fi.Size(), LastModified: fi.ModTime()}, nil
}

func (w *writer) Abort(ctx context.Context) error {
	w.f.Close()
	if err := os.Remove(w.tmp); err != nil {
		return dal.Wrap(err)
	}
	return nil
}

func (b *Backend) Copy(ctx context.Context, from, to string) error {
	fromFull, err := b.fullPath(from)
	if err != nil {
		return err
	}
	toFull, err := b.fullPath(to)
	if err != nil {
		return err
	}
	if fromFull == toFull {
		return dal.NewError(dal.KindIsSameFile, "source and destination are the same").WithContext(dal.KV{Key: "path", Value: from})
	}
	src, err := os.Open(fromFull)
	if err != nil {
		return translateError(err, from)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(toFull), 0o755); err != nil {
		return translateError(err, to)
	}
	dst, err := os.Create(toFull)
	if err != nil {
		return translateError(err, to)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return dal.Wrap(err)
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, from, to string) error {
	fromFull, err := b.fullPath(from)
	if err != nil {
		return err
	}
	toFull, err := b.fullPath(to)
	if err != nil {
		return err
	}
	if fromFull == toFull {
		return dal.NewError(dal.KindIsSameFile, "source and destination are the same").WithContext(dal.KV{Key: "path", Value: from})
	}
	if err := os.MkdirAll(filepath.Dir(toFull), 0o755); err != nil {
		return translateError(err, to)
	}
	if err := os.Rename(fromFull, toFull); err != nil {
		return translateError(err, from)
	}
	return nil
}

func (b *Backend) Presign(ctx context.Context, p string, args dal.PresignArgs) (dal.PresignedRequest, error) {
	return dal.PresignedRequest{}, dal.NewError(dal.KindUnsupported, "fs backend does not support presigning")
}

func (b *Backend) List(ctx context.Context, p string, args dal.ListArgs) (dal.Lister, error) {
	full, err := b.fullPath(p)
	if err != nil {
		full = b.root
	}

	var entries []dal.Entry
	walkErr := filepath.WalkDir(full, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == full {
				return filepath.SkipDir
			}
			return err
		}
		if path == full {
			return nil
		}
		rel, _ := filepath.Rel(b.root, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if !args.Recursive {
				entries = append(entries, dal.Entry{Path: rel + "/"})
				return filepath.SkipDir
			}
			return nil
		}
		fi, ferr := d.Info()
		if ferr != nil {
			return ferr
		}
		entries = append(entries, dal.Entry{Path: rel, Metadata: dal.Metadata{ContentLength: fi.Size(), LastModified: fi.ModTime()}})
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return nil, dal.Wrap(walkErr)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	if args.StartAfter != "" {
		idx := sort.Search(len(entries), func(i int) bool { return entries[i].Path > args.StartAfter })
		entries = entries[idx:]
	}
	if args.Limit > 0 && len(entries) > args.Limit {
		entries = entries[:args.Limit]
	}
	return &lister{entries: entries}, nil
}

type lister struct {
	entries []dal.Entry
	i       int
}

func (l *lister) Next(ctx context.Context) (dal.Entry, bool, error) {
	if l.i >= len(l.entries) {
		return dal.Entry{}, false, nil
	}
	e := l.entries[l.i]
	l.i++
	return e, true, nil
}

func (l *lister) Close(ctx context.Context) error { return nil }

func (b *Backend) Delete(ctx context.Context) (dal.Deleter, error) {
	return &deleter{b: b}, nil
}

type deleter struct {
	b      *Backend
	queued []string
}

func (d *deleter) Delete(p string, args dal.DeleteArgs) error {
	full, err := d.b.fullPath(p)
	if err != nil {
		return err
	}
	d.queued = append(d.queued, full)
	return nil
}

func (d *deleter) Flush(ctx context.Context) (int, error) {
	batch := d.queued
	d.queued = nil
	n := 0
	for _, full := range batch {
		if err := os.Remove(full); err == nil {
			n++
		} else if !os.IsNotExist(err) {
			return n, dal.Wrap(err)
		}
	}
	return n, nil
}

func (d *deleter) Close(ctx context.Context) error { return nil }

func init() {
	dal.Register("fs", func(config map[string]string) (dal.Accessor, error) {
		return New(config["name"], config["root"])
	})
}

var _ dal.Accessor = (*Backend)(nil)
