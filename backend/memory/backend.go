// Package memory implements an in-memory dal.Accessor, primarily as a
// fast, deterministic harness for exercising dal/multipart: it
// deliberately fakes chunked upload by splitting writes into synthetic
// parts rather than ever touching a network.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unidal/dal"
	"github.com/unidal/dal/multipart"
)

const readChunkSize = 32 * 1024

type object struct {
	data         []byte
	contentType  string
	userMetadata map[string]string
	version      string
	modified     time.Time
}

type upload struct {
	parts map[int][]byte
}

// Backend is an in-memory object store keyed by a flat path namespace.
type Backend struct {
	info *dal.AccessorInfo

	mu      sync.RWMutex
	objects map[string]*object
	uploads map[string]*upload

	nextUploadID int64
	nextVersion  int64
}

// New constructs an in-memory Backend. name identifies it in
// AccessorInfo and in logs.
func New(name string) *Backend {
	b := &Backend{
		objects: make(map[string]*object),
		uploads: make(map[string]*upload),
	}
	b.info = dal.NewAccessorInfo("memory", name, "/", dal.Capability{
		CreateDir:            true,
		Read:                 true,
		ReadWithRange:        true,
		Write:                true,
		WriteCanMulti:        true,
		WriteCanEmpty:        true,
		WriteMultiMinSize:    1,
		WriteWithContentType: true,
		Copy:                 true,
		Rename:               true,
		Stat:                 true,
		StatWithIfMatch:      true,
		StatWithIfNoMatch:    true,
		Delete:               true,
		List:                 true,
		ListWithRecursive:    true,
		ListWithLimit:        true,
		Shared:               false,
	}, nil)
	return b
}

func validatePath(p string) error {
	if p == "" {
		return dal.NewError(dal.KindConfigInvalid, "path must not be empty")
	}
	if strings.Contains(p, "..") {
		return dal.NewError(dal.KindConfigInvalid, "path must not contain ..").WithContext(dal.KV{Key: "path", Value: p})
	}
	return nil
}

func normalizePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (b *Backend) Info() *dal.AccessorInfo { return b.info }

func (b *Backend) CreateDir(ctx context.Context, p string) error {
	return validatePath(p)
}

func (b *Backend) Stat(ctx context.Context, p string, args dal.StatArgs) (dal.Metadata, error) {
	if err := validatePath(p); err != nil {
		return dal.Metadata{}, err
	}
	p = normalizePath(p)

	b.mu.RLock()
	obj, ok := b.objects[p]
	b.mu.RUnlock()
	if !ok {
		return dal.Metadata{}, dal.NewError(dal.KindNotFound, "object not found").WithContext(dal.KV{Key: "path", Value: p})
	}
	if args.IfMatch != "" && args.IfMatch != obj.version {
		return dal.Metadata{}, dal.NewError(dal.KindConditionNotMatch, "if-match failed").WithContext(dal.KV{Key: "path", Value: p})
	}
	if args.IfNoneMatch != "" && args.IfNoneMatch == obj.version {
		return dal.Metadata{}, dal.NewError(dal.KindConditionNotMatch, "if-none-match failed").WithContext(dal.KV{Key: "path", Value: p})
	}
	return b.metadataFor(obj), nil
}

func (b *Backend) metadataFor(obj *object) dal.Metadata {
	return dal.Metadata{
		ContentLength: int64(len(obj.data)),
		ContentType:   obj.contentType,
		ETag:          obj.version,
		LastModified:  obj.modified,
		UserMetadata:  obj.userMetadata,
		Version:       obj.version,
	}
}

func (b *Backend) Read(ctx context.Context, p string, args dal.ReadArgs) (dal.Reader, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}
	p = normalizePath(p)

	b.mu.RLock()
	obj, ok := b.objects[p]
	b.mu.RUnlock()
	if !ok {
		return nil, dal.NewError(dal.KindNotFound, "object not found").WithContext(dal.KV{Key: "path", Value: p})
	}
	if args.IfMatch != "" && args.IfMatch != obj.version {
		return nil, dal.NewError(dal.KindConditionNotMatch, "if-match failed").WithContext(dal.KV{Key: "path", Value: p})
	}
	if args.IfNoneMatch != "" && args.IfNoneMatch == obj.version {
		return nil, dal.NewError(dal.KindConditionNotMatch, "if-none-match failed").WithContext(dal.KV{Key: "path", Value: p})
	}

	start := args.RangeOffset
	end := int64(len(obj.data))
	if args.RangeLength > 0 && start+args.RangeLength < end {
		end = start + args.RangeLength
	}
	if start < 0 || start > int64(len(obj.data)) {
		return nil, dal.NewError(dal.KindRangeNotSatisfied, "range out of bounds").WithContext(dal.KV{Key: "path", Value: p})
	}
	return &reader{data: obj.data[start:end]}, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) Read(ctx context.Context) (dal.Buffer, error) {
	if r.pos >= len(r.data) {
		return dal.Buffer{}, nil
	}
	end := r.pos + readChunkSize
	if end > len(r.data) {
		end = len(r.data)
	}
	chunk := r.data[r.pos:end]
	r.pos = end
	return dal.NewBuffer(chunk), nil
}

func (r *reader) Close(ctx context.Context) error { return nil }

func (b *Backend) Write(ctx context.Context, p string, args dal.WriteArgs) (dal.Writer, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}
	p = normalizePath(p)

	if args.IfNotExists {
		b.mu.RLock()
		_, exists := b.objects[p]
		b.mu.RUnlock()
		if exists {
			return nil, dal.NewError(dal.KindAlreadyExists, "object already exists").WithContext(dal.KV{Key: "path", Value: p})
		}
	}

	concurrent := args.Concurrent
	if concurrent < 1 {
		concurrent = 4
	}
	return multipart.NewWriter(&session{b: b, path: p, args: args}, b.info.Executor(), concurrent), nil
}

// session binds a multipart.Backend to one path/args pair so a single
// Backend can back many concurrent Writer sessions.
type session struct {
	b    *Backend
	path string
	args dal.WriteArgs
}

func (s *session) WriteOnce(ctx context.Context, size int64, body dal.Buffer) (dal.Metadata, error) {
	return s.b.store(s.path, body.Bytes(), s.args)
}

func (s *session) InitiatePart(ctx context.Context) (string, error) {
	return s.b.initiateUpload(), nil
}

func (s *session) WritePart(ctx context.Context, uploadID string, partNumber int, size int64, body dal.Buffer) (dal.MultipartPart, error) {
	return s.b.writePart(uploadID, partNumber, body.Bytes())
}

func (s *session) CompletePart(ctx context.Context, uploadID string, parts []dal.MultipartPart) (dal.Metadata, error) {
	return s.b.completeUpload(uploadID, parts, s.path, s.args)
}

func (s *session) AbortPart(ctx context.Context, uploadID string) error {
	return s.b.abortUpload(uploadID)
}

func (b *Backend) newVersion() string {
	return strconv.FormatInt(atomic.AddInt64(&b.nextVersion, 1), 10)
}

func (b *Backend) store(p string, data []byte, args dal.WriteArgs) (dal.Metadata, error) {
	cp := append([]byte(nil), data...)
	obj := &object{
		data:         cp,
		contentType:  args.ContentType,
		userMetadata: args.UserMetadata,
		version:      b.newVersion(),
		modified:     time.Now(),
	}

	b.mu.Lock()
	if args.IfNotExists {
		if _, exists := b.objects[p]; exists {
			b.mu.Unlock()
			return dal.Metadata{}, dal.NewError(dal.KindAlreadyExists, "object already exists").WithContext(dal.KV{Key: "path", Value: p})
		}
	}
	b.objects[p] = obj
	b.mu.Unlock()

	return b.metadataFor(obj), nil
}

func (b *Backend) initiateUpload() string {
	id := fmt.Sprintf("upload-%d", atomic.AddInt64(&b.nextUploadID, 1))
	b.mu.Lock()
	b.uploads[id] = &upload{parts: make(map[int][]byte)}
	b.mu.Unlock()
	return id
}

func (b *Backend) writePart(uploadID string, partNumber int, data []byte) (dal.MultipartPart, error) {
	cp := append([]byte(nil), data...)

	b.mu.Lock()
	up, ok := b.uploads[uploadID]
	if ok {
		up.parts[partNumber] = cp
	}
	b.mu.Unlock()

	if !ok {
		return dal.MultipartPart{}, dal.NewError(dal.KindNotFound, "unknown upload").WithContext(dal.KV{Key: "upload_id", Value: uploadID})
	}
	return dal.MultipartPart{PartNumber: partNumber, ETag: fmt.Sprintf("%s-%d-%d", uploadID, partNumber, len(cp))}, nil
}

func (b *Backend) completeUpload(uploadID string, parts []dal.MultipartPart, p string, args dal.WriteArgs) (dal.Metadata, error) {
	b.mu.Lock()
	up, ok := b.uploads[uploadID]
	if !ok {
		b.mu.Unlock()
		return dal.Metadata{}, dal.NewError(dal.KindNotFound, "unknown upload").WithContext(dal.KV{Key: "upload_id", Value: uploadID})
	}
	var buf []byte
	for _, part := range parts {
		buf = append(buf, up.parts[part.PartNumber]...)
	}
	delete(b.uploads, uploadID)
	b.mu.Unlock()

	return b.store(p, buf, args)
}

func (b *Backend) abortUpload(uploadID string) error {
	b.mu.Lock()
	delete(b.uploads, uploadID)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Copy(ctx context.Context, from, to string) error {
	if err := validatePath(from); err != nil {
		return err
	}
	if err := validatePath(to); err != nil {
		return err
	}
	from, to = normalizePath(from), normalizePath(to)

	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.objects[from]
	if !ok {
		return dal.NewError(dal.KindNotFound, "object not found").WithContext(dal.KV{Key: "path", Value: from})
	}
	if from == to {
		return dal.NewError(dal.KindIsSameFile, "source and destination are the same").WithContext(dal.KV{Key: "path", Value: from})
	}
	cp := append([]byte(nil), src.data...)
	b.objects[to] = &object{data: cp, contentType: src.contentType, userMetadata: src.userMetadata, version: b.newVersion(), modified: time.Now()}
	return nil
}

func (b *Backend) Rename(ctx context.Context, from, to string) error {
	if err := validatePath(from); err != nil {
		return err
	}
	if err := validatePath(to); err != nil {
		return err
	}
	from, to = normalizePath(from), normalizePath(to)

	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.objects[from]
	if !ok {
		return dal.NewError(dal.KindNotFound, "object not found").WithContext(dal.KV{Key: "path", Value: from})
	}
	if from == to {
		return dal.NewError(dal.KindIsSameFile, "source and destination are the same").WithContext(dal.KV{Key: "path", Value: from})
	}
	b.objects[to] = src
	delete(b.objects, from)
	return nil
}

func (b *Backend) Presign(ctx context.Context, p string, args dal.PresignArgs) (dal.PresignedRequest, error) {
	return dal.PresignedRequest{}, dal.NewError(dal.KindUnsupported, "memory backend does not support presigning")
}

func (b *Backend) List(ctx context.Context, p string, args dal.ListArgs) (dal.Lister, error) {
	prefix := normalizePath(p)
	if prefix != "" {
		prefix += "/"
	}

	b.mu.RLock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	b.mu.RUnlock()
	sort.Strings(keys)

	var entries []dal.Entry
	seenDirs := make(map[string]bool)
	for _, k := range keys {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" {
			continue
		}
		if !args.Recursive {
			if idx := strings.Index(rest, "/"); idx >= 0 {
				dir := prefix + rest[:idx+1]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					entries = append(entries, dal.Entry{Path: dir})
				}
				continue
			}
		}

		b.mu.RLock()
		obj := b.objects[k]
		b.mu.RUnlock()
		entries = append(entries, dal.Entry{Path: k, Metadata: b.metadataFor(obj)})
	}

	if args.StartAfter != "" {
		filtered := entries[:0]
		past := false
		for _, e := range entries {
			if past {
				filtered = append(filtered, e)
			} else if e.Path == args.StartAfter {
				past = true
			}
		}
		entries = filtered
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

type queuedDelete struct {
	path string
	args dal.DeleteArgs
}

type deleter struct {
	b *Backend

	mu     sync.Mutex
	queued []queuedDelete
}

func (d *deleter) Delete(p string, args dal.DeleteArgs) error {
	if err := validatePath(p); err != nil {
		return err
	}
	d.mu.Lock()
	d.queued = append(d.queued, queuedDelete{path: normalizePath(p), args: args})
	d.mu.Unlock()
	return nil
}

func (d *deleter) Flush(ctx context.Context) (int, error) {
	d.mu.Lock()
	batch := d.queued
	d.queued = nil
	d.mu.Unlock()

	n := 0
	d.b.mu.Lock()
	for _, q := range batch {
		if _, ok := d.b.objects[q.path]; ok {
			delete(d.b.objects, q.path)
			n++
		}
	}
	d.b.mu.Unlock()
	return n, nil
}

func (d *deleter) Close(ctx context.Context) error { return nil }

func init() {
	dal.Register("memory", func(config map[string]string) (dal.Accessor, error) {
		return New(config["name"]), nil
	})
}

var (
	_ dal.Accessor        = (*Backend)(nil)
	_ multipart.Backend   = (*session)(nil)
)
