// Package sftp implements dal.Accessor over an SFTP connection. Like
// fs, it has no chunked-upload protocol of its own, so
// Capability.WriteCanMulti is false; unlike fs, the backing file
// system is remote, so Write still goes through a temp-file-then-rename
// sequence to keep readers from observing a partial upload.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/unidal/dal"
)

// Backend is a dal.Accessor backed by an SFTP server.
type Backend struct {
	info       *dal.AccessorInfo
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	root       string
}

// New dials cfg.Host and authenticates with cfg's credentials.
//
// Host key verification is disabled: the client accepts any host key
// the server presents.
func New(name string, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var authMethods []ssh.AuthMethod
	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if cfg.KeyFile != "" {
		keyAuth, err := keyFileAuth(cfg.KeyFile, cfg.KeyPassphrase)
		if err != nil {
			return nil, dal.Wrap(err)
		}
		authMethods = append(authMethods, keyAuth)
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		Timeout:         time.Duration(cfg.Timeout) * time.Second,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, dal.Wrap(err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, dal.Wrap(err)
	}

	b := &Backend{sshClient: sshClient, sftpClient: sftpClient, root: cfg.Root}
	b.info = dal.NewAccessorInfo("sftp", name, cfg.Root, dal.Capability{
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
		Shared:            true,
	}, nil)
	return b, nil
}

func keyFileAuth(keyFile, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func (b *Backend) Info() *dal.AccessorInfo { return b.info }

// Close releases the underlying SSH session. dal.Accessor does not
// require a Close method, but callers that know they hold a Backend
// (rather than the interface) can release the connection explicitly.
func (b *Backend) Close() error {
	var errs []error
	if err := b.sftpClient.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.sshClient.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Backend) fullPath(p string) string {
	clean := path.Clean("/" + p)
	if b.root == "" {
		return clean
	}
	return path.Join(b.root, clean)
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
		var netErr net.Error
		if errors.As(err, &netErr) {
			temp = true
		}
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
	return translateError(b.sftpClient.MkdirAll(b.fullPath(p)), p)
}

func (b *Backend) Stat(ctx context.Context, p string, args dal.StatArgs) (dal.Metadata, error) {
	fi, err := b.sftpClient.Stat(b.fullPath(p))
	if err != nil {
		return dal.Metadata{}, translateError(err, p)
	}
	if fi.IsDir() {
		return dal.Metadata{}, dal.NewError(dal.KindIsADirectory, "path is a directory").WithContext(dal.KV{Key: "path", Value: p})
	}
	return dal.Metadata{ContentLength: fi.Size(), LastModified: fi.ModTime()}, nil
}

func (b *Backend) Read(ctx context.Context, p string, args dal.ReadArgs) (dal.Reader, error) {
	f, err := b.sftpClient.Open(b.fullPath(p))
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

const readChunkSize = 32 * 1024

type reader struct {
	f         *sftp.File
	remaining int64 // -1 means unbounded
}

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

// Write streams to a temp file beside the target and renames it into
// place on Close, matching fs.Backend's atomicity guarantee over a
// remote file system that offers no multipart protocol of its own.
func (b *Backend) Write(ctx context.Context, p string, args dal.WriteArgs) (dal.Writer, error) {
	full := b.fullPath(p)
	if args.IfNotExists {
		if _, err := b.sftpClient.Stat(full); err == nil {
			return nil, dal.NewError(dal.KindAlreadyExists, "object already exists").WithContext(dal.KV{Key: "path", Value: p})
		}
	}
	if err := b.sftpClient.MkdirAll(path.Dir(full)); err != nil {
		return nil, translateError(err, p)
	}
	tmp := full + ".dal-tmp"
	f, err := b.sftpClient.Create(tmp)
	if err != nil {
		return nil, translateError(err, p)
	}
	return &writer{client: b.sftpClient, f: f, tmp: tmp, final: full}, nil
}

type writer struct {
	client *sftp.Client
	f      *sftp.File
	tmp    string
	final  string
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
	if err := w.client.Rename(w.tmp, w.final); err != nil {
		return dal.Metadata{}, dal.Wrap(err)
	}
	fi, err := w.client.Stat(w.final)
	if err != nil {
		return dal.Metadata{}, dal.Wrap(err)
	}
	return dal.Metadata{ContentLength: fi.Size(), LastModified: fi.ModTime()}, nil
}

func (w *writer) Abort(ctx context.Context) error {
	w.f.Close()
	if err := w.client.Remove(w.tmp); err != nil {
		return dal.Wrap(err)
	}
	return nil
}

func (b *Backend) Copy(ctx context.Context, from, to string) error {
	fromFull, toFull := b.fullPath(from), b.fullPath(to)
	if fromFull == toFull {
		return dal.NewError(dal.KindIsSameFile, "source and destination are the same").WithContext(dal.KV{Key: "path", Value: from})
	}

	src, err := b.sftpClient.Open(fromFull)
	if err != nil {
		return translateError(err, from)
	}
	defer src.Close()

	if err := b.sftpClient.MkdirAll(path.Dir(toFull)); err != nil {
		return translateError(err, to)
	}
	dst, err := b.sftpClient.Create(toFull)
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
	fromFull, toFull := b.fullPath(from), b.fullPath(to)
	if fromFull == toFull {
		return dal.NewError(dal.KindIsSameFile, "source and destination are the same").WithContext(dal.KV{Key: "path", Value: from})
	}
	if err := b.sftpClient.MkdirAll(path.Dir(toFull)); err != nil {
		return translateError(err, to)
	}
	if err := b.sftpClient.Rename(fromFull, toFull); err != nil {
		// Cross-device renames aren't always supported by a server; fall
		// back to copy+delete, the same way the pack's own SFTP
		// reference does.
		if copyErr := b.Copy(ctx, from, to); copyErr != nil {
			return translateError(err, from)
		}
		return translateError(b.sftpClient.Remove(fromFull), from)
	}
	return nil
}

func (b *Backend) Presign(ctx context.Context, p string, args dal.PresignArgs) (dal.PresignedRequest, error) {
	return dal.PresignedRequest{}, dal.NewError(dal.KindUnsupported, "sftp backend does not support presigning")
}

func (b *Backend) List(ctx context.Context, p string, args dal.ListArgs) (dal.Lister, error) {
	full := b.fullPath(p)
	var entries []dal.Entry
	if err := b.walk(full, args.Recursive, &entries); err != nil {
		return nil, err
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

func (b *Backend) walk(dir string, recursive bool, out *[]dal.Entry) error {
	children, err := b.sftpClient.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dal.Wrap(err)
	}

	for _, child := range children {
		full := path.Join(dir, child.Name())
		rel := strings.TrimPrefix(full, b.root)
		rel = strings.TrimPrefix(rel, "/")

		if child.IsDir() {
			if !recursive {
				*out = append(*out, dal.Entry{Path: rel + "/"})
				continue
			}
			if err := b.walk(full, recursive, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, dal.Entry{Path: rel, Metadata: dal.Metadata{ContentLength: child.Size(), LastModified: child.ModTime()}})
	}
	return nil
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
	d.queued = append(d.queued, d.b.fullPath(p))
	return nil
}

func (d *deleter) Flush(ctx context.Context) (int, error) {
	batch := d.queued
	d.queued = nil
	n := 0
	for _, full := range batch {
		if err := d.b.sftpClient.Remove(full); err == nil {
			n++
		} else if !os.IsNotExist(err) {
			return n, dal.Wrap(err)
		}
	}
	return n, nil
}

func (d *deleter) Close(ctx context.Context) error { return nil }

func init() {
	dal.Register("sftp", func(config map[string]string) (dal.Accessor, error) {
		return New(config["name"], ConfigFromMap(config))
	})
}

var _ dal.Accessor = (*Backend)(nil)
