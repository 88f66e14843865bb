// Package s3 implements dal.Accessor and dal/multipart.Backend against
// Amazon S3 (and S3-compatible stores), calling
// github.com/aws/aws-sdk-go-v2/service/s3 directly — CreateMultipartUpload,
// UploadPart, CompleteMultipartUpload, AbortMultipartUpload, PutObject
// — rather than going through the SDK's own feature/s3/manager
// uploader, so dal/multipart's engine (not the SDK's) drives chunked
// uploads.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/unidal/dal"
	"github.com/unidal/dal/multipart"
)

// s3API is the subset of *s3.Client the backend depends on, narrowed
// so tests can substitute a fake without spinning up real AWS calls.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Backend is a dal.Accessor backed by S3.
type Backend struct {
	info   *dal.AccessorInfo
	client s3API
	bucket string
	prefix string
}

// s3MinPartSize is S3's minimum part size for all but the last part of
// a multipart upload.
const s3MinPartSize = 5 * 1024 * 1024

// New constructs a Backend from cfg, loading AWS credentials the
// standard way (environment, shared config, or cfg's static keys).
func New(ctx context.Context, name string, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, dal.Wrap(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newWithClient(name, cfg, client), nil
}

func newWithClient(name string, cfg Config, client s3API) *Backend {
	b := &Backend{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}
	b.info = dal.NewAccessorInfo("s3", name, cfg.Bucket, dal.Capability{
		CreateDir:            true,
		Read:                 true,
		ReadWithRange:        true,
		Write:                true,
		WriteCanMulti:        true,
		WriteCanEmpty:        true,
		WriteMultiMinSize:    s3MinPartSize,
		WriteWithContentType: true,
		Copy:                 true,
		Rename:               true,
		Stat:                 true,
		StatWithIfMatch:      true,
		StatWithIfNoMatch:    true,
		Delete:               true,
		DeleteMaxSize:        1000,
		DeleteWithVersion:    true,
		List:                 true,
		ListWithRecursive:    true,
		ListWithLimit:        true,
		PresignRead:          true,
		PresignWrite:         true,
		Shared:               true,
	}, nil)
	return b
}

func (b *Backend) Info() *dal.AccessorInfo { return b.info }

func (b *Backend) fullKey(p string) string {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if b.prefix == "" {
		return clean
	}
	return path.Join(b.prefix, clean)
}

// translateError maps an AWS API error to a dal.Error, following the
// same shape as the rest of dal's backends: well-known S3 error codes
// become specific Kinds, everything else is Unexpected and, if it
// looks like a server-side or throttling failure, Temporary.
func translateError(err error, p string) error {
	if err == nil {
		return nil
	}
	kind := dal.KindUnexpected
	temp := false

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			kind = dal.KindNotFound
		case "PreconditionFailed", "NotModified":
			kind = dal.KindConditionNotMatch
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			kind = dal.KindAlreadyExists
		case "AccessDenied":
			kind = dal.KindPermissionDenied
		case "SlowDown", "RequestTimeout", "ThrottlingException":
			kind = dal.KindRateLimited
			temp = true
		case "InternalError", "ServiceUnavailable":
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
	key := b.fullKey(p)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(""),
	})
	return translateError(err, p)
}

func (b *Backend) Stat(ctx context.Context, p string, args dal.StatArgs) (dal.Metadata, error) {
	in := &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.fullKey(p))}
	if args.IfMatch != "" {
		in.IfMatch = aws.String(args.IfMatch)
	}
	if args.IfNoneMatch != "" {
		in.IfNoneMatch = aws.String(args.IfNoneMatch)
	}
	out, err := b.client.HeadObject(ctx, in)
	if err != nil {
		return dal.Metadata{}, translateError(err, p)
	}
	return metadataFromHead(out), nil
}

func metadataFromHead(out *s3.HeadObjectOutput) dal.Metadata {
	md := dal.Metadata{ContentType: aws.ToString(out.ContentType)}
	if out.ContentLength != nil {
		md.ContentLength = *out.ContentLength
	}
	if out.ETag != nil {
		md.ETag = strings.Trim(*out.ETag, `"`)
		md.Version = md.ETag
	}
	if out.LastModified != nil {
		md.LastModified = *out.LastModified
	}
	if out.Metadata != nil {
		md.UserMetadata = out.Metadata
	}
	return md
}

func (b *Backend) Read(ctx context.Context, p string, args dal.ReadArgs) (dal.Reader, error) {
	in := &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.fullKey(p))}
	if args.RangeOffset > 0 || args.RangeLength > 0 {
		if args.RangeLength > 0 {
			in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", args.RangeOffset, args.RangeOffset+args.RangeLength-1))
		} else {
			in.Range = aws.String(fmt.Sprintf("bytes=%d-", args.RangeOffset))
		}
	}
	if args.IfMatch != "" {
		in.IfMatch = aws.String(args.IfMatch)
	}
	if args.IfNoneMatch != "" {
		in.IfNoneMatch = aws.String(args.IfNoneMatch)
	}
	out, err := b.client.GetObject(ctx, in)
	if err != nil {
		return nil, translateError(err, p)
	}
	return &reader{body: out.Body}, nil
}

const readChunkSize = 32 * 1024

type reader struct {
	body io.ReadCloser
}

func (r *reader) Read(ctx context.Context) (dal.Buffer, error) {
	buf := make([]byte, readChunkSize)
	n, err := r.body.Read(buf)
	if n > 0 {
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
	if err := r.body.Close(); err != nil {
		return dal.Wrap(err)
	}
	return nil
}

func (b *Backend) Write(ctx context.Context, p string, args dal.WriteArgs) (dal.Writer, error) {
	concurrent := args.Concurrent
	if concurrent < 1 {
		concurrent = 4
	}
	return multipart.NewWriter(&session{b: b, ctx: ctx, key: b.fullKey(p), args: args}, b.info.Executor(), concurrent), nil
}

// session binds the multipart.Backend protocol to one key/args pair.
// ctx is the context of the Write call that opened the session; the
// multipart.Backend methods below use the ctx they are called with, not
// this one.
type session struct {
	b    *Backend
	ctx  context.Context
	key  string
	args dal.WriteArgs
}

func (s *session) putObjectInput(size int64, body []byte) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.b.bucket),
		Key:           aws.String(s.key),
		Body:          bytesReader(body),
		ContentLength: aws.Int64(size),
	}
	if s.args.ContentType != "" {
		in.ContentType = aws.String(s.args.ContentType)
	}
	if len(s.args.UserMetadata) > 0 {
		in.Metadata = s.args.UserMetadata
	}
	if s.args.IfNotExists {
		in.IfNoneMatch = aws.String("*")
	}
	return in
}

func (s *session) WriteOnce(ctx context.Context, size int64, body dal.Buffer) (dal.Metadata, error) {
	out, err := s.b.client.PutObject(ctx, s.putObjectInput(size, body.Bytes()))
	if err != nil {
		return dal.Metadata{}, translateError(err, s.key)
	}
	md := dal.Metadata{ContentLength: size, ContentType: s.args.ContentType}
	if out.ETag != nil {
		md.ETag = strings.Trim(*out.ETag, `"`)
		md.Version = md.ETag
	}
	return md, nil
}

func (s *session) InitiatePart(ctx context.Context) (string, error) {
	in := &s3.CreateMultipartUploadInput{Bucket: aws.String(s.b.bucket), Key: aws.String(s.key)}
	if s.args.ContentType != "" {
		in.ContentType = aws.String(s.args.ContentType)
	}
	if len(s.args.UserMetadata) > 0 {
		in.Metadata = s.args.UserMetadata
	}
	out, err := s.b.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", translateError(err, s.key)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *session) WritePart(ctx context.Context, uploadID string, partNumber int, size int64, body dal.Buffer) (dal.MultipartPart, error) {
	// S3 part numbers are 1-based; dal's are 0-based.
	out, err := s.b.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.b.bucket),
		Key:           aws.String(s.key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber) + 1),
		Body:          bytesReader(body.Bytes()),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return dal.MultipartPart{}, dal.Wrap(translateError(err, s.key),
			dal.KV{Key: "upload_id", Value: uploadID},
			dal.KV{Key: "part_number", Value: fmt.Sprint(partNumber)})
	}
	return dal.MultipartPart{PartNumber: partNumber, ETag: strings.Trim(aws.ToString(out.ETag), `"`)}, nil
}

func (s *session) CompletePart(ctx context.Context, uploadID string, parts []dal.MultipartPart) (dal.Metadata, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, part := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(part.PartNumber) + 1),
			ETag:       aws.String(`"` + part.ETag + `"`),
		}
	}
	out, err := s.b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.b.bucket),
		Key:             aws.String(s.key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return dal.Metadata{}, translateError(err, s.key)
	}
	md := dal.Metadata{}
	if out.ETag != nil {
		md.ETag = strings.Trim(*out.ETag, `"`)
		md.Version = md.ETag
	}
	return md, nil
}

func (s *session) AbortPart(ctx context.Context, uploadID string) error {
	_, err := s.b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.b.bucket),
		Key:      aws.String(s.key),
		UploadId: aws.String(uploadID),
	})
	return translateError(err, s.key)
}

func bytesReader(b []byte) io.Reader { return strings.NewReader(string(b)) }

func (b *Backend) Copy(ctx context.Context, from, to string) error {
	source := b.bucket + "/" + b.fullKey(from)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(b.fullKey(to)),
		CopySource: aws.String(source),
	})
	return translateError(err, from)
}

func (b *Backend) Rename(ctx context.Context, from, to string) error {
	if err := b.Copy(ctx, from, to); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.fullKey(from))})
	return translateError(err, from)
}

func (b *Backend) Presign(ctx context.Context, p string, args dal.PresignArgs) (dal.PresignedRequest, error) {
	presignClient := s3.NewPresignClient(s3Client(b.client))
	key := b.fullKey(p)
	opts := func(po *s3.PresignOptions) {
		if args.Expire > 0 {
			po.Expires = args.Expire
		}
	}

	switch args.Operation {
	case dal.OpWrite:
		req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)}, opts)
		if err != nil {
			return dal.PresignedRequest{}, translateError(err, p)
		}
		return dal.PresignedRequest{Method: req.Method, URL: req.URL, Headers: flattenHeader(req.SignedHeader)}, nil
	default:
		req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)}, opts)
		if err != nil {
			return dal.PresignedRequest{}, translateError(err, p)
		}
		return dal.PresignedRequest{Method: req.Method, URL: req.URL, Headers: flattenHeader(req.SignedHeader)}, nil
	}
}

// flattenHeader collapses the signer's http.Header into the single
// string per key that dal.PresignedRequest carries; presigned requests
// never rely on repeated headers.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// s3Client narrows s3API back to *s3.Client for NewPresignClient, which
// only accepts the concrete client. Presigning is only ever exercised
// against a real *s3.Client in this backend's tests' fake stands in
// for the data-plane calls, not the presign client.
func s3Client(api s3API) *s3.Client {
	if c, ok := api.(*s3.Client); ok {
		return c
	}
	return nil
}

func (b *Backend) List(ctx context.Context, p string, args dal.ListArgs) (dal.Lister, error) {
	prefix := b.fullKey(p)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	in := &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket), Prefix: aws.String(prefix)}
	if !args.Recursive {
		in.Delimiter = aws.String("/")
	}
	if args.StartAfter != "" {
		in.StartAfter = aws.String(b.fullKey(args.StartAfter))
	}
	if args.Limit > 0 {
		in.MaxKeys = aws.Int32(int32(args.Limit))
	}

	var entries []dal.Entry
	for {
		out, err := b.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, translateError(err, p)
		}
		for _, obj := range out.Contents {
			entries = append(entries, dal.Entry{
				Path: strings.TrimPrefix(aws.ToString(obj.Key), b.prefix+"/"),
				Metadata: dal.Metadata{
					ContentLength: aws.ToInt64(obj.Size),
					ETag:          strings.Trim(aws.ToString(obj.ETag), `"`),
					LastModified:  aws.ToTime(obj.LastModified),
				},
			})
		}
		for _, cp := range out.CommonPrefixes {
			entries = append(entries, dal.Entry{Path: strings.TrimPrefix(aws.ToString(cp.Prefix), b.prefix+"/")})
		}
		if args.Limit > 0 && len(entries) >= args.Limit {
			entries = entries[:args.Limit]
			break
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.ContinuationToken = out.NextContinuationToken
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
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
	queued []types.ObjectIdentifier
}

func (d *deleter) Delete(p string, args dal.DeleteArgs) error {
	id := types.ObjectIdentifier{Key: aws.String(d.b.fullKey(p))}
	if args.Version != "" {
		id.VersionId = aws.String(args.Version)
	}
	d.queued = append(d.queued, id)
	return nil
}

// maxDeleteBatch matches S3's DeleteObjects limit of 1000 keys per
// call.
const maxDeleteBatch = 1000

func (d *deleter) Flush(ctx context.Context) (int, error) {
	batch := d.queued
	d.queued = nil

	n := 0
	for len(batch) > 0 {
		chunkSize := maxDeleteBatch
		if chunkSize > len(batch) {
			chunkSize = len(batch)
		}
		chunk := batch[:chunkSize]
		batch = batch[chunkSize:]

		out, err := d.b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.b.bucket),
			Delete: &types.Delete{Objects: chunk},
		})
		if err != nil {
			return n, translateError(err, "")
		}
		n += len(out.Deleted)
	}
	return n, nil
}

func (d *deleter) Close(ctx context.Context) error { return nil }

func init() {
	dal.Register("s3", func(config map[string]string) (dal.Accessor, error) {
		return New(context.Background(), config["name"], ConfigFromMap(config))
	})
}

var (
	_ dal.Accessor      = (*Backend)(nil)
	_ multipart.Backend = (*session)(nil)
)
