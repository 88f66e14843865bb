package dal

import (
	"net/http"
	"sync/atomic"
	"time"
)

// Metadata is the per-object descriptor returned by Stat and
// Writer.Close, and carried by each Lister Entry.
type Metadata struct {
	ContentLength int64
	ContentType   string
	ETag          string
	LastModified  time.Time
	UserMetadata  map[string]string
	Version       string
}

// MultipartPart identifies one part of a multipart upload session.
// PartNumber is 0-based; within a session, part numbers form the dense
// sequence 0..N-1 with no gaps or duplicates.
type MultipartPart struct {
	PartNumber int
	ETag       string
	Checksum   string
}

// Capability is a flat record of capability flags an Accessor
// advertises through AccessorInfo. A layer that does not change
// operation semantics must not alter the Capability it forwards.
type Capability struct {
	CreateDir bool

	Read          bool
	ReadWithRange bool

	Write                bool
	WriteCanMulti        bool
	WriteCanEmpty        bool
	WriteMultiMinSize    uint64
	WriteMultiMaxSize    uint64
	WriteMultiAlignSize  uint64
	WriteWithContentType bool

	Copy   bool
	Rename bool

	Stat              bool
	StatWithIfMatch   bool
	StatWithIfNoMatch bool

	Delete         bool
	DeleteMaxSize  uint64
	DeleteWithVersion bool

	List             bool
	ListWithRecursive bool
	ListWithLimit    bool

	PresignRead  bool
	PresignWrite bool

	// Shared indicates the backing store is a network-shared service
	// (true for S3-style backends) as opposed to a single host/process
	// resource (false for a local filesystem).
	Shared bool
}

// AccessorInfo is a shared, read-mostly descriptor created once when a
// backend is built and held by reference by every layer wrapping it.
// Its mutable fields use atomic.Pointer for lock-free reads.
type AccessorInfo struct {
	Scheme string
	Name   string
	Root   string
	Cap    Capability

	executor   atomic.Pointer[Executor]
	httpClient atomic.Pointer[http.Client]
}

// NewAccessorInfo constructs an AccessorInfo with the given executor
// installed. A nil executor is replaced with GoExecutor{}.
func NewAccessorInfo(scheme, name, root string, cap Capability, exec Executor) *AccessorInfo {
	if exec == nil {
		exec = GoExecutor{}
	}
	info := &AccessorInfo{Scheme: scheme, Name: name, Root: root, Cap: cap}
	info.executor.Store(&exec)
	return info
}

// Executor returns the current executor handle.
func (a *AccessorInfo) Executor() Executor {
	if p := a.executor.Load(); p != nil {
		return *p
	}
	return GoExecutor{}
}

// SetExecutor atomically replaces the executor handle.
func (a *AccessorInfo) SetExecutor(exec Executor) {
	a.executor.Store(&exec)
}

// HTTPClient returns the shared HTTP client handle, or nil if none was
// set.
func (a *AccessorInfo) HTTPClient() *http.Client {
	return a.httpClient.Load()
}

// SetHTTPClient atomically replaces the shared HTTP client handle.
func (a *AccessorInfo) SetHTTPClient(c *http.Client) {
	a.httpClient.Store(c)
}
