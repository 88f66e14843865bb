// Package retry implements the retry layer: a dal.Layer that retries
// non-streaming Accessor calls (and the creation call of a streaming
// handle, never a call mid-stream) when they fail with a temporary
// dal.Error, using exponential backoff with jitter.
package retry

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/unidal/dal"
)

// Config governs the backoff schedule. Delay after attempt n (1-based)
// is InitialDelay * Multiplier^(n-1), capped at MaxDelay, then jittered
// by +/- Jitter fraction.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// DefaultConfig is a conservative default: 3 retries, 100ms initial
// delay doubling up to 2s, +/-20% jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

func (c Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= c.Multiplier
	}
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && d > max {
		d = max
	}
	if c.Jitter > 0 {
		delta := d * c.Jitter
		d = d - delta + rand.Float64()*2*delta
	}
	return time.Duration(d)
}

// Error reports that every attempt up to Config.MaxRetries failed.
// Unwrap returns the last underlying error, so errors.Is/As against it
// still works.
type Error struct {
	Attempts int
	LastErr  error
}

func (e *Error) Error() string {
	return "retry: giving up after " + strconv.Itoa(e.Attempts) + " attempts: " + e.LastErr.Error()
}

func (e *Error) Unwrap() error { return e.LastErr }

// retryable reports whether err carries dal's Temporary signal.
func retryable(err error) bool {
	return dal.IsTemporary(err)
}

// Do runs op, retrying up to cfg.MaxRetries additional times while the
// error is retryable, sleeping cfg.delay(attempt) between attempts (or
// returning ctx.Err() if ctx is cancelled first).
func Do(ctx context.Context, cfg Config, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(cfg.delay(attempt)):
		case <-ctx.Done():
			return dal.Wrap(ctx.Err())
		}
	}
	return &Error{Attempts: cfg.MaxRetries + 1, LastErr: lastErr}
}

// Layer wraps an Accessor's non-streaming methods, and the creation
// call only of its streaming ones, with Do.
type Layer struct {
	Config Config
}

// NewLayer constructs a retry Layer with the given Config.
func NewLayer(cfg Config) Layer { return Layer{Config: cfg} }

func (l Layer) Layer(inner dal.Accessor) dal.Accessor {
	return &accessor{inner: inner, cfg: l.Config}
}

type accessor struct {
	inner dal.Accessor
	cfg   Config
}

func (a *accessor) Info() *dal.AccessorInfo { return a.inner.Info() }

func (a *accessor) CreateDir(ctx context.Context, path string) error {
	return Do(ctx, a.cfg, func() error { return a.inner.CreateDir(ctx, path) })
}

func (a *accessor) Stat(ctx context.Context, path string, args dal.StatArgs) (dal.Metadata, error) {
	var md dal.Metadata
	err := Do(ctx, a.cfg, func() error {
		var err error
		md, err = a.inner.Stat(ctx, path, args)
		return err
	})
	return md, err
}

func (a *accessor) Copy(ctx context.Context, from, to string) error {
	return Do(ctx, a.cfg, func() error { return a.inner.Copy(ctx, from, to) })
}

func (a *accessor) Rename(ctx context.Context, from, to string) error {
	return Do(ctx, a.cfg, func() error { return a.inner.Rename(ctx, from, to) })
}

func (a *accessor) Presign(ctx context.Context, path string, args dal.PresignArgs) (dal.PresignedRequest, error) {
	var req dal.PresignedRequest
	err := Do(ctx, a.cfg, func() error {
		var err error
		req, err = a.inner.Presign(ctx, path, args)
		return err
	})
	return req, err
}

// Read retries only the creation of the Reader; once obtained, stream
// calls pass through untouched.
func (a *accessor) Read(ctx context.Context, path string, args dal.ReadArgs) (dal.Reader, error) {
	var r dal.Reader
	err := Do(ctx, a.cfg, func() error {
		var err error
		r, err = a.inner.Read(ctx, path, args)
		return err
	})
	return r, err
}

// Write retries only the creation of the Writer.
func (a *accessor) Write(ctx context.Context, path string, args dal.WriteArgs) (dal.Writer, error) {
	var w dal.Writer
	err := Do(ctx, a.cfg, func() error {
		var err error
		w, err = a.inner.Write(ctx, path, args)
		return err
	})
	return w, err
}

// List retries only the creation of the Lister.
func (a *accessor) List(ctx context.Context, path string, args dal.ListArgs) (dal.Lister, error) {
	var lst dal.Lister
	err := Do(ctx, a.cfg, func() error {
		var err error
		lst, err = a.inner.List(ctx, path, args)
		return err
	})
	return lst, err
}

// Delete retries only the creation of the Deleter.
func (a *accessor) Delete(ctx context.Context) (dal.Deleter, error) {
	var d dal.Deleter
	err := Do(ctx, a.cfg, func() error {
		var err error
		d, err = a.inner.Delete(ctx)
		return err
	})
	return d, err
}

var _ dal.Layer = Layer{}
