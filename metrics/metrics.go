// Package metrics implements the metrics layer: a dal.Layer that
// counts Accessor operations by outcome and records byte/entry/item
// throughput via Prometheus, reusing the same running totals
// dal/streamwrap and dal/logging compute.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unidal/dal"
	"github.com/unidal/dal/streamwrap"
)

// Layer wraps an Accessor with Prometheus instrumentation.
type Layer struct {
	opsTotal       *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
	bytesRead      *prometheus.CounterVec
	bytesWritten   *prometheus.CounterVec
	entriesListed  *prometheus.CounterVec
	itemsDeleted   *prometheus.CounterVec
}

// NewLayer constructs a metrics Layer and registers its collectors
// against reg. A nil reg uses prometheus.DefaultRegisterer.
func NewLayer(reg prometheus.Registerer) (*Layer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	l := &Layer{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dal",
			Name:      "operations_total",
			Help:      "Accessor operations by operation and outcome (ok or an ErrorKind).",
		}, []string{"operation", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dal",
			Name:      "operation_duration_seconds",
			Help:      "Accessor single-shot operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		bytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dal",
			Name:      "bytes_read_total",
			Help:      "Bytes read through Reader streams.",
		}, []string{"scheme"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dal",
			Name:      "bytes_written_total",
			Help:      "Bytes written through Writer streams.",
		}, []string{"scheme"}),
		entriesListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dal",
			Name:      "entries_listed_total",
			Help:      "Entries produced by Lister streams.",
		}, []string{"scheme"}),
		itemsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dal",
			Name:      "items_deleted_total",
			Help:      "Items committed by Deleter.Flush.",
		}, []string{"scheme"}),
	}
	for _, c := range []prometheus.Collector{l.opsTotal, l.opDuration, l.bytesRead, l.bytesWritten, l.entriesListed, l.itemsDeleted} {
		if err := reg.Register(c); err != nil {
			return nil, dal.Wrap(err)
		}
	}
	return l, nil
}

func (l *Layer) Layer(inner dal.Accessor) dal.Accessor {
	return &accessor{inner: inner, m: l}
}

func (l *Layer) outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := err.(*dal.Error); ok {
		return e.Kind.String()
	}
	return dal.KindUnexpected.String()
}

func (l *Layer) observe(op dal.Operation, seconds float64, err error) {
	l.opsTotal.WithLabelValues(op.String(), l.outcome(err)).Inc()
	l.opDuration.WithLabelValues(op.String()).Observe(seconds)
}

type accessor struct {
	inner dal.Accessor
	m     *Layer
}

func (a *accessor) Info() *dal.AccessorInfo { return a.inner.Info() }

func (a *accessor) CreateDir(ctx context.Context, path string) error {
	err := a.inner.CreateDir(ctx, path)
	a.m.observe(dal.OpCreateDir, 0, err)
	return err
}

func (a *accessor) Stat(ctx context.Context, path string, args dal.StatArgs) (dal.Metadata, error) {
	md, err := a.inner.Stat(ctx, path, args)
	a.m.observe(dal.OpStat, 0, err)
	return md, err
}

func (a *accessor) Copy(ctx context.Context, from, to string) error {
	err := a.inner.Copy(ctx, from, to)
	a.m.observe(dal.OpCopy, 0, err)
	return err
}

func (a *accessor) Rename(ctx context.Context, from, to string) error {
	err := a.inner.Rename(ctx, from, to)
	a.m.observe(dal.OpRename, 0, err)
	return err
}

func (a *accessor) Presign(ctx context.Context, path string, args dal.PresignArgs) (dal.PresignedRequest, error) {
	req, err := a.inner.Presign(ctx, path, args)
	a.m.observe(dal.OpPresign, 0, err)
	return req, err
}

func (a *accessor) Read(ctx context.Context, path string, args dal.ReadArgs) (dal.Reader, error) {
	r, err := a.inner.Read(ctx, path, args)
	a.m.observe(dal.OpRead, 0, err)
	if err != nil {
		return r, err
	}
	return &countingReader{Reader: streamwrap.NewReader(r), scheme: a.Info().Scheme, m: a.m}, nil
}

func (a *accessor) Write(ctx context.Context, path string, args dal.WriteArgs) (dal.Writer, error) {
	w, err := a.inner.Write(ctx, path, args)
	a.m.observe(dal.OpWrite, 0, err)
	if err != nil {
		return w, err
	}
	return &countingWriter{Writer: streamwrap.NewWriter(w), scheme: a.Info().Scheme, m: a.m}, nil
}

func (a *accessor) List(ctx context.Context, path string, args dal.ListArgs) (dal.Lister, error) {
	lst, err := a.inner.List(ctx, path, args)
	a.m.observe(dal.OpList, 0, err)
	if err != nil {
		return lst, err
	}
	return &countingLister{Lister: streamwrap.NewLister(lst), scheme: a.Info().Scheme, m: a.m}, nil
}

func (a *accessor) Delete(ctx context.Context) (dal.Deleter, error) {
	d, err := a.inner.Delete(ctx)
	a.m.observe(dal.OpDelete, 0, err)
	if err != nil {
		return d, err
	}
	return &countingDeleter{Deleter: streamwrap.NewDeleter(d), scheme: a.Info().Scheme, m: a.m}, nil
}

type countingReader struct {
	*streamwrap.Reader
	scheme string
	m      *Layer
}

func (r *countingReader) Close(ctx context.Context) error {
	err := r.Reader.Close(ctx)
	r.m.bytesRead.WithLabelValues(r.scheme).Add(float64(r.BytesRead))
	return err
}

type countingWriter struct {
	*streamwrap.Writer
	scheme string
	m      *Layer
}

func (w *countingWriter) Close(ctx context.Context) (dal.Metadata, error) {
	md, err := w.Writer.Close(ctx)
	w.m.bytesWritten.WithLabelValues(w.scheme).Add(float64(w.BytesWritten))
	return md, err
}

type countingLister struct {
	*streamwrap.Lister
	scheme string
	m      *Layer
}

func (l *countingLister) Close(ctx context.Context) error {
	err := l.Lister.Close(ctx)
	l.m.entriesListed.WithLabelValues(l.scheme).Add(float64(l.EntriesListed))
	return err
}

type countingDeleter struct {
	*streamwrap.Deleter
	scheme string
	m      *Layer
}

func (d *countingDeleter) Close(ctx context.Context) error {
	err := d.Deleter.Close(ctx)
	d.m.itemsDeleted.WithLabelValues(d.scheme).Add(float64(d.Deleted))
	return err
}

var _ dal.Layer = (*Layer)(nil)
