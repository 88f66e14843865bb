package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unidal/dal"
)

type fakeAccessor struct {
	info *dal.AccessorInfo
}

func (a *fakeAccessor) Info() *dal.AccessorInfo { return a.info }
func (a *fakeAccessor) CreateDir(ctx context.Context, path string) error { return nil }
func (a *fakeAccessor) Stat(ctx context.Context, path string, args dal.StatArgs) (dal.Metadata, error) {
	return dal.Metadata{}, nil
}
func (a *fakeAccessor) Read(ctx context.Context, path string, args dal.ReadArgs) (dal.Reader, error) {
	return nil, dal.NewError(dal.KindUnsupported, "not used")
}
func (a *fakeAccessor) Write(ctx context.Context, path string, args dal.WriteArgs) (dal.Writer, error) {
	return nil, dal.NewError(dal.KindUnsupported, "not used")
}
func (a *fakeAccessor) Copy(ctx context.Context, from, to string) error {
	return dal.NewError(dal.KindNotFound, "missing")
}
func (a *fakeAccessor) Rename(ctx context.Context, from, to string) error { return nil }
func (a *fakeAccessor) Delete(ctx context.Context) (dal.Deleter, error) {
	return nil, dal.NewError(dal.KindUnsupported, "not used")
}
func (a *fakeAccessor) List(ctx context.Context, path string, args dal.ListArgs) (dal.Lister, error) {
	return nil, dal.NewError(dal.KindUnsupported, "not used")
}
func (a *fakeAccessor) Presign(ctx context.Context, path string, args dal.PresignArgs) (dal.PresignedRequest, error) {
	return dal.PresignedRequest{}, dal.NewError(dal.KindUnsupported, "not used")
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error = %v", err)
	}
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.Metric {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestLayerCountsOperationsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	l, err := NewLayer(reg)
	if err != nil {
		t.Fatalf("NewLayer error = %v", err)
	}
	inner := &fakeAccessor{info: dal.NewAccessorInfo("fake", "test", "/", dal.Capability{}, nil)}
	layered := l.Layer(inner)
	ctx := context.Background()

	if err := layered.CreateDir(ctx, "/a"); err != nil {
		t.Fatalf("CreateDir error = %v", err)
	}
	if err := layered.Copy(ctx, "/a", "/b"); err == nil {
		t.Fatal("expected Copy to fail")
	}

	if got := counterValue(t, reg, "dal_operations_total"); got != 2 {
		t.Fatalf("dal_operations_total = %v, want 2", got)
	}
}
