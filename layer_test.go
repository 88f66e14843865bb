package dal

import (
	"context"
	"testing"
)

// recordingAccessor is a minimal Accessor used to verify Layer
// composition order; only Stat is exercised.
type recordingAccessor struct {
	trail *[]string
	name  string
}

func (r recordingAccessor) Info() *AccessorInfo { return &AccessorInfo{} }
func (r recordingAccessor) CreateDir(ctx context.Context, path string) error { return nil }
func (r recordingAccessor) Stat(ctx context.Context, path string, args StatArgs) (Metadata, error) {
	*r.trail = append(*r.trail, r.name)
	return Metadata{}, nil
}
func (r recordingAccessor) Read(ctx context.Context, path string, args ReadArgs) (Reader, error) {
	return nil, nil
}
func (r recordingAccessor) Write(ctx context.Context, path string, args WriteArgs) (Writer, error) {
	return nil, nil
}
func (r recordingAccessor) Copy(ctx context.Context, from, to string) error   { return nil }
func (r recordingAccessor) Rename(ctx context.Context, from, to string) error { return nil }
func (r recordingAccessor) Delete(ctx context.Context) (Deleter, error)      { return nil, nil }
func (r recordingAccessor) List(ctx context.Context, path string, args ListArgs) (Lister, error) {
	return nil, nil
}
func (r recordingAccessor) Presign(ctx context.Context, path string, args PresignArgs) (PresignedRequest, error) {
	return PresignedRequest{}, nil
}

// wrappingLayer records its own name before and after delegating, to
// prove Layers() applies layers in the documented outermost-last order.
type wrappingLayer struct {
	trail *[]string
	name  string
}

type wrappedAccessor struct {
	recordingAccessor
	inner Accessor
	trail *[]string
	name  string
}

func (w wrappedAccessor) Stat(ctx context.Context, path string, args StatArgs) (Metadata, error) {
	*w.trail = append(*w.trail, w.name+":before")
	md, err := w.inner.Stat(ctx, path, args)
	*w.trail = append(*w.trail, w.name+":after")
	return md, err
}

func (l wrappingLayer) Layer(inner Accessor) Accessor {
	return wrappedAccessor{inner: inner, trail: l.trail, name: l.name}
}

func TestLayersComposeLeftToRight(t *testing.T) {
	var trail []string
	base := recordingAccessor{trail: &trail, name: "base"}

	acc := Layers(
		wrappingLayer{trail: &trail, name: "l1"},
		wrappingLayer{trail: &trail, name: "l2"},
	).Layer(base)

	_, _ = acc.Stat(context.Background(), "p", StatArgs{})

	want := []string{"l2:before", "l1:before", "base", "l1:after", "l2:after"}
	if len(trail) != len(want) {
		t.Fatalf("trail = %v, want %v", trail, want)
	}
	for i := range want {
		if trail[i] != want[i] {
			t.Fatalf("trail = %v, want %v", trail, want)
		}
	}
}

func TestLayersIdentity(t *testing.T) {
	var trail []string
	base := recordingAccessor{trail: &trail, name: "base"}
	acc := Layers().Layer(base)
	if _, err := acc.Stat(context.Background(), "p", StatArgs{}); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if len(trail) != 1 || trail[0] != "base" {
		t.Fatalf("trail = %v, want [base]", trail)
	}
}
