package dal

// Layer is a transformer: given an inner Accessor it produces another
// Accessor that holds a reference to the inner one and adds
// cross-cutting behavior (logging, retry, metrics, ...) without
// changing operation semantics.
//
// A Layer must:
//  1. forward every operation it does not intercept to the inner
//     accessor unaltered;
//  2. preserve end-to-end ordering of side effects the caller observes;
//  3. when wrapping a Reader/Writer/Lister/Deleter, yield from the
//     wrapped stream exactly once per yield of the underlying stream,
//     preserving the byte sequence, entry sequence, and terminal error.
type Layer interface {
	Layer(inner Accessor) Accessor
}

// LayerFunc adapts a plain function to the Layer interface.
type LayerFunc func(inner Accessor) Accessor

// Layer calls f.
func (f LayerFunc) Layer(inner Accessor) Accessor {
	return f(inner)
}

// Layers composes layers left to right: Layers(l1, l2).Layer(a) is
// equivalent to l2.Layer(l1.Layer(a)), so the last layer listed is the
// outermost wrapper a caller interacts with. Composition is
// associative; Layers() with no arguments is the identity layer.
func Layers(ls ...Layer) Layer {
	return LayerFunc(func(inner Accessor) Accessor {
		acc := inner
		for _, l := range ls {
			acc = l.Layer(acc)
		}
		return acc
	})
}
