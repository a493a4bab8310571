package order

// CopyWrapper pairs a shared origin value with a private working copy.
// Transactions mutate the copy and fold it back into the origin only at
// commit, which makes abandoning a transaction free.
type CopyWrapper[T any] struct {
	Origin *T
	Copy   *T
}

func NewCopyWrapper[T any](origin *T) *CopyWrapper[T] {
	c := *origin
	return &CopyWrapper[T]{Origin: origin, Copy: &c}
}

// WrapCopy builds a wrapper over origin with an explicit working copy.
func WrapCopy[T any](origin, copy *T) *CopyWrapper[T] {
	return &CopyWrapper[T]{Origin: origin, Copy: copy}
}

func (w *CopyWrapper[T]) ApplyToOrigin() {
	*w.Origin = *w.Copy
}
