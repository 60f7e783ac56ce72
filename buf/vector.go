package buf

// Vector is a list of immutable views used by vectored send paths
// (send_vectored, send_to). The slice itself, not just each element, must stay
// stable for the in-flight window since backends build a native iovec array that
// points at it.
type Vector struct {
	views  []*View
	stable bool
}

// NewVector wraps one View per byte slice.
func NewVector(bufs ...[]byte) *Vector {
	v := &Vector{views: make([]*View, len(bufs))}
	for i, b := range bufs {
		v.views[i] = NewView(b)
	}
	return v
}

// Views returns the underlying per-slice views.
func (v *Vector) Views() []*View { return v.views }

// Len returns the number of slices in the vector.
func (v *Vector) Len() int { return len(v.views) }

// TotalLen returns the sum of every slice's length.
func (v *Vector) TotalLen() int {
	n := 0
	for _, view := range v.views {
		n += view.Len()
	}
	return n
}

// MarkStable pins every element plus the vector's own backing slice.
func (v *Vector) MarkStable() {
	v.stable = true
	for _, view := range v.views {
		view.MarkStable()
	}
}

// ClearStable releases the pin on every element.
func (v *Vector) ClearStable() {
	v.stable = false
	for _, view := range v.views {
		view.ClearStable()
	}
}

// MutVector is the receive-path equivalent of Vector.
type MutVector struct {
	views  []*MutView
	stable bool
}

// NewMutVector wraps one MutView per byte slice.
func NewMutVector(bufs ...[]byte) *MutVector {
	v := &MutVector{views: make([]*MutView, len(bufs))}
	for i, b := range bufs {
		v.views[i] = NewMutView(b)
	}
	return v
}

// Views returns the underlying per-slice views.
func (v *MutVector) Views() []*MutView { return v.views }

// Len returns the number of slices in the vector.
func (v *MutVector) Len() int { return len(v.views) }

// TotalCap returns the sum of every slice's capacity.
func (v *MutVector) TotalCap() int {
	n := 0
	for _, view := range v.views {
		n += view.Cap()
	}
	return n
}

// MarkStable pins every element plus the vector's own backing slice.
func (v *MutVector) MarkStable() {
	v.stable = true
	for _, view := range v.views {
		view.MarkStable()
	}
}

// ClearStable releases the pin on every element.
func (v *MutVector) ClearStable() {
	v.stable = false
	for _, view := range v.views {
		view.ClearStable()
	}
}

// SetInit distributes a total byte count across the vector's elements in
// order, the way a kernel readv/recvmsg fills scatter/gather buffers
// front-to-back. Used by RecvVectored/RecvFrom's Adjust hook.
func (v *MutVector) SetInit(total int) {
	remaining := total
	for _, view := range v.views {
		n := remaining
		if n > view.Cap() {
			n = view.Cap()
		}
		view.SetInit(n)
		remaining -= n
		if remaining <= 0 {
			remaining = 0
		}
	}
}
