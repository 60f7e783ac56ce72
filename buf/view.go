// Package buf provides the buffer adapters the driver core consumes: stable
// pointer/length views over caller-owned buffers, held for the duration of an
// in-flight operation.
//
// A View/MutView never reallocates its backing array while "stable" — the window
// between submission and the corresponding Entry being drained. That flag is the
// runtime encoding of the buffer-stability contract described in the driver's
// design notes, since Go has no compile-time borrow checker to enforce it.
package buf


// View is an immutable, initialized slice view used by send-shaped operations.
type View struct {
	b      []byte
	stable bool
}

// NewView wraps b for use as a send-path buffer.
func NewView(b []byte) *View {
	return &View{b: b}
}

// Bytes returns the view's contents. Valid at any time; send paths only ever
// read it.
func (v *View) Bytes() []byte { return v.b }

// Len reports the view's length.
func (v *View) Len() int { return len(v.b) }

// MarkStable pins the view for the in-flight window. Called via the op's
// Stabilizer implementation by driver.admit, once the backend's Submit call
// has read whatever pointer it needs.
func (v *View) MarkStable() { v.stable = true }

// ClearStable releases the pin once the corresponding completion is observed.
func (v *View) ClearStable() { v.stable = false }

// Stable reports whether the view is currently pinned by an in-flight op.
func (v *View) Stable() bool { return v.stable }

// MutView is a mutable, possibly-uninitialized slice view used by receive-shaped
// operations. It tracks an initialized-length cursor that Adjust updates once the
// kernel reports a byte count.
type MutView struct {
	b      []byte
	init   int
	stable bool
}

// NewMutView wraps b (full capacity, uninitialized contents) for use as a
// receive-path buffer.
func NewMutView(b []byte) *MutView {
	return &MutView{b: b}
}

// Uninit returns the full-capacity slice the backend writes into.
func (v *MutView) Uninit() []byte {
	if v.stable {
		panic("buf: Uninit() called on a view pinned by an in-flight operation")
	}
	return v.b
}

// Cap reports the view's full capacity.
func (v *MutView) Cap() int { return len(v.b) }

// SetInit records how many leading bytes are now initialized. Called from an
// opcode's Adjust hook after a completion is observed.
func (v *MutView) SetInit(n int) {
	if n < 0 || n > len(v.b) {
		panic("buf: SetInit out of range")
	}
	v.init = n
}

// Initialized returns the initialized prefix recorded by the last SetInit.
func (v *MutView) Initialized() []byte { return v.b[:v.init] }

// MarkStable pins the view for the in-flight window.
func (v *MutView) MarkStable() { v.stable = true }

// ClearStable releases the pin once the corresponding completion is observed.
func (v *MutView) ClearStable() { v.stable = false }

// Stable reports whether the view is currently pinned by an in-flight op.
func (v *MutView) Stable() bool { return v.stable }
