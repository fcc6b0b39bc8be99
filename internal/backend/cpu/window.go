package cpu

// Window describes the dilated neighborhood one query position attends
// to: kernel-many positions starting at Start, spaced Step apart.
// All positions share the query's residue class modulo the dilation.
type Window struct {
	Start int // Absolute position of neighbor slot 0.
	Step  int // Spacing between consecutive neighbors (the dilation).
	Self  int // Slot index of the query position within the window.
}

// At returns the absolute position of neighbor slot k.
func (w Window) At(k int) int {
	return w.Start + k*w.Step
}

// NeighborhoodWindow computes the neighborhood of query position pos in
// a sequence of the given length, for a kernel-sized window with the
// given dilation. Pure and allocation-free; cheap enough to recompute
// per query instead of materializing index tensors.
//
// The dilation partitions the sequence into interleaved residue-class
// sub-sequences, each treated as an independent non-dilated problem.
// Within a sub-sequence of length subLen the window around sub-index i
// is [i - kernel/2, i + kernel/2] clamped by shifting: near either end
// the whole window slides inward so it always holds exactly kernel
// valid positions. Boundary windows are therefore asymmetric around the
// query; that is the boundary policy, not truncation or padding.
//
// Callers must guarantee length >= kernel*dilation, which makes every
// residue-class sub-sequence at least kernel long.
func NeighborhoodWindow(pos, length, kernel, dilation int) Window {
	r := pos % dilation
	subLen := (length - r + dilation - 1) / dilation
	i := pos / dilation

	half := kernel / 2
	var start int
	switch {
	case i < half:
		start = 0
	case i >= subLen-(kernel-half):
		start = subLen - kernel
	default:
		start = i - half
	}

	return Window{
		Start: r + start*dilation,
		Step:  dilation,
		Self:  i - start,
	}
}
