// Package arena implements a bump allocator for short-lived per-block
// allocations on the scan path. Components double in size up to a hard cap;
// allocations larger than the cap get their own component.
package arena

type Arena struct {
	initial   int
	maxComp   int
	current   []byte
	off       int
	full      [][]byte
	nextAlloc int
}

// New creates an arena whose first component holds initial bytes and whose
// components never exceed maxComponent bytes.
func New(initial, maxComponent int) *Arena {
	if initial <= 0 {
		initial = 1
	}
	if maxComponent < initial {
		maxComponent = initial
	}
	return &Arena{
		initial:   initial,
		maxComp:   maxComponent,
		current:   make([]byte, initial),
		nextAlloc: initial * 2,
	}
}

// Alloc returns an uninitialized slice of n bytes valid until Reset.
func (a *Arena) Alloc(n int) []byte {
	if n > len(a.current)-a.off {
		a.grow(n)
	}
	b := a.current[a.off : a.off+n : a.off+n]
	a.off += n
	return b
}

// AddBytes copies src into the arena and returns the copy.
func (a *Arena) AddBytes(src []byte) []byte {
	dst := a.Alloc(len(src))
	copy(dst, src)
	return dst
}

func (a *Arena) grow(n int) {
	size := a.nextAlloc
	if size > a.maxComp {
		size = a.maxComp
	}
	if size < n {
		size = n
	}
	if a.nextAlloc < a.maxComp {
		a.nextAlloc *= 2
	}
	a.full = append(a.full, a.current)
	a.current = make([]byte, size)
	a.off = 0
}

// Reset recycles the most recent component and releases the rest.
// Previously returned slices are invalid after Reset.
func (a *Arena) Reset() {
	a.off = 0
	a.full = nil
}

// Allocated reports the total capacity currently held by the arena.
func (a *Arena) Allocated() int {
	total := len(a.current)
	for _, c := range a.full {
		total += len(c)
	}
	return total
}
