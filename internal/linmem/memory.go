package linmem

// Memory is the part of a guest's linear memory the view needs.
// wazero's api.Memory satisfies it.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32

	// Read returns a writable view of [offset, offset+byteCount).
	// The slice is invalidated when the memory grows.
	Read(offset, byteCount uint32) ([]byte, bool)
}

// View is a lazily revalidated window over a guest's linear memory.
//
// Every call across the guest boundary may grow the memory, after which a
// previously obtained slice no longer aliases the live buffer. The view
// therefore checks the cached slice against the memory's current size before
// each access and rebuilds it when it is missing, empty or of a stale length.
//
// A View is not safe for concurrent use; it belongs to the goroutine that
// runs the guest.
type View struct {
	mem   Memory
	cache []byte
}

// NewView creates a view bound to mem. mem may be nil and bound later.
func NewView(mem Memory) *View {
	return &View{mem: mem}
}

// Bind attaches the view to mem. Binding a different memory drops the cache.
func (v *View) Bind(mem Memory) {
	if v.mem == mem {
		return
	}
	v.mem = mem
	v.cache = nil
}

// Bound reports whether the view has a memory to read from.
func (v *View) Bound() bool {
	return v.mem != nil
}

// Revalidate rebuilds the cached view if it is stale. It is idempotent.
func (v *View) Revalidate() error {
	if v.mem == nil {
		return ErrUnbound
	}

	size := v.mem.Size()
	if v.cache != nil && len(v.cache) != 0 && uint32(len(v.cache)) == size {
		return nil
	}

	buf, ok := v.mem.Read(0, size)
	if !ok {
		return &MemoryAccessError{Operation: "revalidate", Address: 0, Length: size}
	}
	v.cache = buf
	return nil
}

// Read returns the bytes in [ptr, ptr+length). The returned slice aliases
// guest memory and is only valid until control returns to the guest.
func (v *View) Read(ptr, length uint32) ([]byte, error) {
	if err := v.Revalidate(); err != nil {
		return nil, err
	}
	end, ok := v.span(ptr, length)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: length, Err: errOutOfRange}
	}
	return v.cache[ptr:end:end], nil
}

// Write copies data into guest memory starting at ptr.
func (v *View) Write(ptr uint32, data []byte) error {
	if err := v.Revalidate(); err != nil {
		return err
	}
	length := uint32(len(data))
	end, ok := v.span(ptr, length)
	if !ok {
		return &MemoryAccessError{Operation: "write", Address: ptr, Length: length, Err: errOutOfRange}
	}
	copy(v.cache[ptr:end], data)
	return nil
}

// Len returns the length of the cached view, revalidating first.
func (v *View) Len() int {
	if err := v.Revalidate(); err != nil {
		return 0
	}
	return len(v.cache)
}

func (v *View) span(ptr, length uint32) (uint32, bool) {
	end := uint64(ptr) + uint64(length)
	if end > uint64(len(v.cache)) {
		return 0, false
	}
	return uint32(end), true
}
