package vm

// Heap owns every Object exclusively. Objects are linked through their
// intrusive next pointer with head pointing at the most recent
// allocation; an object's lifetime ends only in Sweep, when the heap
// unlinks it.
//
// The heap itself never decides to collect. Allocation sites in the VM
// check the threshold and run the mark phase before asking the heap for
// memory, so a new object is never visible to the collection cycle that
// its own allocation triggered. The compiler also allocates through the
// heap (interned names, function objects) but never triggers a
// collection, which is why compilation needs no root publishing.
type Heap struct {
	head           *Object
	strings        map[string]*Object
	bytesAllocated int
	nextGC         int
	growFactor     int
}

// NewHeap creates an empty heap with the given GC trigger policy.
func NewHeap(initialThreshold, growFactor int) *Heap {
	return &Heap{
		strings:    make(map[string]*Object),
		nextGC:     initialThreshold,
		growFactor: growFactor,
	}
}

// Alloc constructs a heap object around the payload and links it at the
// head of the intrusive list. The returned handle is non-owning.
func (h *Heap) Alloc(content ObjectContent) *Object {
	size := content.sizeBytes()
	o := &Object{next: h.head, size: size, Content: content}
	h.head = o
	h.bytesAllocated += size
	return o
}

// Intern returns the unique live string object for the given content,
// allocating it on first sight. Callers that may trigger a collection
// must check Lookup first and go through the VM's allocation path
// instead; Intern itself never collects.
func (h *Heap) Intern(s string) *Object {
	if o, ok := h.strings[s]; ok {
		return o
	}
	o := h.Alloc(&ObjString{Chars: s})
	h.strings[s] = o
	return o
}

// Lookup returns the interned object for s, if one is live.
func (h *Heap) Lookup(s string) (*Object, bool) {
	o, ok := h.strings[s]
	return o, ok
}

// intern records an already-allocated string object in the intern table.
func (h *Heap) intern(o *Object) {
	h.strings[o.StringValue()] = o
}

// BytesAllocated returns the accumulated size of all live objects.
func (h *Heap) BytesAllocated() int {
	return h.bytesAllocated
}

// NextGC returns the allocation threshold that triggers the next
// collection.
func (h *Heap) NextGC() int {
	return h.nextGC
}

// ShouldCollect reports whether the threshold policy asks for a
// collection before the next allocation.
func (h *Heap) ShouldCollect() bool {
	return h.bytesAllocated > h.nextGC
}

// Sweep walks the intrusive list, frees every unmarked object and clears
// the mark bit on every survivor, leaving all live objects unmarked for
// the next cycle. Interned strings are unregistered as they are freed.
// The next collection threshold is derived from the surviving byte count.
//
// Returns the number of bytes freed.
func (h *Heap) Sweep() int {
	freed := 0
	link := &h.head
	for *link != nil {
		o := *link
		if o.marked {
			o.marked = false
			link = &o.next
			continue
		}
		if s, ok := o.Content.(*ObjString); ok {
			delete(h.strings, s.Chars)
		}
		*link = o.next
		o.next = nil
		h.bytesAllocated -= o.size
		freed += o.size
	}
	h.nextGC = h.bytesAllocated * h.growFactor
	return freed
}

// Objects returns the number of objects currently linked into the heap.
// It walks the list; it exists for tests.
func (h *Heap) Objects() int {
	n := 0
	for o := h.head; o != nil; o = o.next {
		n++
	}
	return n
}
