package mem

import "grinch/defs"

// Heap is the interface the external salloc allocator (spec.md §1: an
// external collaborator, not reimplemented here) is expected to satisfy.
// Everything above this package that wants general-purpose kernel heap
// memory — as opposed to whole pages from the physical allocator — goes
// through Kmalloc/Kfree rather than calling a concrete allocator directly,
// so tests can inject a simple Go-backed Heap without salloc present.
type Heap interface {
	Alloc(size int) (uintptr, bool)
	Free(ptr uintptr)
}

var heap Heap

// SetHeap installs the backing allocator. Called once during boot after
// salloc has carved out and initialized its arena from a physical page
// range obtained via PhysPagesAllocAligned.
func SetHeap(h Heap) {
	heap = h
}

// Kmalloc allocates size bytes of kernel heap memory, returning ENOHEAP
// if the installed heap is exhausted (spec.md §4.1's kmalloc/kfree
// facade). It panics if no heap has been installed, since every boot path
// must call SetHeap before any subsystem can run.
func Kmalloc(size int) (uintptr, defs.Err_t) {
	if heap == nil {
		panic("mem: Kmalloc called before SetHeap")
	}
	p, ok := heap.Alloc(size)
	if !ok {
		return 0, -defs.ENOHEAP
	}
	return p, 0
}

// Kfree releases memory obtained from Kmalloc.
func Kfree(ptr uintptr) {
	if heap == nil {
		panic("mem: Kfree called before SetHeap")
	}
	heap.Free(ptr)
}
