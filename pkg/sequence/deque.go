package sequence

// Deque is a growable ring buffer supporting O(1) push and pop at both ends.
// The zero value is an empty deque ready to use. It is not safe for concurrent use.
type Deque[T any] struct {
	items []T
	head  int
	size  int
}

// Len returns the number of queued elements.
func (d *Deque[T]) Len() int {
	return d.size
}

// IsEmpty reports whether the deque holds no elements.
func (d *Deque[T]) IsEmpty() bool {
	return d.size == 0
}

// PushBack appends value at the tail.
func (d *Deque[T]) PushBack(value T) {
	d.grow()
	d.items[(d.head+d.size)%len(d.items)] = value
	d.size++
}

// PushFront inserts value at the head.
func (d *Deque[T]) PushFront(value T) {
	d.grow()
	d.head = (d.head - 1 + len(d.items)) % len(d.items)
	d.items[d.head] = value
	d.size++
}

// PopFront removes and returns the head element.
func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	value := d.items[d.head]
	d.items[d.head] = zero
	d.head = (d.head + 1) % len(d.items)
	d.size--
	return value, true
}

// Clear drops every element, keeping the allocated storage.
func (d *Deque[T]) Clear() {
	var zero T
	for i := 0; i < d.size; i++ {
		d.items[(d.head+i)%len(d.items)] = zero
	}
	d.head = 0
	d.size = 0
}

func (d *Deque[T]) grow() {
	if d.size < len(d.items) {
		return
	}
	capacity := len(d.items) * 2
	if capacity == 0 {
		capacity = 8
	}
	items := make([]T, capacity)
	for i := 0; i < d.size; i++ {
		items[i] = d.items[(d.head+i)%len(d.items)]
	}
	d.items = items
	d.head = 0
}
