package announcequeue

const minCapacity = 16

// deque is a growable ring buffer. It is not safe for concurrent use.
type deque[T any] struct {
	buf   []T
	head  int
	count int
}

func (d *deque[T]) len() int {
	return d.count
}

func (d *deque[T]) pushBack(v T) {
	d.grow()
	d.buf[(d.head+d.count)%len(d.buf)] = v
	d.count++
}

func (d *deque[T]) pushFront(v T) {
	d.grow()
	d.head = (d.head - 1 + len(d.buf)) % len(d.buf)
	d.buf[d.head] = v
	d.count++
}

func (d *deque[T]) popFront() (v T, ok bool) {
	if d.count == 0 {
		return v, false
	}
	var zero T
	v = d.buf[d.head]
	d.buf[d.head] = zero // release reference
	d.head = (d.head + 1) % len(d.buf)
	d.count--
	if d.count == 0 {
		d.head = 0
	}
	return v, true
}

func (d *deque[T]) grow() {
	if d.count < len(d.buf) {
		return
	}
	n := 2 * len(d.buf)
	if n < minCapacity {
		n = minCapacity
	}
	buf := make([]T, n)
	for i := 0; i < d.count; i++ {
		buf[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	d.buf = buf
	d.head = 0
}
