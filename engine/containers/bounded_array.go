package containers

import "errors"

var ErrArrayFull = errors.New("bounded array is full")

// BoundedArray is a fixed-capacity array. It never allocates on Push unless
// explicitly grown, which keeps steady-state per-frame paths allocation-free.
type BoundedArray[T any] struct {
	data  []T
	count int
}

// Create a new BoundedArray with the given capacity.
func NewBoundedArray[T any](capacity int) *BoundedArray[T] {
	return &BoundedArray[T]{
		data: make([]T, capacity),
	}
}

// Push adds an element at the end. Returns ErrArrayFull when at capacity.
func (ba *BoundedArray[T]) Push(value T) error {
	if ba.count == len(ba.data) {
		return ErrArrayFull
	}
	ba.data[ba.count] = value
	ba.count++
	return nil
}

// At returns the element at index i. Callers index within [0, Len()).
func (ba *BoundedArray[T]) At(i int) T {
	return ba.data[i]
}

func (ba *BoundedArray[T]) Len() int {
	return ba.count
}

func (ba *BoundedArray[T]) Cap() int {
	return len(ba.data)
}

// Clear drops all elements but retains the backing capacity.
func (ba *BoundedArray[T]) Clear() {
	var zero T
	for i := 0; i < ba.count; i++ {
		ba.data[i] = zero
	}
	ba.count = 0
}

// Grow extends capacity to newCapacity. No-op if already at least that big.
func (ba *BoundedArray[T]) Grow(newCapacity int) {
	if newCapacity <= len(ba.data) {
		return
	}
	data := make([]T, newCapacity)
	copy(data, ba.data[:ba.count])
	ba.data = data
}

func (ba *BoundedArray[T]) IsFull() bool {
	return ba.count == len(ba.data)
}

func (ba *BoundedArray[T]) IsEmpty() bool {
	return ba.count == 0
}
