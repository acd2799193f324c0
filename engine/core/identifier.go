package core

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// IdentifierPool hands out ids for owners of type T. Free slots are reused, and
// every reuse bumps the slot generation so a stale id never resolves to the new owner.
// Id 0 is never issued.
type IdentifierPool[T any] struct {
	mu          sync.RWMutex
	owners      []T
	used        []bool
	generations []uint32
	live        int
}

func NewIdentifierPool[T any](capacity int) *IdentifierPool[T] {
	return &IdentifierPool[T]{
		owners:      make([]T, 0, capacity),
		used:        make([]bool, 0, capacity),
		generations: make([]uint32, 0, capacity),
	}
}

func packID(index int, generation uint32) uint64 {
	return uint64(generation)<<32 | uint64(index+1)
}

func unpackID(id uint64) (int, uint32) {
	return int(uint32(id)) - 1, uint32(id >> 32)
}

func (p *IdentifierPool[T]) Acquire(owner T) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.live++
	for i := range p.used {
		// Existing free spot. Take it.
		if !p.used[i] {
			p.used[i] = true
			p.owners[i] = owner
			p.generations[i]++
			return packID(i, p.generations[i])
		}
	}

	// No free slots, push a new one.
	p.owners = append(p.owners, owner)
	p.used = append(p.used, true)
	p.generations = append(p.generations, 0)
	return packID(len(p.owners)-1, 0)
}

func (p *IdentifierPool[T]) Get(id uint64) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var zero T
	index, gen := unpackID(id)
	if index < 0 || index >= len(p.owners) || !p.used[index] || p.generations[index] != gen {
		return zero, false
	}
	return p.owners[index], true
}

func (p *IdentifierPool[T]) Release(id uint64) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	index, gen := unpackID(id)
	if index < 0 || index >= len(p.owners) {
		return zero, errors.Newf("identifier %d out of range (max=%d)", id, len(p.owners))
	}
	if !p.used[index] || p.generations[index] != gen {
		return zero, errors.Newf("identifier %d is stale or already released", id)
	}

	owner := p.owners[index]
	p.owners[index] = zero
	p.used[index] = false
	p.live--
	return owner, nil
}

// Len is the number of live ids.
func (p *IdentifierPool[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live
}

// Each visits every live owner. The pool must not be mutated from fn.
func (p *IdentifierPool[T]) Each(fn func(id uint64, owner T)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i, u := range p.used {
		if u {
			fn(packID(i, p.generations[i]), p.owners[i])
		}
	}
}
