// Package buffer provides reference-counted shared buffers so audio samples
// and video planes can cross the SyncManager/SessionRouter boundary without
// being copied.
package buffer

import "sync"

// Shared is a reference-counted immutable-payload buffer. Producers allocate
// once; every downstream holder calls Retain/Release around its own use.
type Shared struct {
	data []byte
	refs int32
	pool *Pool
	mu   sync.Mutex
}

// NewShared wraps data in a reference-counted buffer with one implicit owner.
func NewShared(data []byte) *Shared {
	return &Shared{data: data, refs: 1}
}

// Bytes returns the underlying payload. Callers must not retain the slice
// past a matching Release.
func (s *Shared) Bytes() []byte {
	return s.data
}

// Len returns the payload length.
func (s *Shared) Len() int {
	return len(s.data)
}

// Retain increments the reference count; call before handing the buffer to
// another component that will Release it independently.
func (s *Shared) Retain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
}

// Release decrements the reference count, returning the buffer to its pool
// (if any) once the count reaches zero.
func (s *Shared) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	if s.refs <= 0 && s.pool != nil {
		s.pool.put(s)
	}
}

// RefCount reports the current reference count; intended for tests and metrics.
func (s *Shared) RefCount() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Pool is a sized pool of reusable Shared buffers, keyed by a fixed set of
// size classes so that repeated per-frame allocation of audio/video payloads
// doesn't pressure the GC.
type Pool struct {
	pools map[int]*sync.Pool
	sizes []int
	mu    sync.RWMutex
}

// NewPool creates a buffer pool with the given size classes.
func NewPool(sizes []int) *Pool {
	p := &Pool{
		pools: make(map[int]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for _, size := range sizes {
		sz := size
		p.pools[sz] = &sync.Pool{
			New: func() interface{} {
				return &Shared{data: make([]byte, sz)}
			},
		}
	}

	return p
}

// Get returns a buffer whose length equals size, borrowed from the smallest
// size class that fits, or a fresh allocation if size exceeds every class.
func (p *Pool) Get(size int) *Shared {
	class := p.findClass(size)

	p.mu.RLock()
	pool, ok := p.pools[class]
	p.mu.RUnlock()

	if !ok {
		return NewShared(make([]byte, size))
	}

	buf := pool.Get().(*Shared)
	buf.refs = 1
	buf.pool = p
	if cap(buf.data) < size {
		buf.data = make([]byte, size)
	} else {
		buf.data = buf.data[:size]
	}

	return buf
}

func (p *Pool) put(buf *Shared) {
	class := cap(buf.data)

	p.mu.RLock()
	pool, ok := p.pools[class]
	p.mu.RUnlock()

	if !ok {
		return
	}

	buf.pool = nil
	pool.Put(buf)
}

func (p *Pool) findClass(size int) int {
	for _, s := range p.sizes {
		if s >= size {
			return s
		}
	}
	return size
}
