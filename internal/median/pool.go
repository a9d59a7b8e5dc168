// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package median

import "sync"

// Pool of constant sized slices of given type, to reduce memory allocation overhead.
// Bands of similar height request the same sizes over and over
type slicePool[T any] struct {
	sync.RWMutex
	m map[int]*sync.Pool
}

func newSlicePool[T any]() *slicePool[T] {
	return &slicePool[T]{m: make(map[int]*sync.Pool)}
}

var (
	poolInt32   = newSlicePool[int32]()
	poolFloat32 = newSlicePool[float32]()
)

// Returns a slice of length n with undefined contents
func (p *slicePool[T]) get(n int) []T {
	p.RLock()
	sp, ok := p.m[n]
	p.RUnlock()
	if !ok {
		p.Lock()
		if sp, ok = p.m[n]; !ok {
			sp = &sync.Pool{New: func() interface{} {
				s := make([]T, n)
				return &s
			}}
			p.m[n] = sp
		}
		p.Unlock()
	}
	return *sp.Get().(*[]T)
}

// Returns a slice obtained from get to the pool
func (p *slicePool[T]) put(s []T) {
	p.RLock()
	sp, ok := p.m[len(s)]
	p.RUnlock()
	if ok {
		sp.Put(&s)
	}
}

// Clears all pools
func ClearPools() {
	for _, p := range []interface{ clear() }{poolInt32, poolFloat32} {
		p.clear()
	}
}

func (p *slicePool[T]) clear() {
	p.Lock()
	p.m = make(map[int]*sync.Pool)
	p.Unlock()
}
