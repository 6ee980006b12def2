// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avsync

import (
	"fmt"

	"github.com/google/uuid"
)

// Handle 源在 Registry 中的位置
//
// 源被删除后，位置的generation加1，旧的Handle失效
//
type Handle struct {
	index      uint32
	generation uint32
}

type registryEntry struct {
	id         uuid.UUID
	buffer     *JitterBuffer
	generation uint32
	alive      bool
}

// Registry 以连续的切片存放每一路源的 JitterBuffer，
// 外部的uuid通过旁路的map映射到 Handle ，遍历时不需要查map
//
// 非并发安全，由所属的 Loop 独占
//
type Registry struct {
	entries []registryEntry
	free    []uint32
	ids     map[uuid.UUID]Handle
}

func NewRegistry() *Registry {
	return &Registry{
		ids: make(map[uuid.UUID]Handle),
	}
}

func (r *Registry) Add(id uuid.UUID, buffer *JitterBuffer) (Handle, error) {
	if _, exist := r.ids[id]; exist {
		return Handle{}, fmt.Errorf("%w. id=%s", ErrSourceExist, id)
	}

	var h Handle
	if n := len(r.free); n > 0 {
		h.index = r.free[n-1]
		r.free = r.free[:n-1]
		e := &r.entries[h.index]
		h.generation = e.generation
		e.id = id
		e.buffer = buffer
		e.alive = true
	} else {
		h.index = uint32(len(r.entries))
		r.entries = append(r.entries, registryEntry{
			id:     id,
			buffer: buffer,
			alive:  true,
		})
	}
	r.ids[id] = h
	return h, nil
}

func (r *Registry) Lookup(id uuid.UUID) (Handle, bool) {
	h, ok := r.ids[id]
	return h, ok
}

func (r *Registry) Get(h Handle) (*JitterBuffer, error) {
	if int(h.index) >= len(r.entries) {
		return nil, fmt.Errorf("%w. index=%d", ErrStaleHandle, h.index)
	}
	e := &r.entries[h.index]
	if !e.alive || e.generation != h.generation {
		return nil, fmt.Errorf("%w. index=%d, generation=%d, current=%d", ErrStaleHandle, h.index, h.generation, e.generation)
	}
	return e.buffer, nil
}

// GetById 先查map再取
func (r *Registry) GetById(id uuid.UUID) (*JitterBuffer, error) {
	h, ok := r.ids[id]
	if !ok {
		return nil, fmt.Errorf("%w. id=%s", ErrSourceNotFound, id)
	}
	return r.Get(h)
}

// Remove 槽位置为墓碑并增加generation，之后才允许复用
func (r *Registry) Remove(id uuid.UUID) error {
	h, ok := r.ids[id]
	if !ok {
		return fmt.Errorf("%w. id=%s", ErrSourceNotFound, id)
	}
	delete(r.ids, id)
	e := &r.entries[h.index]
	e.alive = false
	e.buffer = nil
	e.generation++
	r.free = append(r.free, h.index)
	return nil
}

// Range 按槽位顺序遍历存活的源
func (r *Registry) Range(fn func(id uuid.UUID, buffer *JitterBuffer)) {
	for i := range r.entries {
		e := &r.entries[i]
		if e.alive {
			fn(e.id, e.buffer)
		}
	}
}

func (r *Registry) Len() int {
	return len(r.ids)
}
