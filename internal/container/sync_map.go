// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package container

import "sync"

// Thread-safe generic map.
type SyncMap[K comparable, V any] struct {
	m map[K]V
	l sync.RWMutex
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{m: map[K]V{}}
}

func (s *SyncMap[K, V]) Store(key K, val V) {
	s.l.Lock()
	defer s.l.Unlock()
	s.m[key] = val
}

// LoadAndDelete removes the key, reporting the previous value if present.
func (s *SyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	val, ok := s.m[key]
	delete(s.m, key)
	return val, ok
}

func (s *SyncMap[K, V]) Len() int {
	s.l.RLock()
	defer s.l.RUnlock()
	return len(s.m)
}

// Values returns a snapshot of the current values in unspecified order, so
// callers may act on them without holding the lock.
func (s *SyncMap[K, V]) Values() []V {
	s.l.RLock()
	defer s.l.RUnlock()
	vals := make([]V, 0, len(s.m))
	for _, v := range s.m {
		vals = append(vals, v)
	}
	return vals
}
