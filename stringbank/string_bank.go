//
// Copyright 2019 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS-IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
//
// Package stringbank interns strings that repeat heavily in a converted
// trace: rendered event names, lock names, and thread command names.
// Renderers on the converter's hot path build these strings by
// concatenation (e.g. "lockSet:" + lockName); interning them means a
// lock acquired ten thousand times allocates its rendered name once.
package stringbank

import "sync"

// ID identifies a unique string interned in a Bank.
type ID int

// Bank compacts a set of often-repeated strings by giving each unique
// string a stable ID. Bank is safe for concurrent lookup and insertion,
// though the converter itself is single-threaded and never needs the
// locking on its hot path.
type Bank struct {
	mu      sync.RWMutex
	strings []string
	ids     map[string]ID
}

// New returns an empty Bank.
func New() *Bank {
	return &Bank{
		ids: make(map[string]ID),
	}
}

// ByID returns the string stored at id, or "" and false if id is out of
// range.
func (b *Bank) ByID(id ID) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id < 0 || int(id) >= len(b.strings) {
		return "", false
	}
	return b.strings[id], true
}

// Intern returns the ID for str, adding it to the bank if this is the
// first time it has been seen.
func (b *Bank) Intern(str string) ID {
	if id, ok := func() (ID, bool) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		id, ok := b.ids[str]
		return id, ok
	}(); ok {
		return id
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// Someone may have interned str while we waited for the write lock.
	if id, ok := b.ids[str]; ok {
		return id
	}
	id := ID(len(b.strings))
	b.strings = append(b.strings, str)
	b.ids[str] = id
	return id
}

// JoinCache interns the concatenation of prefix and suffix without
// allocating the concatenation twice for repeated (prefix, suffix) pairs:
// the first occurrence of a given pair pays for the string build, every
// later occurrence is a map lookup keyed on the pair.
type JoinCache struct {
	bank  *Bank
	cache map[[2]string]string
	mu    sync.Mutex
}

// NewJoinCache returns a JoinCache backed by bank.
func NewJoinCache(bank *Bank) *JoinCache {
	return &JoinCache{
		bank:  bank,
		cache: make(map[[2]string]string),
	}
}

// Join returns prefix+suffix, building and interning it only on first use
// of this exact pair.
func (c *JoinCache) Join(prefix, suffix string) string {
	key := [2]string{prefix, suffix}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache[key]; ok {
		return s
	}
	s := prefix + suffix
	c.bank.Intern(s)
	c.cache[key] = s
	return s
}
